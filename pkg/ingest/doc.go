// Package ingest turns signed inbound events into jobs.
//
// POST /events/{source} runs these steps, each with its own failure response:
//
//  1. per-sender fixed window rate limit keyed by client address (429)
//  2. payload ceiling (413)
//  3. HMAC-SHA256 over "timestamp.body" with the source's key, timestamp
//     within the accepted window (401)
//  4. idempotency claim of "source:eventID"; a duplicate answers 200 without
//     scheduling anything
//  5. the body is scheduled unchanged as a legacy payload to hook
//     "inbound.<source>" (202 with the job ID)
//
// Each source signs with its own key derived from one master key, see
// secrets.DeriveKey. When scheduling fails the claim is released so the
// sender's redelivery can try again.
package ingest
