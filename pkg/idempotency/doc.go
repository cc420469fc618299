// Package idempotency guards externally sourced events, such as inbound webhooks,
// against duplicate processing.
//
// A claim is an atomic insert-if-absent keyed by the sender's event ID. Exactly one
// of any number of concurrent callers wins; the others must answer the sender as if
// the event had been processed.
//
//	claimer, _ := idempotency.New(store)
//
//	token, ok, err := claimer.Claim(ctx, eventID)
//	if err != nil {
//		return err
//	}
//	if !ok {
//		return nil // duplicate delivery, acknowledge and drop
//	}
//	if err := process(ctx); err != nil {
//		_ = claimer.Release(ctx, eventID, token) // let the sender's retry through
//		return err
//	}
//	return claimer.Complete(ctx, eventID, token)
//
// A processing claim expires after the processing TTL so an event whose claimant
// crashed is eventually processed again. Completed claims are kept for the
// retention period. Complete and Release only act on the claim held by the
// token, so a claimant that outlived its TTL cannot release a successor's claim.
package idempotency
