package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EnvelopeVersion is the current wire format version of job payloads
const EnvelopeVersion = 2

const versionKey = "_version"

// EnvelopeMeta carries scheduling metadata next to the domain arguments
type EnvelopeMeta struct {
	Priority    Priority `json:"priority"`
	ScheduledAt int64    `json:"scheduled_at"`
	Attempt     int      `json:"attempt"`
	LastRetry   *int64   `json:"last_retry"`
	Recurring   bool     `json:"recurring"`
	Interval    *int     `json:"interval"`
}

// Payload is a stored job payload: either an *EnvelopeV2 or a *LegacyPayload.
type Payload interface {
	normalize() Unwrapped
}

// EnvelopeV2 is the versioned wrapper written by this package
type EnvelopeV2 struct {
	Version int             `json:"_version"`
	Meta    EnvelopeMeta    `json:"_meta"`
	Args    json.RawMessage `json:"args"`
}

func (e *EnvelopeV2) normalize() Unwrapped {
	meta := e.Meta
	if meta.Priority == 0 {
		meta.Priority = PriorityNormal
	}
	return Unwrapped{Args: nonEmptyArgs(e.Args), Meta: meta}
}

// LegacyPayload is a bare argument map produced before envelopes existed
type LegacyPayload struct {
	Args json.RawMessage
}

func (l *LegacyPayload) normalize() Unwrapped {
	return Unwrapped{
		Args:   nonEmptyArgs(l.Args),
		Meta:   EnvelopeMeta{Priority: PriorityNormal},
		Legacy: true,
	}
}

// Unwrapped is the canonical shape handlers and the executor work with
type Unwrapped struct {
	Args   json.RawMessage
	Meta   EnvelopeMeta
	Legacy bool
}

// ParsePayload detects whether raw is a v2 envelope or a legacy map.
// Anything else (other versions, non-object JSON, malformed input) is rejected with ErrInvalidPayload.
func ParsePayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &LegacyPayload{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object: %v", ErrInvalidPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrInvalidPayload)
	}

	rawVersion, ok := fields[versionKey]
	if !ok {
		return &LegacyPayload{Args: json.RawMessage(raw)}, nil
	}

	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return nil, fmt.Errorf("%w: malformed %s: %v", ErrInvalidPayload, versionKey, err)
	}
	if version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrInvalidPayload, version)
	}

	var env EnvelopeV2
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrInvalidPayload, err)
	}
	if env.Meta.Priority != 0 && !env.Meta.Priority.Valid() {
		return nil, fmt.Errorf("%w: envelope priority %d out of range", ErrInvalidPayload, env.Meta.Priority)
	}

	return &env, nil
}

// Normalize collapses either payload form into the canonical Unwrapped shape
func Normalize(p Payload) Unwrapped {
	if p == nil {
		return (&LegacyPayload{}).normalize()
	}
	return p.normalize()
}

// UnwrapPayloadCompat parses and normalizes a stored payload in one step.
// Legacy payloads get priority NORMAL and attempt 0.
func UnwrapPayloadCompat(raw []byte) (Unwrapped, error) {
	p, err := ParsePayload(raw)
	if err != nil {
		return Unwrapped{}, err
	}
	return Normalize(p), nil
}

// WrapPayload builds a v2 envelope around already encoded arguments
func WrapPayload(args json.RawMessage, meta EnvelopeMeta) ([]byte, error) {
	data, err := json.Marshal(EnvelopeV2{
		Version: EnvelopeVersion,
		Meta:    meta,
		Args:    nonEmptyArgs(args),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMarshal, err)
	}
	return data, nil
}

// metaForJob describes the job's current scheduling state in envelope form
func metaForJob(j *Job) EnvelopeMeta {
	meta := EnvelopeMeta{
		Priority:    j.Priority,
		ScheduledAt: j.ScheduledAt.Unix(),
		Attempt:     j.Attempt,
		Recurring:   j.Recurring,
		Interval:    clonePtr(j.IntervalSeconds),
	}
	if j.Attempt > 0 {
		at := j.UpdatedAt.Unix()
		meta.LastRetry = &at
	}
	return meta
}

// marshalArgs encodes domain arguments, passing pre-encoded JSON through untouched
func marshalArgs(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: raw message is not valid JSON", ErrPayloadMarshal)
		}
		return v, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload of type %T: %v", ErrPayloadMarshal, payload, err)
	}
	return data, nil
}

func nonEmptyArgs(args json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(args)) == 0 {
		return json.RawMessage("{}")
	}
	return args
}
