package queue

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DedupeKey derives the default uniqueness key for a job: the hex SHA-256 of the
// hook name and the canonical JSON form of its arguments. Key order and
// insignificant whitespace in args do not change the result.
func DedupeKey(hookName string, args json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(args)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(hookName))
	h.Write([]byte{0})
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON re-encodes a document with sorted object keys.
// Numbers are kept verbatim so large integers do not lose precision.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	raw = nonEmptyArgs(raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMarshal, err)
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMarshal, err)
	}
	return out, nil
}
