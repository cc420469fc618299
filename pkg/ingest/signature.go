package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signature headers sent by event sources
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// maxClockSkew tolerates senders whose clocks run slightly ahead
const maxClockSkew = time.Minute

// Sign returns the hex HMAC-SHA256 of "timestamp.body" under key.
// Senders put it in SignatureHeader and the unix timestamp in TimestampHeader.
func Sign(key []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the request's signature headers against body. Binding the
// timestamp into the MAC stops replays of captured requests once maxAge passes.
func Verify(key []byte, header http.Header, body []byte, now time.Time, maxAge time.Duration) error {
	signature := header.Get(SignatureHeader)
	rawTimestamp := header.Get(TimestampHeader)
	if signature == "" || rawTimestamp == "" {
		return ErrSignatureMissing
	}

	timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return ErrSignatureMalformed
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureMalformed
	}

	if maxAge > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > maxAge || age < -maxClockSkew {
			return ErrSignatureExpired
		}
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(rawTimestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), given) {
		return ErrSignatureMismatch
	}
	return nil
}
