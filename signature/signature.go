// Package signature signs outbound webhook bodies and verifies signed
// inbound event posts with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Flowbridge-Signature"
	HeaderTimestamp = "X-Flowbridge-Timestamp"

	// DefaultTolerance bounds the clock skew accepted by VerifyRequest.
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("signature: missing signature headers")
	ErrExpired          = errors.New("signature: timestamp outside tolerance")
	ErrMismatch         = errors.New("signature: mismatch")
)

// Sign returns "v1=<hex>" over "{timestamp}.{payload}".
func Sign(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches the payload, secret and timestamp.
func Verify(payload []byte, secret string, timestamp int64, sig string) bool {
	return hmac.Equal([]byte(Sign(payload, secret, timestamp)), []byte(sig))
}

// VerifyRequest checks the signature headers of r against an already read
// body. A zero tolerance uses DefaultTolerance.
func VerifyRequest(r *http.Request, body []byte, secret string, tolerance time.Duration) error {
	sig := r.Header.Get(HeaderSignature)
	tsRaw := r.Header.Get(HeaderTimestamp)
	if sig == "" || tsRaw == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("signature: bad timestamp %q: %w", tsRaw, err)
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > tolerance || skew < -tolerance {
		return ErrExpired
	}

	if !Verify(body, secret, ts, sig) {
		return ErrMismatch
	}
	return nil
}
