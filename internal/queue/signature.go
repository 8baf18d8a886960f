package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Callback signature headers
const (
	HeaderTimestamp = "X-Queue-Timestamp"
	HeaderSignature = "X-Queue-Signature"
	HeaderJobID     = "X-Queue-Job-Id"
	HeaderAttempt   = "X-Queue-Attempt"
)

var (
	ErrMissingSignature = errors.New("missing queue signature")
	ErrInvalidSignature = errors.New("invalid queue signature")
	ErrStaleSignature   = errors.New("queue signature timestamp outside allowed window")
)

// Sign computes the hex HMAC-SHA256 of "timestamp.body"
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a callback signature and its timestamp against maxSkew
func Verify(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return ErrStaleSignature
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
