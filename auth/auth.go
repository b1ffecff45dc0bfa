// Package auth implements the HMAC-SHA-256 signature schemes used on queued
// sponsorship requests and protocol webhooks. Both schemes compare digests
// in constant time and bound the timestamp skew to five minutes.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	SignatureHeader = "X-Aegis-Signature"
	TimestampHeader = "X-Aegis-Timestamp"
)

// MaxSkew bounds how far a signature timestamp may drift from now, in
// either direction.
const MaxSkew = 5 * time.Minute

// Verification failures. Callers reject the request with the error text as
// the reason.
var (
	ErrNoSecret       = errors.New("auth: no signing secret configured")
	ErrBadSignature   = errors.New("auth: signature mismatch")
	ErrStaleTimestamp = errors.New("auth: timestamp outside allowed skew")
	ErrBadTimestamp   = errors.New("auth: malformed timestamp")
)

// SignRequest computes the request signature over
// "<agentAddress>:<protocolID>:<timestampMs>".
func SignRequest(secret, agentAddress, protocolID string, timestampMs int64) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	payload := fmt.Sprintf("%s:%s:%d", agentAddress, protocolID, timestampMs)
	return digest(secret, payload), nil
}

// VerifyRequest checks a request signature against the shared secret and the
// skew window. now is injected so the consumer can verify against its own
// clock.
func VerifyRequest(secret, agentAddress, protocolID string, timestampMs int64, sigHex string, now time.Time) error {
	if secret == "" {
		return ErrNoSecret
	}
	if skew(now, time.UnixMilli(timestampMs)) > MaxSkew {
		return ErrStaleTimestamp
	}
	want, err := SignRequest(secret, agentAddress, protocolID, timestampMs)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(sigHex)) {
		return ErrBadSignature
	}
	return nil
}

// SignWebhook computes the webhook signature over "<unixSeconds>.<body>".
func SignWebhook(secret string, body []byte, unixSeconds int64) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	payload := fmt.Sprintf("%d.%s", unixSeconds, body)
	return digest(secret, payload), nil
}

// VerifyWebhook checks an inbound webhook's signature and timestamp headers
// against the raw request body.
func VerifyWebhook(secret string, body []byte, sigHeader, tsHeader string, now time.Time) error {
	if secret == "" {
		return ErrNoSecret
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	if skew(now, time.Unix(ts, 0)) > MaxSkew {
		return ErrStaleTimestamp
	}
	want, err := SignWebhook(secret, body, ts)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(sigHeader)) {
		return ErrBadSignature
	}
	return nil
}

func digest(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func skew(now, ts time.Time) time.Duration {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d
}
