// wiring.go holds the production signature verifier and its test override.
package consumer

import (
	"time"

	"github.com/aegis-labs/aegis/auth"
	"github.com/aegis-labs/aegis/queue"
)

// defaultVerify checks a queued request's HMAC signature against the shared
// secret.
func (c *Consumer) defaultVerify(req *queue.Request, now time.Time) error {
	return auth.VerifyRequest(c.secret, req.AgentAddress, req.ProtocolID,
		req.SignatureTimestamp, req.Signature, now)
}

// SetVerifier replaces signature verification in tests.
func (c *Consumer) SetVerifier(fn func(req *queue.Request, now time.Time) error) {
	c.verifySignature = fn
}
