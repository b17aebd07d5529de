// Package payment opens checkout sessions and applies verified payment
// gateway events to the artifact unlock state machine.
package payment

import (
	"context"

	"github.com/yangwenmai/letterlock/internal/model"
)

// CheckoutRequest is what the gateway needs to open a checkout session for one artifact.
type CheckoutRequest struct {
	ArtifactID string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is an opened gateway session.
type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// Gateway abstracts the outbound side of the payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// Verifier checks a webhook signature and reduces the event to a PaymentEvent.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (model.PaymentEvent, error)
}
