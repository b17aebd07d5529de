package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// StubGateway opens fake checkout sessions that redirect straight to the
// success URL (for development/testing without a Stripe account).
type StubGateway struct{}

func (g *StubGateway) CreateSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	id := "cs_stub_" + uuid.NewString()
	return &CheckoutSession{
		ID:          id,
		RedirectURL: strings.ReplaceAll(req.SuccessURL, SessionIDPlaceholder, id),
	}, nil
}
