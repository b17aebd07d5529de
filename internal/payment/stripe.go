package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/yangwenmai/letterlock/internal/model"
)

// MetadataArtifactID is the checkout metadata key that carries the artifact id.
const MetadataArtifactID = "artifactId"

// GatewayStripe names the gateway in logs.
const GatewayStripe = "stripe"

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	sessions    session.Client
	priceCents  int64
	currency    string
	productName string
}

// NewStripeGateway creates a Stripe gateway charging priceCents in currency per letter.
func NewStripeGateway(secretKey string, priceCents int64, currency, productName string) *StripeGateway {
	return &StripeGateway{
		sessions:    session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		priceCents:  priceCents,
		currency:    currency,
		productName: productName,
	}
}

// CreateSession opens a one-off payment Checkout session tagged with the artifact id.
func (g *StripeGateway) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ArtifactID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(g.priceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(g.productName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{MetadataArtifactID: req.ArtifactID},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataArtifactID, req.ArtifactID)

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, RedirectURL: s.URL}, nil
}

// StripeVerifier implements Verifier for Stripe webhook signatures.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the endpoint's signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify checks the Stripe-Signature header over the raw payload and maps the event.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (model.PaymentEvent, error) {
	if signatureHeader == "" {
		return model.PaymentEvent{}, errors.New("missing signature header")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return model.PaymentEvent{}, err
	}
	return mapStripeEvent(event)
}

// mapStripeEvent reduces a verified Stripe event to a PaymentEvent. Types the
// state machine does not consume map to EventIgnored.
func mapStripeEvent(event stripe.Event) (model.PaymentEvent, error) {
	ev := model.PaymentEvent{
		ID:          event.ID,
		Kind:        model.EventIgnored,
		GatewayType: string(event.Type),
	}
	if event.Data == nil {
		return ev, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return ev, fmt.Errorf("decode checkout session: %w", err)
		}
		// Delayed methods complete the session before funds arrive; wait for
		// async_payment_succeeded in that case.
		if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
			cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			slog.Info("checkout completed without payment", "event_id", event.ID, "payment_status", cs.PaymentStatus)
			return ev, nil
		}
		ev.Kind = model.EventPaymentCompleted
		ev.SessionID = cs.ID
		ev.ArtifactID = cs.Metadata[MetadataArtifactID]
		if ev.ArtifactID == "" {
			ev.ArtifactID = cs.ClientReferenceID
		}
		if cs.PaymentIntent != nil {
			ev.PaymentID = cs.PaymentIntent.ID
		}

	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return ev, fmt.Errorf("decode charge: %w", err)
		}
		// Partial refunds leave the letter unlocked.
		if !ch.Refunded {
			slog.Info("partial refund ignored", "event_id", event.ID, "charge_id", ch.ID)
			return ev, nil
		}
		ev.Kind = model.EventPaymentRefunded
		if ch.PaymentIntent != nil {
			ev.PaymentID = ch.PaymentIntent.ID
		}
	}
	return ev, nil
}
