package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/yangwenmai/letterlock/internal/model"
	"github.com/yangwenmai/letterlock/internal/store"
)

// SessionIDPlaceholder is substituted by the gateway with the real session id
// on redirect back to the success URL.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// ArtifactStore is the subset of the store checkout and event processing need.
type ArtifactStore interface {
	store.ArtifactReader
	store.ArtifactWriter
}

// CheckoutResult is returned to the client to redirect the buyer.
type CheckoutResult struct {
	RedirectURL string `json:"redirectUrl"`
	SessionID   string `json:"sessionId"`
}

// Checkout opens gateway sessions for artifacts.
type Checkout struct {
	artifacts ArtifactStore
	gateway   Gateway
	baseURL   string
}

// NewCheckout creates a Checkout. baseURL is where the gateway sends the buyer back.
func NewCheckout(artifacts ArtifactStore, gateway Gateway, baseURL string) *Checkout {
	return &Checkout{artifacts: artifacts, gateway: gateway, baseURL: baseURL}
}

// StartCheckout opens a checkout session correlated to artifactID and records
// the session id on the artifact. A later call replaces the stored session id.
func (c *Checkout) StartCheckout(ctx context.Context, artifactID string) (*CheckoutResult, error) {
	if artifactID == "" {
		return nil, model.ValidationError("artifactId is required")
	}

	a, err := c.artifacts.GetArtifact(ctx, artifactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NotFoundError("artifact not found")
	}
	if err != nil {
		return nil, model.InternalError("load artifact", err)
	}
	if a.Unlocked() {
		return nil, model.ValidationError("artifact is already unlocked")
	}

	sess, err := c.gateway.CreateSession(ctx, CheckoutRequest{
		ArtifactID: artifactID,
		SuccessURL: c.successURL(artifactID),
		CancelURL:  c.cancelURL(artifactID),
	})
	if err != nil {
		return nil, model.UpstreamError("payment gateway unavailable", err)
	}

	ok, err := c.artifacts.AttachCheckoutSession(ctx, artifactID, sess.ID)
	if err != nil {
		return nil, model.InternalError("attach checkout session", err)
	}
	if !ok {
		// Paid between the read above and now.
		return nil, model.ValidationError("artifact is already unlocked")
	}

	slog.Info("checkout session opened", "artifact_id", artifactID, "session_id", sess.ID)
	return &CheckoutResult{RedirectURL: sess.RedirectURL, SessionID: sess.ID}, nil
}

// The placeholder must reach the gateway unescaped.
func (c *Checkout) successURL(artifactID string) string {
	return fmt.Sprintf("%s/unlock?artifactId=%s&session_id=%s", c.baseURL, url.QueryEscape(artifactID), SessionIDPlaceholder)
}

func (c *Checkout) cancelURL(artifactID string) string {
	return fmt.Sprintf("%s/?artifactId=%s&checkout=cancelled", c.baseURL, url.QueryEscape(artifactID))
}
