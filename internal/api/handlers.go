package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/model"
)

// ---------------------------------------------------------------------------
// POST /api/generate
// ---------------------------------------------------------------------------

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var in letter.GenerateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, model.ValidationError("invalid JSON body"))
		return
	}
	in.CallerKey = s.callerKey(r)

	res, err := s.opts.Letters.Generate(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ---------------------------------------------------------------------------
// POST /api/checkout
// ---------------------------------------------------------------------------

type checkoutRequest struct {
	ArtifactID string `json:"artifactId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ValidationError("invalid JSON body"))
		return
	}

	res, err := s.opts.Checkout.StartCheckout(r.Context(), req.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// POST /api/webhook
// ---------------------------------------------------------------------------

// signatureHeader carries the gateway's HMAC signature over the raw body.
const signatureHeader = "Stripe-Signature"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErrorStatus(w, model.ValidationError("payload too large"), http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("read webhook body", "error", err)
		writeErrorStatus(w, model.ValidationError("unreadable body"), http.StatusBadRequest)
		return
	}

	if err := s.opts.Webhooks.Receive(r.Context(), payload, r.Header.Get(signatureHeader)); err != nil {
		status := statusFor(model.KindOf(err))
		// Signature failures are 400 on this endpoint.
		if model.IsKind(err, model.KindAuth) {
			status = http.StatusBadRequest
		}
		writeErrorStatus(w, err, status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// ---------------------------------------------------------------------------
// GET /api/verify
// ---------------------------------------------------------------------------

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.opts.Letters.Verify(r.Context(), letter.VerifyInput{
		ArtifactID:       q.Get("artifactId"),
		GatewaySessionID: q.Get("gatewaySessionId"),
		OwnerSessionID:   q.Get("ownerSessionId"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// GET /healthz
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
