// Package api exposes letter generation, checkout, payment webhooks and
// unlock verification over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/model"
	"github.com/yangwenmai/letterlock/internal/payment"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Letters generates and verifies artifacts.
type Letters interface {
	Generate(ctx context.Context, in letter.GenerateInput) (*letter.GenerateResult, error)
	Verify(ctx context.Context, in letter.VerifyInput) (*letter.VerifyResult, error)
}

// CheckoutStarter opens payment sessions.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, artifactID string) (*payment.CheckoutResult, error)
}

// WebhookReceiver handles raw gateway webhook deliveries.
type WebhookReceiver interface {
	Receive(ctx context.Context, payload []byte, signatureHeader string) error
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server's collaborators.
type Options struct {
	Letters    Letters
	Checkout   CheckoutStarter
	Webhooks   WebhookReceiver
	Health     Pinger
	CORSOrigin string

	// TrustProxy keys callers on the first X-Forwarded-For hop.
	TrustProxy bool
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New creates a new API server.
func New(opts Options) *Server {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	srv := &Server{opts: opts, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return logRequests(corsMiddleware(s.opts.CORSOrigin, limitBody(jsonContent(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/checkout", s.handleCheckout)
	s.mux.HandleFunc("POST /api/webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /api/verify", s.handleVerify)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers for the configured origin.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request. Query strings are left out since
// they carry session ids.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string     `json:"error"`
	Code  model.Kind `json:"code"`
}

// writeError maps a classified error to a status code and a body that never
// carries internal detail.
func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, err, statusFor(model.KindOf(err)))
}

func writeErrorStatus(w http.ResponseWriter, err error, status int) {
	kind := model.KindOf(err)
	msg := "internal error"

	var me *model.Error
	if errors.As(err, &me) && kind != model.KindInternal {
		msg = me.Message
	}
	if kind == model.KindInternal {
		slog.Error("request failed", "error", err)
	}
	if kind == model.KindRateLimited && me != nil && me.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(me.RetryAfter.Seconds()))))
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: kind})
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindAuth:
		return http.StatusForbidden
	case model.KindUpstream:
		return http.StatusBadGateway
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// callerKey identifies the client for rate limiting.
func (s *Server) callerKey(r *http.Request) string {
	if s.opts.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
