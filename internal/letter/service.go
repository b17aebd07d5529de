// Package letter generates cover letters as payment-gated artifacts and
// reports their unlock state.
package letter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yangwenmai/letterlock/internal/engine"
	"github.com/yangwenmai/letterlock/internal/model"
	"github.com/yangwenmai/letterlock/internal/ratelimit"
	"github.com/yangwenmai/letterlock/internal/store"
)

// MinInputRunes is the shortest resume or job description accepted.
const MinInputRunes = 50

// ArtifactStore is the subset of the store the service needs.
type ArtifactStore interface {
	store.ArtifactReader
	InsertArtifact(ctx context.Context, a model.Artifact) error
}

// Writer produces the letter text.
type Writer interface {
	Write(ctx context.Context, req engine.LetterRequest) (string, error)
}

// GenerateInput is one generation request.
type GenerateInput struct {
	ResumeText         string `json:"resumeText"`
	JobDescriptionText string `json:"jobDescriptionText"`
	JobPostingURL      string `json:"jobPostingUrl,omitempty"`
	Tone               string `json:"tone,omitempty"`
	OwnerSessionID     string `json:"ownerSessionId"`

	// CallerKey identifies the caller for rate limiting.
	CallerKey string `json:"-"`
}

// GenerateResult is what the requesting caller receives. It never carries the full letter.
type GenerateResult struct {
	ArtifactID   string             `json:"artifactId"`
	Preview      string             `json:"preview"`
	PaymentState model.PaymentState `json:"paymentState"`
}

// VerifyInput identifies the artifact being polled and, optionally, the
// caller's correlation ids.
type VerifyInput struct {
	ArtifactID       string
	GatewaySessionID string
	OwnerSessionID   string
}

// VerifyResult reports unlock state. FullContent is nil unless unlocked.
type VerifyResult struct {
	ArtifactID   string             `json:"artifactId"`
	Unlocked     bool               `json:"unlocked"`
	PaymentState model.PaymentState `json:"paymentState"`
	Preview      string             `json:"preview"`
	FullContent  *string            `json:"fullContent"`
}

// Service implements letter generation and unlock verification.
type Service struct {
	artifacts ArtifactStore
	writer    Writer
	fetcher   engine.PostingFetcher
	limiter   ratelimit.Limiter
	newID     func() string
}

// NewService creates a Service. fetcher may be nil to disable job posting URLs.
func NewService(artifacts ArtifactStore, writer Writer, fetcher engine.PostingFetcher, limiter ratelimit.Limiter) *Service {
	return &Service{
		artifacts: artifacts,
		writer:    writer,
		fetcher:   fetcher,
		limiter:   limiter,
		newID:     uuid.NewString,
	}
}

// Generate validates the request, writes a letter and stores it as an UNPAID
// artifact. Only the preview is returned.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if !s.limiter.Allow(ctx, in.CallerKey) {
		slog.Info("generation rate limited", "caller", in.CallerKey)
		return nil, model.RateLimitedError(s.limiter.RetryAfter(ctx, in.CallerKey))
	}

	tone := strings.TrimSpace(in.Tone)
	if tone == "" {
		tone = model.ToneProfessional
	}
	if !model.ValidTone(tone) {
		return nil, model.ValidationError("tone must be one of professional, friendly, enthusiastic, concise")
	}
	owner := strings.TrimSpace(in.OwnerSessionID)
	if owner == "" {
		return nil, model.ValidationError("ownerSessionId is required")
	}
	resume := strings.TrimSpace(in.ResumeText)
	if utf8.RuneCountInString(resume) < MinInputRunes {
		return nil, model.ValidationError("resumeText is too short")
	}

	jd := strings.TrimSpace(in.JobDescriptionText)
	if jd == "" && in.JobPostingURL != "" {
		var err error
		if jd, err = s.fetchPosting(ctx, in.JobPostingURL); err != nil {
			return nil, err
		}
	}
	if utf8.RuneCountInString(jd) < MinInputRunes {
		return nil, model.ValidationError("jobDescriptionText is too short")
	}

	content, err := s.writer.Write(ctx, engine.LetterRequest{Resume: resume, JobDescription: jd, Tone: tone})
	if err != nil {
		return nil, err
	}

	a := model.NewArtifact(s.newID(), owner, resume, jd, tone, content)
	if err := s.artifacts.InsertArtifact(ctx, a); err != nil {
		return nil, model.InternalError("store artifact", err)
	}

	slog.Info("artifact created", "artifact_id", a.ID, "owner_session_id", owner, "tone", tone)
	return &GenerateResult{ArtifactID: a.ID, Preview: a.PreviewContent, PaymentState: a.PaymentState}, nil
}

func (s *Service) fetchPosting(ctx context.Context, url string) (string, error) {
	if s.fetcher == nil {
		return "", model.ValidationError("jobPostingUrl is not supported; paste the job description")
	}
	p, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		slog.Warn("job posting fetch failed", "url", url, "error", err)
		return "", model.UpstreamError("could not fetch job posting", err)
	}
	return strings.TrimSpace(p.Text), nil
}

// Verify reports the artifact's unlock state. It reads only the store; the
// full letter is included only when the artifact is PAID.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	if in.ArtifactID == "" {
		return nil, model.ValidationError("artifactId is required")
	}

	a, err := s.artifacts.GetArtifact(ctx, in.ArtifactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NotFoundError("artifact not found")
	}
	if err != nil {
		return nil, model.InternalError("load artifact", err)
	}

	if in.GatewaySessionID != "" && (a.GatewaySessionID == nil || *a.GatewaySessionID != in.GatewaySessionID) {
		return nil, model.AuthError(errors.New("gateway session mismatch"))
	}
	if in.OwnerSessionID != "" && a.OwnerSessionID != in.OwnerSessionID {
		return nil, model.AuthError(errors.New("owner session mismatch"))
	}

	res := &VerifyResult{
		ArtifactID:   a.ID,
		Unlocked:     a.Unlocked(),
		PaymentState: a.PaymentState,
		Preview:      a.PreviewContent,
	}
	if res.Unlocked {
		content := a.FullContent
		res.FullContent = &content
	}
	return res, nil
}
