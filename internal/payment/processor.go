package payment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yangwenmai/letterlock/internal/model"
	"github.com/yangwenmai/letterlock/internal/store"
)

// Processor applies payment events to artifacts. Every payment state write is
// conditional on the state just read, so concurrent or repeated deliveries of
// one event perform at most one transition.
type Processor struct {
	artifacts ArtifactStore
	refunds   RefundLog
}

// RefundLog reports whether the gateway has announced a refund for a payment,
// including refunds delivered before the payment itself was applied.
type RefundLog interface {
	RefundRecorded(ctx context.Context, paymentID string) (bool, error)
}

// NewProcessor creates a Processor.
func NewProcessor(artifacts ArtifactStore, refunds RefundLog) *Processor {
	return &Processor{artifacts: artifacts, refunds: refunds}
}

// Apply runs ev through the state machine. Business no-ops (unknown artifact,
// already paid, not refundable) return nil; only INTERNAL faults are errors.
func (p *Processor) Apply(ctx context.Context, ev model.PaymentEvent) error {
	switch ev.Kind {
	case model.EventPaymentCompleted:
		return p.complete(ctx, ev)
	case model.EventPaymentRefunded:
		return p.refund(ctx, ev)
	default:
		return nil
	}
}

func (p *Processor) complete(ctx context.Context, ev model.PaymentEvent) error {
	log := slog.With("event_id", ev.ID, "artifact_id", ev.ArtifactID)
	if ev.ArtifactID == "" {
		log.Warn("payment event has no artifact id")
		return nil
	}

	a, err := p.artifacts.GetArtifact(ctx, ev.ArtifactID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("payment for unknown artifact")
		return nil
	}
	if err != nil {
		return model.InternalError("load artifact", err)
	}

	if a.PaymentState == model.PaymentPaid {
		if a.GatewayPaymentID != nil && ev.PaymentID != "" && *a.GatewayPaymentID != ev.PaymentID {
			log.Warn("second payment for paid artifact", "payment_id", ev.PaymentID, "paid_with", *a.GatewayPaymentID)
			return nil
		}
		return p.relockIfRefunded(ctx, log, a.ID, ev.PaymentID)
	}
	// A refunded payment never unlocks again; only a new payment does.
	if a.PaymentState == model.PaymentRefunded && a.GatewayPaymentID != nil && *a.GatewayPaymentID == ev.PaymentID {
		log.Info("completion for refunded payment ignored", "payment_id", ev.PaymentID)
		return nil
	}
	refunded, err := p.refunded(ctx, ev.PaymentID)
	if err != nil {
		return err
	}
	if refunded {
		log.Info("completion for refunded payment ignored", "payment_id", ev.PaymentID)
		return nil
	}
	if a.FullContent == "" {
		return model.InternalError("paid artifact has no content", nil)
	}

	patch := model.PaymentPatch{State: model.PaymentPaid}
	if ev.PaymentID != "" {
		patch.PaymentID = &ev.PaymentID
	}
	if ev.SessionID != "" {
		patch.SessionID = &ev.SessionID
	}
	applied, err := p.artifacts.UpdateArtifactIfState(ctx, a.ID, a.PaymentState, patch)
	if err != nil {
		return model.InternalError("mark artifact paid", err)
	}
	if !applied {
		log.Info("payment already applied by a concurrent delivery")
		return nil
	}
	log.Info("artifact unlocked", "from", a.PaymentState, "payment_id", ev.PaymentID)

	// A refund recorded while this unlock was in flight found no paid
	// artifact to relock.
	return p.relockIfRefunded(ctx, log, a.ID, ev.PaymentID)
}

// relockIfRefunded moves a PAID artifact back to REFUNDED when its payment has
// a recorded refund.
func (p *Processor) relockIfRefunded(ctx context.Context, log *slog.Logger, artifactID, paymentID string) error {
	refunded, err := p.refunded(ctx, paymentID)
	if err != nil || !refunded {
		return err
	}
	applied, err := p.artifacts.UpdateArtifactIfState(ctx, artifactID, model.PaymentPaid,
		model.PaymentPatch{State: model.PaymentRefunded})
	if err != nil {
		return model.InternalError("mark artifact refunded", err)
	}
	if applied {
		log.Info("artifact relocked after concurrent refund", "payment_id", paymentID)
	}
	return nil
}

func (p *Processor) refunded(ctx context.Context, paymentID string) (bool, error) {
	if paymentID == "" {
		return false, nil
	}
	ok, err := p.refunds.RefundRecorded(ctx, paymentID)
	if err != nil {
		return false, model.InternalError("look up refunds", err)
	}
	return ok, nil
}

func (p *Processor) refund(ctx context.Context, ev model.PaymentEvent) error {
	log := slog.With("event_id", ev.ID, "payment_id", ev.PaymentID)
	if ev.PaymentID == "" {
		log.Warn("refund event has no payment id")
		return nil
	}

	a, err := p.artifacts.GetArtifactByPaymentID(ctx, ev.PaymentID)
	if errors.Is(err, store.ErrNotFound) {
		// The refund stays in the inbox and blocks a later completion of this payment.
		log.Warn("refund for unknown payment")
		return nil
	}
	if err != nil {
		return model.InternalError("load artifact", err)
	}
	if a.PaymentState != model.PaymentPaid {
		log.Info("refund ignored", "artifact_id", a.ID, "state", a.PaymentState)
		return nil
	}

	applied, err := p.artifacts.UpdateArtifactIfState(ctx, a.ID, model.PaymentPaid,
		model.PaymentPatch{State: model.PaymentRefunded})
	if err != nil {
		return model.InternalError("mark artifact refunded", err)
	}
	if applied {
		log.Info("artifact relocked after refund", "artifact_id", a.ID)
	}
	return nil
}
