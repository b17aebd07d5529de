package store

import (
	"context"
	"errors"
	"time"

	"github.com/yangwenmai/letterlock/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ArtifactReader provides read access to artifacts.
type ArtifactReader interface {
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	GetArtifactByPaymentID(ctx context.Context, paymentID string) (*model.Artifact, error)
}

// ArtifactWriter provides write access to artifacts. Payment state only
// changes through UpdateArtifactIfState.
type ArtifactWriter interface {
	InsertArtifact(ctx context.Context, a model.Artifact) error
	AttachCheckoutSession(ctx context.Context, id, sessionID string) (bool, error)
	UpdateArtifactIfState(ctx context.Context, id string, expected model.PaymentState, p model.PaymentPatch) (bool, error)
}

// EventInbox records verified webhook events and their processing outcome.
type EventInbox interface {
	RecordEvent(ctx context.Context, ev model.PaymentEvent, payload []byte) (*model.InboxEvent, error)
	MarkEventProcessed(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id string, cause error) error
}

// EventClaimer provides atomic claim operations for the reconciler.
type EventClaimer interface {
	ClaimNextFailedEvent(ctx context.Context, maxAttempts int, minIdle time.Duration) (*model.InboxEvent, error)
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}
