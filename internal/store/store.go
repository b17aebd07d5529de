package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yangwenmai/letterlock/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ ArtifactReader = (*Store)(nil)
	_ ArtifactWriter = (*Store)(nil)
	_ EventInbox     = (*Store)(nil)
	_ EventClaimer   = (*Store)(nil)
)

// Store provides data access to the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) timestamp() string {
	return model.Timestamp(s.now())
}

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 3

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: artifacts
		s.migrateV2, // v1 → v2: webhook event inbox
		s.migrateV3, // v2 → v3: inbox lookup by payment id
	}
	if len(migrations) != currentSchemaVersion {
		return fmt.Errorf("have %d migrations for schema v%d", len(migrations), currentSchemaVersion)
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the artifacts table (v0 → v1).
func (s *Store) migrateV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS artifacts (
		id                   TEXT PRIMARY KEY,
		owner_session_id     TEXT NOT NULL,
		resume_text          TEXT NOT NULL,
		job_description_text TEXT NOT NULL,
		tone                 TEXT NOT NULL,
		full_content         TEXT NOT NULL,
		preview_content      TEXT NOT NULL,
		payment_state        TEXT NOT NULL,
		gateway_session_id   TEXT,
		gateway_payment_id   TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_payment ON artifacts(gateway_payment_id);
	CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_session_id, created_at);
	`)
	return err
}

// migrateV2 adds the webhook event inbox (v1 → v2).
func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS webhook_events (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		gateway_type TEXT NOT NULL,
		artifact_id  TEXT,
		session_id   TEXT,
		payment_id   TEXT,
		payload      TEXT NOT NULL,
		status       TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_error   TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status, updated_at);
	`)
	return err
}

// migrateV3 indexes inbox events by payment id for refund lookups (v2 → v3).
func (s *Store) migrateV3() error {
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_events_payment ON webhook_events(payment_id, kind)`)
	return err
}

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

const artifactColumns = `id, owner_session_id, resume_text, job_description_text, tone, full_content, preview_content, payment_state, gateway_session_id, gateway_payment_id, created_at, updated_at`

// InsertArtifact persists a new artifact.
func (s *Store) InsertArtifact(ctx context.Context, a model.Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerSessionID, a.ResumeText, a.JobDescriptionText, a.Tone,
		a.FullContent, a.PreviewContent, a.PaymentState,
		a.GatewaySessionID, a.GatewayPaymentID, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetArtifact returns the artifact with the given id, or ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	return scanArtifact(row)
}

// GetArtifactByPaymentID returns the artifact paid by the given gateway payment, or ErrNotFound.
func (s *Store) GetArtifactByPaymentID(ctx context.Context, paymentID string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE gateway_payment_id = ? ORDER BY updated_at DESC LIMIT 1`,
		paymentID,
	)
	return scanArtifact(row)
}

// AttachCheckoutSession records the checkout session opened for an artifact.
// It reports false when the artifact is missing or already PAID.
func (s *Store) AttachCheckoutSession(ctx context.Context, id, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET gateway_session_id = ?, updated_at = ? WHERE id = ? AND payment_state != ?`,
		sessionID, s.timestamp(), id, model.PaymentPaid,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateArtifactIfState applies p only while the stored payment state equals
// expected. The check and the write are one statement, so of two concurrent
// callers with the same expectation exactly one sees true.
func (s *Store) UpdateArtifactIfState(ctx context.Context, id string, expected model.PaymentState, p model.PaymentPatch) (bool, error) {
	if !expected.CanTransition(p.State) {
		return false, fmt.Errorf("illegal payment transition %s→%s", expected, p.State)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET
			payment_state      = ?,
			gateway_payment_id = COALESCE(?, gateway_payment_id),
			gateway_session_id = COALESCE(?, gateway_session_id),
			updated_at         = ?
		WHERE id = ? AND payment_state = ?`,
		p.State, p.PaymentID, p.SessionID, s.timestamp(), id, expected,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ---------------------------------------------------------------------------
// Webhook event inbox
// ---------------------------------------------------------------------------

const eventColumns = `id, kind, gateway_type, artifact_id, session_id, payment_id, payload, status, attempts, last_error, created_at, updated_at`

// RecordEvent stores ev as RECEIVED unless an event with the same id exists,
// and returns the stored row either way.
func (s *Store) RecordEvent(ctx context.Context, ev model.PaymentEvent, payload []byte) (*model.InboxEvent, error) {
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.Kind, ev.GatewayType, nullable(ev.ArtifactID), nullable(ev.SessionID), nullable(ev.PaymentID),
		string(payload), model.InboxReceived, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetEvent(ctx, ev.ID)
}

// MarkEventProcessed marks an event as durably applied.
func (s *Store) MarkEventProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = ?, last_error = NULL, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		model.InboxProcessed, s.timestamp(), id,
	)
	return err
}

// MarkEventFailed queues an event for reconciliation.
func (s *Store) MarkEventFailed(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		model.InboxFailed, msg, s.timestamp(), id,
	)
	return err
}

// ClaimNextFailedEvent atomically picks the oldest FAILED event with attempts
// remaining that has been idle for at least minIdle, and sets it to
// PROCESSING. Returns nil if no event is available.
func (s *Store) ClaimNextFailedEvent(ctx context.Context, maxAttempts int, minIdle time.Duration) (*model.InboxEvent, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE webhook_events SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM webhook_events
			WHERE status = ? AND attempts < ? AND updated_at <= ?
			ORDER BY updated_at ASC LIMIT 1
		)
		RETURNING `+eventColumns,
		model.InboxProcessing, model.Timestamp(now), model.InboxFailed, maxAttempts, model.Timestamp(now.Add(-minIdle)),
	)
	ev, err := scanEvent(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ev, err
}

// ResetStaleProcessing returns events that have been PROCESSING for at least
// olderThan to FAILED. Zero resets every PROCESSING event (server restart).
func (s *Store) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = ?, updated_at = ? WHERE status = ? AND updated_at <= ?`,
		model.InboxFailed, model.Timestamp(now), model.InboxProcessing, model.Timestamp(now.Add(-olderThan)),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RefundRecorded reports whether the inbox holds a refund event for paymentID,
// whatever its processing status.
func (s *Store) RefundRecorded(ctx context.Context, paymentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM webhook_events WHERE payment_id = ? AND kind = ?`,
		paymentID, model.EventPaymentRefunded,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetEvent returns the inbox row for a gateway event id, or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.InboxEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id)
	return scanEvent(row)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row scanner) (*model.Artifact, error) {
	var a model.Artifact
	err := row.Scan(&a.ID, &a.OwnerSessionID, &a.ResumeText, &a.JobDescriptionText, &a.Tone,
		&a.FullContent, &a.PreviewContent, &a.PaymentState,
		&a.GatewaySessionID, &a.GatewayPaymentID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEvent(row scanner) (*model.InboxEvent, error) {
	var (
		ev                               model.InboxEvent
		artifactID, sessionID, paymentID sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.Kind, &ev.GatewayType, &artifactID, &sessionID, &paymentID,
		&ev.Payload, &ev.Status, &ev.Attempts, &ev.LastError, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.ArtifactID = artifactID.String
	ev.SessionID = sessionID.String
	ev.PaymentID = paymentID.String
	return &ev, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
