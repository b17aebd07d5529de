// Package poller waits for an artifact to unlock by polling the verification
// endpoint on a fixed interval with a hard timeout.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/model"
)

// Status is the terminal state of a wait.
type Status string

const (
	// StatusUnlocked means the artifact reported unlocked.
	StatusUnlocked Status = "UNLOCKED"
	// StatusDelayed means the timeout passed first. The payment may still
	// land later; this is not a failure.
	StatusDelayed Status = "DELAYED"
)

// Checker performs one verification call.
type Checker interface {
	Check(ctx context.Context, in letter.VerifyInput) (*letter.VerifyResult, error)
}

// Result is the outcome of Wait.
type Result struct {
	Status   Status
	Attempts int

	// Last is the most recent successful verification, nil if none succeeded.
	Last *letter.VerifyResult
}

// Poller polls a Checker until unlocked or timeout.
type Poller struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
}

// New creates a Poller. Typical values are a 2s interval and a 60s timeout.
func New(checker Checker, interval, timeout time.Duration) *Poller {
	return &Poller{checker: checker, interval: interval, timeout: timeout}
}

// Wait polls until the artifact is unlocked (StatusUnlocked) or the timeout
// passes (StatusDelayed, nil error). AUTH, NOT_FOUND and VALIDATION errors end
// the wait with that error; other errors are retried on the next tick.
// Cancelling ctx stops polling immediately and returns ctx.Err().
func (p *Poller) Wait(ctx context.Context, in letter.VerifyInput) (*Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	res := &Result{Status: StatusDelayed}
	for {
		res.Attempts++
		v, err := p.checker.Check(waitCtx, in)
		switch {
		case err == nil:
			res.Last = v
			if v.Unlocked {
				res.Status = StatusUnlocked
				return res, nil
			}
		case terminal(err):
			return res, err
		default:
			slog.Debug("verify attempt failed, retrying", "attempt", res.Attempts, "error", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, nil
		case <-ticker.C:
		}
	}
}

func terminal(err error) bool {
	var me *model.Error
	if !errors.As(err, &me) {
		return false
	}
	switch me.Kind {
	case model.KindAuth, model.KindNotFound, model.KindValidation:
		return true
	}
	return false
}
