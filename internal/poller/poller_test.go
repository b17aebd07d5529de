package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/model"
)

// scriptedChecker returns results[i] on the i-th call, repeating the last.
type scriptedChecker struct {
	mu    sync.Mutex
	calls int
	steps []step
}

type step struct {
	res *letter.VerifyResult
	err error
}

func (c *scriptedChecker) Check(context.Context, letter.VerifyInput) (*letter.VerifyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.calls++
	return c.steps[i].res, c.steps[i].err
}

func locked() step   { return step{res: &letter.VerifyResult{ArtifactID: "art-1"}} }
func unlocked() step { return step{res: &letter.VerifyResult{ArtifactID: "art-1", Unlocked: true}} }

func TestWait_StopsOnFirstUnlocked(t *testing.T) {
	c := &scriptedChecker{steps: []step{locked(), locked(), unlocked(), locked()}}
	p := New(c, 5*time.Millisecond, time.Second)

	res, err := p.Wait(context.Background(), letter.VerifyInput{ArtifactID: "art-1"})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != StatusUnlocked {
		t.Errorf("Status = %q, want UNLOCKED", res.Status)
	}
	if res.Attempts != 3 || c.calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", res.Attempts, c.calls)
	}
}

func TestWait_TimeoutIsDelayedNotError(t *testing.T) {
	c := &scriptedChecker{steps: []step{locked()}}
	p := New(c, 5*time.Millisecond, 40*time.Millisecond)

	res, err := p.Wait(context.Background(), letter.VerifyInput{ArtifactID: "art-1"})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != StatusDelayed {
		t.Errorf("Status = %q, want DELAYED", res.Status)
	}
	if res.Last == nil || res.Last.Unlocked {
		t.Errorf("Last = %+v", res.Last)
	}
}

func TestWait_TransientErrorsRetried(t *testing.T) {
	c := &scriptedChecker{steps: []step{
		{err: errors.New("connection refused")},
		{err: model.InternalError("boom", nil)},
		unlocked(),
	}}
	p := New(c, 5*time.Millisecond, time.Second)

	res, err := p.Wait(context.Background(), letter.VerifyInput{ArtifactID: "art-1"})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != StatusUnlocked {
		t.Errorf("Status = %q, want UNLOCKED", res.Status)
	}
}

func TestWait_TerminalErrorStops(t *testing.T) {
	for _, kind := range []model.Kind{model.KindAuth, model.KindNotFound, model.KindValidation} {
		t.Run(string(kind), func(t *testing.T) {
			c := &scriptedChecker{steps: []step{{err: model.NewError(kind, "no", nil)}}}
			p := New(c, 5*time.Millisecond, time.Second)

			_, err := p.Wait(context.Background(), letter.VerifyInput{ArtifactID: "art-1"})
			if !model.IsKind(err, kind) {
				t.Fatalf("err = %v, want %s", err, kind)
			}
			if c.calls != 1 {
				t.Errorf("calls = %d, want 1", c.calls)
			}
		})
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	c := &scriptedChecker{steps: []step{locked()}}
	p := New(c, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.Wait(ctx, letter.VerifyInput{ArtifactID: "art-1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/verify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("artifactId") {
		case "art-paid":
			if q.Get("gatewaySessionId") != "cs_1" {
				t.Errorf("gatewaySessionId = %q", q.Get("gatewaySessionId"))
			}
			content := "full letter"
			json.NewEncoder(w).Encode(letter.VerifyResult{ArtifactID: "art-paid", Unlocked: true, PaymentState: model.PaymentPaid, FullContent: &content})
		case "art-denied":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"access denied","code":"AUTH"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`upstream proxy error`))
		}
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL+"/", time.Second)
	ctx := context.Background()

	v, err := c.Check(ctx, letter.VerifyInput{ArtifactID: "art-paid", GatewaySessionID: "cs_1"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Unlocked || v.FullContent == nil || *v.FullContent != "full letter" {
		t.Errorf("result = %+v", v)
	}

	if _, err := c.Check(ctx, letter.VerifyInput{ArtifactID: "art-denied"}); !model.IsKind(err, model.KindAuth) {
		t.Errorf("err = %v, want AUTH", err)
	}

	_, err = c.Check(ctx, letter.VerifyInput{ArtifactID: "art-other"})
	if err == nil || terminal(err) {
		t.Errorf("err = %v, want transient error", err)
	}
}
