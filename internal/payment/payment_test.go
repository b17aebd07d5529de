package payment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/yangwenmai/letterlock/internal/model"
	"github.com/yangwenmai/letterlock/internal/store"
)

const testSecret = "whsec_test_secret"

const fullLetter = "Dear Hiring Manager, I am excited to apply. This is the complete letter body that only a paying customer may read in full."

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func seedArtifact(t *testing.T, s *store.Store, id, content string) {
	t.Helper()
	a := model.NewArtifact(id, "owner-1", "resume", "job", model.ToneProfessional, content)
	if err := s.InsertArtifact(context.Background(), a); err != nil {
		t.Fatalf("InsertArtifact: %v", err)
	}
}

func getArtifact(t *testing.T, s *store.Store, id string) *model.Artifact {
	t.Helper()
	a, err := s.GetArtifact(context.Background(), id)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	return a
}

func newTestHandler(s *store.Store) *WebhookHandler {
	return NewWebhookHandler(NewStripeVerifier(testSecret), s, NewProcessor(s, s))
}

// sign returns the payload and a valid Stripe-Signature header for it.
func sign(payload string) ([]byte, string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func completedEvent(eventID, artifactID, sessionID, paymentID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":{"id":%q,"object":"checkout.session","payment_status":"paid","client_reference_id":%q,"metadata":{"artifactId":%q},"payment_intent":%q}}}`,
		eventID, sessionID, artifactID, artifactID, paymentID)
}

func refundEvent(eventID, paymentID string, full bool) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge","refunded":%t,"payment_intent":%q}}}`,
		eventID, full, paymentID)
}

func TestReceive_CompletedUnlocks(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)

	payload, sig := sign(completedEvent("evt_1", "art-1", "cs_1", "pi_1"))
	if err := h.Receive(context.Background(), payload, sig); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	a := getArtifact(t, s, "art-1")
	if a.PaymentState != model.PaymentPaid {
		t.Errorf("PaymentState = %q, want PAID", a.PaymentState)
	}
	if a.GatewayPaymentID == nil || *a.GatewayPaymentID != "pi_1" {
		t.Errorf("GatewayPaymentID = %v, want pi_1", a.GatewayPaymentID)
	}
	if a.GatewaySessionID == nil || *a.GatewaySessionID != "cs_1" {
		t.Errorf("GatewaySessionID = %v, want cs_1", a.GatewaySessionID)
	}
	if a.FullContent != fullLetter {
		t.Error("FullContent changed by payment")
	}
}

func TestReceive_DuplicateDeliveryIsNoop(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)
	ctx := context.Background()

	payload, sig := sign(completedEvent("evt_1", "art-1", "cs_1", "pi_1"))
	if err := h.Receive(ctx, payload, sig); err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	first := getArtifact(t, s, "art-1")

	time.Sleep(5 * time.Millisecond)
	if err := h.Receive(ctx, payload, sig); err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	second := getArtifact(t, s, "art-1")

	if second.UpdatedAt != first.UpdatedAt {
		t.Errorf("UpdatedAt changed on duplicate delivery: %s → %s", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestReceive_ConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, sig := sign(completedEvent("evt_1", "art-1", "cs_1", "pi_1"))
			if err := h.Receive(context.Background(), payload, sig); err != nil {
				t.Errorf("Receive: %v", err)
			}
		}()
	}
	wg.Wait()

	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentPaid {
		t.Errorf("PaymentState = %q, want PAID", a.PaymentState)
	}
}

func TestReceive_RefundThenRepay(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)
	ctx := context.Background()

	steps := []struct {
		payload string
		want    model.PaymentState
	}{
		{completedEvent("evt_1", "art-1", "cs_1", "pi_1"), model.PaymentPaid},
		{refundEvent("evt_2", "pi_1", true), model.PaymentRefunded},
		{refundEvent("evt_3", "pi_1", true), model.PaymentRefunded},
		{completedEvent("evt_4", "art-1", "cs_2", "pi_2"), model.PaymentPaid},
	}
	for i, st := range steps {
		payload, sig := sign(st.payload)
		if err := h.Receive(ctx, payload, sig); err != nil {
			t.Fatalf("step %d: Receive: %v", i, err)
		}
		a := getArtifact(t, s, "art-1")
		if a.PaymentState != st.want {
			t.Fatalf("step %d: PaymentState = %q, want %q", i, a.PaymentState, st.want)
		}
		if a.FullContent != fullLetter {
			t.Fatalf("step %d: FullContent changed", i)
		}
	}

	a := getArtifact(t, s, "art-1")
	if *a.GatewayPaymentID != "pi_2" || *a.GatewaySessionID != "cs_2" {
		t.Errorf("ids = %s/%s, want pi_2/cs_2", *a.GatewayPaymentID, *a.GatewaySessionID)
	}
}

func TestReceive_PartialRefundKeepsUnlocked(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)
	ctx := context.Background()

	for _, p := range []string{completedEvent("evt_1", "art-1", "cs_1", "pi_1"), refundEvent("evt_2", "pi_1", false)} {
		payload, sig := sign(p)
		if err := h.Receive(ctx, payload, sig); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentPaid {
		t.Errorf("PaymentState = %q, want PAID", a.PaymentState)
	}
}

func TestReceive_RefundBeforeCompletionStaysLocked(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)
	ctx := context.Background()

	steps := []struct {
		payload string
		want    model.PaymentState
	}{
		{refundEvent("evt_r", "pi_1", true), model.PaymentUnpaid},
		{completedEvent("evt_c", "art-1", "cs_1", "pi_1"), model.PaymentUnpaid},
		{completedEvent("evt_c2", "art-1", "cs_2", "pi_2"), model.PaymentPaid},
	}
	for i, st := range steps {
		payload, sig := sign(st.payload)
		if err := h.Receive(ctx, payload, sig); err != nil {
			t.Fatalf("step %d: Receive: %v", i, err)
		}
		if a := getArtifact(t, s, "art-1"); a.PaymentState != st.want {
			t.Fatalf("step %d: PaymentState = %q, want %q", i, a.PaymentState, st.want)
		}
	}
}

func TestApply_ReplayedCompletionAfterRefund(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	p := NewProcessor(s, s)
	ctx := context.Background()

	paid := model.PaymentEvent{ID: "evt_c", Kind: model.EventPaymentCompleted, ArtifactID: "art-1", SessionID: "cs_1", PaymentID: "pi_1"}
	refund := model.PaymentEvent{ID: "evt_r", Kind: model.EventPaymentRefunded, PaymentID: "pi_1"}

	for i, ev := range []model.PaymentEvent{paid, refund, paid} {
		if err := p.Apply(ctx, ev); err != nil {
			t.Fatalf("step %d: Apply: %v", i, err)
		}
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentRefunded {
		t.Errorf("PaymentState = %q, want REFUNDED", a.PaymentState)
	}
}

// refundAfter reports no refund for the first n lookups and a refund after.
type refundAfter struct{ n int }

func (r *refundAfter) RefundRecorded(context.Context, string) (bool, error) {
	r.n--
	return r.n < 0, nil
}

func TestApply_RefundDuringUnlockRelocks(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	p := NewProcessor(s, &refundAfter{n: 1})

	ev := model.PaymentEvent{ID: "evt_c", Kind: model.EventPaymentCompleted, ArtifactID: "art-1", SessionID: "cs_1", PaymentID: "pi_1"}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentRefunded {
		t.Errorf("PaymentState = %q, want REFUNDED", a.PaymentState)
	}
}

func TestApply_RetriedCompletionSeesLateRefund(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	p := NewProcessor(s, &refundAfter{n: 2})
	ctx := context.Background()

	ev := model.PaymentEvent{ID: "evt_c", Kind: model.EventPaymentCompleted, ArtifactID: "art-1", SessionID: "cs_1", PaymentID: "pi_1"}
	if err := p.Apply(ctx, ev); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentPaid {
		t.Fatalf("PaymentState = %q, want PAID", a.PaymentState)
	}
	if err := p.Apply(ctx, ev); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentRefunded {
		t.Errorf("PaymentState = %q, want REFUNDED", a.PaymentState)
	}
}

func TestReceive_BadSignature(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)

	payload := []byte(completedEvent("evt_1", "art-1", "cs_1", "pi_1"))
	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_attacker",
		Timestamp: time.Now(),
	})

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   forged.Header,
		"garbage":        "t=1,v1=deadbeef",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			err := h.Receive(context.Background(), payload, header)
			if !model.IsKind(err, model.KindAuth) {
				t.Fatalf("err = %v, want AUTH", err)
			}
		})
	}

	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentUnpaid {
		t.Errorf("PaymentState = %q, forged event must not unlock", a.PaymentState)
	}
}

func TestReceive_UnknownArtifactIsNoop(t *testing.T) {
	s := newTestStore(t)
	h := newTestHandler(s)

	payload, sig := sign(completedEvent("evt_1", "art-missing", "cs_1", "pi_1"))
	if err := h.Receive(context.Background(), payload, sig); err != nil {
		t.Fatalf("Receive: %v", err)
	}
}

func TestReceive_UnhandledTypeIgnored(t *testing.T) {
	s := newTestStore(t)
	h := newTestHandler(s)

	payload, sig := sign(`{"id":"evt_9","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	if err := h.Receive(context.Background(), payload, sig); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ev, _ := s.ClaimNextFailedEvent(context.Background(), 5, 0)
	if ev != nil {
		t.Errorf("ignored event should not be queued: %v", ev.ID)
	}
}

func TestReceive_UnpaidSessionIgnored(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	h := newTestHandler(s)

	p := strings.Replace(completedEvent("evt_1", "art-1", "cs_1", "pi_1"), `"payment_status":"paid"`, `"payment_status":"unpaid"`, 1)
	payload, sig := sign(p)
	if err := h.Receive(context.Background(), payload, sig); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentUnpaid {
		t.Errorf("PaymentState = %q, want UNPAID until async payment succeeds", a.PaymentState)
	}

	async := strings.Replace(p, "checkout.session.completed", "checkout.session.async_payment_succeeded", 1)
	async = strings.Replace(async, `"evt_1"`, `"evt_2"`, 1)
	payload, sig = sign(async)
	if err := h.Receive(context.Background(), payload, sig); err != nil {
		t.Fatalf("Receive async: %v", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentPaid {
		t.Errorf("PaymentState = %q, want PAID after async success", a.PaymentState)
	}
}

func TestReceive_MissingContentIsInternalAndQueued(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", "")
	h := newTestHandler(s)
	ctx := context.Background()

	payload, sig := sign(completedEvent("evt_1", "art-1", "cs_1", "pi_1"))
	err := h.Receive(ctx, payload, sig)
	if !model.IsKind(err, model.KindInternal) {
		t.Fatalf("err = %v, want INTERNAL", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentUnpaid {
		t.Errorf("PaymentState = %q, must not unlock empty content", a.PaymentState)
	}

	ev, err := s.ClaimNextFailedEvent(ctx, 5, 0)
	if err != nil {
		t.Fatalf("ClaimNextFailedEvent: %v", err)
	}
	if ev == nil || ev.ID != "evt_1" {
		t.Fatalf("failed event not queued for reconciliation: %v", ev)
	}
}

func TestReceive_FailedEventRetriedByGateway(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	ctx := context.Background()

	payload, sig := sign(completedEvent("evt_1", "art-1", "cs_1", "pi_1"))
	broken := NewWebhookHandler(NewStripeVerifier(testSecret), s, NewProcessor(failingStore{s}, s))
	if err := broken.Receive(ctx, payload, sig); !model.IsKind(err, model.KindInternal) {
		t.Fatalf("err = %v, want INTERNAL", err)
	}

	// The gateway redelivers the same FAILED event once the store recovers.
	if err := newTestHandler(s).Receive(ctx, payload, sig); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if a := getArtifact(t, s, "art-1"); a.PaymentState != model.PaymentPaid {
		t.Errorf("PaymentState = %q, want PAID", a.PaymentState)
	}
}

// failingStore fails every conditional update.
type failingStore struct{ *store.Store }

func (f failingStore) UpdateArtifactIfState(context.Context, string, model.PaymentState, model.PaymentPatch) (bool, error) {
	return false, errors.New("database is locked")
}

func TestMapStripeEvent_FallsBackToClientReference(t *testing.T) {
	v := NewStripeVerifier(testSecret)
	payload, sig := sign(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","payment_status":"paid","client_reference_id":"art-7","payment_intent":"pi_7"}}}`)

	ev, err := v.Verify(payload, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ev.Kind != model.EventPaymentCompleted || ev.ArtifactID != "art-7" || ev.PaymentID != "pi_7" || ev.SessionID != "cs_1" {
		t.Errorf("event = %+v", ev)
	}
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

type recordingGateway struct {
	req CheckoutRequest
	err error
	n   int
}

func (g *recordingGateway) CreateSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.req = req
	g.n++
	if g.err != nil {
		return nil, g.err
	}
	id := fmt.Sprintf("cs_%d", g.n)
	return &CheckoutSession{ID: id, RedirectURL: "https://pay.example/" + id}, nil
}

func TestStartCheckout(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-1", fullLetter)
	gw := &recordingGateway{}
	c := NewCheckout(s, gw, "https://app.example")

	res, err := c.StartCheckout(context.Background(), "art-1")
	if err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	if res.RedirectURL != "https://pay.example/cs_1" || res.SessionID != "cs_1" {
		t.Errorf("result = %+v", res)
	}
	if gw.req.ArtifactID != "art-1" {
		t.Errorf("gateway ArtifactID = %q", gw.req.ArtifactID)
	}
	if !strings.Contains(gw.req.SuccessURL, SessionIDPlaceholder) {
		t.Errorf("SuccessURL %q lacks session placeholder", gw.req.SuccessURL)
	}
	if !strings.HasPrefix(gw.req.CancelURL, "https://app.example/") {
		t.Errorf("CancelURL = %q", gw.req.CancelURL)
	}

	// Latest session wins.
	c.StartCheckout(context.Background(), "art-1")
	if a := getArtifact(t, s, "art-1"); *a.GatewaySessionID != "cs_2" {
		t.Errorf("GatewaySessionID = %q, want cs_2", *a.GatewaySessionID)
	}
}

func TestStartCheckout_Errors(t *testing.T) {
	s := newTestStore(t)
	seedArtifact(t, s, "art-paid", fullLetter)
	seedArtifact(t, s, "art-1", fullLetter)
	pi := "pi_1"
	s.UpdateArtifactIfState(context.Background(), "art-paid", model.PaymentUnpaid, model.PaymentPatch{State: model.PaymentPaid, PaymentID: &pi})

	tests := []struct {
		name string
		id   string
		gw   *recordingGateway
		want model.Kind
	}{
		{"empty id", "", &recordingGateway{}, model.KindValidation},
		{"unknown artifact", "nope", &recordingGateway{}, model.KindNotFound},
		{"already paid", "art-paid", &recordingGateway{}, model.KindValidation},
		{"gateway down", "art-1", &recordingGateway{err: errors.New("503")}, model.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCheckout(s, tt.gw, "https://app.example").StartCheckout(context.Background(), tt.id)
			if !model.IsKind(err, tt.want) {
				t.Errorf("err = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestStubGateway_RedirectsToSuccess(t *testing.T) {
	sess, err := (&StubGateway{}).CreateSession(context.Background(), CheckoutRequest{
		ArtifactID: "art-1",
		SuccessURL: "https://app.example/unlock?artifactId=art-1&session_id=" + SessionIDPlaceholder,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !strings.HasPrefix(sess.ID, "cs_stub_") {
		t.Errorf("ID = %q", sess.ID)
	}
	if !strings.HasSuffix(sess.RedirectURL, "session_id="+sess.ID) {
		t.Errorf("RedirectURL = %q", sess.RedirectURL)
	}
}
