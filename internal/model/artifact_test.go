package model

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewArtifact(t *testing.T) {
	content := strings.Repeat("Dear hiring manager, ", 20)
	a := NewArtifact("a-1", "owner-1", "resume", "job", ToneProfessional, content)

	if a.ID != "a-1" {
		t.Errorf("ID = %q, want %q", a.ID, "a-1")
	}
	if a.PaymentState != PaymentUnpaid {
		t.Errorf("PaymentState = %q, want %q", a.PaymentState, PaymentUnpaid)
	}
	if a.FullContent != content {
		t.Error("FullContent should hold the generated letter verbatim")
	}
	if a.GatewaySessionID != nil || a.GatewayPaymentID != nil {
		t.Error("gateway ids should be nil for new artifacts")
	}
	if a.CreatedAt == "" || a.CreatedAt != a.UpdatedAt {
		t.Error("CreatedAt and UpdatedAt should be set and equal for new artifacts")
	}
	if a.Unlocked() {
		t.Error("new artifact must not be unlocked")
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"short ascii", strings.Repeat("a", 10)},
		{"exact cap", strings.Repeat("b", 2*PreviewRunes)},
		{"long", strings.Repeat("word ", 1000)},
		{"multibyte", strings.Repeat("履歴書と職務経歴", 40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Preview(tt.content)
			if len(p) >= len(tt.content) {
				t.Errorf("preview len %d not shorter than content len %d", len(p), len(tt.content))
			}
			if utf8.RuneCountInString(p) > PreviewRunes+len(TruncationMarker) {
				t.Errorf("preview has %d runes, cap is %d", utf8.RuneCountInString(p), PreviewRunes)
			}
			if !strings.HasSuffix(p, TruncationMarker) {
				t.Errorf("preview %q missing truncation marker", p)
			}
			if !strings.HasPrefix(tt.content, strings.TrimSuffix(p, TruncationMarker)) {
				t.Error("preview must be a prefix of the content")
			}
			if Preview(tt.content) != p {
				t.Error("preview must be deterministic")
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to PaymentState
		want     bool
	}{
		{PaymentUnpaid, PaymentPaid, true},
		{PaymentPaid, PaymentRefunded, true},
		{PaymentRefunded, PaymentPaid, true},

		{PaymentUnpaid, PaymentRefunded, false},
		{PaymentPaid, PaymentPaid, false},
		{PaymentPaid, PaymentUnpaid, false},
		{PaymentRefunded, PaymentUnpaid, false},
		{PaymentState("BOGUS"), PaymentPaid, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidTone(t *testing.T) {
	for _, tone := range []string{ToneProfessional, ToneFriendly, ToneEnthusiastic, ToneConcise} {
		if !ValidTone(tone) {
			t.Errorf("ValidTone(%q) = false", tone)
		}
	}
	if ValidTone("sarcastic") {
		t.Error("ValidTone(sarcastic) = true")
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("disk full")
	wrapped := errors.Join(errors.New("context"), InternalError("insert artifact", base))

	if KindOf(wrapped) != KindInternal {
		t.Errorf("KindOf(wrapped) = %q", KindOf(wrapped))
	}
	if !errors.Is(wrapped, base) {
		t.Error("Unwrap should expose the cause")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("unclassified errors default to INTERNAL")
	}
	if !IsKind(ValidationError("bad"), KindValidation) {
		t.Error("IsKind(validation) = false")
	}
	if IsKind(nil, KindInternal) {
		t.Error("IsKind(nil) = true")
	}
}

func TestAuthErrorMessageIsGeneric(t *testing.T) {
	err := AuthError(errors.New("session mismatch"))
	if err.Message != "access denied" {
		t.Errorf("Message = %q, want generic message", err.Message)
	}
}
