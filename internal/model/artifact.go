package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// PaymentState is the unlock state of an artifact.
type PaymentState string

// Payment state constants
const (
	PaymentUnpaid   PaymentState = "UNPAID"
	PaymentPaid     PaymentState = "PAID"
	PaymentRefunded PaymentState = "REFUNDED"
)

// Valid reports whether s is a known payment state.
func (s PaymentState) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
// UNPAID→PAID, PAID→REFUNDED and REFUNDED→PAID are the only legal moves.
func (s PaymentState) CanTransition(next PaymentState) bool {
	switch s {
	case PaymentUnpaid:
		return next == PaymentPaid
	case PaymentPaid:
		return next == PaymentRefunded
	case PaymentRefunded:
		return next == PaymentPaid
	}
	return false
}

// Tone constants
const (
	ToneProfessional = "professional"
	ToneFriendly     = "friendly"
	ToneEnthusiastic = "enthusiastic"
	ToneConcise      = "concise"
)

// ValidTone reports whether tone is one of the supported tone directives.
func ValidTone(tone string) bool {
	switch tone {
	case ToneProfessional, ToneFriendly, ToneEnthusiastic, ToneConcise:
		return true
	}
	return false
}

// Artifact is one generation request's persisted record, spanning draft and paid states.
// FullContent is written once at creation and never updated.
type Artifact struct {
	ID                 string       `json:"id"`
	OwnerSessionID     string       `json:"owner_session_id"`
	ResumeText         string       `json:"-"`
	JobDescriptionText string       `json:"-"`
	Tone               string       `json:"tone"`
	FullContent        string       `json:"-"`
	PreviewContent     string       `json:"preview_content"`
	PaymentState       PaymentState `json:"payment_state"`
	GatewaySessionID   *string      `json:"gateway_session_id,omitempty"`
	GatewayPaymentID   *string      `json:"gateway_payment_id,omitempty"`
	CreatedAt          string       `json:"created_at"`
	UpdatedAt          string       `json:"updated_at"`
}

// Unlocked reports whether the full content may be released.
func (a *Artifact) Unlocked() bool {
	return a.PaymentState == PaymentPaid
}

// NewArtifact creates an UNPAID artifact holding the generated letter and its preview.
func NewArtifact(id, ownerSessionID, resume, jobDescription, tone, content string) Artifact {
	now := Timestamp(time.Now())
	return Artifact{
		ID:                 id,
		OwnerSessionID:     ownerSessionID,
		ResumeText:         resume,
		JobDescriptionText: jobDescription,
		Tone:               tone,
		FullContent:        content,
		PreviewContent:     Preview(content),
		PaymentState:       PaymentUnpaid,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// PaymentPatch is the set of columns a payment transition may change.
// Nil pointers leave the stored value untouched.
type PaymentPatch struct {
	State     PaymentState
	PaymentID *string
	SessionID *string
}

const (
	// PreviewRunes caps the number of runes copied into a preview.
	PreviewRunes = 300
	// TruncationMarker is appended to every preview.
	TruncationMarker = "..."
)

// Preview derives the pre-payment excerpt of content. At most half of the
// content (and never more than PreviewRunes runes) is kept, so the result is
// always strictly shorter than any content of six runes or more.
func Preview(content string) string {
	n := utf8.RuneCountInString(content) / 2
	if n > PreviewRunes {
		n = PreviewRunes
	}
	runes := []rune(content)
	prefix := strings.TrimRight(string(runes[:n]), " \t\n")
	return prefix + TruncationMarker
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp formats t the way all records store time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
