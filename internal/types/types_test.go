package types

import (
	"errors"
	"testing"
	"time"
)

func TestSessionStatus_TransitionGraph(t *testing.T) {
	terminal := []SessionStatus{StatusCompleted, StatusEscalated, StatusAbandoned}

	for _, next := range append([]SessionStatus{StatusActive}, terminal...) {
		if !StatusActive.CanTransitionTo(next) {
			t.Errorf("active -> %s should be allowed", next)
		}
	}
	for _, from := range terminal {
		for _, next := range []SessionStatus{StatusActive, StatusCompleted, StatusEscalated, StatusAbandoned} {
			if from.CanTransitionTo(next) {
				t.Errorf("%s -> %s should be rejected", from, next)
			}
		}
	}
	if StatusActive.CanTransitionTo("archived") {
		t.Error("transition to unknown status should be rejected")
	}
}

func TestNewUserID_CanonicalizesUUIDs(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"0B71E2A0-9B1F-4F4E-8B57-6D2F2A62A111", "0b71e2a0-9b1f-4f4e-8b57-6d2f2a62a111"},
		{"  0b71e2a0-9b1f-4f4e-8b57-6d2f2a62a111  ", "0b71e2a0-9b1f-4f4e-8b57-6d2f2a62a111"},
		{"legacy-user-42", "legacy-user-42"},
		{"  opaque  ", "opaque"},
	}
	for _, tc := range cases {
		if got := NewUserID(tc.raw).String(); got != tc.want {
			t.Errorf("NewUserID(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestDocumentType_Priority(t *testing.T) {
	order := []DocumentType{DocTroubleshootingGuide, DocProcedure, DocManual, DocFAQ, DocExpertInput}
	for i := 1; i < len(order); i++ {
		if order[i-1].TypePriority() <= order[i].TypePriority() {
			t.Errorf("%s should outrank %s", order[i-1], order[i])
		}
	}
	if DocumentType("novel").TypePriority() != 0 {
		t.Error("unknown document type should rank 0")
	}
}

func TestTicketStatus_IsOpen(t *testing.T) {
	if !TicketOpen.IsOpen() || !TicketAssigned.IsOpen() {
		t.Error("open and assigned tickets block re-escalation")
	}
	if TicketResolved.IsOpen() || TicketClosed.IsOpen() {
		t.Error("resolved and closed tickets should not count as open")
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(-time.Second)}
	if !s.Expired(now) {
		t.Error("past expires_at should report expired")
	}
	s.ExpiresAt = now.Add(time.Hour)
	if s.Expired(now) {
		t.Error("future expires_at should not report expired")
	}
}

func TestErrorWrappers(t *testing.T) {
	if !errors.Is(NotFoundf("session %s", "abc"), ErrNotFound) {
		t.Error("NotFoundf should wrap ErrNotFound")
	}
	if !errors.Is(Conflictf("session %s escalated", "abc"), ErrConflict) {
		t.Error("Conflictf should wrap ErrConflict")
	}
	if !errors.Is(Validationf("bad reason"), ErrValidation) {
		t.Error("Validationf should wrap ErrValidation")
	}
}
