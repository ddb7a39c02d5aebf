// Package types provides shared domain definitions used across fixwise packages.
// This package exists to break import cycles between store, session, retrieval,
// and escalation. Types in this package are foundational data structures with
// no complex dependencies.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SESSION TYPES
// =============================================================================

// SessionStatus is the lifecycle state of a troubleshooting session.
// The status graph is closed: active may move to any state (including
// staying active), the other three are terminal.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusEscalated SessionStatus = "escalated"
	StatusAbandoned SessionStatus = "abandoned"
)

// IsValid reports whether s is one of the known statuses.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusEscalated, StatusAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether a session in this status can never change again.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusEscalated || s == StatusAbandoned
}

// CanTransitionTo reports whether the status graph permits s -> next.
// active -> active is the only self-loop; terminal states reject everything.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return true
}

// SessionToken is the opaque bearer credential for session continuation.
// Tokens are generated from crypto/rand and are never derived from user data.
type SessionToken string

// UserID is a canonicalized user identifier.
// The wrapper exists so an identifier is normalized exactly once, at the
// boundary, and every later comparison is string-equal on the canonical form.
type UserID string

// NewUserID canonicalizes a raw identifier. UUIDs are normalized to their
// lowercase hyphenated form; anything else is trimmed and kept opaque.
func NewUserID(raw string) UserID {
	raw = strings.TrimSpace(raw)
	if u, err := uuid.Parse(raw); err == nil {
		return UserID(u.String())
	}
	return UserID(raw)
}

// String returns the canonical form.
func (u UserID) String() string { return string(u) }

// Session is one continuous troubleshooting conversation.
type Session struct {
	Token          SessionToken  `json:"token"`
	UserID         UserID        `json:"user_id"`
	MachineID      string        `json:"machine_id,omitempty"`
	Status         SessionStatus `json:"status"`
	IP             string        `json:"ip,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	MessageIDs     []string      `json:"message_ids,omitempty"`

	// Version is the optimistic-concurrency counter. Every successful write
	// increments it; conditional updates compare against it so a touch racing
	// a terminate can never resurrect a terminated session.
	Version int64 `json:"version"`
}

// Expired reports whether the session's TTL has passed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// MessageSender identifies who produced a message.
type MessageSender string

const (
	SenderUser      MessageSender = "user"
	SenderAssistant MessageSender = "assistant"
	SenderSystem    MessageSender = "system"
)

// IsValid reports whether the sender is known.
func (m MessageSender) IsValid() bool {
	switch m {
	case SenderUser, SenderAssistant, SenderSystem:
		return true
	}
	return false
}

// MessageType classifies the message payload.
type MessageType string

const (
	MessageText           MessageType = "text"
	MessageVoice          MessageType = "voice"
	MessageImage          MessageType = "image"
	MessageDiagnosticStep MessageType = "diagnostic_step"
	MessageEscalation     MessageType = "escalation"
)

// IsValid reports whether the message type is known.
func (m MessageType) IsValid() bool {
	switch m {
	case MessageText, MessageVoice, MessageImage, MessageDiagnosticStep, MessageEscalation:
		return true
	}
	return false
}

// Message is one turn entry in a session. Messages are immutable once written
// and owned exclusively by their session.
type Message struct {
	ID           string        `json:"id"`
	SessionToken SessionToken  `json:"session_token"`
	Sender       MessageSender `json:"sender"`
	Type         MessageType   `json:"type"`
	Content      string        `json:"content"`
	// IsEncrypted marks content that matched the sensitive-pattern set at
	// write time. Audit details for such messages carry only the message ID.
	IsEncrypted bool      `json:"is_encrypted"`
	CreatedAt   time.Time `json:"created_at"`
}

// =============================================================================
// KNOWLEDGE TYPES
// =============================================================================

// DocumentType classifies a knowledge document. The ordering of
// TypePriority drives tie-breaking in retrieval ranking.
type DocumentType string

const (
	DocTroubleshootingGuide DocumentType = "troubleshooting_guide"
	DocProcedure            DocumentType = "procedure"
	DocManual               DocumentType = "manual"
	DocFAQ                  DocumentType = "faq"
	DocExpertInput          DocumentType = "expert_input"
)

// IsValid reports whether the document type is known.
func (d DocumentType) IsValid() bool {
	switch d {
	case DocTroubleshootingGuide, DocProcedure, DocManual, DocFAQ, DocExpertInput:
		return true
	}
	return false
}

// TypePriority returns the tie-break rank for a document type, higher wins.
// troubleshooting_guide > procedure > manual > faq > expert_input.
func (d DocumentType) TypePriority() int {
	switch d {
	case DocTroubleshootingGuide:
		return 5
	case DocProcedure:
		return 4
	case DocManual:
		return 3
	case DocFAQ:
		return 2
	case DocExpertInput:
		return 1
	}
	return 0
}

// KnowledgeDocument is a pre-chunked knowledge source. Documents are created
// by the ingestion collaborator and are read-only at query time.
type KnowledgeDocument struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Type        DocumentType `json:"type"`
	Language    string       `json:"language"`
	Version     int          `json:"version"`
	MachineTags []string     `json:"machine_tags,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	ChunkCount  int          `json:"chunk_count"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Chunk is a contiguous slice of a knowledge document, the unit of retrieval.
// Ordinals are contiguous and unique within a document; a chunk is
// cascade-deleted with its document and never orphaned.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Content    string `json:"content"`
}

// =============================================================================
// ESCALATION TYPES
// =============================================================================

// EscalationReason is why a session was handed to a human.
type EscalationReason string

const (
	ReasonUserRequest    EscalationReason = "user_request"
	ReasonLowConfidence  EscalationReason = "low_confidence"
	ReasonRepeatedFail   EscalationReason = "repeated_failure"
	ReasonSafety         EscalationReason = "safety"
)

// IsValid reports whether the reason is known.
func (r EscalationReason) IsValid() bool {
	switch r {
	case ReasonUserRequest, ReasonLowConfidence, ReasonRepeatedFail, ReasonSafety:
		return true
	}
	return false
}

// TicketPriority is the routing priority of an escalation ticket.
type TicketPriority string

const (
	PriorityLow      TicketPriority = "low"
	PriorityMedium   TicketPriority = "medium"
	PriorityHigh     TicketPriority = "high"
	PriorityCritical TicketPriority = "critical"
)

// IsValid reports whether the priority is known.
func (p TicketPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TicketStatus is the lifecycle state of an escalation ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketAssigned TicketStatus = "assigned"
	TicketResolved TicketStatus = "resolved"
	TicketClosed   TicketStatus = "closed"
)

// IsValid reports whether the ticket status is known.
func (t TicketStatus) IsValid() bool {
	switch t {
	case TicketOpen, TicketAssigned, TicketResolved, TicketClosed:
		return true
	}
	return false
}

// IsOpen reports whether the ticket still blocks a second escalation.
func (t TicketStatus) IsOpen() bool {
	return t == TicketOpen || t == TicketAssigned
}

// Ticket is a record requesting human takeover of a session.
type Ticket struct {
	ID            string           `json:"id"`
	SessionToken  SessionToken     `json:"session_token"`
	Number        string           `json:"number"`
	Reason        EscalationReason `json:"reason"`
	Priority      TicketPriority   `json:"priority"`
	Status        TicketStatus     `json:"status"`
	Notes         string           `json:"notes,omitempty"`
	ExpertContact string           `json:"expert_contact,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// =============================================================================
// AUDIT & COMPLIANCE TYPES
// =============================================================================

// AuditSubject is the kind of record an audit entry refers to.
type AuditSubject string

const (
	SubjectSession AuditSubject = "session"
	SubjectMessage AuditSubject = "message"
	SubjectTicket  AuditSubject = "ticket"
	SubjectConsent AuditSubject = "consent"
)

// IsValid reports whether the subject kind is known.
func (a AuditSubject) IsValid() bool {
	switch a {
	case SubjectSession, SubjectMessage, SubjectTicket, SubjectConsent:
		return true
	}
	return false
}

// AuditEntry is an immutable record of one mutation. Entries are append-only;
// ordering within one session's trail is given by SessionSeq, not wall-clock
// time, because clocks may skew across workers.
type AuditEntry struct {
	ID        string       `json:"id"`
	Subject   AuditSubject `json:"subject"`
	SubjectID string       `json:"subject_id"`
	Action    string       `json:"action"`
	Actor     string       `json:"actor"`

	// SessionToken correlates the entry to a session trail; empty for
	// entries with no owning session (e.g. consent).
	SessionToken SessionToken `json:"session_token,omitempty"`
	SessionSeq   int64        `json:"session_seq,omitempty"`

	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ConsentRecord records a user's acceptance of a data-handling policy version.
type ConsentRecord struct {
	UserID        UserID    `json:"user_id"`
	PolicyVersion string    `json:"policy_version"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// RetentionMarker carries the computed purge deadline for a closed session.
// RetentionExpiresAt is never zero once a session reaches a terminal state.
type RetentionMarker struct {
	SessionToken       SessionToken `json:"session_token"`
	RetentionExpiresAt time.Time    `json:"retention_expires_at"`
	LegalHold          bool         `json:"legal_hold"`
}
