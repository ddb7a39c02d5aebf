// Package session drives the conversation state machine: it owns every
// transition of a troubleshooting session, appends messages, invokes
// retrieval for each user turn, and mirrors all of it into the audit ledger.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fixwise/internal/audit"
	"fixwise/internal/config"
	"fixwise/internal/escalation"
	"fixwise/internal/logging"
	"fixwise/internal/retrieval"
	"fixwise/internal/store"
	"fixwise/internal/types"
)

// =============================================================================
// MANAGER - Session lifecycle and turn handling
// =============================================================================

// clarifyingFallback is the assistant reply when retrieval comes back empty
// or degraded. An empty result set is a conversational fork, never a failure.
const clarifyingFallback = "I couldn't find a matching article for that. " +
	"Could you tell me the machine model and what you observed right before the problem?"

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	UserMessage      *types.Message
	AssistantMessage *types.Message
	Results          []retrieval.Result
}

// Manager coordinates the stores, the retrieval engine, the escalation
// workflow and the audit ledger for a session's whole lifecycle.
type Manager struct {
	store      *store.Store
	engine     *retrieval.Engine
	workflow   *escalation.Workflow
	recorder   types.Recorder
	classifier *audit.Classifier
	cfg        config.SessionConfig
	retention  config.RetentionConfig
}

// NewManager wires the state machine. A nil recorder is replaced with the
// no-op recorder.
func NewManager(st *store.Store, engine *retrieval.Engine, workflow *escalation.Workflow,
	recorder types.Recorder, classifier *audit.Classifier,
	cfg config.SessionConfig, retention config.RetentionConfig) *Manager {
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	return &Manager{
		store:      st,
		engine:     engine,
		workflow:   workflow,
		recorder:   recorder,
		classifier: classifier,
		cfg:        cfg,
		retention:  retention,
	}
}

// Start creates a session for the user and records it. The raw user id is
// normalized to its canonical form before it ever reaches storage, so lookups
// and comparisons only ever see one representation.
func (m *Manager) Start(ctx context.Context, rawUserID, machineID, ip, userAgent string) (*types.Session, error) {
	user := types.NewUserID(rawUserID)
	sess, err := m.store.CreateSession(ctx, user, machineID, ip, userAgent, m.cfg.TTL.Std())
	if err != nil {
		return nil, err
	}

	m.recorder.Record(ctx, types.AuditEvent{
		Subject:      types.SubjectSession,
		SubjectID:    store.SessionSubjectID(sess.Token),
		Action:       "created",
		Actor:        user.String(),
		SessionToken: sess.Token,
		Details:      map[string]any{"machine_id": machineID},
	})
	logging.WithSession(logging.CategorySession, string(sess.Token)).Infow("session started",
		"user", user, "machine_id", machineID)
	return sess, nil
}

// HandleMessage runs one user turn: append the user message, query the
// knowledge corpus, append the assistant reply, slide the expiry window.
// Retrieval and audit failures degrade rather than abort the turn; only
// store failures on the message path surface to the caller.
func (m *Manager) HandleMessage(ctx context.Context, token types.SessionToken, content string) (*TurnResult, error) {
	if content == "" {
		return nil, types.Validationf("message content is required")
	}

	sess, err := m.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.StatusActive {
		return nil, types.Conflictf("session is %s", sess.Status)
	}

	userMsg, err := m.appendMessage(ctx, sess, types.SenderUser, types.MessageText, content)
	if err != nil {
		return nil, err
	}

	// Retrieval bounds its own latency and returns empty on degradation.
	results, err := m.engine.Search(ctx, content, 0)
	if err != nil {
		logging.WithSession(logging.CategorySession, string(token)).Warnw("retrieval failed", "err", err)
		results = nil
	}

	replyType := types.MessageText
	reply := clarifyingFallback
	if len(results) > 0 {
		replyType = types.MessageDiagnosticStep
		reply = composeReply(results)
	}
	assistantMsg, err := m.appendMessage(ctx, sess, types.SenderAssistant, replyType, reply)
	if err != nil {
		return nil, err
	}

	if err := m.store.TouchSession(ctx, token, m.cfg.TTL.Std()); err != nil {
		// A terminate racing this turn wins; the reply still stands.
		logging.WithSession(logging.CategorySession, string(token)).Debugw("touch skipped", "err", err)
	}

	return &TurnResult{UserMessage: userMsg, AssistantMessage: assistantMsg, Results: results}, nil
}

// appendMessage persists one message, flagging sensitive content for
// encryption at write time, and mirrors it to the ledger. Flagged content is
// audited by reference only.
func (m *Manager) appendMessage(ctx context.Context, sess *types.Session, sender types.MessageSender, msgType types.MessageType, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:           uuid.NewString(),
		SessionToken: sess.Token,
		Sender:       sender,
		Type:         msgType,
		Content:      content,
		IsEncrypted:  m.classifier != nil && m.classifier.Sensitive(content),
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	details := map[string]any{"message_id": msg.ID}
	if m.classifier != nil {
		details = m.classifier.MessageDetails(msg)
	}
	m.recorder.Record(ctx, types.AuditEvent{
		Subject:      types.SubjectMessage,
		SubjectID:    msg.ID,
		Action:       "message_appended",
		Actor:        string(sender),
		SessionToken: sess.Token,
		Details:      details,
	})
	return msg, nil
}

// End completes a session at the user's request. Ending an already completed
// session is a no-op; ending one that escalated or was abandoned is a
// Conflict, reported with the current state.
func (m *Manager) End(ctx context.Context, token types.SessionToken) error {
	return m.terminate(ctx, token, types.StatusCompleted, "user_end", "user")
}

// Escalate hands the session to the escalation workflow. The workflow owns
// the escalated transition and its audit trail.
func (m *Manager) Escalate(ctx context.Context, token types.SessionToken, reason types.EscalationReason, priority types.TicketPriority, notes string) (*escalation.Result, error) {
	return m.workflow.Escalate(ctx, token, reason, priority, notes)
}

// Get returns the session for a bearer token. Expired sessions are NotFound.
func (m *Manager) Get(ctx context.Context, token types.SessionToken) (*types.Session, error) {
	return m.store.GetSession(ctx, token)
}

// ListActive returns the user's live sessions.
func (m *Manager) ListActive(ctx context.Context, rawUserID string) ([]*types.Session, error) {
	return m.store.ListActiveSessions(ctx, types.NewUserID(rawUserID))
}

// terminate applies a terminal transition and writes its audit entry exactly
// once: the store reports whether this call changed the row, and only the
// changing call records.
func (m *Manager) terminate(ctx context.Context, token types.SessionToken, status types.SessionStatus, reason, actor string) error {
	changed, err := m.store.TerminateSession(ctx, token, status, reason, m.retention.WindowFor(string(status)))
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	m.recorder.Record(ctx, types.AuditEvent{
		Subject:      types.SubjectSession,
		SubjectID:    store.SessionSubjectID(token),
		Action:       "status_" + string(status),
		Actor:        actor,
		SessionToken: token,
		Details:      map[string]any{"reason": reason},
	})
	logging.WithSession(logging.CategorySession, string(token)).Infow("session terminated",
		"status", status, "reason", reason)
	return nil
}

// composeReply cites the ranked hits in order, best first.
func composeReply(results []retrieval.Result) string {
	reply := fmt.Sprintf("From %q: %s", results[0].Document.Title, results[0].Excerpt)
	if len(results) > 1 {
		reply += fmt.Sprintf("\n\nIf that doesn't resolve it: %s", results[1].Excerpt)
	}
	return reply
}
