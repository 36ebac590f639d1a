package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/mentat-ai/mentat/pkg/llm"
	"github.com/mentat-ai/mentat/pkg/memory"
	"github.com/mentat-ai/mentat/pkg/skills"
)

// Runner runs the agent loop over a history. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, history []llm.Message, sc skills.Context) (string, error)
}

// CleanupFunc removes session-owned data when a session is deleted.
// (*retrieval.Pipeline).DeleteSession has this shape.
type CleanupFunc func(ctx context.Context, accountID, sessionID string) error

// Sessions serializes turns per session: two Chat calls on the same session
// never interleave, while different sessions run in parallel.
type Sessions struct {
	runner       Runner
	store        memory.ConversationStore
	historyLimit int
	cleanups     []CleanupFunc
	logger       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithHistoryLimit sets how many stored messages are replayed per turn.
func WithHistoryLimit(n int) SessionOption {
	return func(s *Sessions) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithCleanup registers functions run by Delete after the transcript is
// cleared.
func WithCleanup(fns ...CleanupFunc) SessionOption {
	return func(s *Sessions) {
		s.cleanups = append(s.cleanups, fns...)
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Sessions) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSessions creates a session manager over runner and store.
func NewSessions(runner Runner, store memory.ConversationStore, opts ...SessionOption) *Sessions {
	s := &Sessions{
		runner:       runner,
		store:        store,
		historyLimit: memory.DefaultHistoryLimit,
		logger:       slog.Default(),
		locks:        make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat appends the user message, replays the most recent history through
// the runner and stores the answer. sc.SessionID is set to sessionID.
func (s *Sessions) Chat(ctx context.Context, sessionID, userText string, sc skills.Context) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", NewInvalidInputError("session id is required")
	}
	if strings.TrimSpace(userText) == "" {
		return "", NewInvalidInputError("message is empty")
	}
	release := s.acquire(sessionID)
	defer release()

	sc.SessionID = sessionID
	if err := s.store.AppendMessage(ctx, sessionID, memory.ConversationMessage{
		Role:    string(llm.RoleUser),
		Content: userText,
	}); err != nil {
		return "", WrapMemoryError(err, "append_user_message")
	}

	stored, err := s.store.GetRecentMessages(ctx, sessionID, s.historyLimit)
	if err != nil {
		return "", WrapMemoryError(err, "load_history")
	}
	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	answer, err := s.runner.Run(ctx, history, sc)
	if err != nil {
		return "", err
	}

	if err := s.store.AppendMessage(ctx, sessionID, memory.ConversationMessage{
		Role:    string(llm.RoleAssistant),
		Content: answer,
	}); err != nil {
		return answer, WrapMemoryError(err, "append_assistant_message")
	}
	return answer, nil
}

// History returns the stored transcript of a session, oldest first.
func (s *Sessions) History(ctx context.Context, sessionID string) ([]memory.ConversationMessage, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, WrapMemoryError(err, "get_messages")
	}
	return msgs, nil
}

// Delete clears the session transcript and runs every cleanup, such as
// removing session-scoped knowledge base chunks. All cleanups run even when
// one fails; the failures are joined.
func (s *Sessions) Delete(ctx context.Context, accountID, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return NewInvalidInputError("session id is required")
	}
	release := s.acquire(sessionID)
	defer release()

	var errs []error
	if err := s.store.Clear(ctx, sessionID); err != nil {
		errs = append(errs, WrapMemoryError(err, "clear_session"))
	}
	for _, fn := range s.cleanups {
		if err := fn(ctx, accountID, sessionID); err != nil {
			errs = append(errs, WrapRetrievalError(err, "delete_session"))
		}
	}
	if len(errs) > 0 {
		err := stderrors.Join(errs...)
		s.logger.ErrorContext(ctx, "agent.session.delete.error",
			slog.String("account_id", accountID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.InfoContext(ctx, "agent.session.deleted",
		slog.String("account_id", accountID),
		slog.String("session_id", sessionID),
	)
	return nil
}

func (s *Sessions) acquire(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
