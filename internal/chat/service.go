package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/pkg/models"
)

// TurnResult is what one chat turn produced. Completed false means the model
// called tools this turn and the caller should invoke Continue to let it see
// the results.
type TurnResult struct {
	SessionID string
	Content   string
	Completed bool
	ToolCalls []models.ToolCall
}

// Service runs chat sessions through the conversation loop.
type Service struct {
	loop     *engine.ConversationLoop
	provider engine.Provider
	model    string
	sessions SessionStore
	logger   *slog.Logger
}

// NewService creates a chat service.
func NewService(loop *engine.ConversationLoop, provider engine.Provider, model string, sessions SessionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		loop:     loop,
		provider: provider,
		model:    model,
		sessions: sessions,
		logger:   logger,
	}
}

// NewSession creates an empty session.
func (s *Service) NewSession(ctx context.Context, title string) (*Session, error) {
	session := &Session{Title: title}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Send appends a user message to the session and runs one turn.
func (s *Service) Send(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Messages = append(session.Messages, models.UserMessage(text))
	return s.runTurn(ctx, session)
}

// Continue runs another turn without new user input, after a turn that
// executed tools. Callers poll Continue until Completed is true.
func (s *Service) Continue(ctx context.Context, sessionID string) (*TurnResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(session.Messages) == 0 {
		return nil, fmt.Errorf("session %s has no messages to continue", sessionID)
	}
	return s.runTurn(ctx, session)
}

func (s *Service) runTurn(ctx context.Context, session *Session) (*TurnResult, error) {
	result := s.loop.Execute(ctx, &engine.ExecuteRequest{
		Provider:   s.provider,
		Model:      s.model,
		Messages:   session.Messages,
		Agent:      models.ChatContext(),
		SingleTurn: true,
	})
	if result.Err != nil {
		return nil, fmt.Errorf("chat turn: %w", result.Err)
	}

	session.Messages = result.Messages
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &TurnResult{
		SessionID: session.ID,
		Content:   result.FinalContent,
		Completed: result.Completed,
		ToolCalls: result.LastToolCalls,
	}, nil
}
