// Package chat orders user and assistant message turns over the gateway.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/logging"
	"github.com/verdantlabs/canopy/pkg/models"
	"github.com/verdantlabs/canopy/pkg/protocol"
)

// Typed error texts a settled placeholder can carry. The gateway taxonomy
// picks which one the user sees.
const (
	MsgInitializing = "The assistant is still initializing. Please try again in a moment."
	MsgAuthExpired  = "Authentication expired. Please sign in again."
	MsgConnectivity = "Could not reach the assistant. Please check your connection and try again."
)

// Session holds the chat transcript and the at-most-one selected file used
// to scope queries. Messages are appended, settled in place, and never
// deleted except by Reset.
type Session struct {
	gateway *gateway.Gateway

	mu       sync.Mutex
	messages []*models.ChatMessage
	selected *models.FolderNode
}

// NewSession creates a chat session.
func NewSession(g *gateway.Gateway) *Session {
	return &Session{gateway: g}
}

// Send appends the user message and a pending assistant placeholder
// synchronously, then resolves the placeholder in the background. It
// returns the placeholder id and a channel closed once the placeholder has
// settled. Multiple sends may be in flight at once; each owns exactly one
// placeholder.
func (s *Session) Send(ctx context.Context, text, collection string) (string, <-chan struct{}) {
	now := time.Now()
	userMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Text:      text,
		Timestamp: now,
	}
	placeholder := &models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Timestamp: now,
		Pending:   true,
	}

	s.mu.Lock()
	s.messages = append(s.messages, userMsg, placeholder)
	var fileID string
	if s.selected != nil {
		fileID = s.selected.ID
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := s.gateway.Chat(ctx, protocol.ChatRequest{
			Message:    text,
			Collection: collection,
			FileID:     fileID,
		})
		if err != nil {
			s.settleError(placeholder.ID, err)
			return
		}
		s.settle(placeholder.ID, resp)
	}()

	return placeholder.ID, done
}

// settle resolves a pending placeholder to its final answer. File-scoped
// answers get an analysis banner naming the analyzed file.
func (s *Session) settle(id string, resp protocol.ChatResponse) {
	text := resp.Answer
	if resp.QueryType == protocol.QueryTypeWorkspace && resp.FileAnalyzed != "" {
		text = "Analyzed file: " + resp.FileAnalyzed + "\n\n" + text
	}

	s.mutate(id, func(m *models.ChatMessage) {
		m.Text = text
		m.Documents = resp.Documents
		m.Pending = false
	})
}

// settleError resolves a pending placeholder to a typed error message.
func (s *Session) settleError(id string, err error) {
	var text string
	switch {
	case errors.Is(err, gateway.ErrNotReady):
		text = MsgInitializing
	case errors.Is(err, gateway.ErrAuthExpired):
		text = MsgAuthExpired
	default:
		if ae, ok := gateway.AsAPIError(err); ok {
			text = ae.Message
		} else {
			text = MsgConnectivity
		}
	}

	logging.Debug("chat turn failed", zap.Error(err))
	s.mutate(id, func(m *models.ChatMessage) {
		m.Text = text
		m.Pending = false
		m.Errored = true
	})
}

// mutate applies fn to the message with the given id while it is still
// pending. Settled messages are terminal; late arrivals are dropped.
func (s *Session) mutate(id string, fn func(*models.ChatMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id && m.Pending {
			fn(m)
			return
		}
	}
}

// Messages returns a snapshot of the transcript.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// SelectFile scopes the next queries to one file. Only an explicit
// ClearSelection removes the scope.
func (s *Session) SelectFile(node *models.FolderNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = node
}

// ClearSelection removes the file scope.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
}

// Selected returns the currently selected file, if any.
func (s *Session) Selected() (*models.FolderNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != nil
}

// Reset discards the transcript and selection, as on session restart.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.selected = nil
}
