package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatkeep/internal/models"
	"chatkeep/internal/worker"
)

const saveTimeout = 10 * time.Second

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// Chat runs one turn: it resolves or creates the conversation, asks the
// completer for a reply and appends the user message and the reply together.
// Only the current prompt is sent to the model.
func (s *Service) Chat(ctx context.Context, user *models.User, prompt, conversationID string) (*ChatResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, invalid("prompt cannot be empty")
	}
	conversationID = strings.TrimSpace(conversationID)

	if conversationID == "" {
		id, err := s.store.CreateConversation(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("start conversation: %w", err)
		}
		conversationID = id
	} else if _, err := s.store.GetConversation(ctx, conversationID, user.ID); err != nil {
		return nil, err
	}

	userMsg := models.NewMessage(models.SenderUser, prompt, s.now())
	reply := s.completer.Complete(worker.WithUser(ctx, user.ID), prompt)
	assistantMsg := models.NewMessage(models.SenderAssistant, reply, s.now())

	// The turn is stored even if the caller went away during the completion.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.store.AppendMessages(saveCtx, conversationID, user.ID, userMsg, assistantMsg); err != nil {
		return nil, fmt.Errorf("save chat turn: %w", err)
	}
	s.logger.Debug("chat turn stored", "user_id", user.ID, "conversation_id", conversationID)
	return &ChatResult{Response: reply, ConversationID: conversationID}, nil
}

// ListConversations returns summaries of the user's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, user *models.User) ([]models.ConversationSummary, error) {
	summaries, err := s.store.ListConversations(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return summaries, nil
}

// GetConversation returns the full message history of one of the user's conversations.
func (s *Service) GetConversation(ctx context.Context, user *models.User, conversationID string) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID, user.ID)
}

// DeleteConversation removes one of the user's conversations.
func (s *Service) DeleteConversation(ctx context.Context, user *models.User, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, conversationID, user.ID); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", "user_id", user.ID, "conversation_id", conversationID)
	return nil
}
