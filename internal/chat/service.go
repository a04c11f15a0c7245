// Package chat implements the message orchestration flow: persist the user
// turn, run the tool-augmented agent against loaded history, extract any
// historical-data tool result from the trace, and persist the reply.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/harbormind/harbormind/internal/agent"
	"github.com/harbormind/harbormind/internal/db"
	"github.com/harbormind/harbormind/internal/models"
	"github.com/harbormind/harbormind/internal/tools"
)

const (
	titleMaxLen       = 50
	descriptionMaxLen = 100

	noValidResponseText = "No valid response was received from the assistant."
)

type Service struct {
	db          *db.Database
	agent       agent.Runner
	logger      *zap.Logger
	tokens      *tokenCounter
	tokenBudget int
}

// NewService wires the orchestrator. runner may be nil when agent
// initialization failed at startup; every submission then reports
// ErrAgentUnavailable until the process restarts.
func NewService(database *db.Database, runner agent.Runner, tokenBudget int, logger *zap.Logger) *Service {
	return &Service{
		db:          database,
		agent:       runner,
		logger:      logger,
		tokens:      newTokenCounter(logger),
		tokenBudget: tokenBudget,
	}
}

// SubmitUserMessage runs one full turn for an owned, active chat and returns
// the persisted assistant message. The user message is persisted before the
// agent is invoked, so it survives any downstream failure. Repeated calls
// with the same arguments create new messages each time.
func (s *Service) SubmitUserMessage(ctx context.Context, chatUID, ownerID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrap(ErrInvalidInput, "text must not be empty")
	}

	chat, err := s.db.GetOwnedChat(chatUID, ownerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	hadTitle := chat.Title != ""
	userMsg := &models.Message{
		ChatUID: chat.UID,
		Role:    models.RoleUser,
		Text:    text,
		Weight:  models.WeightNeutral,
	}
	if err := s.db.SaveMessage(userMsg); err != nil {
		return nil, err
	}
	s.logger.Info("user message saved",
		zap.String("chat", chat.UID), zap.String("message", userMsg.UID))

	if !hadTitle {
		s.maybeNameChat(chat, text)
	}

	if s.agent == nil {
		return nil, ErrAgentUnavailable
	}

	// The turn runs detached from the request context: a client disconnect
	// must not abort the in-flight provider or tool calls.
	history, current := s.prepareAgentInput(chat.UID, text)
	result, err := s.agent.Run(context.WithoutCancel(ctx), history, current)
	if err != nil {
		return nil, errors.Wrap(err, "agent execution failed")
	}

	output := result.Output
	if strings.TrimSpace(output) == "" {
		output = noValidResponseText
	}

	assistantMsg := &models.Message{
		ChatUID: chat.UID,
		Role:    models.RoleAssistant,
		Text:    output,
		Image:   s.extractImagePath(result),
		Weight:  models.WeightNeutral,
	}
	if err := s.db.SaveMessage(assistantMsg); err != nil {
		return nil, err
	}
	s.logger.Info("assistant message saved",
		zap.String("chat", chat.UID), zap.String("message", assistantMsg.UID))
	return assistantMsg, nil
}

// maybeNameChat derives the chat title and description from the first active
// message. Runs at most once per chat lifetime: the count guard only passes
// on the turn that created the first active message.
func (s *Service) maybeNameChat(chat *models.Chat, text string) {
	count, err := s.db.CountActiveMessages(chat.UID)
	if err != nil {
		s.logger.Error("failed to count chat messages", zap.Error(err), zap.String("chat", chat.UID))
		return
	}
	if count != 1 {
		return
	}

	title := truncateWithEllipsis(text, titleMaxLen)
	if title == "" {
		title = fmt.Sprintf("Chat %s", shortUID(chat.UID))
	}
	description := truncateWithEllipsis(text, descriptionMaxLen)
	if description == "" {
		description = fmt.Sprintf("Chat session %s", shortUID(chat.UID))
	}

	if err := s.db.UpdateChatInfo(chat.UID, title, description); err != nil {
		s.logger.Error("failed to set chat title", zap.Error(err), zap.String("chat", chat.UID))
		return
	}
	chat.Title = title
	chat.Description = description
	s.logger.Info("chat titled", zap.String("chat", chat.UID), zap.String("title", title))
}

// prepareAgentInput loads history and splits off the just-saved user turn so
// it is presented once, as the current input. A history load failure is not
// fatal: the agent runs with the raw text and no history.
func (s *Service) prepareAgentInput(chatUID, text string) ([]llms.ChatMessage, string) {
	history, err := s.LoadHistory(chatUID)
	if err != nil {
		s.logger.Error("failed to load chat history", zap.Error(err), zap.String("chat", chatUID))
		return nil, text
	}

	if n := len(history); n > 0 {
		last := history[n-1]
		if last.GetType() == llms.ChatMessageTypeHuman &&
			strings.TrimSpace(last.GetContent()) == strings.TrimSpace(text) {
			return history[:n-1], text
		}
	}
	return nil, text
}

// extractImagePath scans the agent trace for the first historical-data tool
// invocation and pulls the stored image path from its envelope, if any.
// Later invocations in the same trace are ignored.
func (s *Service) extractImagePath(result *agent.Result) string {
	for _, step := range result.Steps {
		if step.Action.Tool != tools.ToolName {
			continue
		}
		env, err := tools.ParseEnvelope(step.Observation)
		if err != nil {
			s.logger.Error("failed to parse tool observation", zap.Error(err))
			return ""
		}
		return env.ImagePath
	}
	return ""
}

// RecordInteraction sets the message weight from a like or dislike. Last
// write wins; no interaction history is kept.
func (s *Service) RecordInteraction(messageUID string, liked bool) error {
	msg, err := s.db.GetMessage(messageUID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !msg.Role.Valid() {
		return ErrNotSupported
	}

	weight := models.WeightDisliked
	if liked {
		weight = models.WeightLiked
	}
	if err := s.db.UpdateMessageWeight(messageUID, weight); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// truncateWithEllipsis trims text to max runes, appending "..." when
// anything was cut.
func truncateWithEllipsis(text string, max int) string {
	runes := []rune(text)
	if len(runes) > max {
		return strings.TrimSpace(string(runes[:max])) + "..."
	}
	return strings.TrimSpace(text)
}

func shortUID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}
