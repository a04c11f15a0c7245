package chat

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/harbormind/harbormind/internal/models"
)

const historyEncoding = "cl100k_base"

// tokenCounter measures message sizes for history trimming. When the BPE
// encoding cannot be loaded it falls back to a bytes/4 estimate.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter(logger *zap.Logger) *tokenCounter {
	enc, err := tiktoken.GetEncoding(historyEncoding)
	if err != nil {
		logger.Warn("token encoding unavailable, using length estimate", zap.Error(err))
		return &tokenCounter{}
	}
	return &tokenCounter{enc: enc}
}

func (c *tokenCounter) Count(text string) int {
	if c.enc == nil {
		return len(text)/4 + 1
	}
	return len(c.enc.Encode(text, nil, nil))
}

// LoadHistory returns the chat's active messages as ordered agent turns,
// oldest first. Roles map one-to-one (user to human, assistant to AI);
// anything else is skipped. The sequence is recomputed on every call.
func (s *Service) LoadHistory(chatUID string) ([]llms.ChatMessage, error) {
	messages, err := s.db.ListMessages(chatUID)
	if err != nil {
		return nil, err
	}

	history := make([]llms.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			history = append(history, llms.HumanChatMessage{Content: msg.Text})
		case models.RoleAssistant:
			history = append(history, llms.AIChatMessage{Content: msg.Text})
		default:
			s.logger.Debug("skipping message with unrecognized role",
				zap.String("uid", msg.UID), zap.String("role", string(msg.Role)))
		}
	}
	return trimToBudget(history, s.tokens, s.tokenBudget), nil
}

// trimToBudget drops the oldest turns until the remainder fits the token
// budget. The newest turn is always kept. A budget of zero disables
// trimming.
func trimToBudget(history []llms.ChatMessage, counter *tokenCounter, budget int) []llms.ChatMessage {
	if budget <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += counter.Count(history[i].GetContent())
		if total > budget && start < len(history) {
			break
		}
		start = i
	}
	return history[start:]
}
