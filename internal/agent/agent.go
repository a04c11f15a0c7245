// Package agent wraps the tool-augmented language model behind a small
// Runner interface so the orchestrator never touches langchaingo directly
// and tests can swap in fakes.
package agent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
	lctools "github.com/tmc/langchaingo/tools"
)

const (
	defaultMaxIterations = 5

	systemPrompt = "You are a helpful assistant with access to one tool: 'query_historical_data_system'. " +
		"Always respond in the user's language. " +
		"ONLY use the tool if the user's query is DIRECTLY and SPECIFICALLY about historical maritime data " +
		"(ships, captains, ports, dates, voyages, analysis, or visualization based on these data). " +
		"For anything else (greetings, general questions, chit-chat), answer directly without using any tool. " +
		"The tool returns JSON with 'text_response', 'image_path', and 'error'. If error is not null, inform " +
		"the user. If image_path is present, say a graphic was generated. Otherwise use text_response. " +
		"Keep responses concise and user-friendly."
)

// Result is one agent turn: the final text plus the ordered trace of tool
// invocations made along the way.
type Result struct {
	Output string
	Steps  []schema.AgentStep
}

// Runner executes one agent turn against prior history and a fresh user
// input. Implementations are safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, history []llms.ChatMessage, input string) (*Result, error)
}

// LangChain runs turns through a langchaingo conversational agent. A fresh
// executor with per-call memory is built for every turn, so no conversation
// state lives in the process between requests.
type LangChain struct {
	llm           *openai.LLM
	tools         []lctools.Tool
	maxIterations int
}

type Config struct {
	BaseURL       string
	Token         string
	Model         string
	MaxIterations int
}

func NewLangChain(cfg Config, agentTools ...lctools.Tool) (*LangChain, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "initialize language model")
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &LangChain{llm: llm, tools: agentTools, maxIterations: maxIterations}, nil
}

func (l *LangChain) Run(ctx context.Context, history []llms.ChatMessage, input string) (*Result, error) {
	buf := memory.NewConversationBuffer(
		memory.WithChatHistory(memory.NewChatMessageHistory(memory.WithPreviousMessages(history))),
	)

	conversational := agents.NewConversationalAgent(l.llm, l.tools,
		agents.WithPromptPrefix(systemPrompt))
	executor := agents.NewExecutor(conversational,
		agents.WithMemory(buf),
		agents.WithMaxIterations(l.maxIterations),
		agents.WithReturnIntermediateSteps(),
	)

	values, err := chains.Call(ctx, executor, map[string]any{"input": input})
	if err != nil {
		return nil, errors.Wrap(err, "agent execution")
	}

	result := &Result{}
	if output, ok := values["output"].(string); ok {
		result.Output = output
	}
	if steps, ok := values["intermediateSteps"].([]schema.AgentStep); ok {
		result.Steps = steps
	}
	return result, nil
}
