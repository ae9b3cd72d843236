// Package agent drives tool-augmented conversational turns between a
// caller's message history, a language-model provider, and the tool
// registry.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sodown4thecause/CRM/internal/llm"
	"github.com/sodown4thecause/CRM/internal/tools"
)

// DefaultSystemPrompt is the assistant persona sent with every turn.
const DefaultSystemPrompt = `You are a helpful CRM assistant. You help users manage their contacts and leads through natural conversation.

You have tools to search, list, create, update, and delete contacts, to create leads, and to report statistics. Use them whenever the user asks about CRM data; never invent contact details. When a tool reports an error, explain the problem to the user in plain language and suggest what to try next. Keep responses concise and friendly.`

// DefaultMaxRounds bounds how many tool-call cycles one turn may take
// before the loop gives up.
const DefaultMaxRounds = 8

// DefaultTurnTimeout is the wall-clock budget for one complete turn,
// including every provider round trip and tool execution.
const DefaultTurnTimeout = 30 * time.Second

// Config assembles a Loop.
type Config struct {
	Client   llm.Client
	Registry *tools.Registry
	Model    string

	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string

	// MaxRounds overrides DefaultMaxRounds when positive.
	MaxRounds int

	// TurnTimeout overrides DefaultTurnTimeout when positive.
	TurnTimeout time.Duration

	Logger *slog.Logger
}

// Loop orchestrates tool-augmented turns. It holds no per-turn state,
// so a single Loop serves concurrent requests.
type Loop struct {
	client       llm.Client
	registry     *tools.Registry
	model        string
	systemPrompt string
	maxRounds    int
	turnTimeout  time.Duration
	logger       *slog.Logger
}

// Result summarizes a completed turn.
type Result struct {
	// Content is the final assistant text.
	Content string

	// Rounds counts provider round trips, including the final one.
	Rounds int

	// ToolCalls counts tool executions across all rounds.
	ToolCalls int

	InputTokens  int
	OutputTokens int
}

// New creates a Loop from the config, applying defaults.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	turnTimeout := cfg.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}

	return &Loop{
		client:       cfg.Client,
		registry:     cfg.Registry,
		model:        cfg.Model,
		systemPrompt: systemPrompt,
		maxRounds:    maxRounds,
		turnTimeout:  turnTimeout,
		logger:       logger,
	}
}

// Run drives one turn. The history is the caller's ordered messages;
// a system message is prepended unless the history already carries one.
// Text fragments and tool lifecycle events stream to callback as they
// happen. Run returns once the provider produces a final text response
// with no further tool requests, or fails on provider transport errors
// and on exhausting the round or time budget.
func (l *Loop) Run(ctx context.Context, history []llm.Message, callback llm.StreamCallback) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.turnTimeout)
	defer cancel()

	messages := l.prepareMessages(history)
	defs := l.registry.List()
	result := &Result{}

	for round := 1; ; round++ {
		if round > l.maxRounds {
			return nil, fmt.Errorf("turn exceeded %d tool rounds", l.maxRounds)
		}
		result.Rounds = round

		resp, err := l.client.ChatStream(ctx, l.model, messages, defs, callback)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("turn aborted: %w", ctx.Err())
			}
			return nil, fmt.Errorf("provider request failed: %w", err)
		}

		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		if len(resp.Message.ToolCalls) == 0 {
			result.Content = resp.Message.Content
			if callback != nil {
				callback(llm.StreamEvent{Kind: llm.KindDone, Response: resp})
			}
			l.logger.Debug("turn complete",
				"rounds", result.Rounds,
				"tool_calls", result.ToolCalls,
				"content_len", len(result.Content),
			)
			return result, nil
		}

		l.logger.Debug("provider requested tools",
			"round", round,
			"count", len(resp.Message.ToolCalls),
		)

		toolResults, err := l.executeBatch(ctx, resp.Message.ToolCalls, callback)
		if err != nil {
			return nil, err
		}
		result.ToolCalls += len(resp.Message.ToolCalls)

		messages = append(messages, resp.Message)
		messages = append(messages, toolResults...)
	}
}

// prepareMessages prepends the system prompt unless the history
// already supplies one.
func (l *Loop) prepareMessages(history []llm.Message) []llm.Message {
	for _, msg := range history {
		if msg.Role == "system" {
			return history
		}
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: l.systemPrompt})
	return append(messages, history...)
}

// executeBatch runs all tool calls from one provider response
// concurrently. Calls within a batch are independent, so ordering
// between them is unconstrained; results are correlated back to their
// call IDs before resubmission.
func (l *Loop) executeBatch(ctx context.Context, calls []llm.ToolCall, callback llm.StreamCallback) ([]llm.Message, error) {
	// Assign IDs up front so correlation never depends on the provider
	// having supplied one.
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "toolu_" + uuid.NewString()
		}
	}

	if callback != nil {
		for i := range calls {
			callback(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &calls[i]})
		}
	}

	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			args, err := json.Marshal(call.Function.Arguments)
			if err != nil {
				args = []byte("{}")
			}

			start := time.Now()
			results[i] = l.registry.Execute(gctx, call.Function.Name, args)
			l.logger.Debug("tool executed",
				"name", call.Function.Name,
				"id", call.ID,
				"duration", time.Since(start),
			)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("turn aborted: %w", err)
	}

	messages := make([]llm.Message, 0, len(calls))
	for i, call := range calls {
		if callback != nil {
			callback(llm.StreamEvent{
				Kind:       llm.KindToolCallDone,
				ToolName:   call.Function.Name,
				ToolResult: results[i],
			})
		}
		messages = append(messages, llm.Message{
			Role:       "tool",
			Content:    results[i],
			ToolCallID: call.ID,
		})
	}
	return messages, nil
}
