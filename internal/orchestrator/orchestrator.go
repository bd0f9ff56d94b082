// Package orchestrator runs the tool-calling loop between a language model
// and a tool set: the model either answers in text or requests tools, whose
// results are fed back until it answers.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/llm"
	"ChainGuard-Agent/internal/session"
	"ChainGuard-Agent/pkg/logger"
)

// DefaultMaxIterations bounds model round trips for one instruction.
const DefaultMaxIterations = 8

// ToolExecutor lists and runs tools. *tools.Set implements it.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolCallRecord captures one tool invocation made during a run.
type ToolCallRecord struct {
	llm.ToolCall
	Iteration int
	Result    string
	IsError   bool
}

// Result is the outcome of Run.
type Result struct {
	Response   string
	Iterations int
	ToolCalls  []ToolCallRecord
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations overrides DefaultMaxIterations. Non-positive values are ignored.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithTemperature fixes the sampling temperature of every call.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = llm.Temperature(t) }
}

// Orchestrator drives a model against a tool set.
type Orchestrator struct {
	model         llm.Client
	tools         ToolExecutor
	systemPrompt  string
	maxIterations int
	temperature   *float64
	log           *slog.Logger
}

// New creates an Orchestrator. tools may be nil for a text-only model.
func New(model llm.Client, tools ToolExecutor, systemPrompt string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:         model,
		tools:         tools,
		systemPrompt:  systemPrompt,
		maxIterations: DefaultMaxIterations,
		log:           logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// SystemPrompt returns the prompt sent with every call.
func (o *Orchestrator) SystemPrompt() string {
	return o.systemPrompt
}

// Run answers input given the prior conversation. Tool errors are returned
// to the model as "error: ..." tool results rather than aborting the run.
// Exhausting the iteration budget fails with MODEL_FAILURE.
func (o *Orchestrator) Run(ctx context.Context, input string, history []session.Message) (*Result, error) {
	if o.model == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "language model client is not configured")
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, fromHistory(msg))
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	var defs []llm.ToolDefinition
	if o.tools != nil {
		defs = o.tools.Definitions()
	}

	result := &Result{}
	started := time.Now()
	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, xerrors.Wrap(xerrors.CodeTimeout, err, "orchestration interrupted")
		}

		resp, err := o.model.Complete(ctx, llm.Request{
			System:      o.systemPrompt,
			Messages:    messages,
			Tools:       defs,
			Temperature: o.temperature,
		})
		if err != nil {
			return result, err
		}
		result.Iterations = iteration

		if len(resp.ToolCalls) == 0 {
			result.Response = resp.Content
			o.log.Debug("run completed",
				slog.Int("iterations", iteration),
				slog.Int("tool_calls", len(result.ToolCalls)),
				slog.Duration("elapsed", time.Since(started)))
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			record := ToolCallRecord{ToolCall: call, Iteration: iteration}
			content, toolErr := o.execute(ctx, call)
			if toolErr != nil {
				content = fmt.Sprintf("error: %s", toolErr)
				record.IsError = true
				o.log.Info("tool call failed",
					slog.String("tool", call.Name),
					slog.String("code", string(xerrors.CodeOf(toolErr))))
			}
			record.Result = content
			result.ToolCalls = append(result.ToolCalls, record)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	return result, xerrors.New(xerrors.CodeModelFailure,
		fmt.Sprintf("no final answer after %d iterations", o.maxIterations),
		xerrors.WithRetryable(false))
}

func (o *Orchestrator) execute(ctx context.Context, call llm.ToolCall) (string, error) {
	if o.tools == nil {
		return "", xerrors.Newf(xerrors.CodeNotFound, "unknown tool %q", call.Name)
	}
	return o.tools.Execute(ctx, call.Name, call.Arguments)
}

func fromHistory(msg session.Message) llm.Message {
	role := llm.RoleUser
	if msg.Role == session.RoleAgent {
		role = llm.RoleAssistant
	}
	return llm.Message{Role: role, Content: msg.Content}
}
