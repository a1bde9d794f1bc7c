package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zyvault/zyvault/internal/retrieval"
)

// Completer is the text-generation capability the orchestrator needs.
type Completer interface {
	Complete(ctx context.Context, model, system, user string, temperature float64) (string, error)
}

// Options configures the orchestrator's models and limits.
type Options struct {
	// ChatModel is the deep tier, used for the master re-synthesis pass and
	// for merging specialist verdicts.
	ChatModel string
	// AgentModel is the fast tier, used for the first direct pass and the
	// specialist calls. Defaults to ChatModel.
	AgentModel string
	// AgentTimeout bounds each specialist call.
	AgentTimeout time.Duration
	// Temperature applies to every completion. Zero selects the 0.2 default;
	// calls never run fully greedy.
	Temperature float64
}

// Result is one answered query.
type Result struct {
	Answer string
	// Confidence is low, medium, or high in multi-agent mode; empty in
	// direct mode.
	Confidence string
	Evidence   []retrieval.Evidence
	// Verdicts holds all six specialist outputs in multi-agent mode.
	Verdicts []Verdict
}

// Orchestrator runs the synthesis passes over ranked evidence.
type Orchestrator struct {
	completer Completer
	opts      Options
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(completer Completer, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.AgentModel == "" {
		opts.AgentModel = opts.ChatModel
	}
	if opts.AgentTimeout == 0 {
		opts.AgentTimeout = 45 * time.Second
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{completer: completer, opts: opts, logger: logger}
}

// Direct runs the cited answer on the fast tier, then re-synthesizes it into
// an executive framing on the deep tier. The second pass is skipped when the
// first reported insufficient context.
func (o *Orchestrator) Direct(ctx context.Context, question string, evidence []retrieval.Evidence) (Result, error) {
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", BuildContext(evidence), question)

	first, err := o.completer.Complete(ctx, o.opts.AgentModel, directSystemPrompt, user, o.opts.Temperature)
	if err != nil {
		return Result{}, fmt.Errorf("direct answer: %w", err)
	}

	if reportsInsufficientContext(first) {
		return Result{Answer: first, Evidence: evidence}, nil
	}

	masterUser := fmt.Sprintf("Question: %s\n\nAnalyst answer:\n%s", question, first)
	master, err := o.completer.Complete(ctx, o.opts.ChatModel, masterSystemPrompt, masterUser, o.opts.Temperature)
	if err != nil {
		// The first pass already holds a complete cited answer; keep it.
		o.logger.Warn("master pass failed, returning first-pass answer", "error", err)
		return Result{Answer: first, Evidence: evidence}, nil
	}

	return Result{Answer: master, Evidence: evidence}, nil
}

func reportsInsufficientContext(answer string) bool {
	return strings.Contains(strings.ToLower(answer), "insufficient context")
}
