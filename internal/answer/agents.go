package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zyvault/zyvault/internal/retrieval"
)

// Roles is the fixed specialist panel, each a distinct analytical lens over
// the same evidence.
var Roles = []string{"Legal", "Finance", "Ops", "Analyst", "Tax", "Strategy"}

// Agents fans the question out to every specialist in parallel, collects
// their verdicts, and merges the usable ones into a single answer with a
// deterministic confidence label. A failing specialist degrades to an
// insufficient-context, high-risk verdict and never aborts the batch.
func (o *Orchestrator) Agents(ctx context.Context, question string, evidence []retrieval.Evidence) (Result, error) {
	contextBlock := BuildContext(evidence)
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, question)

	verdicts := make([]Verdict, len(Roles))
	var wg sync.WaitGroup
	for i, role := range Roles {
		wg.Add(1)
		go func(i int, role string) {
			defer wg.Done()
			verdicts[i] = o.runAgent(ctx, role, user)
		}(i, role)
	}
	wg.Wait()

	usable := make([]Verdict, 0, len(verdicts))
	highRisk := 0
	for _, v := range verdicts {
		if !v.InsufficientContext {
			usable = append(usable, v)
		}
		if v.RiskLevel == "high" {
			highRisk++
		}
	}

	confidence := deriveConfidence(len(usable), highRisk)

	if len(usable) == 0 {
		return Result{
			Answer:     InsufficientMessage,
			Confidence: "low",
			Evidence:   evidence,
			Verdicts:   verdicts,
		}, nil
	}

	verdictJSON, err := json.MarshalIndent(usable, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encoding verdicts: %w", err)
	}
	synthUser := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nSpecialist verdicts:\n%s",
		contextBlock, question, verdictJSON)

	merged, err := o.completer.Complete(ctx, o.opts.ChatModel, synthesisSystemPrompt, synthUser, o.opts.Temperature)
	if err != nil {
		return Result{}, fmt.Errorf("synthesis: %w", err)
	}

	return Result{
		Answer:     merged,
		Confidence: confidence,
		Evidence:   evidence,
		Verdicts:   verdicts,
	}, nil
}

// runAgent executes one specialist call with its own timeout. Every failure
// path lands in a degraded verdict.
func (o *Orchestrator) runAgent(ctx context.Context, role, user string) Verdict {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
	defer cancel()

	resp, err := o.completer.Complete(callCtx, o.opts.AgentModel, agentSystemPrompt(role), user, o.opts.Temperature)
	if err != nil {
		o.logger.Warn("specialist call failed", "agent", role, "error", err)
		return failedVerdict(role, err.Error())
	}

	v, err := parseVerdict(role, resp)
	if err != nil {
		o.logger.Warn("specialist verdict unparseable", "agent", role, "error", err)
		return failedVerdict(role, err.Error())
	}
	return v
}

// deriveConfidence maps panel health to a label. Counts run over all six
// verdicts, degraded ones included.
func deriveConfidence(usable, highRisk int) string {
	switch {
	case usable >= 4 && highRisk <= 1:
		return "high"
	case usable >= 2 && highRisk <= 2:
		return "medium"
	default:
		return "low"
	}
}
