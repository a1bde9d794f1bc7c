package answer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VerdictEvidence points a specialist finding back at a context block.
type VerdictEvidence struct {
	RefIndex int    `json:"ref_index"`
	Title    string `json:"title"`
	Page     int    `json:"page"`
	Snippet  string `json:"snippet"`
}

// Verdict is one specialist's structured assessment.
type Verdict struct {
	Agent               string            `json:"agent"`
	InsufficientContext bool              `json:"insufficient_context"`
	Bullets             []string          `json:"bullets"`
	Evidence            []VerdictEvidence `json:"evidence"`
	RiskLevel           string            `json:"risk_level"`
}

// extractJSON pulls a JSON object out of a model response. Models frequently
// wrap JSON in markdown code fences or prepend conversational filler:
//  1. Strip markdown code fences if present (```json ... ```)
//  2. Find the first { and last } to extract the object
func extractJSON(resp string) (string, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

// parseVerdict defensively unwraps and validates a specialist response.
// Any malformed payload returns an error; callers degrade the verdict rather
// than letting the failure escape the per-agent boundary.
func parseVerdict(role, resp string) (Verdict, error) {
	raw, err := extractJSON(resp)
	if err != nil {
		return Verdict{}, err
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, fmt.Errorf("unmarshal verdict: %w", err)
	}

	if v.Agent == "" {
		v.Agent = role
	}
	switch v.RiskLevel {
	case "low", "medium", "high":
	default:
		return Verdict{}, fmt.Errorf("invalid risk_level %q", v.RiskLevel)
	}
	if !v.InsufficientContext && len(v.Bullets) == 0 {
		return Verdict{}, fmt.Errorf("verdict claims usable context but has no bullets")
	}
	return v, nil
}

// failedVerdict is the degraded stand-in for a specialist whose call or
// parse failed.
func failedVerdict(role, reason string) Verdict {
	return Verdict{
		Agent:               role,
		InsufficientContext: true,
		Bullets:             []string{"assessment unavailable: " + reason},
		RiskLevel:           "high",
	}
}
