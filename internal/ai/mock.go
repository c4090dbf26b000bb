package ai

import (
	"context"
	"encoding/json"

	"github.com/civicpulse/backend/internal/utils"
)

// MockClient is a deterministic classifier stand-in used when no inference
// endpoint is configured. Output depends only on the prompt hash. Its
// Compare never asserts a match; matchers without an endpoint should take a
// nil client so deduplication runs on token similarity instead.
type MockClient struct {
	ModelVersion string
}

func (m MockClient) Classify(ctx context.Context, prompt string) (string, error) {
	h := utils.HashStringToUint64(prompt)

	categories := []string{"infrastructure", "sanitation", "safety", "noise", "maintenance", "other"}
	severities := []string{"low", "medium", "high", "critical"}

	out := map[string]any{
		"category":       categories[h%uint64(len(categories))],
		"severity":       severities[(h/7)%uint64(len(severities))],
		"summary":        "Auto-generated summary (" + m.version() + ")",
		"suggested_area": nil,
	}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (m MockClient) Compare(ctx context.Context, prompt string) (string, error) {
	out := map[string]any{
		"match":      false,
		"issue_id":   nil,
		"confidence": 0.0,
		"reasoning":  "mock client never matches (" + m.version() + ")",
	}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (m MockClient) version() string {
	if m.ModelVersion == "" {
		return "mock-v1"
	}
	return m.ModelVersion
}
