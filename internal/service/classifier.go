package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/civicpulse/backend/internal/ai"
	"github.com/civicpulse/backend/internal/errs"
	"github.com/civicpulse/backend/internal/models"
)

const (
	maxPromptDescriptionChars = 2000
	fallbackSummaryChars      = 100
)

// Classifier maps a report's description and location to a validated
// Classification. It never fails fatally: transient inference errors are
// retried, everything else degrades to the deterministic fallback. The only
// error it returns is caller-driven cancellation.
type Classifier struct {
	Client ai.Client
	Retry  RetryPolicy
	Logger zerolog.Logger
}

func NewClassifier(client ai.Client, retry RetryPolicy, logger zerolog.Logger) *Classifier {
	return &Classifier{Client: client, Retry: retry, Logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, description, location string) (models.Classification, error) {
	if c.Client == nil {
		return fallbackClassification(description), nil
	}

	prompt := buildClassifyPrompt(description, location)

	var lastErr error
	for attempt := 0; attempt < c.Retry.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.Retry.backoff(attempt-1, lastErr)); err != nil {
				return models.Classification{}, err
			}
		}

		raw, err := c.Client.Classify(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return models.Classification{}, ctx.Err()
			}
			lastErr = err
			c.Logger.Warn().Err(err).Int("attempt", attempt+1).Msg("classifier: inference call failed")
			continue
		}

		cls, err := parseClassification(raw)
		if err != nil {
			// Malformed output is a schema problem; retrying the same
			// prompt will not fix it.
			c.Logger.Warn().Err(err).Msg("classifier: discarding invalid output")
			return fallbackClassification(description), nil
		}
		return cls, nil
	}

	c.Logger.Warn().Err(lastErr).Msg("classifier: retries exhausted, using fallback")
	return fallbackClassification(description), nil
}

// fallbackClassification is the designed degradation, not an error.
func fallbackClassification(description string) models.Classification {
	return models.Classification{
		Category: "other",
		Severity: "medium",
		Summary:  truncate(description, fallbackSummaryChars),
	}
}

func buildClassifyPrompt(description, location string) string {
	if location == "" {
		location = "Not specified"
	}
	return fmt.Sprintf(`You are analyzing a civic incident report. Classify it and extract key information.

Report Description: %s
Location: %s

Respond with JSON containing:
- category: One of [infrastructure, sanitation, safety, noise, maintenance, other]
- severity: One of [low, medium, high, critical]
- summary: A brief 1-sentence summary
- suggested_area: If you can infer a specific area/zone from the description

Example response format:
{
    "category": "infrastructure",
    "severity": "high",
    "summary": "Broken traffic light at Main St intersection",
    "suggested_area": "downtown"
}`, truncate(description, maxPromptDescriptionChars), truncate(location, 255))
}

func parseClassification(raw string) (models.Classification, error) {
	var out struct {
		Category      string `json:"category"`
		Severity      string `json:"severity"`
		Summary       string `json:"summary"`
		SuggestedArea string `json:"suggested_area"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return models.Classification{}, errs.Validation("", "not valid JSON")
	}
	if !models.ValidCategory(out.Category) {
		return models.Classification{}, errs.Validation("category", fmt.Sprintf("%q outside enumeration", out.Category))
	}
	if !models.ValidSeverity(out.Severity) {
		return models.Classification{}, errs.Validation("severity", fmt.Sprintf("%q outside enumeration", out.Severity))
	}
	if strings.TrimSpace(out.Summary) == "" {
		return models.Classification{}, errs.Validation("summary", "missing")
	}
	return models.Classification{
		Category:      out.Category,
		Severity:      out.Severity,
		Summary:       strings.TrimSpace(out.Summary),
		SuggestedArea: strings.TrimSpace(out.SuggestedArea),
	}, nil
}

// stripCodeFence unwraps ```json ... ``` blocks that chat models like to
// emit around structured output.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// truncate caps s at n runes, never splitting a multibyte character.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
