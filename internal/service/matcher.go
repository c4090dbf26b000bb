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
	"github.com/civicpulse/backend/internal/utils"
)

const (
	DefaultMatchThreshold = 0.7
	DefaultMaxCandidates  = 10
)

// Matcher decides whether a new report describes the same underlying issue
// as one of a bounded set of open candidates. The confidence threshold is
// enforced here, inside the component: a below-threshold assertion from the
// model is reported as no-match.
type Matcher struct {
	Client        ai.Client
	Retry         RetryPolicy
	Threshold     float64
	MaxCandidates int
	Logger        zerolog.Logger
}

func NewMatcher(client ai.Client, retry RetryPolicy, threshold float64, maxCandidates int, logger zerolog.Logger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Matcher{Client: client, Retry: retry, Threshold: threshold, MaxCandidates: maxCandidates, Logger: logger}
}

func (m *Matcher) Match(ctx context.Context, newReportText string, candidates []models.Candidate) (models.MatchResult, error) {
	if len(candidates) == 0 {
		return models.MatchResult{Match: false, Confidence: 0.0}, nil
	}
	if len(candidates) > m.MaxCandidates {
		candidates = candidates[:m.MaxCandidates]
	}

	if m.Client == nil {
		return m.tokenMatch(newReportText, candidates), nil
	}

	prompt := buildComparePrompt(newReportText, candidates)
	var lastErr error
	for attempt := 0; attempt < m.Retry.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, m.Retry.backoff(attempt-1, lastErr)); err != nil {
				return models.MatchResult{}, err
			}
		}

		raw, err := m.Client.Compare(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return models.MatchResult{}, ctx.Err()
			}
			lastErr = err
			m.Logger.Warn().Err(err).Int("attempt", attempt+1).Msg("matcher: inference call failed")
			continue
		}

		result, err := parseMatchResult(raw, candidates)
		if err != nil {
			m.Logger.Warn().Err(err).Msg("matcher: discarding invalid output")
			return models.MatchResult{Match: false, Confidence: 0.0, Reasoning: "invalid matcher output discarded"}, nil
		}
		return m.applyThreshold(result), nil
	}

	m.Logger.Warn().Err(lastErr).Msg("matcher: retries exhausted, using token-similarity fallback")
	return m.tokenMatch(newReportText, candidates), nil
}

// applyThreshold is the policy boundary: match=true requires confidence at
// or above the configured threshold.
func (m *Matcher) applyThreshold(r models.MatchResult) models.MatchResult {
	if r.Match && r.Confidence < m.Threshold {
		r.Match = false
		r.IssueID = 0
		r.Reasoning = fmt.Sprintf("confidence %.2f below threshold %.2f: %s", r.Confidence, m.Threshold, r.Reasoning)
	}
	return r
}

// tokenMatch is the deterministic fallback path: Jaccard token similarity
// against each candidate, thresholded like the inference path.
func (m *Matcher) tokenMatch(newReportText string, candidates []models.Candidate) models.MatchResult {
	bestIdx := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := utils.TokenSimilarity(newReportText, c.Description)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestScore < m.Threshold {
		return models.MatchResult{
			Match:      false,
			Confidence: bestScore,
			Reasoning:  fmt.Sprintf("token similarity %.2f below threshold %.2f", bestScore, m.Threshold),
		}
	}
	return models.MatchResult{
		Match:      true,
		IssueID:    candidates[bestIdx].IssueID,
		Confidence: bestScore,
		Reasoning:  fmt.Sprintf("token similarity %.2f with issue %d", bestScore, candidates[bestIdx].IssueID),
	}
}

func buildComparePrompt(newReportText string, candidates []models.Candidate) string {
	var issues strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&issues, "Issue %d: %s\n", c.IssueID, truncate(c.Description, 500))
	}
	return fmt.Sprintf(`You are matching a new incident report to existing open issues.

New Report: %s

Existing Open Issues:
%s
Respond with JSON:
- match: true if the new report is essentially the same issue as an existing one
- issue_id: the ID of the matching issue (or null if no match)
- confidence: 0.0 to 1.0 indicating match confidence
- reasoning: brief explanation of your decision

Example:
{
    "match": true,
    "issue_id": 5,
    "confidence": 0.85,
    "reasoning": "Both reports describe the same pothole at Main and 1st"
}`, truncate(newReportText, maxPromptDescriptionChars), issues.String())
}

func parseMatchResult(raw string, candidates []models.Candidate) (models.MatchResult, error) {
	var out struct {
		Match      *bool    `json:"match"`
		IssueID    *int64   `json:"issue_id"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return models.MatchResult{}, errs.Validation("", "not valid JSON")
	}
	if out.Match == nil {
		return models.MatchResult{}, errs.Validation("match", "missing")
	}
	if out.Confidence == nil {
		return models.MatchResult{}, errs.Validation("confidence", "missing")
	}
	if *out.Confidence < 0.0 || *out.Confidence > 1.0 {
		return models.MatchResult{}, errs.Validation("confidence", fmt.Sprintf("%v outside [0,1]", *out.Confidence))
	}
	result := models.MatchResult{
		Match:      *out.Match,
		Confidence: *out.Confidence,
		Reasoning:  strings.TrimSpace(out.Reasoning),
	}
	if result.Match {
		if out.IssueID == nil {
			return models.MatchResult{}, errs.Validation("issue_id", "missing on asserted match")
		}
		if !candidateSetContains(candidates, *out.IssueID) {
			return models.MatchResult{}, errs.Validation("issue_id", fmt.Sprintf("%d not in candidate set", *out.IssueID))
		}
		result.IssueID = *out.IssueID
	}
	return result, nil
}

func candidateSetContains(candidates []models.Candidate, id int64) bool {
	for _, c := range candidates {
		if c.IssueID == id {
			return true
		}
	}
	return false
}
