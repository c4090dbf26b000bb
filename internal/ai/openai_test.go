package ai

import (
	"encoding/json"
	"testing"
	"time"
)

func TestExtractRetryAfter(t *testing.T) {
	raw := `{"error":{"code":429,"message":"quota exceeded","details":[
		{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"23s"}
	]}}`
	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d := extractRetryAfter(body); d != 23*time.Second {
		t.Fatalf("expected 23s, got %s", d)
	}
}

func TestExtractRetryAfterMissing(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"error":{"message":"nope"}}`,
		`{"error":{"details":[{"@type":"other"}]}}`,
	} {
		var body map[string]any
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if d := extractRetryAfter(body); d != 0 {
			t.Fatalf("expected 0 for %s, got %s", raw, d)
		}
	}
}

func TestPromptCacheRoundTrip(t *testing.T) {
	cacheSet("prompt-a", "answer-a")
	v, ok := cacheGet("prompt-a")
	if !ok || v != "answer-a" {
		t.Fatalf("expected cached answer, got %q %v", v, ok)
	}
	if _, ok := cacheGet("prompt-unknown"); ok {
		t.Fatalf("unexpected cache hit")
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	if got := (RateLimitError{}).Error(); got != "rate limited" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := (RateLimitError{RetryAfter: 5 * time.Second}).Error(); got != "rate limited, retry after 5s" {
		t.Fatalf("unexpected message: %q", got)
	}
}
