package ai

import "context"

// Client is the inference capability behind the classifier and the
// similarity matcher. Both operations return raw model text that the caller
// parses and validates; transport and auth stay behind this interface.
type Client interface {
	Classify(ctx context.Context, prompt string) (string, error)
	Compare(ctx context.Context, prompt string) (string, error)
}
