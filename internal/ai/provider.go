// Package ai declares the text-completion providers the quiz generator can call.
package ai

import "context"

// Provider completes a prompt with a language model.
type Provider interface {
	Name() string
	CompleteWithSystem(ctx context.Context, systemPrompt string, prompt string) (string, error)
}
