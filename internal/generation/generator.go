package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/agentflow/internal/task"
)

// Generator produces text for a prompt. Implementations must be safe for
// concurrent use; several workers call Generate at once.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// BuildPrompt surrounds input with the decoration's pre and post prompts.
func BuildPrompt(input string, d task.Decoration) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.PrePrompt, input, d.PostPrompt} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// NewWork returns task work that sends the decorated input to g.
func NewWork(g Generator, input string, d task.Decoration) task.WorkFunc {
	return func(ctx context.Context) (string, error) {
		if g == nil {
			return "", fmt.Errorf("%w: no generator configured", ErrInvalidConfig)
		}
		prompt := BuildPrompt(input, d)
		if prompt == "" {
			return "", ErrEmptyPrompt
		}
		return g.Generate(ctx, prompt)
	}
}
