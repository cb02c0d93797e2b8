// Package textgen is the text-generation port used for coaching copy.
//
// Generation is treated as a slow remote call that may fail. Callers go
// through Text, which bounds the call and substitutes a canned fallback.
package textgen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/logger"
)

// Generator produces text for a prompt and its structured context.
type Generator interface {
	Generate(ctx context.Context, prompt string, data map[string]any) (string, error)
}

// KeyFunc returns the Gemini API key.
type KeyFunc func() (string, error)

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.TextgenConfig, apiKey KeyFunc) (Generator, error) {
	switch cfg.Provider {
	case "", constants.TextgenProviderMock:
		return Mock{}, nil
	case constants.TextgenProviderVertex:
		return NewVertex(ctx, cfg)
	case constants.TextgenProviderGemini:
		if apiKey == nil {
			return nil, fmt.Errorf("gemini provider needs an API key")
		}
		key, err := apiKey()
		if err != nil {
			return nil, fmt.Errorf("failed to read gemini API key: %w", err)
		}
		return NewGemini(ctx, cfg, key)
	default:
		return nil, fmt.Errorf("unknown text generation provider %q", cfg.Provider)
	}
}

// Text calls g with a deadline and returns fallback when the call fails,
// times out or returns nothing.
func Text(ctx context.Context, g Generator, timeout time.Duration, prompt string, data map[string]any, fallback string) string {
	if g == nil {
		return fallback
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, err := g.Generate(ctx, prompt, data)
	if err != nil {
		logger.Warn("text generation failed, using fallback", "error", err)
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}

// renderData lists data as sorted "key: value" lines for model prompts.
func renderData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, data[k])
	}
	return b.String()
}
