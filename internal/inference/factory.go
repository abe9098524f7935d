package inference

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures an Analyzer.
type Config struct {
	Provider     string // "http" or "gemini"
	URL          string
	Timeout      time.Duration
	GeminiAPIKey string
	GeminiModel  string
}

// NewAnalyzerFromConfig builds the Analyzer named by cfg.Provider. The
// returned close function releases backend resources and is never nil.
func NewAnalyzerFromConfig(ctx context.Context, cfg Config) (Analyzer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case "http", "":
		if cfg.URL == "" {
			return nil, noop, fmt.Errorf("http inference provider requires INFERENCE_URL to be set")
		}
		return NewHTTPAnalyzer(cfg.URL, cfg.Timeout), noop, nil
	case "gemini":
		g, err := NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeout)
		if err != nil {
			return nil, noop, err
		}
		return g, g.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown inference provider: %s", cfg.Provider)
	}
}
