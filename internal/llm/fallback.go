package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackProvider tries a list of backends in order until one answers.
// A canceled context stops the chain immediately; cancellation is never
// mistaken for a backend failure.
type FallbackProvider struct {
	chain  []Provider
	logger *slog.Logger
}

// NewFallbackProvider builds the chain. The first provider is primary and
// supplies Name and Model; at least one is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{chain: providers, logger: logger}
}

// SendMessage walks the chain and returns the first successful response.
// When every backend fails, the last error is wrapped and returned.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt, p := range f.chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if attempt > 0 {
				f.logger.InfoContext(ctx, "model fallback succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", attempt+1),
				)
			}
			return resp, nil
		}
		lastErr = err
		f.logger.WarnContext(ctx, "model backend failed",
			slog.String("provider", p.Name()),
			slog.Int("attempt", attempt+1),
			slog.Int("remaining", len(f.chain)-attempt-1),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("all %d model backends failed: %w", len(f.chain), lastErr)
}

func (f *FallbackProvider) Name() string {
	return f.chain[0].Name() + "+fallback"
}

func (f *FallbackProvider) Model() string {
	return f.chain[0].Model()
}
