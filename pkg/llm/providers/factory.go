// Package providers builds an llm.Client for a configured provider.
package providers

import (
	"fmt"

	"github.com/davidmoltin/ai-action-queue/pkg/llm"
	"github.com/davidmoltin/ai-action-queue/pkg/llm/providers/anthropic"
	"github.com/davidmoltin/ai-action-queue/pkg/llm/providers/openai"
)

// New returns a client for cfg.Provider
func New(cfg *llm.Config) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.Provider {
	case llm.ProviderAnthropic:
		client, err = anthropic.NewClient(cfg)
	case llm.ProviderOpenAI:
		client, err = openai.NewClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", llm.ErrInvalidProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
