package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/pkg/llm"
)

func TestNew(t *testing.T) {
	client, err := New(&llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderAnthropic, client.GetProvider())

	client, err = New(&llm.Config{Provider: llm.ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, client.GetProvider())

	_, err = New(&llm.Config{Provider: llm.ProviderOpenAI})
	assert.ErrorIs(t, err, llm.ErrInvalidAPIKey)

	_, err = New(&llm.Config{Provider: "cohere", APIKey: "k"})
	assert.ErrorIs(t, err, llm.ErrInvalidProvider)
}
