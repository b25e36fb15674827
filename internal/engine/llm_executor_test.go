package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/llm"
)

func TestLLMExecutor_Execute(t *testing.T) {
	client := &mockLLMClient{content: "```json\n{\"confidence\": 0.82, \"summary\": \"warm lead\", \"result\": {\"score\": 64}}\n```"}
	exec := NewLLMExecutor(client, "claude-3-5-haiku-20241022")

	out, err := exec.Execute(context.Background(), ExecutionRequest{
		Action:  models.ActionScoreLead,
		Context: leadContext(),
		Entity:  models.JSONB{"company": "Acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.82, out.Confidence)
	assert.Equal(t, "warm lead", out.Summary)
	assert.Equal(t, 64.0, out.Payload["score"])
	assert.Equal(t, "llm:anthropic", exec.Name())

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "claude-3-5-haiku-20241022", req.Model)
	assert.Equal(t, "tenant-456", req.User)
	assert.True(t, req.JSONResponse)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "lead lead-123")
	assert.Contains(t, req.Messages[0].Content, `"company":"Acme"`)
}

func TestLLMExecutor_PromptDefaults(t *testing.T) {
	client := &mockLLMClient{content: `{"confidence": 0.5, "result": {}}`}
	exec := NewLLMExecutor(client, "")

	_, err := exec.Execute(context.Background(), ExecutionRequest{
		Action:  models.ActionClassifyLead,
		Context: leadContext(),
	})
	require.NoError(t, err)
	assert.Contains(t, client.requests[0].Messages[0].Content, "hot, warm, cold")
	assert.NotContains(t, client.requests[0].Messages[0].Content, "<no value>")
}

func TestLLMExecutor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
		want    error
	}{
		{"not json", "I think this lead is great", nil, llm.ErrMalformedOutput},
		{"missing confidence", `{"result": {}}`, nil, llm.ErrMalformedOutput},
		{"confidence out of range", `{"confidence": 1.4}`, nil, llm.ErrMalformedOutput},
		{"provider error", "", llm.NewError(llm.ProviderAnthropic, llm.ErrorTypeRateLimit, "429", nil), llm.ErrRateLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewLLMExecutor(&mockLLMClient{content: tt.content, err: tt.err}, "")
			_, err := exec.Execute(context.Background(), ExecutionRequest{
				Action:  models.ActionSummarize,
				Context: leadContext(),
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLLMExecutor_UnknownAction(t *testing.T) {
	exec := NewLLMExecutor(&mockLLMClient{}, "")
	_, err := exec.Execute(context.Background(), ExecutionRequest{Action: "ai_unknown", Context: leadContext()})
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.True(t, IsNoRetry(err))
}
