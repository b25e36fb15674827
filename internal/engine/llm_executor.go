package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/llm"
)

const llmSystemPrompt = `You are an assistant embedded in a CRM. You evaluate one record at a time.
Reply with a single JSON object and nothing else:
{"confidence": <number between 0 and 1>, "summary": "<one sentence>", "result": {<action specific fields>}}`

// defaultPrompts holds one user prompt per action type
var defaultPrompts = llm.NewPromptSet().
	MustRegister(string(models.ActionScoreLead),
		`Score the likelihood that {{.EntityType}} {{.EntityID}} converts, from 0 to 100. Put it in result.score.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionClassifyLead),
		`Classify {{.EntityType}} {{.EntityID}} into one of: {{with .Params.categories}}{{.}}{{else}}hot, warm, cold{{end}}. Put it in result.category.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionSummarize),
		`Summarize {{.EntityType}} {{.EntityID}} in at most {{or .Params.max_length 280}} characters. Put it in result.summary.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionDetectStale),
		`Decide whether {{.EntityType}} {{.EntityID}} is stale after {{or .Params.days_inactive 30}} days without activity. Put a boolean in result.stale.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionEnrichLead),
		`Suggest values for missing fields of {{.EntityType}} {{.EntityID}} using sources {{with .Params.sources}}{{.}}{{else}}crm{{end}}. Put them in result.fields.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionAutoAssign),
		`Pick an owner for {{.EntityType}} {{.EntityID}} using strategy {{or .Params.strategy "round_robin"}} among {{with .Params.candidates}}{{.}}{{else}}the team{{end}}. Put it in result.assignee.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionAutoStage),
		`Pick the pipeline stage for {{.EntityType}} {{.EntityID}}{{if .Params.target_stage}}, proposed: {{.Params.target_stage}}{{end}}. Put it in result.stage.
Record: {{.Entity}}`).
	MustRegister(string(models.ActionGenerateFollowUp),
		`Draft a {{or .Params.channel "email"}} follow-up for {{.EntityType}} {{.EntityID}} due in {{or .Params.days 3}} days. Put it in result.message.
Record: {{.Entity}}`)

// LLMExecutor asks a language model for the result and its confidence
type LLMExecutor struct {
	client  llm.Client
	prompts *llm.PromptSet
	model   string
}

// NewLLMExecutor creates an executor over client. model may be empty to use the client default.
func NewLLMExecutor(client llm.Client, model string) *LLMExecutor {
	return &LLMExecutor{
		client:  client,
		prompts: defaultPrompts,
		model:   model,
	}
}

// Name returns the backend name
func (e *LLMExecutor) Name() string {
	return "llm:" + string(e.client.GetProvider())
}

type llmAnswer struct {
	Confidence *float64     `json:"confidence"`
	Summary    string       `json:"summary"`
	Result     models.JSONB `json:"result"`
}

// Execute renders the action prompt and decodes the model's JSON answer
func (e *LLMExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error) {
	if !e.prompts.Has(string(req.Action)) {
		return nil, NoRetry(fmt.Errorf("%w: %s", ErrUnknownAction, req.Action))
	}

	entityJSON, err := json.Marshal(req.Entity)
	if err != nil {
		return nil, NoRetry(fmt.Errorf("failed to encode entity: %w", err))
	}

	prompt, err := e.prompts.Render(string(req.Action), map[string]interface{}{
		"EntityType": req.Context.EntityType,
		"EntityID":   req.Context.EntityID,
		"Entity":     string(entityJSON),
		"Params":     map[string]interface{}(req.Params),
	})
	if err != nil {
		return nil, NoRetry(err)
	}

	resp, err := e.client.Chat(ctx, &llm.ChatRequest{
		Model:        e.model,
		SystemPrompt: llmSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  0,
		JSONResponse: true,
		User:         req.Context.TenantID,
	})
	if err != nil {
		return nil, err
	}

	return parseLLMAnswer(e.client.GetProvider(), resp.Content)
}

// parseLLMAnswer decodes the model reply, tolerating a surrounding code fence
func parseLLMAnswer(provider llm.Provider, content string) (*ExecutorOutput, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var answer llmAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, llm.NewError(provider, llm.ErrorTypeMalformedOutput, "answer is not valid JSON", err)
	}
	if answer.Confidence == nil {
		return nil, llm.NewError(provider, llm.ErrorTypeMalformedOutput, "answer has no confidence", nil)
	}
	if *answer.Confidence < 0 || *answer.Confidence > 1 {
		return nil, llm.NewError(provider, llm.ErrorTypeMalformedOutput,
			fmt.Sprintf("confidence %v outside [0,1]", *answer.Confidence), nil)
	}

	return &ExecutorOutput{
		Confidence: *answer.Confidence,
		Summary:    answer.Summary,
		Payload:    answer.Result,
	}, nil
}
