package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// HeuristicExecutor produces deterministic results from entity fields. It needs no network.
type HeuristicExecutor struct {
	now func() time.Time
}

// NewHeuristicExecutor creates a rule-based executor
func NewHeuristicExecutor() *HeuristicExecutor {
	return &HeuristicExecutor{now: time.Now}
}

// Name returns the backend name
func (h *HeuristicExecutor) Name() string {
	return "heuristic"
}

// Execute dispatches to the rule set of the action
func (h *HeuristicExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entity := req.Entity
	if entity == nil {
		entity = models.JSONB{}
	}

	switch req.Action {
	case models.ActionScoreLead:
		return h.scoreLead(entity), nil
	case models.ActionClassifyLead:
		var p ClassifyLeadParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.classifyLead(entity, p), nil
	case models.ActionSummarize:
		var p SummarizeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.summarize(req.Context, entity, p), nil
	case models.ActionDetectStale:
		var p DetectStaleParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.detectStale(entity, p), nil
	case models.ActionEnrichLead:
		var p EnrichLeadParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.enrichLead(entity, p), nil
	case models.ActionAutoAssign:
		var p AutoAssignParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.autoAssign(req.Context, entity, p), nil
	case models.ActionAutoStage:
		var p AutoStageParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.autoStage(entity, p), nil
	case models.ActionGenerateFollowUp:
		var p FollowUpParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, NoRetry(err)
		}
		return h.followUp(entity, p), nil
	}

	return nil, NoRetry(fmt.Errorf("%w: %s", ErrUnknownAction, req.Action))
}

// leadSignals are the fields that contribute to a lead score
var leadSignals = []struct {
	field  string
	weight float64
}{
	{"email", 15},
	{"phone", 10},
	{"company", 15},
	{"title", 10},
	{"annual_revenue", 20},
	{"source", 10},
}

func (h *HeuristicExecutor) leadScore(entity models.JSONB) (score float64, present int) {
	for _, s := range leadSignals {
		if v, ok := entity[s.field]; ok && v != nil && v != "" {
			score += s.weight
			present++
		}
	}

	if days, ok := computedInt(entity, "days_since_activity"); ok {
		switch {
		case days <= 7:
			score += 20
		case days <= 30:
			score += 10
		}
		present++
	}
	if source, _ := entity.String("source"); source == "referral" {
		score += 5
	}
	return math.Min(score, 100), present
}

// signalConfidence grows with the share of known signals
func signalConfidence(present, total int) float64 {
	if total == 0 {
		return 0.5
	}
	c := 0.4 + 0.55*float64(present)/float64(total)
	return math.Round(c*100) / 100
}

func (h *HeuristicExecutor) scoreLead(entity models.JSONB) *ExecutorOutput {
	score, present := h.leadScore(entity)
	return &ExecutorOutput{
		Confidence: signalConfidence(present, len(leadSignals)+1),
		Summary:    fmt.Sprintf("lead scored %.0f", score),
		Payload:    models.JSONB{"score": score},
	}
}

func (h *HeuristicExecutor) classifyLead(entity models.JSONB, p ClassifyLeadParams) *ExecutorOutput {
	categories := p.Categories
	if len(categories) == 0 {
		categories = []string{"hot", "warm", "cold"}
	}

	score, present := h.leadScore(entity)
	// categories are ordered from best to worst; split the score range evenly
	idx := int((100 - score) / (100 / float64(len(categories))))
	if idx >= len(categories) {
		idx = len(categories) - 1
	}

	return &ExecutorOutput{
		Confidence: signalConfidence(present, len(leadSignals)+1),
		Summary:    fmt.Sprintf("lead classified as %s", categories[idx]),
		Payload:    models.JSONB{"category": categories[idx], "score": score},
	}
}

func (h *HeuristicExecutor) summarize(ec ExecutionContext, entity models.JSONB, p SummarizeParams) *ExecutorOutput {
	maxLength := 280
	if p.MaxLength != nil {
		maxLength = *p.MaxLength
	}

	parts := []string{fmt.Sprintf("%s %s", ec.EntityType, ec.EntityID)}
	for _, field := range []string{"name", "company", "stage", "owner_id"} {
		if v, ok := entity.String(field); ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.ReplaceAll(field, "_", " "), v))
		}
	}
	if days, ok := computedInt(entity, "days_since_activity"); ok {
		parts = append(parts, fmt.Sprintf("last activity %d days ago", days))
	}

	summary := strings.Join(parts, "; ")
	if len(summary) > maxLength {
		summary = summary[:maxLength]
	}

	return &ExecutorOutput{
		Confidence: 0.9,
		Summary:    summary,
		Payload:    models.JSONB{"summary": summary},
	}
}

func (h *HeuristicExecutor) detectStale(entity models.JSONB, p DetectStaleParams) *ExecutorOutput {
	threshold := 30
	if p.DaysInactive != nil {
		threshold = *p.DaysInactive
	}

	days, known := computedInt(entity, "days_since_activity")
	if !known {
		return &ExecutorOutput{
			Confidence: 0.5,
			Summary:    "no activity recorded",
			Payload:    models.JSONB{"stale": true, "days_inactive": nil, "threshold": threshold},
		}
	}

	stale := days >= threshold
	return &ExecutorOutput{
		Confidence: 0.95,
		Summary:    fmt.Sprintf("inactive for %d days", days),
		Payload:    models.JSONB{"stale": stale, "days_inactive": days, "threshold": threshold},
	}
}

func (h *HeuristicExecutor) enrichLead(entity models.JSONB, p EnrichLeadParams) *ExecutorOutput {
	sources := p.Sources
	if len(sources) == 0 {
		sources = []string{"crm"}
	}

	fields := models.JSONB{}
	if email, ok := entity.String("email"); ok {
		if at := strings.LastIndex(email, "@"); at > 0 && at < len(email)-1 {
			domain := strings.ToLower(email[at+1:])
			fields["domain"] = domain
			if company, _ := entity.String("company"); company == "" {
				fields["company"] = strings.Split(domain, ".")[0]
			}
		}
	}

	confidence := 0.4
	if len(fields) > 0 {
		confidence = 0.8
	}
	return &ExecutorOutput{
		Confidence: confidence,
		Summary:    fmt.Sprintf("%d fields derived", len(fields)),
		Payload:    models.JSONB{"fields": fields, "sources": sources},
	}
}

func (h *HeuristicExecutor) autoAssign(ec ExecutionContext, entity models.JSONB, p AutoAssignParams) *ExecutorOutput {
	strategy := p.Strategy
	if strategy == "" {
		strategy = "round_robin"
	}
	if len(p.Candidates) == 0 {
		return &ExecutorOutput{
			Confidence: 0.2,
			Summary:    "no candidates to assign",
			Payload:    models.JSONB{"strategy": strategy, "assignee": nil},
		}
	}

	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(ec.TenantID + "/" + ec.EntityID))
	assignee := p.Candidates[int(hasher.Sum32()%uint32(len(p.Candidates)))]

	confidence := 0.75
	switch strategy {
	case "load_balanced":
		confidence = 0.8
	case "territory":
		confidence = 0.5
		if territory, ok := entity.String("territory"); ok {
			for _, c := range p.Candidates {
				if strings.EqualFold(c, territory) {
					assignee = c
					confidence = 0.9
					break
				}
			}
		}
	case "skill_based":
		confidence = 0.7
	}

	return &ExecutorOutput{
		Confidence: confidence,
		Summary:    fmt.Sprintf("assign to %s", assignee),
		Payload:    models.JSONB{"strategy": strategy, "assignee": assignee},
	}
}

func (h *HeuristicExecutor) autoStage(entity models.JSONB, p AutoStageParams) *ExecutorOutput {
	score, present := h.leadScore(entity)
	if s, ok := entity.Float("score"); ok {
		score = s
	}

	predicted := "contacted"
	switch {
	case score >= 80:
		predicted = "proposal"
	case score >= 50:
		predicted = "qualified"
	}

	stage := predicted
	confidence := signalConfidence(present, len(leadSignals)+1)
	if p.TargetStage != "" {
		stage = p.TargetStage
		if p.TargetStage != predicted {
			confidence = math.Round(confidence*0.6*100) / 100
		}
	}

	return &ExecutorOutput{
		Confidence: confidence,
		Summary:    fmt.Sprintf("move to %s", stage),
		Payload:    models.JSONB{"stage": stage, "predicted_stage": predicted},
	}
}

func (h *HeuristicExecutor) followUp(entity models.JSONB, p FollowUpParams) *ExecutorOutput {
	days := 3
	if p.Days != nil {
		days = *p.Days
	}
	channel := p.Channel
	if channel == "" {
		channel = "email"
	}

	confidence := 0.8
	if channel == "email" {
		if email, _ := entity.String("email"); email == "" {
			confidence = 0.4
		}
	}

	due := h.now().UTC().AddDate(0, 0, days)
	return &ExecutorOutput{
		Confidence: confidence,
		Summary:    fmt.Sprintf("%s follow-up due %s", channel, due.Format("2006-01-02")),
		Payload:    models.JSONB{"channel": channel, "due_at": due.Format(time.RFC3339)},
	}
}
