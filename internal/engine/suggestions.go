package engine

import (
	"context"
	"sort"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// staleAfterDays is when an entity without activity is considered stale
const staleAfterDays = 30

// SuggestionContext is the entity a suggestion pass looks at
type SuggestionContext struct {
	TenantID   string            `json:"tenant_id" validate:"required"`
	EntityType models.EntityType `json:"entity_type" validate:"required,oneof=lead opportunity customer"`
	EntityID   string            `json:"entity_id" validate:"required"`
	Entity     models.JSONB      `json:"entity,omitempty"`
}

// Suggestion is a candidate action. Nothing has been executed.
type Suggestion struct {
	Action     models.ActionType `json:"action"`
	Reason     string            `json:"reason"`
	Priority   models.Priority   `json:"priority"`
	Confidence float64           `json:"confidence"`
	Params     models.JSONB      `json:"params,omitempty"`
}

type suggestionRule func(sc SuggestionContext, entity models.JSONB) *Suggestion

var suggestionRules = []suggestionRule{
	func(sc SuggestionContext, entity models.JSONB) *Suggestion {
		days, ok := computedInt(entity, "days_since_activity")
		if !ok || days < staleAfterDays {
			return nil
		}
		return &Suggestion{
			Action:     models.ActionDetectStale,
			Reason:     "no activity in the last 30 days",
			Priority:   models.PriorityHigh,
			Confidence: 0.9,
			Params:     models.JSONB{"days_inactive": staleAfterDays},
		}
	},
	func(sc SuggestionContext, entity models.JSONB) *Suggestion {
		if sc.EntityType != models.EntityTypeLead || computedBool(entity, "is_scored") {
			return nil
		}
		return &Suggestion{
			Action:     models.ActionScoreLead,
			Reason:     "lead has no score",
			Priority:   models.PriorityNormal,
			Confidence: 0.85,
		}
	},
	func(sc SuggestionContext, entity models.JSONB) *Suggestion {
		if sc.EntityType != models.EntityTypeLead || computedBool(entity, "has_owner") {
			return nil
		}
		return &Suggestion{
			Action:     models.ActionAutoAssign,
			Reason:     "lead is unassigned",
			Priority:   models.PriorityHigh,
			Confidence: 0.8,
			Params:     models.JSONB{"strategy": "round_robin"},
		}
	},
	func(sc SuggestionContext, entity models.JSONB) *Suggestion {
		if !computedBool(entity, "has_owner") {
			return nil
		}
		if next, _ := entity.String("next_follow_up_at"); next != "" {
			return nil
		}
		return &Suggestion{
			Action:     models.ActionGenerateFollowUp,
			Reason:     "no follow-up planned",
			Priority:   models.PriorityNormal,
			Confidence: 0.7,
			Params:     models.JSONB{"days": 3, "channel": "email"},
		}
	},
	func(sc SuggestionContext, entity models.JSONB) *Suggestion {
		if sc.EntityType != models.EntityTypeLead {
			return nil
		}
		email, _ := entity.String("email")
		company, _ := entity.String("company")
		if email == "" || company != "" {
			return nil
		}
		return &Suggestion{
			Action:     models.ActionEnrichLead,
			Reason:     "lead is missing company details",
			Priority:   models.PriorityLow,
			Confidence: 0.6,
			Params:     models.JSONB{"sources": []string{"crm"}},
		}
	},
}

// GenerateAISuggestions proposes actions for an entity without executing or auditing anything
func (e *ExecutionEngine) GenerateAISuggestions(ctx context.Context, sc SuggestionContext) []Suggestion {
	entity := sc.Entity
	if entity == nil && e.loader != nil {
		loaded, err := e.loader.LoadEntity(ctx, sc.TenantID, sc.EntityType, sc.EntityID)
		if err != nil {
			e.logger.Debug("No entity data for suggestions",
				logger.String("entity_id", sc.EntityID),
				logger.Err(err),
			)
		}
		entity = loaded
	}
	entity = enrichEntity(entity, e.now())

	suggestions := make([]Suggestion, 0)
	for _, rule := range suggestionRules {
		s := rule(sc, entity)
		if s == nil {
			continue
		}
		if _, ok := e.registry.Get(s.Action); !ok {
			continue
		}
		suggestions = append(suggestions, *s)
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Priority.Rank() > suggestions[j].Priority.Rank()
	})
	return suggestions
}
