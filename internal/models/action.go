package models

// ActionType identifies an automated action the engine knows how to run
type ActionType string

const (
	ActionScoreLead        ActionType = "ai_score_lead"
	ActionClassifyLead     ActionType = "ai_classify_lead"
	ActionSummarize        ActionType = "ai_summarize"
	ActionDetectStale      ActionType = "ai_detect_stale"
	ActionEnrichLead       ActionType = "ai_enrich_lead"
	ActionAutoAssign       ActionType = "ai_auto_assign"
	ActionAutoStage        ActionType = "ai_auto_stage"
	ActionGenerateFollowUp ActionType = "ai_generate_follow_up"
)

// EntityType is the kind of CRM record an action targets
type EntityType string

const (
	EntityTypeLead        EntityType = "lead"
	EntityTypeOpportunity EntityType = "opportunity"
	EntityTypeCustomer    EntityType = "customer"
)

// Valid reports whether the entity type is one the subsystem accepts
func (e EntityType) Valid() bool {
	switch e {
	case EntityTypeLead, EntityTypeOpportunity, EntityTypeCustomer:
		return true
	}
	return false
}

// Priority orders queue items; higher rank drains first
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the numeric weight of a priority. Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ActorSystem is recorded as the actor when no user initiated the action
const ActorSystem = "system"
