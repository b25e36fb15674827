package engine

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/validator"
)

// DefaultConfidenceThreshold applies when neither params nor the registry set one
const DefaultConfidenceThreshold = 0.7

// Policy is the default behavior of an action type
type Policy struct {
	RequiresApprovalByDefault  bool     `json:"requires_approval_by_default" yaml:"requires_approval_by_default"`
	DefaultConfidenceThreshold *float64 `json:"default_confidence_threshold,omitempty" yaml:"default_confidence_threshold"`
	MaxAttempts                int      `json:"max_attempts,omitempty" yaml:"max_attempts"`
}

// ActionDefinition describes one registered action
type ActionDefinition struct {
	Type        models.ActionType   `json:"type"`
	Description string              `json:"description"`
	ReadOnly    bool                `json:"read_only"`
	EntityTypes []models.EntityType `json:"entity_types"`
	Policy      Policy              `json:"policy"`

	newParams func() interface{}
}

// ParamValidator checks action params against the action's schema
type ParamValidator interface {
	Validate(actionType models.ActionType, params map[string]interface{}) (bool, []string)
}

// Registry maps action types to their parameter schema and default policy
type Registry struct {
	mu      sync.RWMutex
	actions map[models.ActionType]*ActionDefinition
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{actions: make(map[models.ActionType]*ActionDefinition)}
}

// NewDefaultRegistry returns a registry holding the built-in CRM actions
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	lead := []models.EntityType{models.EntityTypeLead}
	all := []models.EntityType{models.EntityTypeLead, models.EntityTypeOpportunity, models.EntityTypeCustomer}

	r.Register(ActionDefinition{
		Type:        models.ActionScoreLead,
		Description: "Score a lead's likelihood to convert",
		ReadOnly:    true,
		EntityTypes: lead,
		newParams:   func() interface{} { return &ScoreLeadParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionClassifyLead,
		Description: "Classify a lead into a segment",
		ReadOnly:    true,
		EntityTypes: lead,
		newParams:   func() interface{} { return &ClassifyLeadParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionSummarize,
		Description: "Summarize an entity's recent activity",
		ReadOnly:    true,
		EntityTypes: all,
		newParams:   func() interface{} { return &SummarizeParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionDetectStale,
		Description: "Flag entities without recent activity",
		ReadOnly:    true,
		EntityTypes: all,
		newParams:   func() interface{} { return &DetectStaleParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionEnrichLead,
		Description: "Fill missing lead fields from external sources",
		EntityTypes: lead,
		Policy:      Policy{RequiresApprovalByDefault: false},
		newParams:   func() interface{} { return &EnrichLeadParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionAutoAssign,
		Description: "Assign an owner to the entity",
		EntityTypes: all,
		Policy:      Policy{RequiresApprovalByDefault: true},
		newParams:   func() interface{} { return &AutoAssignParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionAutoStage,
		Description: "Move the entity to the predicted pipeline stage",
		EntityTypes: []models.EntityType{models.EntityTypeLead, models.EntityTypeOpportunity},
		Policy:      Policy{RequiresApprovalByDefault: true},
		newParams:   func() interface{} { return &AutoStageParams{} },
	})
	r.Register(ActionDefinition{
		Type:        models.ActionGenerateFollowUp,
		Description: "Create a follow-up task for the owner",
		EntityTypes: all,
		Policy:      Policy{RequiresApprovalByDefault: true},
		newParams:   func() interface{} { return &FollowUpParams{} },
	})

	return r
}

// Register adds or replaces an action definition
func (r *Registry) Register(def ActionDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := def
	r.actions[def.Type] = &d
}

// Get returns the definition of actionType
func (r *Registry) Get(actionType models.ActionType) (ActionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[actionType]
	if !ok {
		return ActionDefinition{}, false
	}
	return *def, true
}

// List returns all definitions sorted by type
func (r *Registry) List() []ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActionDefinition, 0, len(r.actions))
	for _, def := range r.actions {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// DefaultPolicy returns the policy registered for actionType
func (r *Registry) DefaultPolicy(actionType models.ActionType) (Policy, bool) {
	def, ok := r.Get(actionType)
	if !ok {
		return Policy{}, false
	}
	return def.Policy, true
}

// Validate decodes params into the action's schema and checks types and ranges
func (r *Registry) Validate(actionType models.ActionType, params map[string]interface{}) (bool, []string) {
	def, ok := r.Get(actionType)
	if !ok {
		return false, []string{fmt.Sprintf("%s: %s", ErrUnknownAction, actionType)}
	}
	if def.newParams == nil {
		return true, nil
	}

	target := def.newParams()
	if err := decodeParams(params, target); err != nil {
		return false, []string{err.Error()}
	}
	if err := validator.Validate(target); err != nil {
		return false, validator.Messages(err)
	}
	return true, nil
}

// PolicyOverrides is the YAML document accepted by LoadPolicyOverrides
type PolicyOverrides struct {
	Actions map[models.ActionType]Policy `yaml:"actions"`
}

// LoadPolicyOverrides reads a YAML file and applies its policies to registered actions
func (r *Registry) LoadPolicyOverrides(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read policy file: %w", err)
	}
	return r.ApplyPolicyOverrides(data)
}

// ApplyPolicyOverrides applies a YAML policy document. Unknown actions are rejected.
func (r *Registry) ApplyPolicyOverrides(data []byte) (int, error) {
	var doc PolicyOverrides
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("failed to parse policy file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for actionType, policy := range doc.Actions {
		if _, ok := r.actions[actionType]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownAction, actionType)
		}
		if t := policy.DefaultConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
			return 0, fmt.Errorf("threshold for %s must be within [0,1]", actionType)
		}
		if policy.MaxAttempts < 0 {
			return 0, fmt.Errorf("max_attempts for %s must not be negative", actionType)
		}
	}
	for actionType, policy := range doc.Actions {
		r.actions[actionType].Policy = policy
	}
	return len(doc.Actions), nil
}
