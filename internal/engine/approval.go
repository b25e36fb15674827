package engine

import (
	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// ApprovalGate decides whether an action result must wait for a human decision
type ApprovalGate struct {
	registry         *Registry
	defaultThreshold float64
}

// NewApprovalGate creates a gate. A threshold outside [0,1] falls back to DefaultConfidenceThreshold.
func NewApprovalGate(registry *Registry, defaultThreshold float64) *ApprovalGate {
	if defaultThreshold < 0 || defaultThreshold > 1 {
		defaultThreshold = DefaultConfidenceThreshold
	}
	return &ApprovalGate{registry: registry, defaultThreshold: defaultThreshold}
}

// EffectiveThreshold resolves the confidence cutoff: params first, then registry, then global default
func (g *ApprovalGate) EffectiveThreshold(actionType models.ActionType, params models.JSONB) float64 {
	if t, ok := params.Float("confidence_threshold"); ok {
		return t
	}
	if policy, ok := g.registry.DefaultPolicy(actionType); ok && policy.DefaultConfidenceThreshold != nil {
		return *policy.DefaultConfidenceThreshold
	}
	return g.defaultThreshold
}

// RequiresApproval evaluates, in order: explicit opt-in, unknown action,
// read-only action, confidence below threshold, explicit opt-out, registry default.
func (g *ApprovalGate) RequiresApproval(actionType models.ActionType, params models.JSONB, confidence float64) bool {
	if v, ok := params.Bool("require_approval"); ok && v {
		return true
	}

	def, known := g.registry.Get(actionType)
	if !known {
		return true
	}

	if def.ReadOnly {
		return false
	}

	if confidence < g.EffectiveThreshold(actionType, params) {
		return true
	}

	if v, ok := params.Bool("require_approval"); ok && !v {
		return false
	}

	return def.Policy.RequiresApprovalByDefault
}
