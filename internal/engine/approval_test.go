package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

func TestApprovalGate_RequiresApproval(t *testing.T) {
	gate := NewApprovalGate(NewDefaultRegistry(), DefaultConfidenceThreshold)

	tests := []struct {
		name       string
		action     models.ActionType
		params     models.JSONB
		confidence float64
		want       bool
	}{
		{"read-only never gated at low confidence", models.ActionScoreLead, nil, 0.05, false},
		{"read-only never gated at high confidence", models.ActionSummarize, nil, 0.99, false},
		{"explicit opt-in gates read-only", models.ActionScoreLead, models.JSONB{"require_approval": true}, 0.99, true},
		{"modifying gated by default", models.ActionAutoAssign, nil, 0.95, true},
		{"modifying opt-out", models.ActionAutoAssign, models.JSONB{"require_approval": false}, 0.95, false},
		{"low confidence beats opt-out", models.ActionAutoAssign, models.JSONB{"require_approval": false}, 0.5, true},
		{"threshold param raises bar", models.ActionEnrichLead, models.JSONB{"confidence_threshold": 0.9}, 0.85, true},
		{"threshold param lowers bar", models.ActionEnrichLead, models.JSONB{"confidence_threshold": 0.3}, 0.35, false},
		{"at threshold is not below", models.ActionEnrichLead, nil, 0.7, false},
		{"below global threshold", models.ActionEnrichLead, nil, 0.69, true},
		{"enrich not gated by default", models.ActionEnrichLead, nil, 0.8, false},
		{"follow-up gated by default", models.ActionGenerateFollowUp, nil, 1, true},
		{"unknown action gated", "ai_unknown", nil, 1, true},
		{"unknown action gated with opt-out", "ai_unknown", models.JSONB{"require_approval": false}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.RequiresApproval(tt.action, tt.params, tt.confidence))
		})
	}
}

func TestApprovalGate_EffectiveThreshold(t *testing.T) {
	registry := NewDefaultRegistry()
	_, err := registry.ApplyPolicyOverrides([]byte("actions:\n  ai_auto_stage:\n    requires_approval_by_default: true\n    default_confidence_threshold: 0.8\n"))
	assert.NoError(t, err)

	gate := NewApprovalGate(registry, 0.6)

	assert.Equal(t, 0.6, gate.EffectiveThreshold(models.ActionAutoAssign, nil))
	assert.Equal(t, 0.8, gate.EffectiveThreshold(models.ActionAutoStage, nil))
	assert.Equal(t, 0.4, gate.EffectiveThreshold(models.ActionAutoStage, models.JSONB{"confidence_threshold": 0.4}))

	invalid := NewApprovalGate(registry, 3)
	assert.Equal(t, DefaultConfidenceThreshold, invalid.EffectiveThreshold(models.ActionAutoAssign, nil))
}
