package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

var allActions = []models.ActionType{
	models.ActionScoreLead,
	models.ActionClassifyLead,
	models.ActionSummarize,
	models.ActionDetectStale,
	models.ActionEnrichLead,
	models.ActionAutoAssign,
	models.ActionAutoStage,
	models.ActionGenerateFollowUp,
}

func TestDefaultRegistry_Actions(t *testing.T) {
	r := NewDefaultRegistry()

	list := r.List()
	require.Len(t, list, len(allActions))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Type, list[i].Type)
	}

	readOnly := map[models.ActionType]bool{
		models.ActionScoreLead:    true,
		models.ActionClassifyLead: true,
		models.ActionSummarize:    true,
		models.ActionDetectStale:  true,
	}
	gated := map[models.ActionType]bool{
		models.ActionAutoAssign:       true,
		models.ActionAutoStage:        true,
		models.ActionGenerateFollowUp: true,
	}

	for _, action := range allActions {
		def, ok := r.Get(action)
		require.True(t, ok, action)
		assert.Equal(t, readOnly[action], def.ReadOnly, action)
		assert.Equal(t, gated[action], def.Policy.RequiresApprovalByDefault, action)
	}
}

func TestRegistry_ValidateConfidenceThreshold(t *testing.T) {
	r := NewDefaultRegistry()

	for _, action := range allActions {
		for _, threshold := range []float64{0, 0.25, 0.7, 1} {
			valid, errs := r.Validate(action, map[string]interface{}{"confidence_threshold": threshold})
			assert.True(t, valid, "%s accepts %v: %v", action, threshold, errs)
		}
		for _, threshold := range []float64{-0.01, 1.01, 5} {
			valid, errs := r.Validate(action, map[string]interface{}{"confidence_threshold": threshold})
			assert.False(t, valid, "%s rejects %v", action, threshold)
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0], "confidence_threshold")
		}
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name   string
		action models.ActionType
		params map[string]interface{}
		valid  bool
	}{
		{"nil params", models.ActionScoreLead, nil, true},
		{"unknown keys ignored", models.ActionScoreLead, map[string]interface{}{"foo": "bar"}, true},
		{"days positive", models.ActionGenerateFollowUp, map[string]interface{}{"days": float64(3)}, true},
		{"days zero", models.ActionGenerateFollowUp, map[string]interface{}{"days": float64(0)}, false},
		{"days negative", models.ActionGenerateFollowUp, map[string]interface{}{"days": -2}, false},
		{"days fractional", models.ActionGenerateFollowUp, map[string]interface{}{"days": 1.5}, false},
		{"days as string", models.ActionGenerateFollowUp, map[string]interface{}{"days": "three"}, false},
		{"channel known", models.ActionGenerateFollowUp, map[string]interface{}{"channel": "call"}, true},
		{"channel unknown", models.ActionGenerateFollowUp, map[string]interface{}{"channel": "fax"}, false},
		{"days inactive zero", models.ActionDetectStale, map[string]interface{}{"days_inactive": 0}, false},
		{"days inactive", models.ActionDetectStale, map[string]interface{}{"days_inactive": 14}, true},
		{"max length zero", models.ActionSummarize, map[string]interface{}{"max_length": 0}, false},
		{"strategy known", models.ActionAutoAssign, map[string]interface{}{"strategy": "territory"}, true},
		{"strategy unknown", models.ActionAutoAssign, map[string]interface{}{"strategy": "random"}, false},
		{"sources known", models.ActionEnrichLead, map[string]interface{}{"sources": []interface{}{"web", "crm"}}, true},
		{"sources unknown", models.ActionEnrichLead, map[string]interface{}{"sources": []interface{}{"myspace"}}, false},
		{"require approval bool", models.ActionAutoStage, map[string]interface{}{"require_approval": false}, true},
		{"require approval not bool", models.ActionAutoStage, map[string]interface{}{"require_approval": "no"}, false},
		{"threshold not number", models.ActionAutoStage, map[string]interface{}{"confidence_threshold": "high"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, errs := r.Validate(tt.action, tt.params)
			assert.Equal(t, tt.valid, valid, "errors: %v", errs)
			if !tt.valid {
				assert.NotEmpty(t, errs)
			}
		})
	}
}

func TestRegistry_ValidateUnknownAction(t *testing.T) {
	r := NewDefaultRegistry()

	valid, errs := r.Validate("ai_launch_rocket", nil)
	assert.False(t, valid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unknown action")
}

func TestRegistry_PolicyOverrides(t *testing.T) {
	t.Run("applies overrides", func(t *testing.T) {
		r := NewDefaultRegistry()
		n, err := r.ApplyPolicyOverrides([]byte(`
actions:
  ai_enrich_lead:
    requires_approval_by_default: true
    default_confidence_threshold: 0.9
    max_attempts: 5
`))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		policy, ok := r.DefaultPolicy(models.ActionEnrichLead)
		require.True(t, ok)
		assert.True(t, policy.RequiresApprovalByDefault)
		require.NotNil(t, policy.DefaultConfidenceThreshold)
		assert.Equal(t, 0.9, *policy.DefaultConfidenceThreshold)
		assert.Equal(t, 5, policy.MaxAttempts)
	})

	t.Run("rejects unknown action", func(t *testing.T) {
		r := NewDefaultRegistry()
		_, err := r.ApplyPolicyOverrides([]byte("actions:\n  ai_unknown:\n    max_attempts: 2\n"))
		assert.ErrorIs(t, err, ErrUnknownAction)
	})

	t.Run("rejects threshold out of range and leaves registry untouched", func(t *testing.T) {
		r := NewDefaultRegistry()
		_, err := r.ApplyPolicyOverrides([]byte(`
actions:
  ai_auto_assign:
    requires_approval_by_default: false
  ai_auto_stage:
    default_confidence_threshold: 1.5
`))
		assert.Error(t, err)

		policy, _ := r.DefaultPolicy(models.ActionAutoAssign)
		assert.True(t, policy.RequiresApprovalByDefault)
	})

	t.Run("loads from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		require.NoError(t, os.WriteFile(path, []byte("actions:\n  ai_auto_stage:\n    requires_approval_by_default: false\n"), 0o600))

		r := NewDefaultRegistry()
		n, err := r.LoadPolicyOverrides(path)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		policy, _ := r.DefaultPolicy(models.ActionAutoStage)
		assert.False(t, policy.RequiresApprovalByDefault)
	})

	t.Run("missing file", func(t *testing.T) {
		r := NewDefaultRegistry()
		_, err := r.LoadPolicyOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
