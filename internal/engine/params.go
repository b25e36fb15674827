package engine

import (
	"fmt"
	"math"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// CommonParams are accepted by every action
type CommonParams struct {
	RequireApproval     *bool    `json:"require_approval,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ScoreLeadParams configures ai_score_lead
type ScoreLeadParams struct {
	CommonParams
	Model string `json:"model,omitempty" validate:"omitempty,max=64"`
}

// ClassifyLeadParams configures ai_classify_lead
type ClassifyLeadParams struct {
	CommonParams
	Categories []string `json:"categories,omitempty" validate:"omitempty,dive,required"`
}

// SummarizeParams configures ai_summarize
type SummarizeParams struct {
	CommonParams
	MaxLength *int `json:"max_length,omitempty" validate:"omitempty,gt=0"`
}

// DetectStaleParams configures ai_detect_stale
type DetectStaleParams struct {
	CommonParams
	DaysInactive *int `json:"days_inactive,omitempty" validate:"omitempty,gt=0"`
}

// EnrichLeadParams configures ai_enrich_lead
type EnrichLeadParams struct {
	CommonParams
	Sources []string `json:"sources,omitempty" validate:"omitempty,dive,oneof=web linkedin clearbit crm"`
}

// AutoAssignParams configures ai_auto_assign
type AutoAssignParams struct {
	CommonParams
	Strategy   string   `json:"strategy,omitempty" validate:"omitempty,oneof=round_robin load_balanced territory skill_based"`
	Candidates []string `json:"candidates,omitempty"`
}

// AutoStageParams configures ai_auto_stage
type AutoStageParams struct {
	CommonParams
	TargetStage string `json:"target_stage,omitempty" validate:"omitempty,max=64"`
}

// FollowUpParams configures ai_generate_follow_up
type FollowUpParams struct {
	CommonParams
	Days    *int   `json:"days,omitempty" validate:"omitempty,gt=0"`
	Channel string `json:"channel,omitempty" validate:"omitempty,oneof=email call task"`
}

// decodeParams maps a free-form params payload onto a typed struct using json tags
func decodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		Squash:     true,
		DecodeHook: floatToIntHook,
	})
	if err != nil {
		return fmt.Errorf("failed to build params decoder: %w", err)
	}
	return decoder.Decode(params)
}

// floatToIntHook rejects fractional numbers for integer fields. JSON numbers arrive as float64.
func floatToIntHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Float64 {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		f := data.(float64)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected an integer, got %v", f)
		}
		return int(f), nil
	}
	return data, nil
}
