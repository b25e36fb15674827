package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/services"
)

// ValidationResult is the outcome of checking a schedule file locally
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// LoadScheduleFile reads a schedule request from a .json, .yaml or .yml file
func LoadScheduleFile(filename string) (*models.ScheduleRequest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseScheduleRequest(data, filepath.Ext(filename))
}

// ParseScheduleRequest decodes data as JSON, or as YAML when ext is .yaml or .yml.
// YAML keys use the same names as the JSON API.
func ParseScheduleRequest(data []byte, ext string) (*models.ScheduleRequest, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		data = converted
	}

	var req models.ScheduleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &req, nil
}

// ValidateSchedule checks a request against the action registry and timing rules.
// The tenant is filled in by the server and is not checked here.
func ValidateSchedule(req *models.ScheduleRequest, registry *engine.Registry) *ValidationResult {
	result := &ValidationResult{Valid: true}
	fail := func(msg string) {
		result.Valid = false
		result.Errors = append(result.Errors, msg)
	}

	if req.EntityID == "" {
		fail("entity_id is required")
	}
	if !req.EntityType.Valid() {
		fail(fmt.Sprintf("entity_type must be one of lead, opportunity, customer: %q", req.EntityType))
	}
	if req.Priority != "" && !req.Priority.Valid() {
		fail(fmt.Sprintf("priority must be one of low, normal, high, critical: %q", req.Priority))
	}
	if req.MaxExecutions != nil && *req.MaxExecutions <= 0 {
		fail("max_executions must be positive")
	}

	if _, ok := registry.Get(req.Action); !ok {
		fail(fmt.Sprintf("unknown action: %q", req.Action))
	} else if ok, errs := registry.Validate(req.Action, req.Params); !ok {
		for _, e := range errs {
			fail("params: " + e)
		}
	}

	if req.ScheduledAt == nil && req.RecurringPattern == nil {
		fail("one of scheduled_at or recurring_pattern is required")
	}
	if req.RecurringPattern != nil {
		if err := services.ValidatePattern(req.RecurringPattern); err != nil {
			fail(err.Error())
		}
	}

	return result
}
