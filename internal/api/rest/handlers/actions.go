package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest/middleware"
	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// ActionEngine defines the execution engine operations the API exposes
type ActionEngine interface {
	ValidateAIActionParams(action models.ActionType, params models.JSONB) engine.ValidationResult
	CheckRequiresApproval(action models.ActionType, params models.JSONB, confidence float64) bool
	ExecuteAIAction(ctx context.Context, action models.ActionType, ec engine.ExecutionContext, params models.JSONB) (*engine.ActionResult, error)
	GenerateAISuggestions(ctx context.Context, sc engine.SuggestionContext) []engine.Suggestion
	Registry() *engine.Registry
}

// ActionHandler handles action registry and direct execution requests
type ActionHandler struct {
	logger *logger.Logger
	engine ActionEngine
}

// NewActionHandler creates a new action handler
func NewActionHandler(log *logger.Logger, eng ActionEngine) *ActionHandler {
	return &ActionHandler{logger: log, engine: eng}
}

// ValidateParamsRequest checks params without running anything
type ValidateParamsRequest struct {
	Params models.JSONB `json:"params"`
}

// ApprovalCheckRequest asks whether a result with this confidence would be gated
type ApprovalCheckRequest struct {
	Params     models.JSONB `json:"params"`
	Confidence *float64     `json:"confidence" validate:"required,gte=0,lte=1"`
}

// ApprovalCheckResponse answers an ApprovalCheckRequest
type ApprovalCheckResponse struct {
	Action           models.ActionType `json:"action"`
	Confidence       float64           `json:"confidence"`
	RequiresApproval bool              `json:"requires_approval"`
}

// ExecuteRequest runs an action immediately
type ExecuteRequest struct {
	EntityType models.EntityType `json:"entity_type" validate:"required,oneof=lead opportunity customer"`
	EntityID   string            `json:"entity_id" validate:"required"`
	WorkflowID *string           `json:"workflow_id,omitempty"`
	Params     models.JSONB      `json:"params,omitempty"`
	Entity     models.JSONB      `json:"entity,omitempty"`
}

// SuggestionsRequest asks for candidate actions for an entity
type SuggestionsRequest struct {
	EntityType models.EntityType `json:"entity_type" validate:"required,oneof=lead opportunity customer"`
	EntityID   string            `json:"entity_id" validate:"required"`
	Entity     models.JSONB      `json:"entity,omitempty"`
}

func (h *ActionHandler) knownAction(w http.ResponseWriter, r *http.Request) (models.ActionType, bool) {
	action := models.ActionType(chi.URLParam(r, "action"))
	if _, ok := h.engine.Registry().Get(action); !ok {
		RespondError(w, http.StatusNotFound, "Unknown action: "+string(action))
		return "", false
	}
	return action, true
}

// ListActions handles GET /api/v1/actions
func (h *ActionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	defs := h.engine.Registry().List()
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"actions": defs,
		"total":   len(defs),
	})
}

// GetAction handles GET /api/v1/actions/{action}
func (h *ActionHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	action, ok := h.knownAction(w, r)
	if !ok {
		return
	}
	def, _ := h.engine.Registry().Get(action)
	RespondJSON(w, http.StatusOK, def)
}

// ValidateParams handles POST /api/v1/actions/{action}/validate
func (h *ActionHandler) ValidateParams(w http.ResponseWriter, r *http.Request) {
	action, ok := h.knownAction(w, r)
	if !ok {
		return
	}

	var req ValidateParamsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	RespondJSON(w, http.StatusOK, h.engine.ValidateAIActionParams(action, req.Params))
}

// CheckApproval handles POST /api/v1/actions/{action}/approval-check
func (h *ActionHandler) CheckApproval(w http.ResponseWriter, r *http.Request) {
	action, ok := h.knownAction(w, r)
	if !ok {
		return
	}

	var req ApprovalCheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	RespondJSON(w, http.StatusOK, ApprovalCheckResponse{
		Action:           action,
		Confidence:       *req.Confidence,
		RequiresApproval: h.engine.CheckRequiresApproval(action, req.Params, *req.Confidence),
	})
}

// Execute handles POST /api/v1/actions/{action}/execute. The outcome, including
// validation failures and gated results, is carried in the body with a 200.
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	action, ok := h.knownAction(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ec := engine.ExecutionContext{
		TenantID:   middleware.TenantID(r.Context()),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		WorkflowID: req.WorkflowID,
		Actor:      middleware.Actor(r.Context()),
		Entity:     req.Entity,
	}
	if ec.Actor != "" {
		actor := ec.Actor
		ec.UserID = &actor
	}

	result, err := h.engine.ExecuteAIAction(r.Context(), action, ec, req.Params)
	if err != nil {
		RespondServiceError(w, h.logger, "execute action", err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Suggestions handles POST /api/v1/actions/suggestions
func (h *ActionHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	var req SuggestionsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	suggestions := h.engine.GenerateAISuggestions(r.Context(), engine.SuggestionContext{
		TenantID:   middleware.TenantID(r.Context()),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Entity:     req.Entity,
	})
	if suggestions == nil {
		suggestions = []engine.Suggestion{}
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}
