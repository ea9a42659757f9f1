package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/types"
)

// =============================================================================
// Capability Manifest Handler
// =============================================================================

// ManifestRegistry is the registry surface the manifest API needs.
type ManifestRegistry interface {
	RegisterManifest(ctx context.Context, manifest *discovery.CapabilityManifest) error
	UpdateManifest(ctx context.Context, agentID string, update *discovery.ManifestUpdate) error
	UnregisterManifest(ctx context.Context, agentID string) error
	GetManifest(ctx context.Context, agentID string) (*discovery.CapabilityManifest, error)
	ListManifests(ctx context.Context) ([]*discovery.CapabilityManifest, error)
	QueryCapabilities(ctx context.Context, query *discovery.CapabilityQuery) ([]discovery.CapabilityMatch, error)
}

// ManifestHandler serves capability manifests and capability queries.
type ManifestHandler struct {
	registry ManifestRegistry
	logger   *zap.Logger
}

// ManifestListResponse is the manifest list payload.
type ManifestListResponse struct {
	Manifests []*discovery.CapabilityManifest `json:"manifests"`
	Total     int                             `json:"total"`
}

// CapabilityQueryResponse is the capability query payload.
type CapabilityQueryResponse struct {
	Matches []discovery.CapabilityMatch `json:"matches"`
	Total   int                         `json:"total"`
}

// NewManifestHandler creates a manifest handler.
func NewManifestHandler(registry ManifestRegistry, logger *zap.Logger) *ManifestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestHandler{
		registry: registry,
		logger:   logger.With(zap.String("handler", "manifest")),
	}
}

// Register mounts the manifest routes on mux.
func (h *ManifestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/manifests", h.HandleRegister)
	mux.HandleFunc("GET /api/v1/manifests", h.HandleList)
	mux.HandleFunc("GET /api/v1/manifests/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /api/v1/manifests/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/manifests/{id}", h.HandleUnregister)
	mux.HandleFunc("POST /api/v1/capabilities/query", h.HandleQuery)
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleRegister registers a capability manifest
// @Summary Register manifest
// @Tags manifest
// @Accept json
// @Produce json
// @Param request body discovery.CapabilityManifest true "Manifest"
// @Success 201 {object} Response{data=discovery.CapabilityManifest} "Registered manifest"
// @Failure 400 {object} Response "Invalid manifest"
// @Failure 409 {object} Response "Agent already registered"
// @Security ApiKeyAuth
// @Router /api/v1/manifests [post]
func (h *ManifestHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var manifest discovery.CapabilityManifest
	if err := DecodeJSONBody(w, r, &manifest, h.logger); err != nil {
		return
	}

	if err := h.registry.RegisterManifest(r.Context(), &manifest); err != nil {
		handleError(w, err, h.logger)
		return
	}

	stored, err := h.registry.GetManifest(r.Context(), manifest.AgentID)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	h.logger.Info("manifest registered",
		zap.String("agent_id", stored.AgentID),
		zap.Int("capabilities", len(stored.Capabilities)),
	)
	WriteCreated(w, stored)
}

// HandleList lists registered manifests
// @Summary List manifests
// @Tags manifest
// @Produce json
// @Success 200 {object} Response{data=ManifestListResponse} "Manifest list"
// @Security ApiKeyAuth
// @Router /api/v1/manifests [get]
func (h *ManifestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	manifests, err := h.registry.ListManifests(r.Context())
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	if manifests == nil {
		manifests = []*discovery.CapabilityManifest{}
	}
	WriteSuccess(w, ManifestListResponse{Manifests: manifests, Total: len(manifests)})
}

// HandleGet returns one manifest
// @Summary Get manifest
// @Tags manifest
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=discovery.CapabilityManifest} "Manifest"
// @Failure 404 {object} Response "Agent not found"
// @Security ApiKeyAuth
// @Router /api/v1/manifests/{id} [get]
func (h *ManifestHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	manifest, err := h.registry.GetManifest(r.Context(), agentID)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	WriteSuccess(w, manifest)
}

// HandleUpdate applies a partial manifest update
// @Summary Update manifest
// @Tags manifest
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body discovery.ManifestUpdate true "Partial manifest"
// @Success 200 {object} Response{data=discovery.CapabilityManifest} "Updated manifest"
// @Failure 400 {object} Response "Invalid update"
// @Failure 404 {object} Response "Agent not found"
// @Security ApiKeyAuth
// @Router /api/v1/manifests/{id} [patch]
func (h *ManifestHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var update discovery.ManifestUpdate
	if err := DecodeJSONBody(w, r, &update, h.logger); err != nil {
		return
	}

	if err := h.registry.UpdateManifest(r.Context(), agentID, &update); err != nil {
		handleError(w, err, h.logger)
		return
	}
	manifest, err := h.registry.GetManifest(r.Context(), agentID)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	WriteSuccess(w, manifest)
}

// HandleUnregister removes a manifest
// @Summary Unregister manifest
// @Tags manifest
// @Param id path string true "Agent ID"
// @Success 204 "Removed"
// @Failure 404 {object} Response "Agent not found"
// @Security ApiKeyAuth
// @Router /api/v1/manifests/{id} [delete]
func (h *ManifestHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.registry.UnregisterManifest(r.Context(), agentID); err != nil {
		handleError(w, err, h.logger)
		return
	}
	h.logger.Info("manifest unregistered", zap.String("agent_id", agentID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleQuery ranks capabilities across registered agents
// @Summary Query capabilities
// @Tags manifest
// @Accept json
// @Produce json
// @Param request body discovery.CapabilityQuery true "Query"
// @Success 200 {object} Response{data=CapabilityQueryResponse} "Ranked matches"
// @Failure 400 {object} Response "Invalid query"
// @Security ApiKeyAuth
// @Router /api/v1/capabilities/query [post]
func (h *ManifestHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var query discovery.CapabilityQuery
	if err := DecodeJSONBody(w, r, &query, h.logger); err != nil {
		return
	}

	matches, err := h.registry.QueryCapabilities(r.Context(), &query)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	if matches == nil {
		matches = []discovery.CapabilityMatch{}
	}
	WriteSuccess(w, CapabilityQueryResponse{Matches: matches, Total: len(matches)})
}

// =============================================================================
// Helpers
// =============================================================================

// pathID reads a non-empty path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (string, bool) {
	id := strings.TrimSpace(r.PathValue(name))
	if id == "" {
		WriteError(w, types.NewValidationError(name, "%s is required", name), logger)
		return "", false
	}
	return id, true
}
