package handlers

import (
	"net/http"

	"github.com/nextconvert/fxengine/internal/modules/media"
	"go.uber.org/zap"
)

// EffectsHandler exposes the effect catalog and the filter parser
type EffectsHandler struct {
	module *media.Module
	logger *zap.Logger
}

// NewEffectsHandler creates a new effects handler
func NewEffectsHandler(module *media.Module, logger *zap.Logger) *EffectsHandler {
	return &EffectsHandler{
		module: module,
		logger: logger,
	}
}

// ListEffects returns every catalog entry, optionally filtered by ?kind=
func (h *EffectsHandler) ListEffects(w http.ResponseWriter, r *http.Request) {
	catalog := h.module.Catalog()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := catalog[:0:0]
		for _, e := range catalog {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		catalog = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"effects": catalog,
		"count":   len(catalog),
	})
}

// ParseRequest is the body of POST /filters/parse
type ParseRequest struct {
	Filter string `json:"filter"`
	// IsVideo restricts `random` to the asset type when known
	IsVideo *bool `json:"isVideo,omitempty"`
}

// Parse validates filter text without running anything
func (h *EffectsHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "invalid request body")
		return
	}

	result, err := h.module.ParseFilter(req.Filter, req.IsVideo)
	if err != nil {
		h.logger.Debug("Filter rejected", zap.String("filter", req.Filter), zap.Error(err))
		writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
