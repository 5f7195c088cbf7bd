package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"go.uber.org/zap"
)

// MediaHandler handles media-related endpoints
type MediaHandler struct {
	module    *media.Module
	storage   *storage.Service
	workspace *storage.Workspace
	logger    *zap.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(module *media.Module, storage *storage.Service, workspace *storage.Workspace, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		module:    module,
		storage:   storage,
		workspace: workspace,
		logger:    logger,
	}
}

// ProbeRequest represents a media probe request
type ProbeRequest struct {
	Path string `json:"path"`
}

// Probe extracts duration, stream layout and dimensions from a stored file
func (h *MediaHandler) Probe(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "path is required")
		return
	}

	scratch, err := h.workspace.Acquire("probe")
	if err != nil {
		writeMediaError(w, err)
		return
	}
	defer scratch.Release()

	local, err := h.storage.Fetch(r.Context(), req.Path, scratch.Dir)
	if errors.Is(err, storage.ErrOutsideUploads) {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "path must name an uploaded file")
		return
	}
	if err != nil {
		h.logger.Warn("Failed to fetch file for probe", zap.String("path", req.Path), zap.Error(err))
		writeError(w, http.StatusNotFound, media.CodeFileNotFound, "file not found")
		return
	}

	asset, err := h.module.Prober.Probe(r.Context(), local)
	if err != nil {
		h.logger.Error("Failed to probe file", zap.Error(err), zap.String("path", req.Path))
		writeMediaError(w, err)
		return
	}
	asset.Path = req.Path

	writeJSON(w, http.StatusOK, asset)
}

// GetFormats returns the output containers
func (h *MediaHandler) GetFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.module.GetSupportedFormats())
}
