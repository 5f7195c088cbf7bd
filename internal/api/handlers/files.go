package handlers

import (
	"io"
	"net/http"

	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"go.uber.org/zap"
)

// FileHandler accepts job inputs
type FileHandler struct {
	storage *storage.Service
	logger  *zap.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(storage *storage.Service, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		storage: storage,
		logger:  logger,
	}
}

// UploadResponse describes a stored upload
type UploadResponse struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Path     string `json:"path"`
}

// Upload stores a multipart "file" field in the upload zone. The returned
// path is what job requests reference.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form with 32MB max memory
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, media.CodeInvalidRequest, "file field is required")
		return
	}
	defer file.Close()

	buffer := make([]byte, 512)
	n, _ := io.ReadFull(file, buffer)
	mimeType := http.DetectContentType(buffer[:n])
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, media.CodeInternal, "failed to read upload")
		return
	}

	info, err := h.storage.Store(r.Context(), storage.ZoneUpload, header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, media.CodeInternal, "failed to store file")
		return
	}

	h.logger.Info("File uploaded",
		zap.String("file_id", info.ID),
		zap.String("filename", header.Filename),
		zap.Int64("size", info.Size),
		zap.String("mime_type", mimeType),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		FileID:   info.ID,
		Name:     header.Filename,
		Size:     info.Size,
		MimeType: mimeType,
		Path:     info.Path,
	})
}
