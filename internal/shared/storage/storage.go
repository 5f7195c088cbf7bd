package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/fxengine/internal/shared/config"
)

// Zone represents a storage zone
type Zone string

const (
	ZoneUpload Zone = "upload"
	ZoneOutput Zone = "output"
)

// ErrOutsideUploads is returned when a job input names a path outside the upload zone
var ErrOutsideUploads = errors.New("path is outside the upload zone")

// FileInfo represents metadata about a stored file
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Zone      Zone      `json:"zone"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service stores uploads and published job outputs
type Service struct {
	backend Backend
}

// Backend defines the storage backend interface
type Backend interface {
	Store(ctx context.Context, zone Zone, filename string, reader io.Reader) (string, error)
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	GetSize(ctx context.Context, path string) (int64, error)
	InZone(zone Zone, path string) bool
}

// NewService creates a storage service for the configured backend
func NewService(cfg config.StorageConfig) (*Service, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "s3":
		backend, err = NewS3Backend(cfg)
	default:
		backend, err = NewLocalBackend(cfg.BasePath)
	}

	if err != nil {
		return nil, err
	}
	return NewServiceWithBackend(backend), nil
}

// NewServiceWithBackend wraps an existing backend
func NewServiceWithBackend(backend Backend) *Service {
	return &Service{backend: backend}
}

// Store saves a file to the specified zone under a fresh id, keeping the extension
func (s *Service) Store(ctx context.Context, zone Zone, originalName string, reader io.Reader) (*FileInfo, error) {
	fileID := uuid.New().String()
	filename := fileID + filepath.Ext(originalName)

	path, err := s.backend.Store(ctx, zone, filename, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	size, err := s.backend.GetSize(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file size: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(24 * time.Hour)
	if zone == ZoneOutput {
		expiresAt = now.Add(7 * 24 * time.Hour)
	}

	return &FileInfo{
		ID:        fileID,
		Name:      originalName,
		Path:      path,
		Zone:      zone,
		Size:      size,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Publish copies a finished local file into the output zone
func (s *Service) Publish(ctx context.Context, localPath, name string) (*FileInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	if name == "" {
		name = filepath.Base(localPath)
	}
	return s.Store(ctx, ZoneOutput, name, f)
}

// Retrieve gets a file from storage
func (s *Service) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.backend.Retrieve(ctx, path)
}

// Fetch makes an uploaded file available on the local filesystem. Local paths
// are returned as-is; remote objects are downloaded into dir. Paths outside
// the upload zone fail with ErrOutsideUploads.
func (s *Service) Fetch(ctx context.Context, path, dir string) (string, error) {
	if !s.backend.InZone(ZoneUpload, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideUploads, path)
	}
	if _, ok := s.backend.(*LocalBackend); ok {
		return path, nil
	}

	reader, err := s.backend.Retrieve(ctx, path)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	local := filepath.Join(dir, "src-"+uuid.New().String()+filepath.Ext(path))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(local)
		return "", fmt.Errorf("download %s: %w", path, err)
	}
	return local, f.Close()
}

// Delete removes a file from storage
func (s *Service) Delete(ctx context.Context, path string) error {
	return s.backend.Delete(ctx, path)
}

// Exists checks if a file exists
func (s *Service) Exists(ctx context.Context, path string) (bool, error) {
	return s.backend.Exists(ctx, path)
}

// LocalBackend implements local filesystem storage
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates a new local storage backend
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	for _, zone := range []Zone{ZoneUpload, ZoneOutput} {
		path := filepath.Join(basePath, string(zone))
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	return &LocalBackend{basePath: basePath}, nil
}

func (b *LocalBackend) Store(ctx context.Context, zone Zone, filename string, reader io.Reader) (string, error) {
	path := filepath.Join(b.basePath, string(zone), filename)

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}

func (b *LocalBackend) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	return os.Remove(path)
}

func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBackend) GetSize(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// InZone reports whether path lies strictly inside the zone directory
func (b *LocalBackend) InZone(zone Zone, path string) bool {
	root, err := filepath.Abs(filepath.Join(b.basePath, string(zone)))
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
