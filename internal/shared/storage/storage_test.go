package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	a, err := ws.Acquire("transcode")
	require.NoError(t, err)
	b, err := ws.Acquire("transcode")
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir, b.Dir)
	assert.DirExists(t, a.Dir)
	assert.Equal(t, filepath.Join(a.Dir, "x.mp4"), a.Path("x.mp4"))

	require.NoError(t, os.WriteFile(a.Path("x.mp4"), []byte("data"), 0644))
	require.NoError(t, a.Release())
	assert.NoDirExists(t, a.Dir)
	assert.DirExists(t, b.Dir)
}

func TestWorkspaceSweep(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	stale, err := ws.Acquire("grid")
	require.NoError(t, err)
	fresh, err := ws.Acquire("grid")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir, old, old))

	removed, err := ws.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, stale.Dir)
	assert.DirExists(t, fresh.Dir)
}

func TestServicePublishLocal(t *testing.T) {
	base := t.TempDir()
	svc, err := NewService(config.StorageConfig{Backend: "local", BasePath: base})
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video-bytes"), 0644))

	ctx := context.Background()
	info, err := svc.Publish(ctx, src, "clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, ZoneOutput, info.Zone)
	assert.Equal(t, int64(len("video-bytes")), info.Size)
	assert.True(t, strings.HasSuffix(info.Path, ".mp4"))
	assert.True(t, info.ExpiresAt.After(info.CreatedAt))

	exists, err := svc.Exists(ctx, info.Path)
	require.NoError(t, err)
	assert.True(t, exists)

	// outputs are never job inputs
	_, err = svc.Fetch(ctx, info.Path, t.TempDir())
	assert.ErrorIs(t, err, ErrOutsideUploads)

	rc, err := svc.Retrieve(ctx, info.Path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	require.NoError(t, svc.Delete(ctx, info.Path))
	exists, err = svc.Exists(ctx, info.Path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestServiceFetchLocal(t *testing.T) {
	base := t.TempDir()
	svc, err := NewService(config.StorageConfig{Backend: "local", BasePath: base})
	require.NoError(t, err)
	ctx := context.Background()

	info, err := svc.Store(ctx, ZoneUpload, "clip.mp4", strings.NewReader("media"))
	require.NoError(t, err)

	local, err := svc.Fetch(ctx, info.Path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, info.Path, local)

	outside := filepath.Join(t.TempDir(), "secret.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))

	for _, path := range []string{
		outside,
		"/etc/passwd",
		filepath.Join(base, "upload"),
		filepath.Join(base, "upload", "..", "output", "x.mp4"),
		filepath.Join(base, "uploads-other", "x.mp4"),
	} {
		_, err := svc.Fetch(ctx, path, t.TempDir())
		assert.ErrorIs(t, err, ErrOutsideUploads, path)
	}
}

func TestLocalBackendInZone(t *testing.T) {
	base := t.TempDir()
	b, err := NewLocalBackend(base)
	require.NoError(t, err)

	assert.True(t, b.InZone(ZoneUpload, filepath.Join(base, "upload", "a.mp4")))
	assert.True(t, b.InZone(ZoneUpload, filepath.Join(base, "upload", "nested", "a.mp4")))
	assert.False(t, b.InZone(ZoneUpload, filepath.Join(base, "output", "a.mp4")))
	assert.False(t, b.InZone(ZoneUpload, filepath.Join(base, "upload", "..", "..", "a.mp4")))
	assert.False(t, b.InZone(ZoneUpload, filepath.Join(base, "upload")))
}

func TestS3BackendInZone(t *testing.T) {
	b := &S3Backend{}

	assert.True(t, b.InZone(ZoneUpload, "upload/0b6e.mp4"))
	assert.False(t, b.InZone(ZoneUpload, "output/0b6e.mp4"))
	assert.False(t, b.InZone(ZoneUpload, "upload/../output/0b6e.mp4"))
	assert.False(t, b.InZone(ZoneUpload, "/upload/0b6e.mp4"))
	assert.False(t, b.InZone(ZoneUpload, "upload"))
	assert.False(t, b.InZone(ZoneUpload, "uploads/0b6e.mp4"))
}
