package media

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscode(t *testing.T) {
	ctx := context.Background()

	t.Run("applies effects and cleans the scratch space", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(2048))
		m, workspace := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "clip.mov")
		outDir := t.TempDir()

		var stages []string
		result, err := m.Transcoder.Transcode(ctx, src, filepath.Join(outDir, "result"), TranscodeOptions{
			FilterSpecText: "{hflip,bass=4}",
			OnProgress:     func(stage string, _ float64) { stages = append(stages, stage) },
		})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(outDir, "result.mp4"), result.Path)
		assert.Equal(t, int64(2048), result.Size)
		assert.Equal(t, []string{"hflip", "bass"}, result.Spec.Names())
		assert.Nil(t, result.Fit)
		assert.FileExists(t, result.Path)
		assert.Contains(t, stages, "effect:bass")
		assert.Equal(t, "done", stages[len(stages)-1])
		assert.Empty(t, dirEntries(t, workspace.Root()))
		assert.FileExists(t, src)
	})

	t.Run("fits under the ceiling", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(2048))
		m, workspace := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "song.mp3")

		result, err := m.Transcoder.Transcode(ctx, src, filepath.Join(t.TempDir(), "out.bin"), TranscodeOptions{
			FilterSpecText: "{reverb}",
			CeilingBytes:   1_000_000,
		})
		require.NoError(t, err)
		require.NotNil(t, result.Fit)
		assert.Equal(t, "primary", result.Fit.Attempt.Label)
		assert.Equal(t, ".mp3", filepath.Ext(result.Path))
		assert.LessOrEqual(t, result.Size, int64(1_000_000))
		assert.Empty(t, dirEntries(t, workspace.Root()))

		calls := ffmpeg.calls(t)
		require.Len(t, calls, 2)
		assert.Contains(t, calls[1], "loudnorm")
	})

	t.Run("no effects copies the source", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(2048))
		m, _ := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "song.mp3")

		result, err := m.Transcoder.Transcode(ctx, src, filepath.Join(t.TempDir(), "copy.mp3"), TranscodeOptions{})
		require.NoError(t, err)
		assert.FileExists(t, src)
		assert.FileExists(t, result.Path)
		assert.Empty(t, ffmpeg.calls(t))
	})

	t.Run("caller clip overrides the filter text", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(2048))
		m, _ := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "song.mp3")

		_, err := m.Transcoder.Transcode(ctx, src, filepath.Join(t.TempDir(), "out"), TranscodeOptions{
			FilterSpecText: "{start=5,echo}",
			Clip:           &effects.ClipWindow{Start: 1, Duration: 2},
		})
		require.NoError(t, err)
		calls := ffmpeg.calls(t)
		require.Len(t, calls, 2)
		assert.Contains(t, calls[0], "-ss 1.000 -t 2.000")
	})

	t.Run("unknown effects warn unless strict", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(2048))
		m, _ := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "song.mp3")

		result, err := m.Transcoder.Transcode(ctx, src, filepath.Join(t.TempDir(), "out"), TranscodeOptions{FilterSpecText: "{flarp,echo}"})
		require.NoError(t, err)
		require.Len(t, result.Warnings, 1)
		assert.ErrorIs(t, result.Warnings[0], effects.ErrUnknownEffect)

		_, err = m.Transcoder.Transcode(ctx, src, filepath.Join(t.TempDir(), "out"), TranscodeOptions{
			FilterSpecText: "{flarp,echo}",
			StrictEffects:  true,
		})
		assert.Equal(t, CodeUnknownEffect, Code(err))
	})

	t.Run("type mismatch leaves nothing behind", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(2048))
		m, workspace := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "song.mp3")
		outDir := t.TempDir()

		_, err := m.Transcoder.Transcode(ctx, src, filepath.Join(outDir, "out"), TranscodeOptions{FilterSpecText: "{hmirror}"})
		assert.Equal(t, CodeTypeMismatch, Code(err))
		assert.Empty(t, ffmpeg.calls(t))
		assert.Empty(t, dirEntries(t, workspace.Root()))
		assert.Empty(t, dirEntries(t, outDir))
	})

	t.Run("size exceeded", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(50000))
		m, workspace := newTestModule(t, ffmpeg, CompositorConfig{})
		src := touch(t, t.TempDir(), "song.mp3")

		_, err := m.Transcoder.Transcode(ctx, src, filepath.Join(t.TempDir(), "out"), TranscodeOptions{CeilingBytes: 10_000})
		assert.ErrorIs(t, err, ErrSizeExceeded)
		assert.Empty(t, dirEntries(t, workspace.Root()))
	})
}

func TestTranscoderWrappers(t *testing.T) {
	ctx := context.Background()
	ffmpeg := newFakeFFmpeg(t, writesBytes(512))
	m, _ := newTestModule(t, ffmpeg, CompositorConfig{})
	src := touch(t, t.TempDir(), "clip.mp4")
	outDir := t.TempDir()

	spec := mustParse(t, "{grayscale}")
	out, err := m.Transcoder.RunChain(ctx, src, spec, filepath.Join(outDir, "gray.mp4"))
	require.NoError(t, err)
	assert.FileExists(t, out)

	fitted, err := m.Transcoder.FitToSize(ctx, src, 1_000_000, 0, filepath.Join(outDir, "small"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(fitted, "small.mp4"))
	assert.FileExists(t, fitted)
}
