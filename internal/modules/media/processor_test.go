package media

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProcessor(t *testing.T) {
	logger := zap.NewNop()

	t.Run("creates processor with defaults", func(t *testing.T) {
		p := NewProcessor("", logger)
		assert.NotNil(t, p)
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, 0, p.maxThreads)
		assert.False(t, p.useHardwareAccel)
		assert.True(t, p.preferFastPresets)
		assert.Equal(t, DefaultAttemptTimeout, p.attemptTimeout)
	})

	t.Run("creates processor with custom ffmpeg path", func(t *testing.T) {
		p := NewProcessor("/usr/local/bin/ffmpeg", logger)
		assert.Equal(t, "/usr/local/bin/ffmpeg", p.ffmpegPath)
	})
}

func TestNewProcessorWithConfig(t *testing.T) {
	logger := zap.NewNop()

	t.Run("creates processor with custom config", func(t *testing.T) {
		config := ProcessorConfig{
			FFmpegPath:        "/custom/ffmpeg",
			MaxThreads:        4,
			UseHardwareAccel:  true,
			PreferFastPresets: false,
			AttemptTimeout:    10 * time.Second,
		}
		p := NewProcessorWithConfig(config, logger)
		assert.Equal(t, "/custom/ffmpeg", p.ffmpegPath)
		assert.Equal(t, 4, p.maxThreads)
		assert.True(t, p.useHardwareAccel)
		assert.False(t, p.preferFastPresets)
		assert.Equal(t, "medium", p.preset())
		assert.Equal(t, 10*time.Second, p.attemptTimeout)
	})

	t.Run("defaults ffmpeg path if empty", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{}, logger)
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, "veryfast", NewProcessorWithConfig(ProcessorConfig{PreferFastPresets: true}, logger).preset())
	})
}

func TestHardwareEncoder(t *testing.T) {
	logger := zap.NewNop()

	t.Run("disabled", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{HWEncoder: "h264_vaapi"}, logger)
		assert.Empty(t, p.hardwareEncoder())
	})

	t.Run("explicit encoder wins", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{UseHardwareAccel: true, HWEncoder: "h264_vaapi"}, logger)
		assert.Equal(t, "h264_vaapi", p.hardwareEncoder())
	})

	t.Run("platform default", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{UseHardwareAccel: true}, logger)
		assert.Contains(t, []string{"h264_videotoolbox", "h264_nvenc"}, p.hardwareEncoder())
	})
}

func TestBuildArgs(t *testing.T) {
	p := NewProcessorWithConfig(ProcessorConfig{MaxThreads: 2}, zap.NewNop())
	args := p.buildArgs(Pass{
		Inputs: input("in.mp4", 1.5, 3),
		Args:   []string{"-vf", "hflip"},
		Output: "out.mp4",
	})
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-y",
		"-threads", "2",
		"-ss", "1.500", "-t", "3.000", "-i", "in.mp4",
		"-vf", "hflip",
		"out.mp4",
	}, args)
}

func TestStderrSink(t *testing.T) {
	t.Run("parses progress from carriage-return stats lines", func(t *testing.T) {
		var got []float64
		sink := newStderrSink(10, func(f float64) { got = append(got, f) })

		_, err := sink.Write([]byte("frame=  1 time=00:00:02.50 bitrate=1k\rframe=  2 time=00:00:0"))
		require.NoError(t, err)
		_, err = sink.Write([]byte("5.00 bitrate=1k\rframe=  3 time=00:00:30.00 bitrate=1k\n"))
		require.NoError(t, err)

		require.Len(t, got, 3)
		assert.InDelta(t, 0.25, got[0], 1e-9)
		assert.InDelta(t, 0.5, got[1], 1e-9)
		assert.Equal(t, 1.0, got[2])
		assert.Empty(t, sink.Tail())
	})

	t.Run("keeps a bounded tail of other lines", func(t *testing.T) {
		sink := newStderrSink(0, nil)
		for i := 0; i < 40; i++ {
			sink.Write([]byte("line\n"))
		}
		sink.Write([]byte("Conversion failed!"))

		lines := strings.Split(sink.Tail(), "\n")
		assert.Len(t, lines, stderrTailLines+1)
		assert.Equal(t, "Conversion failed!", lines[len(lines)-1])
	})
}

func TestProcessorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("success reports completion", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, "echo 'time=00:00:01.00' >&2\n"+writesBytes(10))
		p := newTestProcessor(ffmpeg)
		out := filepath.Join(t.TempDir(), "out.mp4")

		var last float64
		err := p.Run(ctx, Pass{Op: "test", Inputs: input("in.mp4", 0, 0), Output: out, Duration: 2,
			OnProgress: func(f float64) { last = f }})
		require.NoError(t, err)
		assert.FileExists(t, out)
		assert.Equal(t, 1.0, last)

		calls := ffmpeg.calls(t)
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0], "-i in.mp4")
	})

	t.Run("failure is a process error with the stderr tail", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, "echo partial > \"$last\"\necho 'No such filter' >&2\nexit 1\n")
		p := newTestProcessor(ffmpeg)
		out := filepath.Join(t.TempDir(), "out.mp4")

		err := p.Run(ctx, Pass{Op: "test", Output: out})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProcessFailure)
		assert.NotErrorIs(t, err, ErrTimeout)

		var perr *ProcessError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, perr.Stderr, "No such filter")
		assert.NoFileExists(t, out)
		assert.Equal(t, CodeProcessFailure, Code(err))
	})

	t.Run("deadline terminates the process", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, "echo partial > \"$last\"\nexec sleep 5\n")
		p := newTestProcessor(ffmpeg)
		out := filepath.Join(t.TempDir(), "out.mp4")

		start := time.Now()
		err := p.Run(ctx, Pass{Op: "test", Output: out, Timeout: 200 * time.Millisecond})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.NotErrorIs(t, err, ErrProcessFailure)
		assert.Less(t, time.Since(start), 4*time.Second)
		assert.NoFileExists(t, out)
		assert.Equal(t, CodeTimeout, Code(err))
	})

	t.Run("one millisecond deadline", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, "exec sleep 5\n")
		p := newTestProcessor(ffmpeg)

		err := p.Run(ctx, Pass{Op: "test", Output: filepath.Join(t.TempDir(), "out.mp4"), Timeout: time.Millisecond})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, "exec sleep 5\n")
		p := newTestProcessor(ffmpeg)

		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(100*time.Millisecond, cancel)
		err := p.Run(cctx, Pass{Op: "test", Output: filepath.Join(t.TempDir(), "out.mp4")})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})
}
