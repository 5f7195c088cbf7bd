package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseProbeJSON(t *testing.T) {
	t.Run("video with audio", func(t *testing.T) {
		asset, err := ParseProbeJSON([]byte(probeVideoJSON))
		require.NoError(t, err)
		assert.True(t, asset.IsVideo)
		assert.True(t, asset.HasAudio)
		assert.Equal(t, 100.0, asset.Duration)
		assert.Equal(t, 1920, asset.Width)
		assert.Equal(t, 1080, asset.Height)
		assert.Equal(t, "h264", asset.VideoCodec)
		assert.Equal(t, int64(5000000), asset.Size)
	})

	t.Run("cover art is not video", func(t *testing.T) {
		data := `{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":500,"height":500,"disposition":{"attached_pic":1}}],"format":{"duration":"12.5"}}`
		asset, err := ParseProbeJSON([]byte(data))
		require.NoError(t, err)
		assert.False(t, asset.IsVideo)
		assert.True(t, asset.HasAudio)
		assert.Zero(t, asset.Height)
	})

	t.Run("duration falls back to the stream", func(t *testing.T) {
		data := `{"streams":[{"codec_type":"audio","duration":"7.25"}],"format":{"duration":"N/A"}}`
		asset, err := ParseProbeJSON([]byte(data))
		require.NoError(t, err)
		assert.Equal(t, 7.25, asset.Duration)
	})

	for name, data := range map[string]string{
		"garbage":          `not json`,
		"no streams":       `{"streams":[],"format":{"duration":"1"}}`,
		"subtitles only":   `{"streams":[{"codec_type":"subtitle"}],"format":{"duration":"1"}}`,
		"unknown duration": `{"streams":[{"codec_type":"audio"}],"format":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProbeJSON([]byte(data))
			assert.ErrorIs(t, err, ErrProbeFailure)
		})
	}
}

func TestProber(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := NewProber("", zap.NewNop()).Probe(ctx, "/does/not/exist.mp4")
		assert.ErrorIs(t, err, ErrFileNotFound)
		assert.Equal(t, CodeFileNotFound, Code(err))
	})

	t.Run("directory", func(t *testing.T) {
		_, err := NewProber("", zap.NewNop()).Probe(ctx, t.TempDir())
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("runs ffprobe", func(t *testing.T) {
		prober := NewProber(newFakeFFprobe(t), zap.NewNop())
		dir := t.TempDir()

		video, err := prober.Probe(ctx, touch(t, dir, "clip.mkv"))
		require.NoError(t, err)
		assert.True(t, video.IsVideo)
		assert.Contains(t, video.Path, "clip.mkv")

		audio, err := prober.Probe(ctx, touch(t, dir, "song.mp3"))
		require.NoError(t, err)
		assert.False(t, audio.IsVideo)
		assert.Equal(t, 30.0, audio.Duration)
	})

	t.Run("ffprobe failure", func(t *testing.T) {
		requireShell(t)
		bin := writeScript(t, t.TempDir(), "ffprobe", "echo 'Invalid data found' >&2\nexit 1\n")
		_, err := NewProber(bin, zap.NewNop()).Probe(ctx, touch(t, t.TempDir(), "broken.mp4"))
		assert.ErrorIs(t, err, ErrProbeFailure)
		assert.Contains(t, err.Error(), "Invalid data found")
	})
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeOK},
		{fmt.Errorf("wrap: %w", ErrFileNotFound), CodeFileNotFound},
		{fmt.Errorf("%w: bad", effects.ErrInvalidFilterSyntax), CodeInvalidFilter},
		{effects.Strict([]error{&effects.UnknownEffectError{Name: "flarp"}}), CodeUnknownEffect},
		{&StepError{Step: 2, Effect: "hflip", Err: &TypeMismatchError{Effect: "hflip"}}, CodeTypeMismatch},
		{&StepError{Step: 0, Effect: "trim", Err: fmt.Errorf("trim: %w", ErrTimeout)}, CodeTimeout},
		{fmt.Errorf("%w: 7 attempts", ErrSizeExceeded), CodeSizeExceeded},
		{&ProcessError{Op: "fit", Err: errors.New("exit status 1")}, CodeProcessFailure},
		{ErrProbeFailure, CodeProbeFailure},
		{ErrInvalidSource, CodeInvalidRequest},
		{errors.New("disk full"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "%v", tt.err)
	}
}

func TestTypeMismatchError(t *testing.T) {
	err := &TypeMismatchError{Effect: "hmirror"}
	assert.Contains(t, err.Error(), "hmirror")
}
