package media

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mustParse(t *testing.T, text string) *effects.Spec {
	t.Helper()
	spec, warnings, err := effects.NewParser(effects.Default()).Parse(text)
	require.NoError(t, err)
	require.Empty(t, warnings)
	return spec
}

func TestChainExecutorAppliesEffectsInOrder(t *testing.T) {
	ffmpeg := newFakeFFmpeg(t, writesBytes(64))
	chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
	src := t.TempDir()
	work := t.TempDir()
	asset := videoAsset(touch(t, src, "in.mov"))

	var stages []string
	out, err := chain.Execute(context.Background(), asset, mustParse(t, "{vflip,lowpass,hflip}"), work,
		func(stage string, _ float64) {
			if len(stages) == 0 || stages[len(stages)-1] != stage {
				stages = append(stages, stage)
			}
		})
	require.NoError(t, err)

	calls := ffmpeg.calls(t)
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0], "-vf vflip")
	assert.Contains(t, calls[0], "-i "+asset.Path)
	assert.Contains(t, calls[1], "-af lowpass=f=1000")
	assert.Contains(t, calls[1], "-c:v copy")
	assert.Contains(t, calls[2], "-vf hflip")
	assert.Equal(t, []string{"effect:vflip", "effect:lowpass", "effect:hflip"}, stages)

	assert.Equal(t, ".mp4", filepath.Ext(out))
	assert.FileExists(t, out)
	// only the final file survives
	assert.Equal(t, []string{filepath.Base(out)}, dirEntries(t, work))
}

func TestChainExecutorAudioEffectVideoStream(t *testing.T) {
	ctx := context.Background()

	t.Run("h264 source copies video", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(64))
		chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
		asset := videoAsset(touch(t, t.TempDir(), "in.mp4"))

		_, err := chain.Execute(ctx, asset, mustParse(t, "{lowpass}"), t.TempDir(), nil)
		require.NoError(t, err)
		calls := ffmpeg.calls(t)
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0], "-af lowpass=f=1000 -c:v copy")
	})

	for name, codec := range map[string]string{"vp8": "vp8", "theora": "theora", "flv1": "flv1", "unknown": ""} {
		t.Run("re-encodes "+name+" source", func(t *testing.T) {
			ffmpeg := newFakeFFmpeg(t, writesBytes(64))
			chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
			asset := videoAsset(touch(t, t.TempDir(), "in.webm"))
			asset.VideoCodec = codec

			out, err := chain.Execute(ctx, asset, mustParse(t, "{lowpass}"), t.TempDir(), nil)
			require.NoError(t, err)
			assert.Equal(t, ".mp4", filepath.Ext(out))

			calls := ffmpeg.calls(t)
			require.Len(t, calls, 1)
			assert.NotContains(t, calls[0], "-c:v copy")
			assert.Contains(t, calls[0], "-c:v libx264")
			assert.Contains(t, calls[0], "-c:a aac")
		})
	}
}

func TestChainExecutorTypeMismatch(t *testing.T) {
	ffmpeg := newFakeFFmpeg(t, writesBytes(64))
	chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
	work := t.TempDir()
	asset := audioAsset(touch(t, t.TempDir(), "song.mp3"))

	for _, text := range []string{"{hmirror}", "{lowpass,hmirror}", "{boomerang}"} {
		t.Run(text, func(t *testing.T) {
			_, err := chain.Execute(context.Background(), asset, mustParse(t, text), work, nil)
			require.Error(t, err)

			var mismatch *TypeMismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, CodeTypeMismatch, Code(err))
			assert.Empty(t, ffmpeg.calls(t))
			assert.Empty(t, dirEntries(t, work))
		})
	}

	t.Run("step attribution", func(t *testing.T) {
		_, err := chain.Execute(context.Background(), asset, mustParse(t, "{lowpass,hmirror}"), work, nil)
		var step *StepError
		require.True(t, errors.As(err, &step))
		assert.Equal(t, 1, step.Step)
		assert.Equal(t, "hmirror", step.Effect)
	})

	t.Run("raw video graph on audio", func(t *testing.T) {
		_, err := chain.Execute(context.Background(), asset, &effects.Spec{Raw: "hflip,scale=640:-2"}, work, nil)
		var mismatch *TypeMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, "raw", mismatch.Effect)
	})

	t.Run("audio effect on silent video", func(t *testing.T) {
		silent := videoAsset(asset.Path)
		silent.HasAudio = false
		_, err := chain.Execute(context.Background(), silent, mustParse(t, "{lowpass}"), work, nil)
		assert.Equal(t, CodeTypeMismatch, Code(err))
	})
}

func TestChainExecutorComplexEffectOnSilentVideo(t *testing.T) {
	for text, graph := range map[string]string{
		"{reverse}":   "-filter_complex [0:v]reverse[vout] -map [vout] -map 0:a:0?",
		"{speed=2}":   "-filter_complex [0:v]setpts=PTS/2[vout] -map [vout]",
		"{boomerang}": "concat=n=2:v=1:a=0[vout] -map [vout]",
		"{static}":    "[0:v]noise=alls=40",
	} {
		t.Run(text, func(t *testing.T) {
			ffmpeg := newFakeFFmpeg(t, writesBytes(64))
			chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
			asset := videoAsset(touch(t, t.TempDir(), "in.mp4"))
			asset.HasAudio = false

			_, err := chain.Execute(context.Background(), asset, mustParse(t, text), t.TempDir(), nil)
			require.NoError(t, err)

			calls := ffmpeg.calls(t)
			require.Len(t, calls, 1)
			assert.Contains(t, calls[0], graph)
			assert.NotContains(t, calls[0], "[0:a]")
			assert.NotContains(t, calls[0], "[aout]")
		})
	}

	t.Run("audio is kept when present", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(64))
		chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
		asset := videoAsset(touch(t, t.TempDir(), "in.mp4"))

		_, err := chain.Execute(context.Background(), asset, mustParse(t, "{reverse}"), t.TempDir(), nil)
		require.NoError(t, err)
		calls := ffmpeg.calls(t)
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0], "[0:a]areverse[aout]")
		assert.Contains(t, calls[0], "-map [aout]")
	})
}

func TestChainExecutorFailureCleansUp(t *testing.T) {
	ffmpeg := newFakeFFmpeg(t, `case "$*" in *"-vf hflip"*) echo "filter failed" >&2; exit 1 ;; esac
`+writesBytes(64))
	chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
	work := t.TempDir()
	asset := videoAsset(touch(t, t.TempDir(), "in.mp4"))

	_, err := chain.Execute(context.Background(), asset, mustParse(t, "{vflip,hflip}"), work, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessFailure)

	var step *StepError
	require.True(t, errors.As(err, &step))
	assert.Equal(t, 1, step.Step)
	assert.Equal(t, "hflip", step.Effect)

	assert.Len(t, ffmpeg.calls(t), 2)
	assert.Empty(t, dirEntries(t, work))
}

func TestChainExecutorStepIndexIgnoresTrim(t *testing.T) {
	ctx := context.Background()
	ffmpeg := newFakeFFmpeg(t, `case "$*" in *"-vf hflip"*) exit 1 ;; esac
`+writesBytes(64))
	chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
	asset := videoAsset(touch(t, t.TempDir(), "in.mp4"))

	for text, want := range map[string]int{
		"{start=10,hflip}":       0,
		"{start=10,vflip,hflip}": 1,
		"{vflip,hflip}":          1,
	} {
		t.Run(text, func(t *testing.T) {
			_, err := chain.Execute(ctx, asset, mustParse(t, text), t.TempDir(), nil)
			var step *StepError
			require.True(t, errors.As(err, &step))
			assert.Equal(t, want, step.Step)
			assert.Equal(t, "hflip", step.Effect)
		})
	}

	t.Run("compatibility check uses the same index", func(t *testing.T) {
		audio := audioAsset(touch(t, t.TempDir(), "song.mp3"))
		spec := mustParse(t, "{start=5,lowpass,hmirror}")

		var checked, executed *StepError
		require.True(t, errors.As(CheckCompatibility(audio, spec), &checked))
		_, err := chain.Execute(ctx, audio, spec, t.TempDir(), nil)
		require.True(t, errors.As(err, &executed))
		assert.Equal(t, 1, checked.Step)
		assert.Equal(t, checked.Step, executed.Step)
	})
}

func TestChainExecutorClip(t *testing.T) {
	ctx := context.Background()

	t.Run("clip only copies streams into the source container", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(64))
		chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
		asset := videoAsset(touch(t, t.TempDir(), "in.MOV"))

		out, err := chain.Execute(ctx, asset, &effects.Spec{Clip: &effects.ClipWindow{Start: 2, Duration: 5}}, t.TempDir(), nil)
		require.NoError(t, err)
		assert.Equal(t, ".mov", filepath.Ext(out))

		calls := ffmpeg.calls(t)
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0], "-ss 2.000 -t 5.000 -i")
		assert.Contains(t, calls[0], "-c copy")
	})

	t.Run("trim runs before effects", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(64))
		chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
		asset := videoAsset(touch(t, t.TempDir(), "in.mp4"))

		spec := mustParse(t, "{start=10,hflip}")
		out, err := chain.Execute(ctx, asset, spec, t.TempDir(), nil)
		require.NoError(t, err)
		assert.Equal(t, ".mp4", filepath.Ext(out))

		calls := ffmpeg.calls(t)
		require.Len(t, calls, 2)
		assert.Contains(t, calls[0], "-ss 10.000 -i")
		assert.Contains(t, calls[0], "libx264")
		assert.Contains(t, calls[1], "-vf hflip")
	})

	t.Run("start past the end", func(t *testing.T) {
		ffmpeg := newFakeFFmpeg(t, writesBytes(64))
		chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
		asset := audioAsset(touch(t, t.TempDir(), "in.mp3"))

		_, err := chain.Execute(ctx, asset, &effects.Spec{Clip: &effects.ClipWindow{Start: 31}}, t.TempDir(), nil)
		assert.ErrorIs(t, err, effects.ErrInvalidFilterSyntax)
		assert.Empty(t, ffmpeg.calls(t))
	})
}

func TestChainExecutorEmptySpec(t *testing.T) {
	ffmpeg := newFakeFFmpeg(t, writesBytes(64))
	chain := NewChainExecutor(newTestProcessor(ffmpeg), zap.NewNop())
	asset := audioAsset(touch(t, t.TempDir(), "in.mp3"))

	out, err := chain.Execute(context.Background(), asset, &effects.Spec{}, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, asset.Path, out)
	assert.Empty(t, ffmpeg.calls(t))
}

func TestRawArgsRouting(t *testing.T) {
	chain := NewChainExecutor(NewProcessor("", zap.NewNop()), zap.NewNop())
	video := videoAsset("in.mp4")
	audio := audioAsset("in.mp3")

	assert.Contains(t, chain.rawArgs(video, "[0:v]split[a][b];[a][b]hstack", false), "-filter_complex")
	assert.Contains(t, chain.rawArgs(video, "hflip,eq=contrast=2", false), "-vf")
	assert.Contains(t, chain.rawArgs(video, "volume=2", false), "-af")
	assert.Contains(t, chain.rawArgs(audio, "volume=2", false), "-af")
}
