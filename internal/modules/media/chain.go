package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	videoExt = ".mp4"
	audioExt = ".mp3"
)

// mp4VideoCodecs can be stream-copied into an MP4 output
var mp4VideoCodecs = []string{"h264", "hevc", "mpeg4", "av1", "vp9"}

// ProgressFunc receives a stage label and the fraction of that stage completed
type ProgressFunc func(stage string, fraction float64)

func (f ProgressFunc) stage(name string) func(float64) {
	if f == nil {
		return nil
	}
	return func(fraction float64) { f(name, fraction) }
}

// ChainExecutor applies a clip window and then each effect as its own ffmpeg pass
type ChainExecutor struct {
	processor *Processor
	logger    *zap.Logger
}

// NewChainExecutor creates a chain executor
func NewChainExecutor(processor *Processor, logger *zap.Logger) *ChainExecutor {
	return &ChainExecutor{processor: processor, logger: logger}
}

// rawVideoConstructs matches filter names and pads that only work on video
var rawVideoConstructs = regexp.MustCompile(`\[\d+:v\]|\b(scale|crop|pad|hflip|vflip|transpose|rotate|negate|hue|eq|boxblur|gblur|unsharp|overlay|hstack|vstack|xstack|drawtext|fps|setpts|colorchannelmixer|edgedetect|vignette|noise|zoompan|reverse|split|tile)\b`)

// CheckCompatibility reports a *TypeMismatchError for the first step of spec
// that needs a stream asset does not have
func CheckCompatibility(asset *MediaAsset, spec *effects.Spec) error {
	if spec.IsRaw() {
		if !asset.IsVideo && rawVideoConstructs.MatchString(spec.Raw) {
			return &TypeMismatchError{Effect: "raw"}
		}
		return nil
	}
	for i, inv := range spec.Effects {
		if err := checkInvocation(asset, inv, ""); err != nil {
			return &StepError{Step: i, Effect: inv.Name, Err: err}
		}
	}
	return nil
}

func checkInvocation(asset *MediaAsset, inv effects.Invocation, fragment string) error {
	switch {
	case inv.Kind.RequiresVideo() && !asset.IsVideo:
		return &TypeMismatchError{Effect: inv.Name}
	case inv.Kind == effects.KindAudio && !asset.HasAudio:
		return &TypeMismatchError{Effect: inv.Name, Reason: "the input has no audio stream"}
	case fragment != "" && strings.Contains(fragment, "[0:a]") && !asset.HasAudio:
		return &TypeMismatchError{Effect: inv.Name, Reason: "the input has no audio stream"}
	}
	return nil
}

// fragmentFor picks the video-only variant of a complex effect when the
// input has no audio stream
func fragmentFor(asset *MediaAsset, inv effects.Invocation) string {
	if asset.IsVideo && !asset.HasAudio {
		if fragment, ok := inv.SilentFragment(); ok {
			return fragment
		}
	}
	return inv.Fragment()
}

// Execute runs spec against asset inside workDir and returns the final file.
// When spec changes nothing the input path itself is returned. Only the final
// file is left in workDir; every other intermediate is removed on all paths.
func (c *ChainExecutor) Execute(ctx context.Context, asset *MediaAsset, spec *effects.Spec, workDir string, onProgress ProgressFunc) (string, error) {
	if spec == nil || spec.Empty() {
		return asset.Path, nil
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	fragments := make([]string, len(spec.Effects))
	for i, inv := range spec.Effects {
		fragments[i] = fragmentFor(asset, inv)
		if err := checkInvocation(asset, inv, fragments[i]); err != nil {
			return "", &StepError{Step: i, Effect: inv.Name, Err: err}
		}
	}
	if spec.IsRaw() && !asset.IsVideo && rawVideoConstructs.MatchString(spec.Raw) {
		return "", &TypeMismatchError{Effect: "raw"}
	}

	ext := audioExt
	if asset.IsVideo {
		ext = videoExt
	}

	current := asset.Path
	duration := asset.Duration
	intermediate := ""
	passes := 0

	advance := func(step int, label string, pass Pass) error {
		if err := c.processor.Run(ctx, pass); err != nil {
			if intermediate != "" {
				os.Remove(intermediate)
			}
			return &StepError{Step: step, Effect: label, Err: err}
		}
		// the previous file goes only once its successor exists
		if intermediate != "" {
			os.Remove(intermediate)
		}
		intermediate = pass.Output
		current = pass.Output
		passes++
		return nil
	}

	if clip := spec.Clip; !clip.IsNoop() {
		if clip.Start >= asset.Duration {
			return "", fmt.Errorf("%w: clip start %.2fs is past the end of the input (%.2fs)",
				effects.ErrInvalidFilterSyntax, clip.Start, asset.Duration)
		}
		duration = asset.Duration - clip.Start
		if clip.Duration > 0 {
			duration = min(duration, clip.Duration)
		}

		copyOnly := len(spec.Effects) == 0 && !spec.IsRaw()
		trimExt := ext
		if copyOnly {
			// stream copy keeps the source container
			trimExt = strings.ToLower(filepath.Ext(asset.Path))
			if trimExt == "" {
				trimExt = ext
			}
		}
		out := filepath.Join(workDir, fmt.Sprintf("step%02d-trim%s", passes, trimExt))
		pass := Pass{
			Op:         "trim",
			Inputs:     input(current, clip.Start, clip.Duration),
			Args:       c.trimArgs(asset, copyOnly),
			Output:     out,
			Duration:   duration,
			OnProgress: onProgress.stage("trim"),
		}
		if err := advance(0, "trim", pass); err != nil {
			return "", err
		}
	}

	if spec.IsRaw() {
		out := filepath.Join(workDir, fmt.Sprintf("step%02d-raw%s", passes, ext))
		pass := Pass{
			Op:         "raw",
			Inputs:     input(current, 0, 0),
			Args:       c.rawArgs(asset, spec.Raw, current != asset.Path),
			Output:     out,
			Duration:   duration,
			OnProgress: onProgress.stage("raw"),
		}
		if err := advance(0, "raw", pass); err != nil {
			return "", err
		}
		return current, nil
	}

	for i, inv := range spec.Effects {
		out := filepath.Join(workDir, fmt.Sprintf("step%02d-%s%s", passes, sanitizeName(inv.Name), ext))
		pass := Pass{
			Op:         "effect_" + inv.Kind.String(),
			Inputs:     input(current, 0, 0),
			Args:       c.effectArgs(asset, inv.Kind, fragments[i], current != asset.Path),
			Output:     out,
			Duration:   duration,
			OnProgress: onProgress.stage("effect:" + inv.Name),
		}
		c.logger.Debug("Applying effect",
			zap.Int("step", i),
			zap.String("effect", inv.Name),
			zap.String("kind", inv.Kind.String()),
		)
		if err := advance(i, inv.Name, pass); err != nil {
			c.processor.recorder.RecordEffect(inv.Name, false)
			return "", err
		}
		c.processor.recorder.RecordEffect(inv.Name, true)
	}

	return current, nil
}

func (c *ChainExecutor) trimArgs(asset *MediaAsset, copyOnly bool) []string {
	if copyOnly {
		return []string{"-map", "0", "-c", "copy", "-avoid_negative_ts", "make_zero"}
	}
	if asset.IsVideo {
		args := []string{"-map", "0:v:0", "-map", "0:a:0?"}
		args = append(args, c.softwareVideoCodec()...)
		return append(args, videoContainerAudio()...)
	}
	return append([]string{"-map", "0:a:0"}, audioContainerAudio()...)
}

// effectArgs builds one pass for one effect. Audio is re-encoded only when
// the pass reads the original source, whose codec may not fit the container.
// Audio effects copy the video stream unless it came from a source whose codec
// MP4 cannot carry.
func (c *ChainExecutor) effectArgs(asset *MediaAsset, kind effects.Kind, fragment string, fromIntermediate bool) []string {
	switch kind {
	case effects.KindVideo:
		args := []string{"-map", "0:v:0", "-map", "0:a:0?", "-vf", fragment}
		args = append(args, c.softwareVideoCodec()...)
		if fromIntermediate {
			return append(args, "-c:a", "copy", "-movflags", "+faststart")
		}
		return append(args, videoContainerAudio()...)

	case effects.KindComplex:
		args := []string{"-filter_complex", fragment, "-map", "[vout]"}
		if strings.Contains(fragment, "[aout]") {
			args = append(args, "-map", "[aout]")
		} else {
			args = append(args, "-map", "0:a:0?")
		}
		args = append(args, c.softwareVideoCodec()...)
		return append(args, videoContainerAudio()...)

	default:
		if asset.IsVideo {
			args := []string{"-map", "0:v:0", "-map", "0:a:0", "-af", fragment}
			if fromIntermediate || lo.Contains(mp4VideoCodecs, asset.VideoCodec) {
				args = append(args, "-c:v", "copy")
			} else {
				args = append(args, c.softwareVideoCodec()...)
			}
			return append(args, videoContainerAudio()...)
		}
		args := []string{"-map", "0:a:0", "-af", fragment}
		return append(args, audioContainerAudio()...)
	}
}

func (c *ChainExecutor) rawArgs(asset *MediaAsset, graph string, fromIntermediate bool) []string {
	switch {
	case strings.ContainsAny(graph, "[;"):
		args := []string{"-filter_complex", graph}
		if asset.IsVideo {
			args = append(args, c.softwareVideoCodec()...)
			return append(args, videoContainerAudio()...)
		}
		return append(args, audioContainerAudio()...)
	case asset.IsVideo && rawVideoConstructs.MatchString(graph):
		return c.effectArgs(asset, effects.KindVideo, graph, fromIntermediate)
	default:
		return c.effectArgs(asset, effects.KindAudio, graph, fromIntermediate)
	}
}

func (c *ChainExecutor) softwareVideoCodec() []string {
	return []string{"-c:v", "libx264", "-preset", c.processor.preset(), "-crf", "20", "-pix_fmt", "yuv420p"}
}

func videoContainerAudio() []string {
	return []string{"-c:a", "aac", "-b:a", "192k", "-movflags", "+faststart"}
}

func audioContainerAudio() []string {
	return []string{"-vn", "-c:a", "libmp3lame", "-b:a", "192k"}
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToLower(name))
}
