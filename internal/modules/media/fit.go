package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	containerOverhead = 0.95 // share of the ceiling available to streams
	maxAudioKbps      = 192
	minAudioKbps      = 64
	minVideoKbps      = 150
	maxVideoKbps      = 8000
	ladderVideoFloor  = 64

	loudnessFilter = "loudnorm=I=-16:TP=-1.5:LRA=11"
)

// Backend selects the H.264 encoder family
type Backend int

const (
	BackendSoftware Backend = iota
	BackendHardware
)

func (b Backend) String() string {
	if b == BackendHardware {
		return "hardware"
	}
	return "software"
}

// EncodeAttempt is one size-fitting encode configuration
type EncodeAttempt struct {
	Label        string
	TargetHeight int // 0 keeps the source height
	Quality      int // x264 CRF; 0 means bitrate-driven
	AudioKbps    int
	VideoKbps    int     // 0 derives the rate from the budget
	TrimSeconds  float64 // 0 keeps the full length
	Backend      Backend
}

func (a EncodeAttempt) String() string {
	s := a.Label
	if a.TrimSeconds > 0 {
		s += fmt.Sprintf(" trim=%gs", a.TrimSeconds)
	}
	return s
}

// VideoLadder is tried after the primary attempt, most faithful first
func VideoLadder() []EncodeAttempt {
	return []EncodeAttempt{
		{Label: "720p", TargetHeight: 720, Quality: 28, AudioKbps: 128},
		{Label: "480p", TargetHeight: 480, Quality: 30, AudioKbps: 96},
		{Label: "360p", TargetHeight: 360, Quality: 32, AudioKbps: 96},
		{Label: "240p", TargetHeight: 240, Quality: 35, AudioKbps: 64},
		{Label: "240p-4m", TargetHeight: 240, Quality: 35, AudioKbps: 64, TrimSeconds: 240},
		{Label: "240p-2m", TargetHeight: 240, Quality: 35, AudioKbps: 64, TrimSeconds: 120},
		{Label: "240p-1m", TargetHeight: 240, Quality: 35, AudioKbps: 64, TrimSeconds: 60},
	}
}

// AudioLadder is the audio-only counterpart of VideoLadder
func AudioLadder() []EncodeAttempt {
	return []EncodeAttempt{
		{Label: "128k", AudioKbps: 128},
		{Label: "96k", AudioKbps: 96},
		{Label: "64k", AudioKbps: 64},
		{Label: "64k-4m", AudioKbps: 64, TrimSeconds: 240},
		{Label: "64k-2m", AudioKbps: 64, TrimSeconds: 120},
		{Label: "64k-1m", AudioKbps: 64, TrimSeconds: 60},
	}
}

// BitratePlan is the primary attempt derived from the budget
type BitratePlan struct {
	AudioKbps   int
	VideoKbps   int
	Height      int
	TrimSeconds float64 // 0 when the full duration fits at the floor rates
	TooLarge    bool    // not even one second fits at the floor rates
}

// budgetKbps is the total stream bitrate that fits ceilingBytes over seconds
func budgetKbps(ceilingBytes int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(ceilingBytes) * 8 * containerOverhead / seconds / 1000
}

// maxDurationAt returns how many seconds fit in ceilingBytes at kbps
func maxDurationAt(ceilingBytes int64, kbps int) float64 {
	return math.Floor(float64(ceilingBytes) * 8 * containerOverhead / float64(kbps*1000))
}

// videoAudioFloor reserves more audio bitrate for short clips
func videoAudioFloor(seconds float64) int {
	switch {
	case seconds < 120:
		return 160
	case seconds < 600:
		return 144
	default:
		return 128
	}
}

// heightForBitrate picks an output height for a video bitrate, never upscaling
func heightForBitrate(videoKbps, sourceHeight int) int {
	var h int
	switch {
	case videoKbps >= 2500:
		h = 1080
	case videoKbps >= 1200:
		h = 720
	case videoKbps >= 600:
		h = 480
	default:
		h = 360
	}
	if sourceHeight > 0 && sourceHeight < h {
		return sourceHeight
	}
	return h
}

// PlanBitrates computes the primary attempt for asset under ceilingBytes
func PlanBitrates(asset *MediaAsset, ceilingBytes int64) BitratePlan {
	total := budgetKbps(ceilingBytes, asset.Duration)

	if !asset.IsVideo {
		audio := int(math.Min(maxAudioKbps, math.Floor(total)))
		if audio >= minAudioKbps {
			return BitratePlan{AudioKbps: audio}
		}
		trim := maxDurationAt(ceilingBytes, minAudioKbps)
		return BitratePlan{AudioKbps: minAudioKbps, TrimSeconds: trim, TooLarge: trim < 1}
	}

	audio := 0
	if asset.HasAudio {
		audio = videoAudioFloor(asset.Duration)
	}
	plan := BitratePlan{AudioKbps: audio}

	video := int(math.Floor(total)) - audio
	if video < minVideoKbps {
		video = minVideoKbps
		plan.TrimSeconds = maxDurationAt(ceilingBytes, minVideoKbps+audio)
		plan.TooLarge = plan.TrimSeconds < 1
	}
	plan.VideoKbps = min(video, maxVideoKbps)
	plan.Height = heightForBitrate(plan.VideoKbps, asset.Height)
	return plan
}

// FitOptions tunes a single Fit call
type FitOptions struct {
	WorkDir    string
	Deadline   time.Duration // per attempt; 0 uses the processor default
	OnProgress ProgressFunc
}

// FitResult describes the attempt that met the ceiling
type FitResult struct {
	Path    string
	Size    int64
	Attempt EncodeAttempt
	Tries   int
}

// SizeFittingEncoder re-encodes media until it fits under a byte ceiling
type SizeFittingEncoder struct {
	processor *Processor
	logger    *zap.Logger
}

// NewSizeFittingEncoder creates an encoder
func NewSizeFittingEncoder(processor *Processor, logger *zap.Logger) *SizeFittingEncoder {
	return &SizeFittingEncoder{processor: processor, logger: logger}
}

// Attempts returns the primary attempt followed by the applicable ladder.
// Ladder steps never exceed the primary's height, audio rate or length, trim
// steps that would not shorten the input are dropped and heights are never
// raised above the source.
func (e *SizeFittingEncoder) Attempts(asset *MediaAsset, ceilingBytes int64) []EncodeAttempt {
	return e.attemptsFor(asset, PlanBitrates(asset, ceilingBytes))
}

func (e *SizeFittingEncoder) attemptsFor(asset *MediaAsset, plan BitratePlan) []EncodeAttempt {
	primary := EncodeAttempt{
		Label:        "primary",
		TargetHeight: plan.Height,
		AudioKbps:    plan.AudioKbps,
		VideoKbps:    plan.VideoKbps,
		TrimSeconds:  plan.TrimSeconds,
	}
	if asset.IsVideo && e.processor.hardwareEncoder() != "" {
		primary.Backend = BackendHardware
	}

	ladder := AudioLadder()
	if asset.IsVideo {
		ladder = VideoLadder()
	}

	attempts := []EncodeAttempt{primary}
	for _, a := range ladder {
		if a.TrimSeconds > 0 && a.TrimSeconds >= asset.Duration {
			continue
		}
		if asset.Height > 0 && a.TargetHeight > asset.Height {
			a.TargetHeight = asset.Height
		}
		if !asset.HasAudio {
			a.AudioKbps = 0
		}
		if !withinPrimary(a, primary) {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts
}

// withinPrimary reports whether a degrades from the primary on every axis
func withinPrimary(a, primary EncodeAttempt) bool {
	if primary.TargetHeight > 0 && a.TargetHeight > primary.TargetHeight {
		return false
	}
	if a.AudioKbps > primary.AudioKbps {
		return false
	}
	if primary.TrimSeconds > 0 {
		return a.TrimSeconds > 0 && a.TrimSeconds <= primary.TrimSeconds
	}
	return true
}

// Fit encodes asset through the attempt list and returns the first output
// whose size is at most ceilingBytes. Timeouts and process failures move on to
// the next attempt, except on the last one where they are returned. An
// exhausted list ends in ErrSizeExceeded; no oversized file is ever returned.
// A ceiling too small for one second at the floor rates fails before encoding.
func (e *SizeFittingEncoder) Fit(ctx context.Context, asset *MediaAsset, ceilingBytes int64, opts FitOptions) (*FitResult, error) {
	if ceilingBytes <= 0 {
		return nil, fmt.Errorf("%w: ceiling must be positive", ErrInvalidSource)
	}

	plan := PlanBitrates(asset, ceilingBytes)
	if plan.TooLarge {
		return nil, fmt.Errorf("%w: ceiling %d bytes holds less than one second", ErrSizeExceeded, ceilingBytes)
	}
	attempts := e.attemptsFor(asset, plan)
	ext := audioExt
	if asset.IsVideo {
		ext = videoExt
	}

	for i, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := i == len(attempts)-1
		out := filepath.Join(opts.WorkDir, fmt.Sprintf("fit%02d-%s%s", i, sanitizeName(attempt.Label), ext))

		size, err := e.attempt(ctx, asset, ceilingBytes, attempt, out, opts)
		switch {
		case err != nil:
			e.processor.recorder.RecordLadderAttempt(attempt.Label, Code(err))
			e.logger.Warn("Size-fit attempt failed",
				zap.String("attempt", attempt.String()),
				zap.Error(err),
			)
			if last || ctx.Err() != nil {
				return nil, err
			}
			continue

		case size > ceilingBytes:
			os.Remove(out)
			e.processor.recorder.RecordLadderAttempt(attempt.Label, "oversize")
			e.logger.Info("Size-fit attempt over ceiling",
				zap.String("attempt", attempt.String()),
				zap.Int64("size_bytes", size),
				zap.Int64("ceiling_bytes", ceilingBytes),
			)
			continue
		}

		e.processor.recorder.RecordLadderAttempt(attempt.Label, "fit")
		e.logger.Info("Size-fit attempt succeeded",
			zap.String("attempt", attempt.String()),
			zap.Int64("size_bytes", size),
			zap.Int64("ceiling_bytes", ceilingBytes),
		)
		return &FitResult{Path: out, Size: size, Attempt: attempt, Tries: i + 1}, nil
	}

	return nil, fmt.Errorf("%w: %d attempts, ceiling %d bytes", ErrSizeExceeded, len(attempts), ceilingBytes)
}

// attempt runs one encode and returns the output size
func (e *SizeFittingEncoder) attempt(ctx context.Context, asset *MediaAsset, ceilingBytes int64, a EncodeAttempt, out string, opts FitOptions) (int64, error) {
	duration := asset.Duration
	if a.TrimSeconds > 0 {
		duration = math.Min(duration, a.TrimSeconds)
	}

	pass := Pass{
		Op:         "fit_" + a.Backend.String(),
		Inputs:     input(asset.Path, 0, a.TrimSeconds),
		Args:       e.AttemptArgs(asset, ceilingBytes, a),
		Output:     out,
		Duration:   duration,
		Timeout:    opts.Deadline,
		OnProgress: opts.OnProgress.stage("fit:" + a.Label),
	}
	if err := e.processor.Run(ctx, pass); err != nil {
		return 0, err
	}

	info, err := os.Stat(out)
	if err != nil {
		return 0, &ProcessError{Op: pass.Op, Err: fmt.Errorf("no output written: %w", err)}
	}
	return info.Size(), nil
}

// AttemptArgs builds the ffmpeg arguments for one attempt, excluding inputs and output
func (e *SizeFittingEncoder) AttemptArgs(asset *MediaAsset, ceilingBytes int64, a EncodeAttempt) []string {
	audio := []string{"-af", loudnessFilter, "-ac", "2"}

	if !asset.IsVideo {
		args := []string{"-map", "0:a:0", "-vn"}
		args = append(args, audio...)
		return append(args, "-c:a", "libmp3lame", "-b:a", kbps(a.AudioKbps))
	}

	args := []string{"-map", "0:v:0"}
	if asset.HasAudio {
		args = append(args, "-map", "0:a:0")
	}
	if a.TargetHeight > 0 && (asset.Height == 0 || a.TargetHeight < asset.Height) {
		args = append(args, "-vf", "scale=-2:"+strconv.Itoa(a.TargetHeight))
	}

	video := a.VideoKbps
	if video == 0 {
		duration := asset.Duration
		if a.TrimSeconds > 0 {
			duration = math.Min(duration, a.TrimSeconds)
		}
		video = max(int(budgetKbps(ceilingBytes, duration))-a.AudioKbps, ladderVideoFloor)
	}
	rate := kbps(video)
	bufsize := kbps(2 * video)

	switch {
	case a.Backend == BackendHardware:
		args = append(args, "-c:v", e.processor.hardwareEncoder(), "-b:v", rate, "-maxrate", rate, "-bufsize", bufsize)
	case a.Quality > 0:
		args = append(args, "-c:v", "libx264", "-preset", e.processor.preset(),
			"-crf", strconv.Itoa(a.Quality), "-maxrate", rate, "-bufsize", bufsize)
	default:
		args = append(args, "-c:v", "libx264", "-preset", e.processor.preset(),
			"-b:v", rate, "-maxrate", rate, "-bufsize", bufsize)
	}
	args = append(args, "-pix_fmt", "yuv420p")

	if asset.HasAudio {
		args = append(args, audio...)
		args = append(args, "-c:a", "aac", "-b:a", kbps(a.AudioKbps))
	}
	return append(args, "-movflags", "+faststart")
}

func kbps(n int) string {
	return strconv.Itoa(n) + "k"
}
