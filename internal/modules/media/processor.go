package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAttemptTimeout bounds every single ffmpeg pass
	DefaultAttemptTimeout = 80 * time.Second
	killGrace             = 2 * time.Second
	stderrTailLines       = 15
)

// Recorder receives per-pass measurements
type Recorder interface {
	RecordFFmpegOperation(operation string, success bool, duration time.Duration)
	RecordFFmpegError(operation, errorType string)
	RecordLadderAttempt(step, outcome string)
	RecordEffect(name string, applied bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordFFmpegOperation(string, bool, time.Duration) {}
func (nopRecorder) RecordFFmpegError(string, string) {}
func (nopRecorder) RecordLadderAttempt(string, string) {}
func (nopRecorder) RecordEffect(string, bool) {}

// Processor runs ffmpeg passes
type Processor struct {
	ffmpegPath        string
	logger            *zap.Logger
	recorder          Recorder
	maxThreads        int  // Limit CPU threads (0 = auto)
	useHardwareAccel  bool // Prefer a hardware encoder for size-fit primary attempts
	hwEncoder         string
	preferFastPresets bool
	attemptTimeout    time.Duration
}

// ProcessorConfig configures processor behavior
type ProcessorConfig struct {
	FFmpegPath        string
	MaxThreads        int  // 0 = unlimited, recommended: 2-4 for background processing
	UseHardwareAccel  bool // VideoToolbox on macOS, NVENC elsewhere
	HWEncoder         string
	PreferFastPresets bool // "veryfast" instead of "medium"
	AttemptTimeout    time.Duration
	Recorder          Recorder
}

// NewProcessor creates a processor with cloud-friendly defaults
func NewProcessor(ffmpegPath string, logger *zap.Logger) *Processor {
	return NewProcessorWithConfig(ProcessorConfig{
		FFmpegPath:        ffmpegPath,
		PreferFastPresets: true,
	}, logger)
}

// NewProcessorWithConfig creates a processor with custom configuration
func NewProcessorWithConfig(config ProcessorConfig, logger *zap.Logger) *Processor {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	return &Processor{
		ffmpegPath:        config.FFmpegPath,
		logger:            logger,
		recorder:          config.Recorder,
		maxThreads:        config.MaxThreads,
		useHardwareAccel:  config.UseHardwareAccel,
		hwEncoder:         config.HWEncoder,
		preferFastPresets: config.PreferFastPresets,
		attemptTimeout:    config.AttemptTimeout,
	}
}

// Pass is a single ffmpeg invocation producing one output file
type Pass struct {
	Op         string   // label for logs and metrics
	Inputs     []string // input arguments, each group ending in -i <path>
	Args       []string // everything between the inputs and the output path
	Output     string
	Duration   float64       // expected output duration, for progress
	Timeout    time.Duration // overrides the processor's attempt timeout
	OnProgress func(fraction float64)
}

// Run executes one pass under its own deadline. On expiry ffmpeg receives
// SIGTERM, is killed after a short grace period, the partial output is removed
// and ErrTimeout is returned. Any other failure is a *ProcessError.
func (p *Processor) Run(ctx context.Context, pass Pass) error {
	timeout := pass.Timeout
	if timeout <= 0 {
		timeout = p.attemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := p.buildArgs(pass)
	p.logger.Debug("Executing FFmpeg",
		zap.String("op", pass.Op),
		zap.String("output", pass.Output),
		zap.Strings("args", args),
	)

	cmd := exec.CommandContext(attemptCtx, p.ffmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	sink := newStderrSink(pass.Duration, pass.OnProgress)
	cmd.Stderr = sink

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		if pass.OnProgress != nil {
			pass.OnProgress(1)
		}
		p.recorder.RecordFFmpegOperation(pass.Op, true, elapsed)
		return nil
	}

	removeQuietly(pass.Output)
	p.recorder.RecordFFmpegOperation(pass.Op, false, elapsed)

	switch {
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		p.recorder.RecordFFmpegError(pass.Op, "timeout")
		p.logger.Warn("FFmpeg attempt timed out",
			zap.String("op", pass.Op),
			zap.Duration("timeout", timeout),
		)
		return fmt.Errorf("%s: %w after %s", pass.Op, ErrTimeout, timeout)
	case ctx.Err() != nil:
		p.recorder.RecordFFmpegError(pass.Op, "canceled")
		return fmt.Errorf("%s: %w", pass.Op, ctx.Err())
	}

	tail := sink.Tail()
	p.recorder.RecordFFmpegError(pass.Op, "process")
	p.logger.Warn("FFmpeg execution failed",
		zap.String("op", pass.Op),
		zap.Error(err),
		zap.String("stderr", tail),
	)
	return &ProcessError{Op: pass.Op, Stderr: tail, Err: err}
}

func (p *Processor) buildArgs(pass Pass) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}

	// Limit CPU threads to reduce system load
	if p.maxThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(p.maxThreads))
	}
	args = append(args, pass.Inputs...)
	args = append(args, pass.Args...)
	return append(args, pass.Output)
}

// preset returns the x264 preset for software encodes
func (p *Processor) preset() string {
	if p.preferFastPresets {
		return "veryfast"
	}
	return "medium"
}

// hardwareEncoder returns the hardware H.264 encoder, or "" when disabled
func (p *Processor) hardwareEncoder() string {
	if !p.useHardwareAccel {
		return ""
	}
	if p.hwEncoder != "" {
		return p.hwEncoder
	}
	if runtime.GOOS == "darwin" {
		return "h264_videotoolbox"
	}
	return "h264_nvenc"
}

// input returns the arguments reading one file, optionally windowed
func input(path string, start, duration float64) []string {
	var args []string
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	if duration > 0 {
		args = append(args, "-t", formatSeconds(duration))
	}
	return append(args, "-i", path)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}

var progressRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// stderrSink parses ffmpeg's stats lines for progress and keeps the last
// lines of output for error reports. ffmpeg ends stats lines with '\r'.
type stderrSink struct {
	mu         sync.Mutex
	duration   float64
	onProgress func(float64)
	partial    []byte
	tail       []string
}

func newStderrSink(duration float64, onProgress func(float64)) *stderrSink {
	return &stderrSink{duration: duration, onProgress: onProgress}
}

func (s *stderrSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial = append(s.partial, b...)
	for {
		idx := strings.IndexAny(string(s.partial), "\r\n")
		if idx < 0 {
			break
		}
		s.line(string(s.partial[:idx]))
		s.partial = s.partial[idx+1:]
	}
	return len(b), nil
}

func (s *stderrSink) line(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if matches := progressRegex.FindStringSubmatch(line); matches != nil {
		if s.onProgress != nil && s.duration > 0 {
			hours, _ := strconv.Atoi(matches[1])
			minutes, _ := strconv.Atoi(matches[2])
			seconds, _ := strconv.Atoi(matches[3])
			frac, _ := strconv.ParseFloat("0."+matches[4], 64)
			elapsed := float64(hours*3600+minutes*60+seconds) + frac
			s.onProgress(min(elapsed/s.duration, 1))
		}
		return
	}

	s.tail = append(s.tail, line)
	if len(s.tail) > stderrTailLines {
		s.tail = s.tail[len(s.tail)-stderrTailLines:]
	}
}

// Tail returns the last non-progress stderr lines
func (s *stderrSink) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.tail
	if rest := strings.TrimSpace(string(s.partial)); rest != "" {
		lines = append(append([]string(nil), lines...), rest)
	}
	return strings.Join(lines, "\n")
}
