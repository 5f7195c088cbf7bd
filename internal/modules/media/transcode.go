package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"go.uber.org/zap"
)

// TranscodeOptions configures one Transcode call
type TranscodeOptions struct {
	FilterSpecText string
	Clip           *effects.ClipWindow // overrides any clip keys in the filter text
	CeilingBytes   int64               // 0 skips size fitting
	Deadline       time.Duration       // per ffmpeg attempt; 0 uses the default
	StrictEffects  bool                // unknown effect names fail the request
	OnProgress     ProgressFunc
}

// TranscodeResult is the outcome of a successful Transcode
type TranscodeResult struct {
	Path     string
	Size     int64
	Asset    *MediaAsset
	Spec     *effects.Spec
	Warnings []error
	Fit      *FitResult
}

// Transcoder runs the filter chain and then fits the result under the ceiling
type Transcoder struct {
	prober    *Prober
	parser    *effects.Parser
	chain     *ChainExecutor
	encoder   *SizeFittingEncoder
	workspace *storage.Workspace
	logger    *zap.Logger
}

// NewTranscoder wires the transcoding pipeline
func NewTranscoder(prober *Prober, parser *effects.Parser, chain *ChainExecutor, encoder *SizeFittingEncoder, workspace *storage.Workspace, logger *zap.Logger) *Transcoder {
	return &Transcoder{
		prober:    prober,
		parser:    parser,
		chain:     chain,
		encoder:   encoder,
		workspace: workspace,
		logger:    logger,
	}
}

// Transcode probes inputPath, applies the parsed filter text, optionally fits
// the result under CeilingBytes and writes it to outputPath. The extension of
// outputPath is replaced by the container actually produced. All intermediates
// are removed before returning.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string, opts TranscodeOptions) (*TranscodeResult, error) {
	started := time.Now()
	report(opts.OnProgress, "probe", 0)
	asset, err := t.prober.Probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	report(opts.OnProgress, "probe", 1)

	spec := &effects.Spec{}
	var warnings []error
	if strings.TrimSpace(opts.FilterSpecText) != "" {
		spec, warnings, err = t.parser.ParseFor(opts.FilterSpecText, asset.IsVideo)
		if err != nil {
			return nil, err
		}
		if opts.StrictEffects {
			if err := effects.Strict(warnings); err != nil {
				return nil, err
			}
		}
	}
	if opts.Clip != nil {
		clip := *opts.Clip
		spec.Clip = &clip
	}

	scratch, err := t.workspace.Acquire("transcode")
	if err != nil {
		return nil, err
	}
	defer scratch.Release()

	log := t.logger.With(
		zap.String("job_id", scratch.ID),
		zap.String("input", inputPath),
	)
	log.Info("Transcode started",
		zap.String("spec", spec.String()),
		zap.Int64("ceiling_bytes", opts.CeilingBytes),
	)

	filtered, err := t.chain.Execute(ctx, asset, spec, scratch.Dir, opts.OnProgress)
	if err != nil {
		log.Warn("Filter chain failed", zap.Error(err))
		return nil, err
	}

	result := &TranscodeResult{Asset: asset, Spec: spec, Warnings: warnings}
	final := filtered

	if opts.CeilingBytes > 0 {
		fitAsset := asset
		if filtered != asset.Path {
			// effects such as speed or boomerang change the duration
			if fitAsset, err = t.prober.Probe(ctx, filtered); err != nil {
				return nil, err
			}
		}
		fit, err := t.encoder.Fit(ctx, fitAsset, opts.CeilingBytes, FitOptions{
			WorkDir:    scratch.Dir,
			Deadline:   opts.Deadline,
			OnProgress: opts.OnProgress,
		})
		if err != nil {
			log.Warn("Size fitting failed", zap.Error(err))
			return nil, err
		}
		result.Fit = fit
		final = fit.Path
	}

	dest := withExt(outputPath, filepath.Ext(final))
	if err := placeOutput(final, dest, final == asset.Path); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}
	result.Path = dest
	result.Size = info.Size()

	report(opts.OnProgress, "done", 1)
	log.Info("Transcode finished",
		zap.String("output", dest),
		zap.Int64("size_bytes", result.Size),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// RunChain applies spec to inputPath and writes the result to outputPath
func (t *Transcoder) RunChain(ctx context.Context, inputPath string, spec *effects.Spec, outputPath string) (string, error) {
	asset, err := t.prober.Probe(ctx, inputPath)
	if err != nil {
		return "", err
	}

	scratch, err := t.workspace.Acquire("chain")
	if err != nil {
		return "", err
	}
	defer scratch.Release()

	filtered, err := t.chain.Execute(ctx, asset, spec, scratch.Dir, nil)
	if err != nil {
		return "", err
	}
	dest := withExt(outputPath, filepath.Ext(filtered))
	return dest, placeOutput(filtered, dest, filtered == asset.Path)
}

// FitToSize re-encodes inputPath under ceilingBytes and writes it to outputPath
func (t *Transcoder) FitToSize(ctx context.Context, inputPath string, ceilingBytes int64, deadline time.Duration, outputPath string) (string, error) {
	asset, err := t.prober.Probe(ctx, inputPath)
	if err != nil {
		return "", err
	}

	scratch, err := t.workspace.Acquire("fit")
	if err != nil {
		return "", err
	}
	defer scratch.Release()

	fit, err := t.encoder.Fit(ctx, asset, ceilingBytes, FitOptions{WorkDir: scratch.Dir, Deadline: deadline})
	if err != nil {
		return "", err
	}
	dest := withExt(outputPath, filepath.Ext(fit.Path))
	return dest, placeOutput(fit.Path, dest, false)
}

func report(f ProgressFunc, stage string, fraction float64) {
	if f != nil {
		f(stage, fraction)
	}
}

func withExt(path, ext string) string {
	if ext == "" {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// placeOutput moves src to dst, or copies it when src must be preserved
func placeOutput(src, dst string, keepSource bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if !keepSource {
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
