package media

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"go.uber.org/zap"
)

// Module wires the effect catalog and the ffmpeg pipeline together
type Module struct {
	Registry   *effects.Registry
	Parser     *effects.Parser
	Prober     *Prober
	Processor  *Processor
	Chain      *ChainExecutor
	Encoder    *SizeFittingEncoder
	Transcoder *Transcoder
	Compositor *Compositor

	ffmpegPath  string
	ffprobePath string
	workspace   *storage.Workspace
	logger      *zap.Logger
}

// ModuleConfig configures the media module
type ModuleConfig struct {
	FFprobePath string
	Processor   ProcessorConfig
	Compositor  CompositorConfig
	// Registry defaults to the built-in catalog
	Registry *effects.Registry
	// ParserOptions are passed to the filter parser
	ParserOptions []effects.ParserOption
}

// ConfigFrom maps application configuration onto the media module
func ConfigFrom(cfg *config.Config, recorder Recorder) ModuleConfig {
	return ModuleConfig{
		FFprobePath: cfg.FFprobePath,
		Processor: ProcessorConfig{
			FFmpegPath:        cfg.FFmpegPath,
			MaxThreads:        cfg.FFmpegMaxThreads,
			UseHardwareAccel:  cfg.FFmpegHardwareAccel,
			HWEncoder:         cfg.FFmpegHWEncoder,
			PreferFastPresets: cfg.FFmpegFastPresets,
			AttemptTimeout:    cfg.AttemptTimeout,
			Recorder:          recorder,
		},
		Compositor: CompositorConfig{
			CellWidth:     cfg.GridCellWidth,
			CellHeight:    cfg.GridCellHeight,
			DJEffectCount: cfg.DJEffectCount,
			DJMaxAttempts: cfg.DJMaxAttempts,
		},
	}
}

// NewModule creates a new media module
func NewModule(cfg ModuleConfig, workspace *storage.Workspace, logger *zap.Logger) *Module {
	registry := cfg.Registry
	if registry == nil {
		registry = effects.Default()
	}
	parser := effects.NewParser(registry, cfg.ParserOptions...)
	prober := NewProber(cfg.FFprobePath, logger)
	processor := NewProcessorWithConfig(cfg.Processor, logger)
	chain := NewChainExecutor(processor, logger)
	encoder := NewSizeFittingEncoder(processor, logger)

	return &Module{
		Registry:   registry,
		Parser:     parser,
		Prober:     prober,
		Processor:  processor,
		Chain:      chain,
		Encoder:    encoder,
		Transcoder: NewTranscoder(prober, parser, chain, encoder, workspace, logger),
		Compositor: NewCompositor(prober, processor, chain, registry, workspace, cfg.Compositor, logger),

		ffmpegPath:  processor.ffmpegPath,
		ffprobePath: prober.ffprobePath,
		workspace:   workspace,
		logger:      logger,
	}
}

// CheckBinaries verifies that ffmpeg and ffprobe can be executed
func (m *Module) CheckBinaries(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		path, err := exec.LookPath(bin)
		if err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = exec.CommandContext(checkCtx, path, "-version").Run()
		cancel()
		if err != nil {
			return fmt.Errorf("%s -version failed: %w", bin, err)
		}
		m.logger.Debug("Found media binary", zap.String("binary", bin), zap.String("path", path))
	}
	return nil
}

// ParseResult is the outcome of parsing filter text for display
type ParseResult struct {
	Spec     string   `json:"spec"`
	Effects  []string `json:"effects"`
	Raw      string   `json:"raw,omitempty"`
	Start    float64  `json:"start,omitempty"`
	Duration float64  `json:"duration,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ParseFilter parses filter text. isVideo restricts `random` when the asset
// type is known.
func (m *Module) ParseFilter(text string, isVideo *bool) (*ParseResult, error) {
	var (
		spec     *effects.Spec
		warnings []error
		err      error
	)
	if isVideo != nil {
		spec, warnings, err = m.Parser.ParseFor(text, *isVideo)
	} else {
		spec, warnings, err = m.Parser.Parse(text)
	}
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Spec:    spec.String(),
		Effects: spec.Names(),
		Raw:     spec.Raw,
	}
	if spec.Clip != nil {
		result.Start = spec.Clip.Start
		result.Duration = spec.Clip.Duration
	}
	for _, w := range warnings {
		result.Warnings = append(result.Warnings, w.Error())
	}
	return result, nil
}

// EffectInfo describes one catalog entry
type EffectInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
	Randomized  bool     `json:"randomized,omitempty"`
}

// Catalog lists the effect catalog sorted by name
func (m *Module) Catalog() []EffectInfo {
	defs := m.Registry.Definitions()
	out := make([]EffectInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, EffectInfo{
			Name:        d.Name,
			Kind:        d.Type.String(),
			Description: d.Description,
			Aliases:     m.Registry.Aliases(d.Name),
			Randomized:  d.Randomized,
		})
	}
	return out
}

// FormatInfo describes an output container
type FormatInfo struct {
	Name       string `json:"name"`
	Extension  string `json:"extension"`
	MimeType   string `json:"mimeType"`
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec"`
}

// GetSupportedFormats returns the containers outputs are written in
func (m *Module) GetSupportedFormats() map[string]FormatInfo {
	return map[string]FormatInfo{
		"video": {Name: "MP4", Extension: videoExt, MimeType: "video/mp4", VideoCodec: "h264", AudioCodec: "aac"},
		"audio": {Name: "MP3", Extension: audioExt, MimeType: "audio/mpeg", AudioCodec: "mp3"},
	}
}
