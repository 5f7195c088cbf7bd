package media

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	MinGridSources = 2
	MaxGridSources = 9

	maxMuxOffset   = 30.0
	minSyncSpeed   = 0.5
	maxSyncSpeed   = 2.0
	gridFrameRate  = 30
	defaultCellW   = 320
	defaultCellH   = 240
	defaultDJCount = 2
	defaultDJTries = 3
)

// GridLayout is a rows x columns template
type GridLayout struct {
	Rows int
	Cols int
}

// Slots returns the number of cells in the template
func (g GridLayout) Slots() int { return g.Rows * g.Cols }

// GridTemplate picks the template for m sources: 2 uses 2x2, up to 6 uses
// 2x3 and the rest 3x3. Unused slots are rendered black.
func GridTemplate(m int) (GridLayout, error) {
	switch {
	case m < MinGridSources || m > MaxGridSources:
		return GridLayout{}, fmt.Errorf("%w: grid needs %d to %d sources, got %d",
			ErrInvalidSource, MinGridSources, MaxGridSources, m)
	case m == 2:
		return GridLayout{Rows: 2, Cols: 2}, nil
	case m <= 6:
		return GridLayout{Rows: 2, Cols: 3}, nil
	default:
		return GridLayout{Rows: 3, Cols: 3}, nil
	}
}

// SyncSpeed is the playback factor that makes a clip of sourceDuration last
// targetDuration, clamped to what atempo accepts in one stage
func SyncSpeed(sourceDuration, targetDuration float64) float64 {
	if targetDuration <= 0 {
		return 1
	}
	return min(maxSyncSpeed, max(minSyncSpeed, sourceDuration/targetDuration))
}

// GridOptions configures a grid composite
type GridOptions struct {
	CellWidth  int
	CellHeight int
	Sync       bool
	// TargetDuration is the synchronized length; 0 uses the shortest source
	TargetDuration float64
	OnProgress     ProgressFunc
}

// GridGraph is a built grid filter graph
type GridGraph struct {
	Graph    string
	Layout   GridLayout
	HasAudio bool
	Duration float64 // longest cell after speed changes
}

// BuildGridGraph builds the filter_complex graph for assets, in input order
func BuildGridGraph(assets []*MediaAsset, opts GridOptions) (*GridGraph, error) {
	layout, err := GridTemplate(len(assets))
	if err != nil {
		return nil, err
	}
	w, h := opts.CellWidth, opts.CellHeight
	if w <= 0 || h <= 0 {
		w, h = defaultCellW, defaultCellH
	}

	target := opts.TargetDuration
	if opts.Sync && target <= 0 {
		target = lo.MinBy(assets, func(a, b *MediaAsset) bool { return a.Duration < b.Duration }).Duration
	}

	var chains, cells, mixes []string
	longest := 0.0
	for i, a := range assets {
		speed := 1.0
		if opts.Sync {
			speed = SyncSpeed(a.Duration, target)
		}
		longest = max(longest, a.Duration/speed)

		cell := fmt.Sprintf("[v%d]", i)
		cells = append(cells, cell)

		var tempo string
		if speed != 1 {
			tempo = "atempo=" + format3(speed)
		}

		switch {
		case a.IsVideo:
			video := fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d",
				i, w, h, w, h, gridFrameRate)
			if speed != 1 {
				video += ",setpts=PTS/" + format3(speed)
			}
			chains = append(chains, video+cell)
			if a.HasAudio {
				chains = append(chains, fmt.Sprintf("[%d:a]%s[a%d]", i, lo.Ternary(tempo != "", tempo, "anull"), i))
				mixes = append(mixes, fmt.Sprintf("[a%d]", i))
			}
		default:
			head := fmt.Sprintf("[%d:a]", i)
			if tempo != "" {
				head += tempo + ","
			}
			chains = append(chains,
				fmt.Sprintf("%sasplit=2[a%d][w%d]", head, i, i),
				fmt.Sprintf("[w%d]showwaves=s=%dx%d:mode=line:rate=%d,format=yuv420p%s", i, w, h, gridFrameRate, cell),
			)
			mixes = append(mixes, fmt.Sprintf("[a%d]", i))
		}
	}

	for k := len(assets); k < layout.Slots(); k++ {
		cell := fmt.Sprintf("[e%d]", k)
		chains = append(chains, fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%s%s", w, h, gridFrameRate, format3(longest), cell))
		cells = append(cells, cell)
	}

	rows := make([]string, layout.Rows)
	for r := range layout.Rows {
		rows[r] = fmt.Sprintf("[row%d]", r)
		row := cells[r*layout.Cols : (r+1)*layout.Cols]
		chains = append(chains, fmt.Sprintf("%shstack=inputs=%d%s", strings.Join(row, ""), layout.Cols, rows[r]))
	}
	chains = append(chains, fmt.Sprintf("%svstack=inputs=%d[vout]", strings.Join(rows, ""), layout.Rows))

	switch len(mixes) {
	case 0:
	case 1:
		chains = append(chains, mixes[0]+"anull[aout]")
	default:
		chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=longest[aout]", strings.Join(mixes, ""), len(mixes)))
	}

	return &GridGraph{
		Graph:    strings.Join(chains, ";"),
		Layout:   layout,
		HasAudio: len(mixes) > 0,
		Duration: longest,
	}, nil
}

func format3(f float64) string {
	return strings.TrimRight(strings.TrimRight(formatSeconds(f), "0"), ".")
}

// MuxOptions positions the two clips. Nil offsets are chosen at random.
type MuxOptions struct {
	VideoOffset *float64
	AudioOffset *float64
	OnProgress  ProgressFunc
}

// MuxResult describes a muxed output
type MuxResult struct {
	Path        string  `json:"path"`
	VideoOffset float64 `json:"videoOffset"`
	AudioOffset float64 `json:"audioOffset"`
}

// DJOptions configures a DJ composite
type DJOptions struct {
	MuxOptions
	EffectCount int
	MaxAttempts int
}

// DJResult reports what a DJ composite applied. Skipped is set when every
// effect attempt failed and the unfiltered mux was delivered instead.
type DJResult struct {
	MuxResult
	Applied     []string `json:"applied"`
	Blacklisted []string `json:"blacklisted,omitempty"`
	Attempts    int      `json:"attempts"`
	Skipped     bool     `json:"skipped"`
	SkippedStep string   `json:"skippedStep,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// CompositorConfig tunes grid and DJ defaults
type CompositorConfig struct {
	CellWidth     int
	CellHeight    int
	DJEffectCount int
	DJMaxAttempts int
	Sampler       effects.Sampler
	// Offset returns a start offset in [0, bound)
	Offset func(bound float64) float64
}

// Compositor builds multi-source outputs
type Compositor struct {
	prober    *Prober
	processor *Processor
	chain     *ChainExecutor
	registry  *effects.Registry
	workspace *storage.Workspace
	config    CompositorConfig
	logger    *zap.Logger
}

// NewCompositor creates a compositor
func NewCompositor(prober *Prober, processor *Processor, chain *ChainExecutor, registry *effects.Registry, workspace *storage.Workspace, config CompositorConfig, logger *zap.Logger) *Compositor {
	if config.CellWidth <= 0 || config.CellHeight <= 0 {
		config.CellWidth, config.CellHeight = defaultCellW, defaultCellH
	}
	if config.DJEffectCount <= 0 {
		config.DJEffectCount = defaultDJCount
	}
	if config.DJMaxAttempts <= 0 {
		config.DJMaxAttempts = defaultDJTries
	}
	if config.Sampler == nil {
		config.Sampler = func(pool []string, n int) []string { return lo.Samples(pool, n) }
	}
	if config.Offset == nil {
		config.Offset = func(bound float64) float64 { return rand.Float64() * bound }
	}
	return &Compositor{
		prober:    prober,
		processor: processor,
		chain:     chain,
		registry:  registry,
		workspace: workspace,
		config:    config,
		logger:    logger,
	}
}

// Grid composites 2 to 9 inputs into one tiled video at outputPath
func (c *Compositor) Grid(ctx context.Context, inputs []string, outputPath string, opts GridOptions) (string, error) {
	if _, err := GridTemplate(len(inputs)); err != nil {
		return "", err
	}
	assets := make([]*MediaAsset, len(inputs))
	for i, in := range inputs {
		asset, err := c.prober.Probe(ctx, in)
		if err != nil {
			return "", fmt.Errorf("grid source %d: %w", i, err)
		}
		assets[i] = asset
	}

	if opts.CellWidth <= 0 || opts.CellHeight <= 0 {
		opts.CellWidth, opts.CellHeight = c.config.CellWidth, c.config.CellHeight
	}
	graph, err := BuildGridGraph(assets, opts)
	if err != nil {
		return "", err
	}

	var inArgs []string
	for _, in := range inputs {
		inArgs = append(inArgs, input(in, 0, 0)...)
	}
	args := []string{"-filter_complex", graph.Graph, "-map", "[vout]"}
	if graph.HasAudio {
		args = append(args, "-map", "[aout]")
	}
	args = append(args, c.chain.softwareVideoCodec()...)
	if graph.HasAudio {
		args = append(args, videoContainerAudio()...)
	} else {
		args = append(args, "-an", "-movflags", "+faststart")
	}

	dest := withExt(outputPath, videoExt)
	c.logger.Info("Compositing grid",
		zap.Int("sources", len(inputs)),
		zap.Int("rows", graph.Layout.Rows),
		zap.Int("cols", graph.Layout.Cols),
		zap.Bool("sync", opts.Sync),
	)
	err = c.processor.Run(ctx, Pass{
		Op:         "grid",
		Inputs:     inArgs,
		Args:       args,
		Output:     dest,
		Duration:   graph.Duration,
		OnProgress: opts.OnProgress.stage("grid"),
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// MuxBound is the largest start offset allowed for either clip
func MuxBound(videoDuration, audioDuration float64) float64 {
	return min(maxMuxOffset, videoDuration, audioDuration)
}

// Mux takes the video stream of videoPath and the audio stream of audioPath,
// each from its own offset, and writes one file truncated to the shorter.
func (c *Compositor) Mux(ctx context.Context, videoPath, audioPath, outputPath string, opts MuxOptions) (*MuxResult, error) {
	videoAsset, err := c.prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	audioAsset, err := c.prober.Probe(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return c.mux(ctx, videoAsset, audioAsset, withExt(outputPath, videoExt), opts)
}

func (c *Compositor) mux(ctx context.Context, videoAsset, audioAsset *MediaAsset, dest string, opts MuxOptions) (*MuxResult, error) {
	if !videoAsset.IsVideo {
		return nil, &TypeMismatchError{Effect: "mux", Reason: "the video source has no video stream"}
	}
	if !audioAsset.HasAudio {
		return nil, &TypeMismatchError{Effect: "mux", Reason: "the audio source has no audio stream"}
	}

	bound := MuxBound(videoAsset.Duration, audioAsset.Duration)
	videoOffset := c.offset(opts.VideoOffset, bound)
	audioOffset := c.offset(opts.AudioOffset, bound)
	length := min(videoAsset.Duration-videoOffset, audioAsset.Duration-audioOffset)
	if length <= 0 {
		return nil, fmt.Errorf("%w: offsets leave nothing to mux", ErrInvalidSource)
	}

	inputs := append(input(videoAsset.Path, videoOffset, 0), input(audioAsset.Path, audioOffset, 0)...)
	args := []string{"-map", "0:v:0", "-map", "1:a:0"}
	args = append(args, c.chain.softwareVideoCodec()...)
	args = append(args, videoContainerAudio()...)
	args = append(args, "-shortest")

	err := c.processor.Run(ctx, Pass{
		Op:         "mux",
		Inputs:     inputs,
		Args:       args,
		Output:     dest,
		Duration:   length,
		OnProgress: opts.OnProgress.stage("mux"),
	})
	if err != nil {
		return nil, err
	}
	return &MuxResult{Path: dest, VideoOffset: videoOffset, AudioOffset: audioOffset}, nil
}

func (c *Compositor) offset(requested *float64, bound float64) float64 {
	if requested != nil {
		return min(max(*requested, 0), bound)
	}
	return min(max(c.config.Offset(bound), 0), bound)
}

// DJ muxes two sources and then applies randomly chosen effects. Effect
// names from a failed attempt are blacklisted and a fresh set is drawn. When
// every attempt fails the unfiltered mux is delivered and Skipped is set.
func (c *Compositor) DJ(ctx context.Context, videoPath, audioPath, outputPath string, opts DJOptions) (*DJResult, error) {
	count := lo.Ternary(opts.EffectCount > 0, opts.EffectCount, c.config.DJEffectCount)
	tries := lo.Ternary(opts.MaxAttempts > 0, opts.MaxAttempts, c.config.DJMaxAttempts)

	videoAsset, err := c.prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	audioAsset, err := c.prober.Probe(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	scratch, err := c.workspace.Acquire("dj")
	if err != nil {
		return nil, err
	}
	defer scratch.Release()

	log := c.logger.With(zap.String("job_id", scratch.ID))

	muxed, err := c.mux(ctx, videoAsset, audioAsset, scratch.Path("mux"+videoExt), opts.MuxOptions)
	if err != nil {
		return nil, err
	}
	muxAsset, err := c.prober.Probe(ctx, muxed.Path)
	if err != nil {
		return nil, err
	}

	result := &DJResult{MuxResult: *muxed}
	pool := c.djPool()
	final := muxed.Path

	for attempt := 1; attempt <= tries; attempt++ {
		candidates := lo.Without(pool, result.Blacklisted...)
		if len(candidates) == 0 {
			break
		}
		names := c.config.Sampler(candidates, count)
		result.Attempts = attempt

		spec := &effects.Spec{Effects: c.invocations(names)}
		out, err := c.chain.Execute(ctx, muxAsset, spec, scratch.Dir, opts.OnProgress)
		if err == nil {
			result.Applied = names
			final = out
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Warn("DJ effects failed, blacklisting",
			zap.Int("attempt", attempt),
			zap.Strings("effects", names),
			zap.Error(err),
		)
		result.Warnings = append(result.Warnings, err.Error())
		// the failing step is not isolated; every name drawn this round is excluded
		result.Blacklisted = lo.Union(result.Blacklisted, names)
	}

	if result.Applied == nil {
		result.Skipped = true
		result.SkippedStep = "effects"
		log.Warn("DJ delivering unfiltered mux", zap.Int("attempts", result.Attempts))
	}

	dest := withExt(outputPath, filepath.Ext(final))
	if err := placeOutput(final, dest, false); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	result.Path = dest
	return result, nil
}

// djPool lists effects that work on a muxed video without arguments
func (c *Compositor) djPool() []string {
	return lo.FilterMap(c.registry.Definitions(), func(d *effects.Definition, _ int) (string, bool) {
		return d.Name, d.Validate(nil)
	})
}

func (c *Compositor) invocations(names []string) []effects.Invocation {
	return lo.FilterMap(names, func(name string, _ int) (effects.Invocation, bool) {
		def, ok := c.registry.Lookup(name)
		if !ok {
			return effects.Invocation{}, false
		}
		return effects.Invocation{Name: def.Name, Kind: def.Type, Effect: def}, true
	})
}
