package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nextconvert/fxengine/internal/modules/effects"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/spf13/cobra"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "Show duration, streams and size of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := ctx.media()
			if err != nil {
				return err
			}
			asset, err := module.Prober.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.opts.json {
				return writeJSON(cmd, asset)
			}

			rows := [][]string{
				{"Path", asset.Path},
				{"Duration", formatSeconds(asset.Duration)},
				{"Video", strconv.FormatBool(asset.IsVideo)},
				{"Audio", strconv.FormatBool(asset.HasAudio)},
				{"Size", humanize.Bytes(uint64(asset.Size))},
			}
			if asset.IsVideo {
				rows = append(rows, []string{"Resolution", fmt.Sprintf("%dx%d", asset.Width, asset.Height)})
			}
			if asset.BitRate > 0 {
				rows = append(rows, []string{"Bit rate", humanize.SI(float64(asset.BitRate), "bit/s")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Property", "Value"}, rows, nil))
			return nil
		},
	}
}

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var (
		filter   string
		ceiling  string
		start    float64
		duration float64
		strict   bool
		deadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "transcode <input> <output>",
		Short: "Apply a filter and optionally fit the result under a size ceiling",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ceilingBytes, err := parseCeiling(ceiling)
			if err != nil {
				return err
			}
			module, err := ctx.media()
			if err != nil {
				return err
			}
			if ceilingBytes == 0 && !cmd.Flags().Changed("ceiling") {
				ceilingBytes = ctx.config.DefaultCeilingBytes
			}

			opts := media.TranscodeOptions{
				FilterSpecText: filter,
				CeilingBytes:   ceilingBytes,
				StrictEffects:  strict,
				Deadline:       deadline,
				OnProgress:     ctx.progress(cmd),
			}
			if cmd.Flags().Changed("start") || cmd.Flags().Changed("duration") {
				opts.Clip = &effects.ClipWindow{Start: start, Duration: duration}
			}

			result, err := module.Transcoder.Transcode(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return fmt.Errorf("%s: %w", media.Code(err), err)
			}

			if ctx.opts.json {
				return writeJSON(cmd, transcodeSummary(result))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s (%s)\n", result.Path, humanize.Bytes(uint64(result.Size)))
			if names := result.Spec.Names(); len(names) > 0 {
				fmt.Fprintf(out, "Effects: %v\n", names)
			}
			if result.Fit != nil {
				fmt.Fprintf(out, "Fitted with %s\n", result.Fit.Attempt)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "Warning: %v\n", w)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&filter, "filter", "f", "", "Filter text, e.g. {bass=10,reverse}")
	flags.StringVar(&ceiling, "ceiling", "", "Output size ceiling, e.g. 8MB (default from DEFAULT_CEILING_BYTES)")
	flags.Float64Var(&start, "start", 0, "Clip start in seconds")
	flags.Float64Var(&duration, "duration", 0, "Clip length in seconds")
	flags.BoolVar(&strict, "strict", false, "Fail on unknown effect names")
	flags.DurationVar(&deadline, "deadline", 0, "Per-attempt ffmpeg deadline (default from ATTEMPT_TIMEOUT_SECONDS)")
	return cmd
}

func newGridCommand(ctx *commandContext) *cobra.Command {
	var (
		sync   bool
		target float64
	)

	cmd := &cobra.Command{
		Use:   "grid <output> <input> <input> [input...]",
		Short: "Tile inputs into a grid video",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := media.GridTemplate(len(args) - 1)
			if err != nil {
				return err
			}
			module, err := ctx.media()
			if err != nil {
				return err
			}

			out, err := module.Compositor.Grid(cmd.Context(), args[1:], args[0], media.GridOptions{
				Sync:           sync,
				TargetDuration: target,
				OnProgress:     ctx.progress(cmd),
			})
			if err != nil {
				return fmt.Errorf("%s: %w", media.Code(err), err)
			}

			if ctx.opts.json {
				return writeJSON(cmd, map[string]any{"path": out, "rows": layout.Rows, "cols": layout.Cols})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%dx%d grid)\n", out, layout.Rows, layout.Cols)
			return nil
		},
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "Speed every cell to a common duration")
	cmd.Flags().Float64Var(&target, "target", 0, "Synced duration in seconds (default: shortest input)")
	return cmd
}

func newDJCommand(ctx *commandContext) *cobra.Command {
	var (
		effectCount int
		attempts    int
		videoOffset float64
		audioOffset float64
	)

	cmd := &cobra.Command{
		Use:   "dj <video> <audio> <output>",
		Short: "Mux audio onto video and apply random effects",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := ctx.media()
			if err != nil {
				return err
			}

			opts := media.DJOptions{
				MuxOptions:  media.MuxOptions{OnProgress: ctx.progress(cmd)},
				EffectCount: effectCount,
				MaxAttempts: attempts,
			}
			if cmd.Flags().Changed("video-offset") {
				opts.VideoOffset = &videoOffset
			}
			if cmd.Flags().Changed("audio-offset") {
				opts.AudioOffset = &audioOffset
			}

			result, err := module.Compositor.DJ(cmd.Context(), args[0], args[1], args[2], opts)
			if err != nil {
				return fmt.Errorf("%s: %w", media.Code(err), err)
			}

			if ctx.opts.json {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s (video from %s, audio from %s)\n",
				result.Path, formatSeconds(result.VideoOffset), formatSeconds(result.AudioOffset))
			if result.Skipped {
				fmt.Fprintf(out, "Effect step skipped after %d attempts\n", result.Attempts)
			} else {
				fmt.Fprintf(out, "Effects: %v (%d attempts)\n", result.Applied, result.Attempts)
			}
			if len(result.Blacklisted) > 0 {
				fmt.Fprintf(out, "Blacklisted: %v\n", result.Blacklisted)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&effectCount, "effects", 0, "Number of random effects (default from DJ_EFFECT_COUNT)")
	flags.IntVar(&attempts, "attempts", 0, "Effect attempts before skipping (default from DJ_MAX_ATTEMPTS)")
	flags.Float64Var(&videoOffset, "video-offset", 0, "Video start offset in seconds (default random)")
	flags.Float64Var(&audioOffset, "audio-offset", 0, "Audio start offset in seconds (default random)")
	return cmd
}

// parseCeiling accepts plain byte counts and humanized sizes such as 8MB
func parseCeiling(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid ceiling %q: %w", value, err)
	}
	return int64(n), nil
}

func formatSeconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Millisecond).String()
}

type transcodeOutput struct {
	Path     string   `json:"path"`
	Size     int64    `json:"size"`
	Effects  []string `json:"effects,omitempty"`
	Attempt  string   `json:"attempt,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func transcodeSummary(r *media.TranscodeResult) transcodeOutput {
	out := transcodeOutput{Path: r.Path, Size: r.Size}
	if r.Spec != nil {
		out.Effects = r.Spec.Names()
	}
	if r.Fit != nil {
		out.Attempt = r.Fit.Attempt.String()
	}
	for _, w := range r.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return out
}
