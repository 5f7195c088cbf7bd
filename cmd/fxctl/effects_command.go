package main

import (
	"fmt"
	"strings"

	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newEffectsCommand(ctx *commandContext) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "effects",
		Short: "List the effect catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := ctx.media()
			if err != nil {
				return err
			}

			catalog := module.Catalog()
			if kind = strings.ToLower(strings.TrimSpace(kind)); kind != "" {
				catalog = lo.Filter(catalog, func(e media.EffectInfo, _ int) bool { return e.Kind == kind })
			}

			if ctx.opts.json {
				return writeJSON(cmd, catalog)
			}

			rows := lo.Map(catalog, func(e media.EffectInfo, _ int) []string {
				name := e.Name
				if e.Randomized {
					name += " *"
				}
				return []string{name, e.Kind, strings.Join(e.Aliases, ", "), e.Description}
			})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Kind", "Aliases", "Description"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%d effects (* = eligible for random)\n", len(catalog))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only list effects of this kind (audio, video, complex)")
	return cmd
}

func newParseCommand(ctx *commandContext) *cobra.Command {
	var video, audio bool

	cmd := &cobra.Command{
		Use:   "parse <filter>",
		Short: "Parse filter text and show the resulting ffmpeg filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if video && audio {
				return fmt.Errorf("--video and --audio are mutually exclusive")
			}
			module, err := ctx.media()
			if err != nil {
				return err
			}

			var isVideo *bool
			if video || audio {
				isVideo = lo.ToPtr(video)
			}
			result, err := module.ParseFilter(args[0], isVideo)
			if err != nil {
				return err
			}

			if ctx.opts.json {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			if result.Raw != "" {
				fmt.Fprintf(out, "Raw filter: %s\n", result.Raw)
			} else {
				fmt.Fprintf(out, "Effects:    %s\n", strings.Join(result.Effects, ", "))
				fmt.Fprintf(out, "Filter:     %s\n", result.Spec)
			}
			if result.Start > 0 || result.Duration > 0 {
				fmt.Fprintf(out, "Clip:       start=%gs duration=%gs\n", result.Start, result.Duration)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "Warning:    %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&video, "video", false, "Treat the input as video when resolving random")
	cmd.Flags().BoolVar(&audio, "audio", false, "Treat the input as audio-only when resolving random")
	return cmd
}
