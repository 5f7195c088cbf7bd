package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	ctx := newCommandContext(opts)

	rootCmd := &cobra.Command{
		Use:           "fxctl",
		Short:         "Apply effects, fit sizes and composite media locally",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&opts.json, "json", false, "Print results as JSON")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.ffmpeg, "ffmpeg", "", "ffmpeg binary (default from FFMPEG_PATH)")
	flags.StringVar(&opts.ffprobe, "ffprobe", "", "ffprobe binary (default from FFPROBE_PATH)")

	rootCmd.AddCommand(newEffectsCommand(ctx))
	rootCmd.AddCommand(newParseCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newTranscodeCommand(ctx))
	rootCmd.AddCommand(newGridCommand(ctx))
	rootCmd.AddCommand(newDJCommand(ctx))

	return rootCmd
}
