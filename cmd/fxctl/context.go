package main

import (
	"strings"
	"sync"

	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/nextconvert/fxengine/internal/shared/logging"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalOptions struct {
	json     bool
	logLevel string
	ffmpeg   string
	ffprobe  string
}

type commandContext struct {
	opts *globalOptions

	once   sync.Once
	config *config.Config
	module *media.Module
	logger *zap.Logger
	err    error
}

func newCommandContext(opts *globalOptions) *commandContext {
	return &commandContext{opts: opts}
}

// media builds the media module on first use so commands that never touch
// ffmpeg do not need a working configuration.
func (c *commandContext) media() (*media.Module, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		if p := strings.TrimSpace(c.opts.ffmpeg); p != "" {
			cfg.FFmpegPath = p
		}
		if p := strings.TrimSpace(c.opts.ffprobe); p != "" {
			cfg.FFprobePath = p
		}

		logger, err := logging.NewLogger(c.opts.logLevel, "development")
		if err != nil {
			c.err = err
			return
		}
		workspace, err := storage.NewWorkspace(cfg.ScratchDir)
		if err != nil {
			c.err = err
			return
		}

		c.config = cfg
		c.logger = logger
		c.module = media.NewModule(media.ConfigFrom(cfg, nil), workspace, logger)
	})
	return c.module, c.err
}

// progress draws a status line on stderr unless JSON output was requested
func (c *commandContext) progress(cmd *cobra.Command) media.ProgressFunc {
	if c.opts.json {
		return nil
	}
	return progressPrinter(cmd.ErrOrStderr())
}
