package main

import (
	"log/slog"
	"sync"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/alexjbarnes/solara-sync/internal/config"
	"github.com/alexjbarnes/solara-sync/internal/logging"
	"github.com/alexjbarnes/solara-sync/internal/uploader"
)

type commandContext struct {
	quiet *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(quiet *bool) *commandContext {
	return &commandContext{quiet: quiet}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})

	return c.config, c.configErr
}

func (c *commandContext) logger(cfg *config.Config) *slog.Logger {
	if c.quiet != nil && *c.quiet {
		return logging.Discard()
	}

	return logging.NewLogger(cfg.Environment, cfg.LogLevel)
}

// withController opens the queue database for the duration of fn. It
// fails after a few seconds if a daemon holds the database lock.
func (c *commandContext) withController(reporter uploader.Reporter, fn func(*app.Controller) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	ctrl, err := app.New(cfg, c.logger(cfg), app.Options{
		Reporter: reporter,
		Version:  Version,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	return fn(ctrl)
}
