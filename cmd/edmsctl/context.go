package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/multierr"

	"github.com/jinkaiteo/edms/internal/config"
	"github.com/jinkaiteo/edms/internal/container"
	"github.com/jinkaiteo/edms/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

type globalOptions struct {
	configPath string
	output     string
	actor      string
	verbose    bool
}

// commandContext starts a container for the commands that need one.
// Background workers stay off: every command is a single shot.
type commandContext struct {
	opts *globalOptions
}

func newCommandContext(opts *globalOptions) *commandContext {
	return &commandContext{opts: opts}
}

// withContainer runs fn against a started container and closes it afterwards
func (c *commandContext) withContainer(cmd *cobra.Command, fn func(*container.Container) error) (err error) {
	ctr, logger, err := c.startContainer(cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, ctr.Close())
		_ = logger.Sync()
	}()
	return fn(ctr)
}

func (c *commandContext) startContainer(cmd *cobra.Command) (*container.Container, *utils.Logger, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("read .env: %w", err)
	}

	path := strings.TrimSpace(c.opts.configPath)
	if path == "" {
		path = os.Getenv("EDMS_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Driver == "memory" {
		return nil, nil, fmt.Errorf("edmsctl needs a persistent database; database.driver is memory")
	}

	level := "warn"
	if c.opts.verbose {
		level = "debug"
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{Level: level, OutputPath: "stderr", Format: "console"})
	if err != nil {
		return nil, nil, err
	}

	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		return nil, nil, err
	}
	containerCfg.Scheduler.Enabled = false
	containerCfg.Monitor.Enabled = false

	ctr, err := container.NewContainer(containerCfg, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := ctr.Start(cmd.Context()); err != nil {
		_ = ctr.Close()
		return nil, nil, err
	}

	return ctr, logger, nil
}

func (c *commandContext) requireActor() (string, error) {
	actor := strings.TrimSpace(c.opts.actor)
	if actor == "" {
		return "", errors.New("--actor is required")
	}
	return actor, nil
}
