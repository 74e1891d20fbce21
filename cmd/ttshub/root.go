package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ttshub/internal/app"
	"github.com/MrWong99/ttshub/internal/config"
)

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	level      *slog.LevelVar
	cfg        *config.Config

	// appOpts are passed to every app.New call. Tests inject doubles here.
	appOpts []app.Option
}

func newRootCmd(appOpts ...app.Option) *cobra.Command {
	c := &cli{level: new(slog.LevelVar), appOpts: appOpts}

	root := &cobra.Command{
		Use:           "ttshub",
		Short:         "Text-to-speech voice registry and synthesis server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML configuration file (default: built-in defaults)")

	root.AddCommand(
		newServeCmd(c),
		newSynthCmd(c),
		newLanguagesCmd(c),
		newModelsCmd(c),
		newFetchCmd(c),
		newCheckCmd(c),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file (or the defaults) and installs the
// process logger at the configured level.
func (c *cli) loadConfig() error {
	var err error
	if c.configPath == "" {
		c.cfg = config.Default()
		err = config.Validate(c.cfg)
	} else {
		c.cfg, err = config.Load(c.configPath)
	}
	if err != nil {
		return err
	}

	c.level.Set(app.SlogLevel(c.cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.level})))
	return nil
}

// newApp builds the application from the loaded config.
func (c *cli) newApp() (*app.App, error) {
	opts := append([]app.Option{app.WithLogLevel(c.level)}, c.appOpts...)
	return app.New(c.cfg, opts...)
}
