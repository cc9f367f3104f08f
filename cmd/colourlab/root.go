package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/colourlab-core/internal/infrastructure/config"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/logging"
)

// configEnv names the environment variable consulted when --config is not given.
const configEnv = "COLOURLAB_CONFIG"

// app carries state shared by the subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logging.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "colourlab",
		Short: "Closed-loop colour mixing orchestration",
		Long: `colourlab runs colour-matching experiments against a liquid-handling lab.
Each experiment proposes dye drop counts, dispenses them into the next well,
reads the mixed colour back and steers towards the target colour.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"config file (default $"+configEnv+" or "+config.DefaultPath+")")

	root.AddCommand(
		a.serveCommand(),
		a.labsimCommand(),
		a.tokenCommand(),
		versionCommand(),
	)
	return root
}

// resolveConfigPath picks --config, then $COLOURLAB_CONFIG, then the
// default path. Only the default may be missing.
func (a *app) resolveConfigPath() (path string, optional bool) {
	if a.configPath != "" {
		return a.configPath, false
	}
	if env := os.Getenv(configEnv); env != "" {
		return env, false
	}
	return config.DefaultPath, true
}

func (a *app) loadConfig() error {
	path, optional := a.resolveConfigPath()
	cfg, err := config.Load(path, optional)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Logging, version)
	a.log.Debug("configuration loaded", "path", path)
	return nil
}
