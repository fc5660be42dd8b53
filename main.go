// Command grantflow serves the grant intake API and its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/config"
	"github.com/catalyzator-io/catalyzator-sub000/internal/logging"
)

const appName = "grantflow"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	verbose    bool
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Grant intake service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (YAML)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(serveCmd(g), formsCmd(), indexesCmd(g))
	return cmd
}

// setup loads the configuration and builds the logger.
func (g *globals) setup() (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, cleanup, err := logging.New(cfg.Logging, g.verbose)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, cleanup, nil
}
