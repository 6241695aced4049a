package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"moneyfusion/internal/config"
	"moneyfusion/internal/util"
)

var Version = "dev"

// cli carries what every subcommand needs once the root command has loaded
// configuration.
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "moneyfusionctl",
		Short:         "Operator tool for the MoneyFusion payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading configuration: %w", err)
			}
			c.cfg = cfg

			if verbose {
				c.logger, err = util.NewLogger(true)
				if err != nil {
					return fmt.Errorf("failed to create logger: %w", err)
				}
			} else {
				c.logger = zap.NewNop()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write JSON logs to stderr")

	rootCmd.AddCommand(checkPaymentCmd(c))
	rootCmd.AddCommand(testPaymentCmd(c))
	rootCmd.AddCommand(migrateCmd(c))

	return rootCmd
}
