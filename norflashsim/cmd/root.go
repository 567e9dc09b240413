// Package cmd provides the command-line interface of the NOR flash
// simulator.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

func newRootCmd() *cobra.Command {
	var (
		verbose bool
		envFile string
	)

	rootCmd := &cobra.Command{
		Use:   "norflashsim",
		Short: "norflashsim runs workloads on simulated NOR flash devices.",
		Long: `norflashsim runs workloads on simulated NOR flash devices. It ` +
			`reports transactions, injected stuck bits, page wear, and ` +
			`estimated device time. Every flag can also be set with a ` +
			`NORFLASH_* environment variable, e.g. NORFLASH_SEED.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
			if err != nil {
				return err
			}

			err = applyEnv(cmd.Flags())
			if err != nil {
				return err
			}

			setupLogging(cmd.ErrOrStderr(), verbose)

			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"increase logging verbosity")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"file with NORFLASH_* settings")

	rootCmd.AddCommand(newDemoCmd(), newWearCmd(), newTimingCmd())

	return rootCmd
}

// Execute runs the command line and exits. Exit hooks, such as recorder
// flushes, run before the process ends. An interrupt stops the running
// workload early.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
