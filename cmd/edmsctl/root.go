package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	ctx := newCommandContext(opts)

	rootCmd := &cobra.Command{
		Use:           "edmsctl",
		Short:         "Controlled document workflow administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (default $EDMS_CONFIG or configs/config.yaml)")
	flags.StringVarP(&opts.output, "output", "o", outputAuto, "Output format: auto, table, plain or json")
	flags.StringVar(&opts.actor, "actor", "", "Actor id the command acts as")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level to stderr")

	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newStaleCommand(ctx))
	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newTransitionCommand(ctx))

	return rootCmd
}
