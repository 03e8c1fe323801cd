package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "transcriber",
		Short:         "Transcribe audio files locally with whisper.cpp",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.settingsFlag, "settings", "s", "", "Settings file (.json, .toml, .yaml)")
	flags.StringVar(&ctx.dataDirFlag, "data-dir", "", "Directory for history, logs and the lock file")
	flags.StringVar(&ctx.logLevelFlag, "log-level", "", "Log level on stderr: debug, info, warn, error")
	flags.BoolVar(&ctx.jsonFlag, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newModelsCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))

	return rootCmd
}
