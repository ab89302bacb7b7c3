package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/daemon"
	"github.com/touchgrasshq/touchgrass/internal/logging"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel   string
		verbose    bool
		foreground bool
	)
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the touchgrass daemon in the foreground",
		Hidden: true, // wrappers spawn it; users rarely need to
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			level := logging.ParseLevel(logLevel)
			if verbose {
				level = slog.LevelDebug
			}
			closer, err := logging.Setup(paths.LogFile, level, foreground)
			if err != nil {
				return err
			}
			defer closer.Close()
			return daemon.Run(cmd.Context(), paths, slog.Default())
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&foreground, "stderr", false, "also log to stderr")
	return cmd
}
