// Package cmd holds the tg CLI: thin adapters over the daemon control API,
// plus the wrapper entry points for each supported tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/home"
)

// Version is set at build time via -ldflags "-X github.com/touchgrasshq/touchgrass/cmd.Version=v1.0.0".
var Version = "dev"

// CLI exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitInterrupt = 130
)

var (
	homeFlag string
	paths    home.Paths
)

var rootCmd = &cobra.Command{
	Use:   "tg",
	Short: "touchgrass — drive your local AI coding tools from chat",
	Long: "touchgrass bridges Claude Code, Codex, PI, and Kimi sessions to Telegram:\n" +
		"start a session with `tg claude` and keep steering it from your phone.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if homeFlag != "" {
			paths = home.At(homeFlag)
		} else {
			paths = home.Resolve()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "touchgrass home directory (default: $TOUCHGRASS_HOME or ~/.touchgrass)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(restartCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(writeCmd())
	rootCmd.AddCommand(peekCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(channelsCmd())
	for _, tool := range wrappedTools {
		rootCmd.AddCommand(toolCmd(tool))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("touchgrass %s\n", Version)
		},
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, huh.ErrUserAborted) {
		return exitInterrupt
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	fmt.Fprintln(os.Stderr, "tg:", err)
	return exitFailure
}

// exitCodeError carries a specific process exit code through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }
