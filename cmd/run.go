package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/home"
	"github.com/touchgrasshq/touchgrass/internal/logging"
	"github.com/touchgrasshq/touchgrass/internal/wrapper"
)

// wrappedTools are the coding tools tg knows how to wrap.
var wrappedTools = []string{"claude", "codex", "pi", "kimi"}

// toolCmd builds the `tg <tool> [args...]` subcommand for one tool. Flag
// parsing is disabled so the tool's own flags pass through untouched; only
// --channel is peeled off by hand.
func toolCmd(tool string) *cobra.Command {
	return &cobra.Command{
		Use:                fmt.Sprintf("%s [args...]", tool),
		Short:              fmt.Sprintf("Run %s bridged to chat", tool),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, flags := extractWrapperFlags(args)
			if h, ok := flags["home"]; ok {
				paths = home.At(h)
			}
			return runWrapped(cmd, tool, toolArgs, flags["channel"])
		},
	}
}

// extractWrapperFlags peels --channel and --home (with = or space-separated
// values) out of the raw arg list, leaving the tool's own flags intact.
func extractWrapperFlags(args []string) (rest []string, flags map[string]string) {
	flags = map[string]string{}
	ours := map[string]bool{"channel": true, "home": true}
	for i := 0; i < len(args); i++ {
		a := args[i]
		name, value, hasEq := strings.Cut(strings.TrimPrefix(a, "--"), "=")
		if strings.HasPrefix(a, "--") && ours[name] {
			if hasEq {
				flags[name] = value
			} else if i+1 < len(args) {
				flags[name] = args[i+1]
				i++
			}
			continue
		}
		rest = append(rest, a)
	}
	return rest, flags
}

func runWrapped(cmd *cobra.Command, tool string, args []string, channelSpec string) error {
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	// wrapper logs go to the daemon log file, never the tool's terminal
	closer, err := logging.Setup(paths.LogFile, slog.LevelInfo, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	code, err := wrapper.Run(cmd.Context(), wrapper.Options{
		Tool:        tool,
		Args:        args,
		ChannelSpec: channelSpec,
		Paths:       paths,
		Log:         slog.Default(),
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}
