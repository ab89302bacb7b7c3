package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/resume"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

func resumeCmd() *cobra.Command {
	var (
		tool        string
		channelSpec string
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Pick a recent session in this directory and resume it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !transcript.KnownTool(tool) {
				return fmt.Errorf("unsupported tool %q", tool)
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			userHome, _ := os.UserHomeDir()

			candidates, err := transcript.RecentSessions(tool, cwd, userHome, 10)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return fmt.Errorf("no %s sessions found for %s", tool, cwd)
			}

			options := make([]huh.Option[string], 0, len(candidates))
			for _, c := range candidates {
				label := fmt.Sprintf("%s  %s", c.ModTime.Format("Jan 2 15:04"), c.Label)
				options = append(options, huh.NewOption(label, c.SessionRef))
			}
			var ref string
			form := huh.NewForm(huh.NewGroup(
				huh.NewSelect[string]().
					Title("Resume which session?").
					Options(options...).
					Value(&ref),
			))
			if err := form.Run(); err != nil {
				return err
			}

			toolArgs, err := resume.BuildResumeCommandArgs(tool, nil, ref)
			if err != nil {
				return err
			}
			return runWrapped(cmd, tool, toolArgs, channelSpec)
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "claude", "which tool's sessions to list")
	cmd.Flags().StringVar(&channelSpec, "channel", "", `chat to bind: "dm", "none", a chat id, or a title substring`)
	return cmd
}
