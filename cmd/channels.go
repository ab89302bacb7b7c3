package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List chats visible to the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connectDaemon(cmd.Context())
			if err != nil {
				return err
			}
			chats, err := cli.Channels(cmd.Context())
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Println("No chats visible yet. DM your bot or add it to a group.")
				return nil
			}
			for _, c := range chats {
				kind := "dm"
				if c.IsTopic {
					kind = "topic"
				} else if c.IsGroup {
					kind = "group"
				}
				busy := ""
				if c.Busy {
					busy = "  (busy)"
				}
				fmt.Printf("%-24s %-6s %s%s\n", c.ChatID, kind, c.Title, busy)
			}
			return nil
		},
	}
}
