package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/client"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/wrapper"
)

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Generate a one-time pairing code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(paths.ConfigFile)
			if err != nil {
				return err
			}
			if _, _, ok := cfg.FirstChannelOfType(config.ChannelTelegram); !ok {
				if _, _, ok := cfg.FirstChannelOfType(config.ChannelSlack); !ok {
					return fmt.Errorf("no channel configured; run `tg setup` first")
				}
			}

			cli, err := connectDaemon(cmd.Context())
			if err != nil {
				return err
			}
			code, expiresIn, err := cli.GenerateCode(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pairing code: %s\n", code)
			fmt.Printf("DM your bot `/pair %s` within %s.\n", code, (time.Duration(expiresIn) * time.Second).String())
			return nil
		},
	}
}

// connectDaemon returns a client for a healthy daemon, starting one if needed.
func connectDaemon(ctx context.Context) (*client.Client, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	return wrapper.EnsureDaemon(ctx, paths, slog.New(slog.DiscardHandler))
}
