package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/config"
)

func setupCmd() *cobra.Command {
	var (
		telegramToken string
		slackToken    string
		slackAppToken string
		channelName   string
		listChannels  bool
		show          bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure chat channels",
		Long: "Configure the Telegram (or Slack) bot touchgrass talks through.\n" +
			"With no flags an interactive wizard runs; flags set values directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(paths.ConfigFile)
			if err != nil {
				return err
			}

			switch {
			case listChannels:
				return printChannelNames(cfg)
			case show:
				return printConfig(cfg)
			case telegramToken != "":
				name := channelName
				if name == "" {
					name = config.ChannelTelegram
				}
				setToken(cfg, name, config.ChannelTelegram, telegramToken, "")
				if err := config.Save(paths.ConfigFile, cfg); err != nil {
					return err
				}
				fmt.Printf("Saved Telegram channel %q. Run `tg pair` next.\n", name)
				return nil
			case slackToken != "":
				name := channelName
				if name == "" {
					name = config.ChannelSlack
				}
				setToken(cfg, name, config.ChannelSlack, slackToken, slackAppToken)
				if err := config.Save(paths.ConfigFile, cfg); err != nil {
					return err
				}
				fmt.Printf("Saved Slack channel %q. Run `tg pair` next.\n", name)
				return nil
			default:
				return setupWizard(cfg)
			}
		},
	}
	cmd.Flags().StringVar(&telegramToken, "telegram", "", "Telegram bot token from @BotFather")
	cmd.Flags().StringVar(&slackToken, "slack", "", "Slack bot token (xoxb-...)")
	cmd.Flags().StringVar(&slackAppToken, "slack-app-token", "", "Slack socket-mode app token (xapp-...)")
	cmd.Flags().StringVar(&channelName, "channel", "", "channel name to create or update (default: the channel type)")
	cmd.Flags().BoolVar(&listChannels, "list-channels", false, "list configured channel names")
	cmd.Flags().BoolVar(&show, "show", false, "print the current configuration with secrets redacted")
	return cmd
}

// setupWizard walks through channel configuration interactively.
func setupWizard(cfg *config.Config) error {
	chanType := config.ChannelTelegram
	token := ""
	appToken := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which chat service?").
				Options(
					huh.NewOption("Telegram", config.ChannelTelegram),
					huh.NewOption("Slack", config.ChannelSlack),
				).
				Value(&chanType),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	switch chanType {
	case config.ChannelTelegram:
		err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Create a bot with @BotFather and paste its token here.").
				Placeholder("123456789:AA...").
				Value(&token),
		)).Run()
		if err != nil {
			return err
		}
	case config.ChannelSlack:
		err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Slack bot token").
				Placeholder("xoxb-...").
				Value(&token),
			huh.NewInput().
				Title("Slack app token (socket mode)").
				Placeholder("xapp-...").
				Value(&appToken),
		)).Run()
		if err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("no token entered")
	}

	setToken(cfg, chanType, chanType, token, strings.TrimSpace(appToken))
	if err := config.Save(paths.ConfigFile, cfg); err != nil {
		return err
	}
	fmt.Printf("Saved %s channel. Run `tg pair` to pair your account.\n", chanType)
	return nil
}

// setToken writes a token into a channel entry, preserving paired users and
// linked groups when updating an existing one.
func setToken(cfg *config.Config, name, chanType, botToken, appToken string) {
	entry, _ := cfg.ChannelEntryByName(name)
	entry.Type = chanType
	entry.Credentials.BotToken = botToken
	if appToken != "" {
		entry.Credentials.AppToken = appToken
	}
	cfg.SetChannelEntry(name, entry)
}

func printChannelNames(cfg *config.Config) error {
	names := cfg.ChannelNames()
	if len(names) == 0 {
		fmt.Println("No channels configured. Run `tg setup`.")
		return nil
	}
	sort.Strings(names)
	for _, name := range names {
		entry, _ := cfg.ChannelEntryByName(name)
		fmt.Printf("%s\t%s\n", name, entry.Type)
	}
	return nil
}

func printConfig(cfg *config.Config) error {
	names := cfg.ChannelNames()
	sort.Strings(names)
	for _, name := range names {
		entry, ok := cfg.ChannelEntryByName(name)
		if !ok {
			continue
		}
		fmt.Printf("%s (%s)\n", name, entry.Type)
		fmt.Printf("  token: %s\n", redact(entry.Credentials.BotToken))
		if entry.Credentials.BotUsername != "" {
			fmt.Printf("  bot: @%s\n", entry.Credentials.BotUsername)
		}
		for _, u := range entry.PairedUsers {
			fmt.Printf("  paired: %s (%s) since %s\n", u.Username, u.UserID, u.PairedAt.Format("2006-01-02"))
		}
		for _, g := range entry.LinkedGroups {
			fmt.Printf("  linked: %s (%s)\n", g.Title, g.ChatID)
		}
	}
	if len(names) == 0 {
		fmt.Println("No channels configured. Run `tg setup`.")
	}
	return nil
}

// redact keeps just enough of a secret to recognize it.
func redact(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}
