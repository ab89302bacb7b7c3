package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/client"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

// resolveSession maps a user-supplied id (possibly a prefix, possibly empty)
// to a live session id. An empty id resolves only when exactly one session
// is running.
func resolveSession(ctx context.Context, cli *client.Client, id string) (string, error) {
	st, err := cli.Status(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		switch len(st.Sessions) {
		case 0:
			return "", fmt.Errorf("no sessions running")
		case 1:
			return st.Sessions[0].ID, nil
		default:
			return "", fmt.Errorf("%d sessions running; pass a session id (see `tg peek --all`)", len(st.Sessions))
		}
	}
	var matches []string
	for _, s := range st.Sessions {
		if s.ID == id {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, id) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no session matches %q", id)
	default:
		return "", fmt.Errorf("session id %q is ambiguous", id)
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart [session-id]",
		Short: "Relaunch a session's tool, resuming its conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connectDaemon(cmd.Context())
			if err != nil {
				return err
			}
			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			id, err := resolveSession(cmd.Context(), cli, arg)
			if err != nil {
				return err
			}
			if err := cli.RestartSession(cmd.Context(), id, ""); err != nil {
				return err
			}
			fmt.Printf("Restart requested for %s.\n", id)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "send <session-id> [text...]",
		Short: "Post a message (or file) to a session's bound chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connectDaemon(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveSession(cmd.Context(), cli, args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			if filePath != "" {
				abs, err := filepath.Abs(filePath)
				if err != nil {
					return err
				}
				return cli.SendFile(cmd.Context(), id, abs, text)
			}
			if text == "" {
				return fmt.Errorf("nothing to send: pass text or --file")
			}
			return cli.SendMessage(cmd.Context(), id, text)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "send this file instead of text (trailing text becomes the caption)")
	return cmd
}

func writeCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "write <session-id> [text...]",
		Short: "Type text into a session's terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connectDaemon(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveSession(cmd.Context(), cli, args[0])
			if err != nil {
				return err
			}
			if filePath != "" {
				abs, err := filepath.Abs(filePath)
				if err != nil {
					return err
				}
				// the tool sees a path mention, same as a chat attachment
				return cli.SendInput(cmd.Context(), id, "@"+abs)
			}
			text := strings.Join(args[1:], " ")
			if text == "" {
				return fmt.Errorf("nothing to write: pass text or --file")
			}
			return cli.SendInput(cmd.Context(), id, text)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "mention this file path instead of typing text")
	return cmd
}

func peekCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "peek [session-id] [count]",
		Short: "Show a session's recent chat-bound output",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := connectDaemon(cmd.Context())
			if err != nil {
				return err
			}

			id := ""
			count := 20
			rest := args
			if !all {
				arg := ""
				if len(rest) > 0 {
					arg = rest[0]
					rest = rest[1:]
				}
				if id, err = resolveSession(cmd.Context(), cli, arg); err != nil {
					return err
				}
			}
			if len(rest) > 0 {
				if count, err = strconv.Atoi(rest[0]); err != nil || count <= 0 {
					return fmt.Errorf("count must be a positive number, got %q", rest[0])
				}
			}

			events, err := cli.Peek(cmd.Context(), id, count)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No recent output.")
				return nil
			}
			printPeek(events, all)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show output across every session")
	return cmd
}

func printPeek(events []session.PeekEntry, withSession bool) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })
	for _, e := range events {
		line := e.Text
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx] + " …"
		}
		at := time.UnixMilli(e.At).Format("15:04:05")
		if withSession {
			fmt.Printf("%s  %-8s %-10s %s\n", at, shortID(e.SessionID), e.Kind, line)
		} else {
			fmt.Printf("%s  %-10s %s\n", at, e.Kind, line)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
