package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func logsCmd() *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(paths.LogFile)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No log file yet; the daemon hasn't run.")
					return nil
				}
				return err
			}
			defer f.Close()

			offset, err := printTail(f, lines)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followLog(cmd, f, offset)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing as the log grows")
	return cmd
}

// printTail writes the last n lines of f to stdout and returns the end offset.
func printTail(f *os.File, n int) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	// read at most 1 MiB off the end; plenty for any sane -n
	const window = 1 << 20
	start := size - window
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}

	text := strings.TrimRight(string(data), "\n")
	all := strings.Split(text, "\n")
	if start > 0 && len(all) > 0 {
		all = all[1:] // first line is probably clipped
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	for _, line := range all {
		fmt.Println(line)
	}
	return size, nil
}

// followLog polls the file for growth, handling truncation on rotation.
func followLog(cmd *cobra.Command, f *os.File, offset int64) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
		}
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.Size() < offset {
			offset = 0
		}
		if info.Size() == offset {
			continue
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		offset += int64(len(data))
		os.Stdout.Write(data)
	}
}
