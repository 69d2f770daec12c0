package main

import (
	"encoding/base64"
	"fmt"

	"github.com/golang/snappy"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <trace-out-file>",
		Short: "Follow a running burner's trace-out file, like watching nk_vc_printf console output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0])
		},
	}
	return cmd
}

func runWatch(path string) error {
	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: true, MustExist: false})
	if err != nil {
		return fmt.Errorf("burner: tailing %s: %w", path, err)
	}
	defer t.Stop()

	for line := range t.Lines {
		if line.Err != nil {
			runLogger.Warn("tail read error", "err", line.Err)
			continue
		}
		compressed, err := base64.StdEncoding.DecodeString(line.Text)
		if err != nil {
			// Likely a partial write mid-append; skip rather than abort
			// the whole watch.
			continue
		}
		decoded, err := snappy.Decode(nil, compressed)
		if err != nil {
			continue
		}
		fmt.Println(string(decoded))
	}
	return nil
}
