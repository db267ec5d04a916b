package main

import (
	"fmt"
	"io"

	"github.com/aixgo-dev/recall"
	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/convlog"
	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/aixgo-dev/recall/pkg/tokens"
	"github.com/spf13/cobra"
)

func newInspectLogCmd() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "inspect-log <path>",
		Short: "Print message counts and a token estimate for a conversation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := convlog.Load(args[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), args[0], res, threshold)
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", recall.DefaultTokenThreshold, "token threshold to compare the window against")
	return cmd
}

func inspect(w io.Writer, path string, res *convlog.LoadResult, threshold int) error {
	var users, assistants int
	for _, m := range res.Messages {
		if m.Role == conversation.RoleUser {
			users++
		} else {
			assistants++
		}
	}

	all := tokens.Estimate(conversation.Transcript(res.Messages))
	window := res.Messages
	if len(window) > memory.DefaultWindowSize {
		window = window[len(window)-memory.DefaultWindowSize:]
	}
	recent := tokens.Estimate(conversation.Transcript(window))

	fmt.Fprintf(w, "log:              %s\n", path)
	fmt.Fprintf(w, "messages:         %d (%d user, %d assistant)\n", len(res.Messages), users, assistants)
	fmt.Fprintf(w, "skipped records:  %d\n", res.Skipped)
	if res.Unbalanced {
		fmt.Fprintln(w, "warning:          trailing record is incomplete")
	}
	if n := len(res.Messages); n > 0 {
		fmt.Fprintf(w, "time span:        %s to %s\n",
			res.Messages[0].Timestamp.Format("2006-01-02 15:04:05"),
			res.Messages[n-1].Timestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "estimated tokens: %d total, %d in the last %d messages\n", all, recent, len(window))
	fmt.Fprintf(w, "summarize:        %t (threshold %d)\n", tokens.ShouldSummarize(recent, threshold), threshold)
	return nil
}
