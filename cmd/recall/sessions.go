package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aixgo-dev/recall/pkg/config"
	"github.com/aixgo-dev/recall/pkg/session"
	"github.com/spf13/cobra"
)

const statePreview = 60

func newSessionsCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with a stored memory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			store, err := session.NewBackend(cmd.Context(), cfg.Session)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer func() { _ = store.Close() }()
			return listSessions(cmd.Context(), cmd.OutOrStdout(), store)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", os.Getenv("RECALL_CONFIG"), "YAML configuration file")
	return cmd
}

// listSessions prints one line per stored session. Records that fail to
// load are reported inline so one bad entry does not hide the rest.
func listSessions(ctx context.Context, w io.Writer, store session.StorageBackend) error {
	ids, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "no stored sessions")
		return nil
	}

	for _, id := range ids {
		mem, err := store.LoadMemory(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%-20s error: %v\n", id, err)
			continue
		}
		kind := "validated"
		if mem.Degraded {
			kind = "degraded"
		}
		state := []rune(mem.ConversationState)
		if len(state) > statePreview {
			state = append(state[:statePreview-3], []rune("...")...)
		}
		fmt.Fprintf(w, "%-20s %s  %s  %-9s %3d msgs  %s\n",
			id, mem.ID, mem.CreatedAt.Format("2006-01-02 15:04"), kind, mem.Scope.Len(), string(state))
	}
	return nil
}
