package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recall",
		Short:         "Conversational assistant with bounded, summarized context",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newChatCmd(), newInspectLogCmd(), newSessionsCmd())
	return root
}

func printf(attr color.Attribute, format string, args ...any) {
	_, _ = color.New(attr).Printf(format, args...)
}
