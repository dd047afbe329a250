// Kumbu — conversation-history assistant with a bounded tool-calling loop.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kumbu",
	Short: "Kumbu — an assistant that answers questions about your own conversation history.",
	Long: `Kumbu is an HTTP service in which a language model answers user questions by
calling read-only tools over the user's past conversations. Tool access is
strictly scoped to the authenticated user, every invocation is audited, and
the tool-calling loop runs under a fixed turn budget.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
