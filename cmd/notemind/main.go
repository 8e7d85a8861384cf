package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag string
	schemeFlag string
)

var rootCmd = &cobra.Command{
	Use:   "notemind",
	Short: "notemind - notes with a panel of AI agents",
	Long: `notemind keeps your notes and lets a panel of AI agents discuss them.

It talks to Gemini, OpenAI-compatible vendors, Anthropic or a local Ollama
server, and routes each kind of request to the model tier configured for it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./notemind.yaml or ~/.notemind/notemind.yaml)")
	rootCmd.PersistentFlags().StringVar(&schemeFlag, "scheme", "", "Capability scheme: a provider id, lite, or <provider>-lite (overrides AI_SCHEME)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
