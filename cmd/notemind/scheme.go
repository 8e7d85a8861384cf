package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var schemeCmd = &cobra.Command{
	Use:   "scheme",
	Short: "Show which provider and tier serve each capability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		router, err := cfg.Router(nil)
		if err != nil {
			return err
		}

		name := cfg.Scheme
		if name == "" {
			name = "default (" + cfg.DefaultProvider + ")"
		}
		fmt.Printf("Scheme: %s\n\n", name)
		fmt.Printf("%-22s %-14s %s\n", "CAPABILITY", "PROVIDER", "TIER")
		fmt.Println(strings.Repeat("─", 44))
		for _, e := range router.Table() {
			fmt.Printf("%-22s %-14s %s\n", e.Capability, e.Provider, e.Tier)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemeCmd)
}
