package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/usage"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from your notes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		return printAnswer(context.Background(), a, joinArgs(args))
	},
}

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Show configured prices for each provider and tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		prices := cfg.Prices()
		if len(prices) == 0 {
			fmt.Println("No prices configured; usage is counted at zero cost.")
			return nil
		}
		fmt.Printf("%-14s %-6s %12s %12s\n", "PROVIDER", "TIER", "INPUT/1M", "OUTPUT/1M")
		for _, k := range sortedPriceKeys(prices) {
			p := prices[k]
			fmt.Printf("%-14s %-6s %12s %12s\n", k.Provider, k.Tier, "$"+p.Input.StringFixed(2), "$"+p.Output.StringFixed(2))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd, pricesCmd)
}

// printAnswer searches every note and prints the answer with its sources.
func printAnswer(ctx context.Context, a *app, query string) error {
	corpus, err := a.store.ListNotes(ctx)
	if err != nil {
		return err
	}
	ans, err := a.retriever.Search(ctx, query, corpus)
	if err != nil {
		return err
	}
	fmt.Print(renderMarkdown(ans.Text))
	if len(ans.Notes) > 0 {
		fmt.Println(dimStyle.Render("Sources:"))
		for _, n := range ans.Notes {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %s  %s", shortID(n.ID), n.DisplayTitle())))
		}
	}
	return nil
}

// printUsage prints the tokens and cost recorded by this process.
func printUsage(a *app) {
	snap := a.ledger.Snapshot()
	if len(snap.Rows) == 0 {
		fmt.Println("No model calls yet.")
		return
	}
	fmt.Printf("%-14s %-6s %6s %10s %10s %10s\n", "PROVIDER", "TIER", "CALLS", "PROMPT", "COMPLETION", "COST")
	for _, r := range snap.Rows {
		fmt.Printf("%-14s %-6s %6d %10d %10d %10s\n",
			r.Provider, r.Tier, r.Calls, r.PromptTokens, r.CompletionTokens, "$"+r.Cost.StringFixed(4))
	}
	fmt.Printf("Total since %s: $%s\n", timeAgo(snap.Since), snap.Total.StringFixed(4))
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func sortedPriceKeys(prices map[usage.Key]usage.Price) []usage.Key {
	keys := make([]usage.Key, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Provider != keys[j].Provider {
			return keys[i].Provider < keys[j].Provider
		}
		return keys[i].Tier < keys[j].Tier
	})
	return keys
}
