package main

import (
	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve note search and creation as MCP tools over stdio",
	Long: `Expose search_notes and create_note to any MCP client. Logs go to
stderr; stdout carries the protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		s := tools.NewServer(a.dispatcher, tools.SearchNotes, tools.CreateNote)
		return tools.ServeStdio(s)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
