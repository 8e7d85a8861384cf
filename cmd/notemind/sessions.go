package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/storage"
)

var (
	statusFilter string
	modeFilter   string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Manage discussion sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show session details and messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a previous discussion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag = args[0]
		return runChat(cmd, args)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsResumeCmd, sessionsDeleteCmd, sessionsExportCmd)

	sessionsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (active, running, completed, failed)")
	sessionsListCmd.Flags().StringVar(&modeFilter, "mode", "", "Filter by mode (general, debate, podcast)")
	sessionsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max sessions to show")

	sessionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	sessionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	sessionsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := storage.SessionListOptions{
		Status: storage.SessionStatus(statusFilter),
		Mode:   storage.SessionMode(modeFilter),
		Limit:  limitFlag,
	}

	sessions, err := store.ListSessions(context.Background(), opts)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-10s %-8s %-44s %s\n", "ID", "STATUS", "MODE", "TITLE", "UPDATED")
	fmt.Println(strings.Repeat("─", 90))

	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = s.Topic
		}
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-10s %-10s %-8s %-44s %s\n",
			shortID(s.ID), s.Status, s.Mode, truncate(title, 42), timeAgo(s.UpdatedAt))
	}

	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Title:    %s\n", sess.Title)
	fmt.Printf("Mode:     %s (%s)\n", sess.Mode, sess.DiscussionMode)
	fmt.Printf("Status:   %s\n", sess.Status)
	if sess.Topic != "" {
		fmt.Printf("Topic:    %s\n", sess.Topic)
	}
	if len(sess.ParticipantIDs) > 0 {
		fmt.Printf("Panel:    %s\n", strings.Join(sess.ParticipantIDs, ", "))
	}
	fmt.Printf("Created:  %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt.Format(time.RFC3339))

	messages, err := store.LoadMessages(ctx, sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\nMessages: %d\n", len(messages))
	fmt.Println(strings.Repeat("─", 60))

	r := newRenderer(nil)
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			fmt.Printf("\n%s %s\n", userStyle.Render("you>"), truncate(m.Content, 200))
		case llm.RoleModel:
			name := m.Persona
			if name == "" {
				name = "assistant"
			}
			if m.Content != "" {
				fmt.Printf("\n%s %s\n", r.personaStyle(name).Render(name+">"), truncate(m.Content, 200))
			}
			for _, tc := range m.ToolCalls {
				fmt.Printf("  %s\n", toolStyle.Render("⚡ "+tc.Name))
			}
		case llm.RoleTool:
			fmt.Printf("  %s\n", resultStyle.Render("│ "+truncate(m.Content, 100)))
		}
	}

	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		title := sess.Title
		if title == "" {
			title = "(untitled)"
		}
		ok, err := confirm(fmt.Sprintf("Delete session %s - %q?", shortID(sess.ID), title))
		if err != nil || !ok {
			fmt.Println("Cancelled.")
			return err
		}
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", shortID(sess.ID))
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	messages, err := store.LoadMessages(ctx, sess.ID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(sess, messages)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(sess, messages)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}
