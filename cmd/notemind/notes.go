package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/storage"
	"github.com/michaelbrown/notemind/internal/storage/sqlite"
)

var (
	noteTitleFlag string
	noteTagsFlag  []string
	noteFileFlag  string
	noteSummary   bool
)

var notesCmd = &cobra.Command{
	Use:     "notes",
	Aliases: []string{"note", "n"},
	Short:   "Manage notes",
}

var notesAddCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Add a note from arguments, a file or stdin",
	Long: `Add a note. Content comes from the arguments, --file, or stdin when
neither is given. Untitled notes get a generated title.

Examples:
  notemind notes add --title "Standup" "Ship the importer on Friday"
  notemind notes add --file meeting.md --tags work,planning
  pbpaste | notemind notes add`,
	RunE: runNotesAdd,
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, newest first",
	RunE:  runNotesList,
}

var notesShowCmd = &cobra.Command{
	Use:   "show <note-id>",
	Short: "Show a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesShow,
}

var notesImportCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Import a web page as a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesImport,
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <note-id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesDelete,
}

func init() {
	rootCmd.AddCommand(notesCmd)
	notesCmd.AddCommand(notesAddCmd, notesListCmd, notesShowCmd, notesImportCmd, notesDeleteCmd)

	notesAddCmd.Flags().StringVar(&noteTitleFlag, "title", "", "Note title (generated when empty)")
	notesAddCmd.Flags().StringSliceVar(&noteTagsFlag, "tags", nil, "Comma-separated tags")
	notesAddCmd.Flags().StringVarP(&noteFileFlag, "file", "f", "", "Read content from a file")

	notesListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max notes to show")

	notesShowCmd.Flags().BoolVar(&noteSummary, "summary", false, "Generate and store a summary")

	notesDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func runNotesAdd(cmd *cobra.Command, args []string) error {
	content, err := noteContent(args)
	if err != nil {
		return err
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := notes.New(noteTitleFlag, content)
	if err != nil {
		return err
	}
	n.Tags = noteTagsFlag
	if err := a.store.CreateNote(context.Background(), n); err != nil {
		return err
	}
	if n.Title == "" {
		fmt.Println(dimStyle.Render("Generating a title..."))
		a.titles.Schedule(n.ID)
	}
	fmt.Printf("Added note %s\n", shortID(n.ID))
	return nil
}

func noteContent(args []string) (string, error) {
	switch {
	case len(args) > 0:
		return joinArgs(args), nil
	case noteFileFlag != "":
		data, err := os.ReadFile(noteFileFlag)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
}

func runNotesList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	all, err := store.ListNotes(context.Background())
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No notes yet. Add one with: notemind notes add")
		return nil
	}
	if limitFlag > 0 && len(all) > limitFlag {
		all = all[:limitFlag]
	}

	fmt.Printf("%-10s %-44s %-20s %s\n", "ID", "TITLE", "TAGS", "UPDATED")
	fmt.Println(strings.Repeat("─", 90))
	for _, n := range all {
		fmt.Printf("%-10s %-44s %-20s %s\n",
			shortID(n.ID), truncate(n.DisplayTitle(), 42), truncate(strings.Join(n.Tags, ","), 18), timeAgo(n.UpdatedAt))
	}
	return nil
}

func runNotesShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	n, err := findNote(ctx, a.store, args[0])
	if err != nil {
		return err
	}

	if noteSummary {
		summary, err := a.gen.Summarize(ctx, *n)
		if err != nil {
			return err
		}
		n.Summary = summary
		if err := a.store.UpdateNote(ctx, n); err != nil {
			return err
		}
	}

	fmt.Println(headerStyle.Render(n.DisplayTitle()))
	fmt.Println(dimStyle.Render(fmt.Sprintf("%s · updated %s", n.ID, timeAgo(n.UpdatedAt))))
	if len(n.Tags) > 0 {
		fmt.Println(dimStyle.Render("tags: " + strings.Join(n.Tags, ", ")))
	}
	if n.SourceURL != "" {
		fmt.Println(dimStyle.Render("source: " + n.SourceURL))
	}
	if n.Summary != "" {
		fmt.Printf("\n%s\n%s", userStyle.Render("Summary"), renderMarkdown(n.Summary))
	}
	fmt.Printf("\n%s", renderMarkdown(n.Content))
	return nil
}

func runNotesImport(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	n, err := a.importer.Import(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.store.CreateNote(ctx, n); err != nil {
		return err
	}
	fmt.Printf("Imported %q as note %s\n", n.Title, shortID(n.ID))
	return nil
}

func runNotesDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	n, err := findNote(ctx, store, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		ok, err := confirm(fmt.Sprintf("Delete note %s - %q?", shortID(n.ID), n.DisplayTitle()))
		if err != nil || !ok {
			fmt.Println("Cancelled.")
			return err
		}
	}

	if err := store.DeleteNote(ctx, n.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted note %s\n", shortID(n.ID))
	return nil
}

// findNote resolves a full id or a unique id prefix.
func findNote(ctx context.Context, store *sqlite.SQLiteStore, ref string) (*notes.Note, error) {
	if n, err := store.GetNote(ctx, ref); err == nil {
		return n, nil
	}
	all, err := store.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	var found []notes.Note
	for _, n := range all {
		if strings.HasPrefix(n.ID, ref) {
			found = append(found, n)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("note %s: %w", ref, storage.ErrNotFound)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("ambiguous note id prefix %q matches %d notes", ref, len(found))
	}
}

func confirm(message string) (bool, error) {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: message, Default: false}, &ok)
	return ok, err
}
