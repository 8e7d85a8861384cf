package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/server"
	"github.com/michaelbrown/notemind/internal/storage"
)

var (
	topicFlag    string
	scriptMode   string
	turnsFlag    int
	saveNoteFlag bool
)

var debateCmd = &cobra.Command{
	Use:   "debate",
	Short: "Run a scripted debate or podcast on a topic",
	Long: `Two agents discuss a topic for a fixed number of turns, then the
moderator writes a synthesis of the core tension, each side's key points
and next steps.

Examples:
  notemind debate --topic "Remote work is here to stay"
  notemind debate --topic "Local-first software" --mode podcast --turns 6
  notemind debate --topic "Rewrite in Go?" --agents Skeptic,Visionary --save`,
	RunE: runDebate,
}

func init() {
	debateCmd.Flags().StringVar(&topicFlag, "topic", "", "Topic to discuss (required)")
	debateCmd.Flags().StringVar(&scriptMode, "mode", string(storage.ModeDebate), "debate or podcast")
	debateCmd.Flags().IntVar(&turnsFlag, "turns", 0, "Number of turns (default from config)")
	debateCmd.Flags().StringSliceVar(&agentsFlag, "agents", nil, "The two speakers by name or id")
	debateCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the two speakers interactively")
	debateCmd.Flags().BoolVar(&saveNoteFlag, "save", false, "Save the synthesis as a note")
	_ = debateCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(debateCmd)
}

func runDebate(cmd *cobra.Command, args []string) error {
	mode := storage.SessionMode(scriptMode)
	if mode != storage.ModeDebate && mode != storage.ModePodcast {
		return fmt.Errorf("invalid mode %q: want debate or podcast", scriptMode)
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	sm := a.sessionManager()
	defer sm.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	participants := agentsFlag
	if pickFlag {
		dir, err := sm.Directory(ctx)
		if err != nil {
			return err
		}
		participants, err = pickAgents(dir.All(), "Choose two speakers:", 2)
		if err != nil {
			return err
		}
	}

	sess := &storage.Session{
		ID:             uuid.New().String(),
		Mode:           mode,
		Topic:          topicFlag,
		ParticipantIDs: participants,
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return err
	}
	as, err := sm.GetOrCreate(ctx, sess)
	if err != nil {
		return err
	}

	r := newRenderer(as.Conv.Participants)
	fmt.Println(headerStyle.Render(fmt.Sprintf("notemind - %s", mode)))
	fmt.Printf("Topic: %s\n", topicFlag)
	if len(as.Conv.Participants) >= 2 {
		first, second := as.Conv.Participants[0], as.Conv.Participants[1]
		fmt.Printf("%s vs %s\n",
			r.personaStyle(first.Name).Render(first.Icon+" "+first.Name),
			r.personaStyle(second.Name).Render(second.Icon+" "+second.Name))
	}

	out, err := sm.RunScript(ctx, as, topicFlag, turnsFlag, server.Observer{
		OnMessage: func(m llm.Message) {
			if _, ok := orchestrator.SynthesisFrom(m); ok {
				fmt.Printf("\n%s\n", headerStyle.Render("Synthesis"))
				fmt.Print(renderMarkdown(m.Content))
				return
			}
			r.Message(m)
		},
	})
	if err != nil {
		return err
	}
	switch {
	case out.Cancelled:
		fmt.Println("\n(interrupted)")
	case out.Err != nil:
		return out.Err
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("\nSession %s · %d turns", shortID(sess.ID), out.Turns)))

	if saveNoteFlag {
		res, ok := orchestrator.LastSynthesis(as.Conv.History)
		if !ok {
			return fmt.Errorf("no synthesis to save")
		}
		n, err := orchestrator.SynthesisNote(topicFlag, res)
		if err != nil {
			return err
		}
		if err := a.store.CreateNote(context.WithoutCancel(ctx), n); err != nil {
			return err
		}
		fmt.Printf("Saved synthesis as note %s\n", shortID(n.ID))
	}
	return nil
}
