package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/server"
	"github.com/michaelbrown/notemind/internal/storage"
)

var (
	sessionFlag    string
	agentsFlag     []string
	pickFlag       bool
	roundRobinFlag bool
	soloFlag       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive discussion with the agent panel",
	Long: `Start an interactive conversation with a panel of agents. A moderator
picks who answers each message; mention an agent with @Name to ask them
directly.

Examples:
  notemind chat
  notemind chat --agents Pragmatist,Skeptic
  notemind chat --pick --round-robin
  notemind chat --session 1a2b3c4d
  notemind chat --solo`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&sessionFlag, "session", "", "Resume a session by id or id prefix")
	chatCmd.Flags().StringSliceVar(&agentsFlag, "agents", nil, "Participants by name or id (default: the standard panel)")
	chatCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose participants interactively")
	chatCmd.Flags().BoolVar(&roundRobinFlag, "round-robin", false, "Every participant answers in turn, without a moderator")
	chatCmd.Flags().BoolVar(&soloFlag, "solo", false, "Chat with a single streaming assistant instead of the panel")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if soloFlag {
		return runSoloChat(a)
	}

	sm := a.sessionManager()
	defer sm.CloseAll()

	ctx := context.Background()
	sess, err := chatSession(ctx, a, sm)
	if err != nil {
		return err
	}
	as, err := sm.GetOrCreate(ctx, sess)
	if err != nil {
		return err
	}

	r := newRenderer(as.Conv.Participants)
	fmt.Println(headerStyle.Render("notemind - panel discussion"))
	fmt.Printf("Session: %s\n", shortID(sess.ID))
	var names []string
	for _, p := range as.Conv.Participants {
		names = append(names, r.personaStyle(p.Name).Render(p.Icon+" "+p.Name))
	}
	fmt.Printf("Panel: %s\n", strings.Join(names, ", "))
	if len(as.Conv.History) > 0 {
		fmt.Printf("Resumed with %d messages\n", len(as.Conv.History))
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := newReadline("you> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	// Per-request cancellation: Ctrl+C cancels the active cycle,
	// not the whole app.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			as.Cancel()
		}
	}()

	obs := server.Observer{
		OnMessage: func(m llm.Message) {
			if m.Role != llm.RoleUser {
				r.Message(m)
			}
		},
		OnState: r.State,
	}

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Handle slash commands
		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(ctx, a, as, input); quit {
				return nil
			}
			continue
		}

		out, err := sm.Send(ctx, as, input, obs)
		if err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			continue
		}
		if out.Cancelled {
			fmt.Println("\n(interrupted)")
		}
		fmt.Println()
	}
}

// chatSession resumes the requested session or creates a new general one.
func chatSession(ctx context.Context, a *app, sm *server.SessionManager) (*storage.Session, error) {
	if sessionFlag != "" {
		return a.store.GetSession(ctx, sessionFlag)
	}

	participants := agentsFlag
	if pickFlag {
		dir, err := sm.Directory(ctx)
		if err != nil {
			return nil, err
		}
		participants, err = pickAgents(dir.All(), "Choose the panel:", 1)
		if err != nil {
			return nil, err
		}
	}

	sess := &storage.Session{
		ID:             uuid.New().String(),
		Mode:           storage.ModeGeneral,
		ParticipantIDs: participants,
		DiscussionMode: storage.DiscussionModerated,
	}
	if roundRobinFlag {
		sess.DiscussionMode = storage.DiscussionRoundRobin
	}
	if _, err := sm.Participants(ctx, sess); err != nil {
		return nil, err
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// pickAgents asks for at least minCount agents and returns their ids.
func pickAgents(agents []persona.Agent, message string, minCount int) ([]string, error) {
	options := make([]string, len(agents))
	byOption := make(map[string]string, len(agents))
	for i, a := range agents {
		options[i] = a.Name + " - " + a.Description
		byOption[options[i]] = a.ID
	}

	var selected []string
	prompt := &survey.MultiSelect{
		Message: message,
		Options: options,
		Help:    "Use space to select, enter to confirm.",
	}
	err := survey.AskOne(prompt, &selected, survey.WithValidator(survey.MinItems(minCount)))
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(selected))
	for i, opt := range selected {
		ids[i] = byOption[opt]
	}
	return ids, nil
}

func newReadline(prompt string) (*readline.Instance, error) {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          userStyle.Render(strings.TrimSpace(prompt)) + " ",
		HistoryFile:     filepath.Join(home, ".notemind", "history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	return rl, nil
}

// handleCommand runs a slash command and reports whether to quit.
func handleCommand(ctx context.Context, a *app, as *server.ActiveSession, input string) bool {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/agents":
		for _, p := range as.Conv.Participants {
			fmt.Printf("  %s %s - %s\n", p.Icon, p.Name, p.Description)
		}
	case "/ask":
		query := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
		if query == "" {
			fmt.Println("Usage: /ask <question about your notes>")
			break
		}
		if err := printAnswer(ctx, a, query); err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
		}
	case "/usage":
		printUsage(a)
	case "/history":
		data, _ := json.MarshalIndent(as.Conv.History, "", "  ")
		fmt.Println(string(data))
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help            - Show this help")
		fmt.Println("  /agents          - List the panel")
		fmt.Println("  /ask <question>  - Answer from your notes")
		fmt.Println("  /usage           - Show token usage and cost")
		fmt.Println("  /history         - Show raw conversation history (JSON)")
		fmt.Println("  /quit            - Exit")
	default:
		fmt.Printf("Unknown command: %s (try /help)\n", input)
	}
	fmt.Println()
	return false
}

// runSoloChat streams replies from a single assistant. History lives only
// for the process.
func runSoloChat(a *app) error {
	fmt.Println(headerStyle.Render("notemind - assistant"))
	fmt.Printf("Type /quit to exit\n\n")

	rl, err := newReadline("you> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	var history []llm.Message
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/quit", "/exit", "/q":
			fmt.Println("Goodbye!")
			return nil
		}

		history = append(history, llm.UserMessage(input))
		reqCtx, cancel := context.WithCancel(context.Background())
		reqCancel = cancel
		reply, err := streamReply(reqCtx, a, history)
		interrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil

		if reply != "" {
			history = append(history, llm.ModelMessage("", reply))
		}
		switch {
		case interrupted:
			fmt.Println("\n(interrupted)")
		case err != nil:
			fmt.Println(errorStyle.Render("\nerror: " + err.Error()))
		}
		fmt.Printf("\n\n")
	}
}

func streamReply(ctx context.Context, a *app, history []llm.Message) (string, error) {
	stream, err := a.gen.StreamChat(ctx, history, "You are a helpful assistant inside a note-taking app. Be concise.")
	if err != nil {
		return "", err
	}
	defer stream.Close()

	fmt.Print(newRenderer(nil).personaStyle("assistant").Render("assistant>") + " ")
	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current().Text
		b.WriteString(chunk)
		fmt.Print(chunk)
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return b.String(), err
	}
	return b.String(), nil
}
