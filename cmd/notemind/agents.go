package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/storage/sqlite"
	"github.com/michaelbrown/notemind/internal/tools"
)

var (
	agentNameFlag        string
	agentDescFlag        string
	agentInstructionFlag string
	agentIconFlag        string
	agentColorFlag       string
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"agent", "a"},
	Short:   "Manage discussion agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and custom agents",
	RunE:  runAgentsList,
}

var agentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a custom agent",
	Long: `Create a custom agent. With --name and --instruction the agent is saved
directly; otherwise an assistant interviews you and writes the agent.

Examples:
  notemind agents create
  notemind agents create --name Editor --instruction "You tighten prose." --description "Line editor"`,
	RunE: runAgentsCreate,
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id-or-name>",
	Short: "Delete a custom agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsDelete,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd, agentsCreateCmd, agentsDeleteCmd)

	agentsCreateCmd.Flags().StringVar(&agentNameFlag, "name", "", "Agent name")
	agentsCreateCmd.Flags().StringVar(&agentDescFlag, "description", "", "One-line description")
	agentsCreateCmd.Flags().StringVar(&agentInstructionFlag, "instruction", "", "System instruction")
	agentsCreateCmd.Flags().StringVar(&agentIconFlag, "icon", "", "Icon (emoji)")
	agentsCreateCmd.Flags().StringVar(&agentColorFlag, "color", "", "Terminal colour, e.g. 13 or #ff8800")

	agentsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	custom, err := store.ListAgents(context.Background())
	if err != nil {
		return err
	}
	all := append(persona.Defaults(), custom...)
	r := newRenderer(all)

	fmt.Printf("%-22s %-16s %-8s %s\n", "ID", "NAME", "KIND", "DESCRIPTION")
	fmt.Println(strings.Repeat("─", 90))
	for _, a := range all {
		kind := "builtin"
		if a.IsCustom {
			kind = "custom"
		}
		fmt.Printf("%-22s %s %-8s %s\n",
			truncate(a.ID, 20), r.personaStyle(a.Name).Render(fmt.Sprintf("%-16s", a.Name)), kind, truncate(a.Description, 40))
	}
	return nil
}

func runAgentsCreate(cmd *cobra.Command, args []string) error {
	if agentNameFlag != "" || agentInstructionFlag != "" {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		a, err := persona.NewCustom(agentNameFlag, agentDescFlag, agentInstructionFlag, agentIconFlag, agentColorFlag)
		if err != nil {
			return err
		}
		if err := saveCustomAgent(context.Background(), store, &a); err != nil {
			return err
		}
		fmt.Printf("Created agent %s (%s)\n", a.Name, a.ID)
		return nil
	}
	return composeAgent()
}

// composeAgent runs the agent-creation conversation until the model calls
// create_new_agent with a valid definition.
func composeAgent() error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(headerStyle.Render("notemind - new agent"))
	fmt.Printf("Describe the agent you want. Type /quit to give up.\n\n")

	rl, err := newReadline("you> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	ctx := context.Background()
	r := newRenderer(nil)
	var history []llm.Message
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/quit", "/exit", "/q":
			return nil
		}

		history = append(history, llm.UserMessage(input))
		res, err := a.gen.AgentCreationTurn(ctx, history)
		if err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			history = history[:len(history)-1]
			continue
		}

		reply := llm.ModelMessage("", res.Text)
		reply.ToolCalls = res.ToolCalls
		history = append(history, reply)
		if res.Text != "" {
			r.Message(llm.ModelMessage("", res.Text))
		}

		for _, tc := range res.ToolCalls {
			if tc.Name != tools.CreateNewAgent {
				history = append(history, llm.ToolResultMessage(tc.ID, "error: unknown tool "+tc.Name))
				continue
			}
			agent, err := persona.FromToolArgs(tc.Args)
			if err == nil {
				err = saveCustomAgent(ctx, a.store, &agent)
			}
			if err != nil {
				history = append(history, llm.ToolResultMessage(tc.ID, "error: "+err.Error()))
				fmt.Println(errorStyle.Render("could not create agent: " + err.Error()))
				continue
			}
			fmt.Printf("\nCreated agent %s %s (%s)\n", agent.Icon, r.personaStyle(agent.Name).Render(agent.Name), agent.ID)
			return nil
		}
		fmt.Println()
	}
}

// saveCustomAgent rejects names taken by built-in agents before saving.
func saveCustomAgent(ctx context.Context, store *sqlite.SQLiteStore, a *persona.Agent) error {
	for _, d := range persona.Defaults() {
		if strings.EqualFold(d.Name, a.Name) {
			return fmt.Errorf("an agent named %s already exists", a.Name)
		}
	}
	return store.SaveAgent(ctx, a)
}

func runAgentsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	custom, err := store.ListAgents(ctx)
	if err != nil {
		return err
	}
	dir := persona.NewDirectory(append(persona.Defaults(), custom...)...)
	agent, ok := dir.ByID(args[0])
	if !ok {
		agent, ok = dir.ByName(args[0])
	}
	if !ok {
		return fmt.Errorf("no agent named %q", args[0])
	}
	if !agent.IsCustom {
		return errors.New("built-in agents cannot be deleted")
	}

	if !forceFlag {
		ok, err := confirm(fmt.Sprintf("Delete agent %s?", agent.Name))
		if err != nil || !ok {
			fmt.Println("Cancelled.")
			return err
		}
	}
	if err := store.DeleteAgent(ctx, agent.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted agent %s\n", agent.Name)
	return nil
}
