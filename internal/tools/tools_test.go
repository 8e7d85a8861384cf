package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/michaelbrown/notemind/internal/llm"
)

func TestDeclarationsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, d := range All() {
		if seen[d.Name] {
			t.Errorf("duplicate declaration %q", d.Name)
		}
		seen[d.Name] = true
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
		if d.Parameters["type"] != "object" {
			t.Errorf("%s parameters are not an object schema", d.Name)
		}
	}
}

func TestEveryToolSetIsDeclared(t *testing.T) {
	sets := [][]string{AgentTools, ModeratorTools, InsightTools, AuthoringTools}
	for _, set := range sets {
		for _, name := range set {
			if _, ok := Lookup(name); !ok {
				t.Errorf("%q is offered but not declared", name)
			}
		}
	}
}

func TestDeclarationsShareSchema(t *testing.T) {
	a := Declarations(SearchNotes)[0]
	b, _ := Lookup(SearchNotes)
	if !reflect.DeepEqual(a.Parameters, b.Parameters) {
		t.Error("two call sites got different schemas for search_notes")
	}
}

func TestRequiredParameters(t *testing.T) {
	tests := map[string][]string{
		SearchNotes:       {"query"},
		CreateNote:        {"title", "content"},
		SelectNextSpeaker: {"agent_name", "reason"},
		CreateNewAgent:    {"name", "description", "systemInstruction"},
	}
	for name, want := range tests {
		d, _ := Lookup(name)
		got, _ := d.Parameters["required"].([]string)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s required = %v, want %v", name, got, want)
		}
	}
}

func TestDeclarationsPanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for undeclared tool")
		}
	}()
	Declarations("launch_rockets")
}

type fakeExecutor struct {
	calls []llm.ToolCall
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, call llm.ToolCall) (string, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return "", f.err
	}
	return "ran " + call.Name + " with " + call.StringArg("query"), nil
}

func inProcess(t *testing.T, exec Executor, extra ...mcp.Tool) *toolServer {
	t.Helper()
	s := NewServer(exec, AgentTools...)
	for _, tool := range extra {
		s.AddTool(tool, func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, _ := req.Params.Arguments.(map[string]any)
			text, _ := args["text"].(string)
			return textResult(strings.ToUpper(text)), nil
		})
	}
	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn, err := handshake(ctx, "notes", c)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestServerExposesNoteTools(t *testing.T) {
	exec := &fakeExecutor{}
	conn := inProcess(t, exec)

	names := conn.names()
	if len(names) != 2 {
		t.Fatalf("tools = %v, want search_notes and create_note", names)
	}

	out, err := conn.call(context.Background(), SearchNotes, map[string]any{"query": "quantum"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "ran search_notes with quantum" {
		t.Errorf("out = %q", out)
	}
	if len(exec.calls) != 1 || exec.calls[0].ID == "" {
		t.Errorf("executor calls = %+v", exec.calls)
	}
}

func TestServerReportsExecutorErrors(t *testing.T) {
	conn := inProcess(t, &fakeExecutor{err: errors.New("store offline")})
	out, err := conn.call(context.Background(), CreateNote, map[string]any{"title": "t", "content": "c"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.HasPrefix(out, "error: ") || !strings.Contains(out, "store offline") {
		t.Errorf("out = %q", out)
	}
}

func TestExternalSkipsBuiltinNames(t *testing.T) {
	echo := mcp.Tool{
		Name:        "shout",
		Description: "Upper-case some text",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"text": map[string]any{"type": "string"}},
			Required:   []string{"text"},
		},
	}
	conn := inProcess(t, &fakeExecutor{}, echo)

	ext := NewExternal()
	ext.add(conn)

	if ext.Has(SearchNotes) {
		t.Error("built-in name should not be routed externally")
	}
	if !ext.Has("shout") {
		t.Fatal("shout should be indexed")
	}
	defs := ext.ToolDefs()
	if len(defs) != 1 || defs[0].Name != "shout" {
		t.Errorf("ToolDefs = %+v", defs)
	}

	out, err := ext.CallTool(context.Background(), "shout", map[string]any{"text": "hi"})
	if err != nil || out != "HI" {
		t.Errorf("CallTool = %q, %v", out, err)
	}
	if _, err := ext.CallTool(context.Background(), "nonexistent", nil); err == nil {
		t.Error("unknown tool should error")
	}
}

func TestParameterSchema(t *testing.T) {
	tests := []struct {
		name string
		in   mcp.ToolInputSchema
		want string
	}{
		{name: "empty", in: mcp.ToolInputSchema{}, want: `{"type":"object"}`},
		{
			name: "full",
			in: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"url": map[string]any{"type": "string"}},
				Required:   []string{"url"},
			},
			want: `{"properties":{"url":{"type":"string"}},"required":["url"],"type":"object"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(parameterSchema(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("schema = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExternalSkipsDisabled(t *testing.T) {
	ext := NewExternal()
	defer ext.Close()
	if err := ext.Register("off", ServerConfig{Binary: "/nonexistent/binary"}); err != nil {
		t.Fatalf("disabled server should not error: %v", err)
	}
	if len(ext.ToolDefs()) != 0 {
		t.Error("disabled server should not register tools")
	}
}

func TestExternalBadBinary(t *testing.T) {
	ext := NewExternal()
	defer ext.Close()
	if err := ext.Register("bad", ServerConfig{Binary: "/nonexistent/binary", Enabled: true}); err == nil {
		t.Fatal("Register with bad binary should return error")
	}
}
