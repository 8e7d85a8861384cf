package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/michaelbrown/notemind/internal/llm"
)

// ServerConfig describes an external MCP tool server agents may use.
type ServerConfig struct {
	Binary  string            `mapstructure:"binary"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Enabled bool              `mapstructure:"enabled"`
}

// External routes calls to tools served by external MCP servers. Names that
// collide with a built-in declaration are skipped so every tool name keeps
// exactly one declaration.
type External struct {
	connections map[string]*toolServer // server name -> session
	toolIndex   map[string]string      // tool name -> server name
}

// NewExternal creates an empty registry.
func NewExternal() *External {
	return &External{
		connections: make(map[string]*toolServer),
		toolIndex:   make(map[string]string),
	}
}

// Register launches an MCP tool server and indexes its tools.
func (e *External) Register(name string, cfg ServerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			v = os.Getenv(v[2 : len(v)-1])
		}
		env = append(env, k+"="+v)
	}

	conn, err := startToolServer(name, cfg.Binary, env, cfg.Args...)
	if err != nil {
		return err
	}
	e.add(conn)
	return nil
}

func (e *External) add(conn *toolServer) {
	e.connections[conn.name] = conn
	for _, toolName := range conn.names() {
		if IsBuiltin(toolName) {
			slog.Warn("external tool shadows a built-in tool, skipping", "server", conn.name, "tool", toolName)
			continue
		}
		if other, ok := e.toolIndex[toolName]; ok {
			slog.Warn("duplicate external tool, keeping first", "tool", toolName, "server", other)
			continue
		}
		e.toolIndex[toolName] = conn.name
	}
}

// ToolDefs returns the declarations of every indexed external tool, sorted by name.
func (e *External) ToolDefs() []llm.ToolDef {
	var all []llm.ToolDef
	for _, conn := range e.connections {
		for _, d := range conn.declarations() {
			if e.toolIndex[d.Name] == conn.name {
				all = append(all, d)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Has reports whether name is served by an external server.
func (e *External) Has(name string) bool {
	_, ok := e.toolIndex[name]
	return ok
}

// CallTool routes a tool call to the server that owns it.
func (e *External) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	serverName, ok := e.toolIndex[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return e.connections[serverName].call(ctx, name, args)
}

// Close shuts down every server connection.
func (e *External) Close() {
	for _, conn := range e.connections {
		conn.Close()
	}
}
