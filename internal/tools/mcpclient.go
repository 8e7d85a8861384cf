package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/michaelbrown/notemind/internal/llm"
)

// toolServer is a handshaken MCP session with one external tool server and
// the tool list it advertised at startup.
type toolServer struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

func startToolServer(name, binary string, env []string, args ...string) (*toolServer, error) {
	c, err := client.NewStdioMCPClient(binary, env, args...)
	if err != nil {
		return nil, fmt.Errorf("tool server %s: launch %s: %w", name, binary, err)
	}
	return handshake(context.Background(), name, c)
}

// handshake identifies notemind to the server and caches its tool list. The
// client is closed on failure.
func handshake(ctx context.Context, name string, c *client.Client) (*toolServer, error) {
	var init mcp.InitializeRequest
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "notemind", Version: Version}
	if _, err := c.Initialize(ctx, init); err != nil {
		c.Close()
		return nil, fmt.Errorf("tool server %s: handshake: %w", name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("tool server %s: list tools: %w", name, err)
	}
	return &toolServer{name: name, client: c, tools: listed.Tools}, nil
}

func (s *toolServer) names() []string {
	out := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.Name)
	}
	return out
}

// declarations exposes the advertised tools to agents.
func (s *toolServer) declarations() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  parameterSchema(t.InputSchema),
		})
	}
	return defs
}

// parameterSchema turns an advertised input schema into the JSON Schema map
// the provider adapters expect. A missing type means an object.
func parameterSchema(in mcp.ToolInputSchema) map[string]any {
	typ := in.Type
	if typ == "" {
		typ = "object"
	}
	schema := map[string]any{"type": typ}
	if in.Properties != nil {
		schema["properties"] = in.Properties
	}
	if len(in.Required) > 0 {
		schema["required"] = in.Required
	}
	return schema
}

// call runs one tool and flattens its text content. A result the server
// flags as an error is still returned as text, prefixed "error: ", so the
// agent reads it like any other tool output.
func (s *toolServer) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	var req mcp.CallToolRequest
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool server %s: %s: %w", s.name, tool, err)
	}

	var b strings.Builder
	for _, c := range res.Content {
		tc, ok := c.(mcp.TextContent)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tc.Text)
	}
	if res.IsError {
		return "error: " + b.String(), nil
	}
	return b.String(), nil
}

func (s *toolServer) Close() {
	s.client.Close()
}
