package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/michaelbrown/notemind/internal/llm"
)

// Version is reported to MCP peers.
const Version = "0.1.0"

// Executor runs a tool call and returns the text fed back to the caller.
type Executor interface {
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

// NewServer exposes the named built-in tools over MCP, backed by exec.
func NewServer(exec Executor, names ...string) *server.MCPServer {
	s := server.NewMCPServer("notemind", Version)
	for _, d := range Declarations(names...) {
		s.AddTool(mcpTool(d), handler(exec, d.Name))
	}
	return s
}

// ServeStdio runs s over stdin/stdout until the peer disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func mcpTool(d llm.ToolDef) mcp.Tool {
	schema := mcp.ToolInputSchema{Type: "object"}
	if props, ok := d.Parameters["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if req, ok := d.Parameters["required"].([]string); ok {
		schema.Required = req
	}
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: schema,
	}
}

func handler(exec Executor, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		out, err := exec.Execute(ctx, llm.ToolCall{ID: llm.NewCallID(), Name: name, Args: args})
		if err != nil {
			return errResult("error: " + err.Error()), nil
		}
		return textResult(out), nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
