// Command web-search is an MCP tool server that gives agents web search and
// page reading. Register it under tools: in notemind.yaml.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/notemind/internal/notes"
)

const (
	tavilyURL     = "https://api.tavily.com"
	maxFetchChars = 4000
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	r := newResearcher(tavilyURL, os.Getenv("TAVILY_API_KEY"), 30*time.Second)
	if err := server.ServeStdio(r.server()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type researcher struct {
	client   *resty.Client
	apiKey   string
	importer *notes.Importer
}

func newResearcher(baseURL, apiKey string, timeout time.Duration) *researcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &researcher{
		client:   client,
		apiKey:   apiKey,
		importer: notes.NewImporter(timeout),
	}
}

func (r *researcher) server() *server.MCPServer {
	s := server.NewMCPServer("notemind-web-search", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "web_search",
		Description: "Search the web. Returns the most relevant pages with snippets and a short answer when available.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			Required: []string{"query"},
		},
	}, r.handleWebSearch)

	s.AddTool(mcp.Tool{
		Name:        "web_fetch",
		Description: "Read the main text of a web page.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page URL",
				},
			},
			Required: []string{"url"},
		},
	}, r.handleWebFetch)

	return s
}

func stringArg(request mcp.CallToolRequest, key string) string {
	args, _ := request.Params.Arguments.(map[string]any)
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
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

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (r *researcher) handleWebSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := stringArg(request, "query")
	if query == "" {
		return errResult("error: 'query' is required"), nil
	}
	if r.apiKey == "" {
		return errResult("error: TAVILY_API_KEY not set"), nil
	}

	var result searchResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(r.apiKey).
		SetBody(map[string]any{
			"query":          query,
			"max_results":    5,
			"include_answer": true,
		}).
		SetResult(&result).
		Post("/search")
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	if resp.IsError() {
		return errResult(fmt.Sprintf("error: search API returned %d: %s", resp.StatusCode(), resp.String())), nil
	}

	return textResult(formatResults(result)), nil
}

func formatResults(result searchResponse) string {
	if result.Answer == "" && len(result.Results) == 0 {
		return "No results."
	}
	var sb strings.Builder
	if result.Answer != "" {
		sb.WriteString("Answer: " + result.Answer + "\n\n")
	}
	for i, res := range result.Results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, res.Title, res.URL, res.Content)
	}
	return sb.String()
}

func (r *researcher) handleWebFetch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url := stringArg(request, "url")
	if url == "" {
		return errResult("error: 'url' is required"), nil
	}

	page, err := r.importer.Import(ctx, url)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	text := page.Content
	if runes := []rune(text); len(runes) > maxFetchChars {
		text = string(runes[:maxFetchChars]) + "\n... (truncated)"
	}
	return textResult(fmt.Sprintf("# %s\n\n%s", page.DisplayTitle(), text)), nil
}
