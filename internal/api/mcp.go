package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jurist/internal/pipeline"
	"github.com/kalambet/jurist/internal/realtime"
	"github.com/kalambet/jurist/internal/storage"
)

const (
	mcpOwner       = "mcp"
	defaultMCPWait = 2 * time.Minute
)

// MCPDeps holds dependencies for the MCP server. Events is optional; without
// it ask_legal_question returns the query id instead of waiting.
type MCPDeps struct {
	Service Service
	Events  Subscriber
	Wait    time.Duration
}

// NewMCPServer creates an MCP server with the jurist tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Wait <= 0 {
		deps.Wait = defaultMCPWait
	}
	s := server.NewMCPServer(
		"jurist",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("jurist answers questions about Russian law and finds similar past answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_legal_question",
			mcp.WithDescription("Ask a legal question and wait for the lawyer's structured answer."),
			mcp.WithString("question", mcp.Description("The question text"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("Owner the query is recorded for (default mcp)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("get_query",
			mcp.WithDescription("Return a query with its status, tags and answer if completed."),
			mcp.WithString("query_id", mcp.Description("Query id"), mcp.Required()),
		),
		mcpGetQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("find_similar_responses",
			mcp.WithDescription("Find past answers similar to the given response."),
			mcp.WithString("response_id", mcp.Description("Response id"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity in [0, 1] (default server setting)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpFindSimilar(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		owner := req.GetString("owner_id", mcpOwner)

		// Subscribe first so the completion event cannot be missed.
		var sub *realtime.Subscription
		if deps.Events != nil {
			sub = deps.Events.Subscribe(owner)
			defer sub.Cancel()
		}

		id, err := deps.Service.Submit(ctx, pipeline.Submission{OwnerID: owner, Text: question})
		if err != nil {
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}
		if sub == nil {
			return mcpJSON(map[string]string{"queryId": id, "status": string(storage.StatusProcessing)})
		}

		timer := time.NewTimer(deps.Wait)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return mcpError(fmt.Sprintf("query %s: %v", id, ctx.Err())), nil
			case <-timer.C:
				return mcpJSON(map[string]string{"queryId": id, "status": string(storage.StatusProcessing)})
			case ev, ok := <-sub.C:
				if !ok {
					return mcpError("event stream closed"), nil
				}
				if ev.QueryID != id {
					continue
				}
				switch ev.Kind {
				case realtime.KindCompleted:
					return mcpJSON(map[string]any{"queryId": id, "answer": ev.Response})
				case realtime.KindError:
					return mcpError(fmt.Sprintf("query %s failed: %s", id, ev.Error)), nil
				}
			}
		}
	}
}

func mcpGetQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("query_id")
		if err != nil {
			return mcpError("query_id is required"), nil
		}

		q, err := deps.Service.Query(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("query %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading query: %v", err)), nil
		}

		out := map[string]any{"query": newQueryView(q)}
		if q.Status == storage.StatusCompleted {
			resp, err := deps.Service.ResponseForQuery(ctx, id)
			if err != nil {
				return mcpError(fmt.Sprintf("loading response: %v", err)), nil
			}
			out["response"] = newResponseView(resp)
		}
		return mcpJSON(out)
	}
}

func mcpFindSimilar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("response_id")
		if err != nil {
			return mcpError("response_id is required"), nil
		}
		threshold := req.GetFloat("threshold", 0)
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		similar, err := deps.Service.FindSimilar(ctx, id, threshold, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("similarity search failed: %v", err)), nil
		}
		return mcpJSON(newSimilarViews(similar))
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
