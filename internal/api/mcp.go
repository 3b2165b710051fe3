package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tagask/internal/dispatch"
	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/question"
	"github.com/kalambet/tagask/internal/storage"
	"github.com/kalambet/tagask/internal/summarize"
	"github.com/kalambet/tagask/internal/worker"
)

// NewMCPServer creates an MCP server exposing the question tools. MCP
// callers act through the app identity.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tagask",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("tagask routes a question to the colleagues who carry every given tag and keeps a helper leaderboard."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Send a question to everyone (or one random person) carrying all of the given tags."),
			mcp.WithArray("tags", mcp.Description("Tag ids; recipients must carry every one"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Short subject of the question"), mcp.Required()),
			mcp.WithString("body", mcp.Description("The question text"), mcp.Required()),
			mcp.WithString("requester_id", mcp.Description("Directory user id of the person asking"), mcp.Required()),
			mcp.WithString("delivery", mcp.Description("teams or email"), mcp.Required(), mcp.Enum("teams", "email")),
			mcp.WithString("target", mcp.Description("all (default) or one_random"), mcp.Enum("all", "one_random")),
			mcp.WithString("team_id", mcp.Description("Team that owns the tags; defaults to the configured team")),
			mcp.WithBoolean("only_online", mcp.Description("Only reach people currently available (teams delivery only)")),
		),
		mcpAskQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("leaderboard",
			mcp.WithDescription("List helpers by points, highest first."),
		),
		mcpLeaderboard(deps),
	)

	s.AddTool(
		mcp.NewTool("question_history",
			mcp.WithDescription("List recent questions, optionally only those sent to a tag."),
			mcp.WithString("tag_id", mcp.Description("Only questions that used this tag")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 5)")),
		),
		mcpQuestionHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("summarize_conversation",
			mcp.WithDescription("Summarize a question's conversation and store the summary on its history entry."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id from a question receipt"), mcp.Required()),
			mcp.WithBoolean("async", mcp.Description("Queue the summary instead of waiting for it")),
		),
		mcpSummarize(deps),
	)

	return s
}

func mcpAskQuestion(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := question.Request{
			Tags:        req.GetStringSlice("tags", nil),
			Topic:       req.GetString("topic", ""),
			Body:        req.GetString("body", ""),
			TeamID:      req.GetString("team_id", deps.DefaultTeamID),
			RequesterID: req.GetString("requester_id", ""),
			Delivery:    dispatch.Delivery(req.GetString("delivery", "")),
			Target:      dispatch.Target(req.GetString("target", "")),
			OnlyOnline:  req.GetBool("only_online", false),
		}
		if err := q.Validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		p, err := deps.Providers.Provider("")
		if err != nil {
			return mcpError(fmt.Sprintf("directory unavailable: %v", err)), nil
		}

		res, err := deps.orchestrator(p).Ask(ctx, q)
		var derr *dispatch.DeliveryError
		var partial *dispatch.PartialDispatchError
		switch {
		case err == nil:
		case errors.Is(err, question.ErrNoEligibleRecipients):
			return mcpError("Nobody matches every selected tag."), nil
		case errors.As(err, &partial):
			return mcpError(fmt.Sprintf("%s Conversation %s was created but the question was not posted.",
				deliveryRetryMessage, partial.Conversation.ID)), nil
		case errors.As(err, &derr):
			return mcpError(deliveryRetryMessage), nil
		default:
			return mcpError(fmt.Sprintf("asking question failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpLeaderboard(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := deps.Ledger.List(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing leaderboard failed: %v", err)), nil
		}
		return mcpJSON(entries)
	}
}

func mcpQuestionHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", history.DefaultLimit)
		if limit <= 0 {
			limit = history.DefaultLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		var (
			entries []storage.HistoryEntry
			err     error
		)
		if tagID := req.GetString("tag_id", ""); tagID != "" {
			entries, err = deps.History.TopByTag(ctx, tagID, limit)
		} else {
			entries, err = deps.History.Recent(ctx, limit)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("listing history failed: %v", err)), nil
		}
		return mcpJSON(entries)
	}
}

func mcpSummarize(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convID, err := req.RequireString("conversation_id")
		if err != nil || convID == "" {
			return mcpError("conversation_id is required"), nil
		}

		if req.GetBool("async", false) {
			if deps.Jobs == nil {
				return mcpError("background summaries are not enabled"), nil
			}
			jobID, err := worker.Enqueue(ctx, deps.Jobs, convID, deps.MaxAttempts)
			if err != nil {
				return mcpError(fmt.Sprintf("queueing summary failed: %v", err)), nil
			}
			return mcpText(fmt.Sprintf("Queued summary job %s", jobID)), nil
		}

		if deps.Bridge == nil {
			return mcpError("summarization not available: no summarizer configured"), nil
		}
		p, err := deps.Providers.Provider("")
		if err != nil {
			return mcpError(fmt.Sprintf("directory unavailable: %v", err)), nil
		}
		summary, err := deps.Bridge.Refresh(ctx, p, deps.History, convID)
		if err != nil && !errors.Is(err, summarize.ErrSummaryFailed) {
			return mcpError(fmt.Sprintf("summary generated but failed to save: %v", err)), nil
		}
		return mcpText(summary), nil
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
