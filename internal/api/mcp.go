package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zyvault/zyvault/internal/answer"
	"github.com/zyvault/zyvault/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The account ID scopes every
// tool call; MCP clients are trusted single-tenant sessions.
type MCPDeps struct {
	Store     *storage.Store
	Retriever Retriever
	Answerer  Answerer
	AccountID string
}

// NewMCPServer creates an MCP server exposing search and question answering
// over the document vault.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"zyvault",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("zyvault: document vault with semantic search and cited question answering."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the vault and return ranked chunks with document metadata."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the vault with citations. Set agents=true for the specialist panel."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithBoolean("agents", mcp.Description("Use the multi-agent analysis mode")),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"vault://documents",
			"Indexed Documents",
			mcp.WithResourceDescription("The account's most recent indexed documents"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 20 {
			limit = 20
		}

		evidence, err := deps.Retriever.Retrieve(ctx, deps.AccountID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(evidence) == 0 {
			return mcpText("[]"), nil
		}

		type searchResult struct {
			DocID  string  `json:"doc_id"`
			Title  string  `json:"title"`
			Source string  `json:"source"`
			Page   int     `json:"page"`
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
			Date   string  `json:"date"`
		}

		results := make([]searchResult, len(evidence))
		for i, e := range evidence {
			results[i] = searchResult{
				DocID:  e.DocID,
				Title:  e.Title,
				Source: e.Source,
				Page:   e.Page,
				Text:   e.Text,
				Score:  e.Similarity,
				Date:   e.DocCreatedAt.Format("2006-01-02"),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		agents := req.GetBool("agents", false)

		evidence, err := deps.Retriever.Retrieve(ctx, deps.AccountID, question, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		if len(evidence) == 0 {
			return mcpText(answer.InsufficientMessage), nil
		}

		var result answer.Result
		if agents {
			result, err = deps.Answerer.Agents(ctx, question, evidence)
		} else {
			result, err = deps.Answerer.Direct(ctx, question, evidence)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("synthesis failed: %v", err)), nil
		}

		text := result.Answer
		if result.Confidence != "" {
			text += "\n\nConfidence: " + result.Confidence
		}
		return mcpText(text), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.ListDocuments(deps.AccountID, 25)
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("marshaling documents: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
