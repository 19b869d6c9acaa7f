// Package mcp exposes the retrieval engine to the conversational assistant
// as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cloo-solutions/recall/internal/api/handlers"
)

const maxSeedLimit = 50

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Search  handlers.SearchService
	Version string
}

// NewServer creates an MCP server with the recall tools registered.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"recall",
		ver,
		server.WithToolCapabilities(false),
	)

	registerSearchTool(s, cfg.Search)
	registerContextTool(s, cfg.Search)
	registerCapabilitiesTool(s, cfg.Search)

	return s
}

// Serve runs the server over the given stdio streams until ctx is done.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to encode result"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func registerSearchTool(s *server.MCPServer, svc handlers.SearchService) {
	tool := mcp.NewTool("recall_search",
		mcp.WithDescription("Search the knowledge base. Returns up to 15 notes ranked by fused keyword, semantic and cluster signals."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text query"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		return jsonResult(handlers.ToSearchResponse(svc.Search(ctx, query)))
	})
}

func registerContextTool(s *server.MCPServer, svc handlers.SearchService) {
	tool := mcp.NewTool("recall_context",
		mcp.WithDescription("Retrieve grounding notes for a question: top search hits plus notes linked to them or sharing their entities."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question or topic to ground"),
		),
		mcp.WithNumber("seed_limit",
			mcp.Description("Number of search hits to expand from (default: 8, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		seedLimit := 0
		if v, err := req.RequireFloat("seed_limit"); err == nil && v > 0 {
			seedLimit = int(v)
			if seedLimit > maxSeedLimit {
				seedLimit = maxSeedLimit
			}
		}

		return jsonResult(handlers.ToContextResponse(svc.RetrieveContext(ctx, query, seedLimit)))
	})
}

func registerCapabilitiesTool(s *server.MCPServer, svc handlers.SearchService) {
	tool := mcp.NewTool("recall_capabilities",
		mcp.WithDescription("Report which retrieval tiers are available: vector index, embedding and completion providers, cluster tier."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(handlers.ToCapabilitiesResponse(svc.Capabilities(ctx)))
	})
}
