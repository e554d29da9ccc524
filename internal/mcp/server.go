package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tunelens/tunelens/internal/domain"
	"github.com/tunelens/tunelens/internal/service"
)

// Server exposes the synonym catalog to AI agents over the Model Context
// Protocol. Read-only: search and lookup; writes stay behind the REST admin
// surface.
type Server struct {
	synonyms  *service.SynonymService
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server and registers its tools.
func NewServer(synonyms *service.SynonymService, appName, version string) *Server {
	s := &Server{synonyms: synonyms}

	s.mcpServer = server.NewMCPServer(
		appName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()

	return s
}

// Handler returns the streamable HTTP handler for the MCP endpoint.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	searchTool := mcp.NewTool("search_synonyms",
		mcp.WithDescription("Hybrid full-text + semantic search over music tag synonyms. An empty query lists tags unranked."),
		mcp.WithString("query",
			mcp.Description("Free-text query, e.g. 'heavy guitar music'"),
		),
		mcp.WithString("tag_type",
			mcp.Description("Optional filter: genre or mood"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10)"),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearch)

	getTool := mcp.NewTool("get_synonyms",
		mcp.WithDescription("Look up the synonym expansion for one music tag."),
		mcp.WithString("tag_type",
			mcp.Required(),
			mcp.Description("genre or mood"),
		),
		mcp.WithString("tag_value",
			mcp.Required(),
			mcp.Description("Canonical tag name, e.g. 'rock'"),
		),
	)
	s.mcpServer.AddTool(getTool, s.handleGet)
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	limit := request.GetInt("limit", service.DefaultLimit)

	var tagType domain.TagType
	if raw := request.GetString("tag_type", ""); raw != "" {
		parsed, err := domain.ParseTagType(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		tagType = parsed
	}

	items, diag := s.synonyms.Search(ctx, query, tagType, limit)

	payload, err := json.MarshalIndent(map[string]interface{}{
		"results":  items,
		"degraded": diag.Degraded(),
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawType := request.GetString("tag_type", "")
	tagValue := request.GetString("tag_value", "")
	if rawType == "" || tagValue == "" {
		return mcp.NewToolResultError("tag_type and tag_value are required"), nil
	}

	tagType, err := domain.ParseTagType(rawType)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entry := s.synonyms.Get(ctx, tagType, tagValue)
	if entry == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no active synonyms for %s/%s", tagType, tagValue)), nil
	}

	payload, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode entry: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
