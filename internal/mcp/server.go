// Package mcp exposes the knowledge base and ticket trail to AI agents over
// the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

const maxSearchLimit = 50

// Knowledge searches and reads articles.
type Knowledge interface {
	Search(ctx context.Context, query string, limit int) ([]*knowledge.Item, int, error)
	Article(ctx context.Context, id string) (*knowledge.Article, bool)
}

// Tickets reads a ticket with its interaction trail.
type Tickets interface {
	GetTicket(ctx context.Context, id string) (*service.TicketDetail, error)
}

// Stats reports agent processing counts.
type Stats interface {
	Stats(ctx context.Context, days int) (service.OpsStats, error)
}

// Server wraps the helpdesk services as MCP tools.
type Server struct {
	kb      Knowledge
	tickets Tickets
	stats   Stats
	version string
}

// NewServer creates the tool server.
func NewServer(kb Knowledge, tickets Tickets, stats Stats, version string) *Server {
	return &Server{kb: kb, tickets: tickets, stats: stats, version: version}
}

// MCPServer returns an mcp-go server with every tool registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("helpdesk", s.version, server.WithToolCapabilities(false))
	srv.AddTool(s.kbSearchTool())
	srv.AddTool(s.kbArticleTool())
	srv.AddTool(s.ticketTool())
	srv.AddTool(s.statsTool())
	return srv
}

// ServeStdio blocks serving the stdio transport until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.MCPServer()).Listen(ctx, in, out)
}

func (s *Server) kbSearchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("helpdesk_kb_search",
		mcp.WithDescription("Search knowledge base articles written from resolved tickets. Returns total hits and the best matches with id, title and snippet."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free text query, e.g. 'vpn drops every hour'")),
		mcp.WithNumber("limit", mcp.Description("Maximum hits to return (default 10, max 50)")),
	)
	return tool, s.handleKBSearch
}

func (s *Server) handleKBSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	items, total, err := s.kb.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("knowledge base unavailable: %v", err)), nil
	}
	if items == nil {
		items = []*knowledge.Item{}
	}
	return jsonResult(dto.KBSearchResponse{Query: query, Total: total, Items: items})
}

func (s *Server) kbArticleTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("helpdesk_kb_article",
		mcp.WithDescription("Read one knowledge base article by id, as returned by helpdesk_kb_search."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Article id, e.g. ticket-<ticket id>")),
	)
	return tool, s.handleKBArticle
}

func (s *Server) handleKBArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	article, ok := s.kb.Article(ctx, id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("article not found: %s", id)), nil
	}
	return jsonResult(article)
}

func (s *Server) ticketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("helpdesk_ticket",
		mcp.WithDescription("Get a ticket with its analysis, interaction trail and recorded solution."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket id")),
	)
	return tool, s.handleTicket
}

func (s *Server) handleTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ticket_id"), nil
	}
	detail, err := s.tickets.GetTicket(ctx, id)
	if errors.Is(err, service.ErrTicketNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("ticket not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load ticket: %v", err)), nil
	}
	return jsonResult(dto.NewTicketDetail(detail.Ticket, detail.Interactions, detail.Solution))
}

func (s *Server) statsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("helpdesk_agent_stats",
		mcp.WithDescription("Report how many recent tickets the agent processed and its success rate."),
		mcp.WithNumber("days", mcp.Description("Window in days (default 7)")),
	)
	return tool, s.handleStats
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := request.GetInt("days", 7)
	if days <= 0 {
		return mcp.NewToolResultError("days must be positive"), nil
	}
	stats, err := s.stats.Stats(ctx, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute stats: %v", err)), nil
	}
	return jsonResult(stats)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
