package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

type stubKB struct {
	lastQuery string
	lastLimit int
	err       error
}

func (s *stubKB) Search(_ context.Context, q string, limit int) ([]*knowledge.Item, int, error) {
	s.lastQuery, s.lastLimit = q, limit
	if s.err != nil {
		return nil, 0, s.err
	}
	return []*knowledge.Item{{ID: "ticket-t-1", Title: "VPN drops", Snippet: "Reinstall the client", Score: 2.5}}, 1, nil
}

func (s *stubKB) Article(_ context.Context, id string) (*knowledge.Article, bool) {
	if id != "ticket-t-1" {
		return nil, false
	}
	return &knowledge.Article{ID: id, TicketID: "t-1", Title: "VPN drops", Category: "vpn"}, true
}

type stubTickets struct{}

func (stubTickets) GetTicket(_ context.Context, id string) (*service.TicketDetail, error) {
	switch id {
	case "t-1":
		return &service.TicketDetail{
			Ticket: &domain.Ticket{ID: "t-1", ExternalKey: "HD-0000T001", Status: domain.TicketStatusResolved},
			Interactions: []domain.TicketInteraction{
				{ID: "i-1", TicketID: "t-1", Kind: domain.InteractionAutoResolve, Content: "Reinstall the client"},
			},
		}, nil
	case "broken":
		return nil, errors.New("connection reset")
	}
	return nil, service.ErrTicketNotFound
}

type stubStats struct{ days int }

func (s *stubStats) Stats(_ context.Context, days int) (service.OpsStats, error) {
	s.days = days
	return service.OpsStats{Days: days, Total: 4, Processed: 3, Unprocessed: 1, SuccessRate: 75}, nil
}

func newTestServer() (*Server, *stubKB, *stubStats) {
	kb, stats := &stubKB{}, &stubStats{}
	return NewServer(kb, stubTickets{}, stats, "test"), kb, stats
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestKBSearch(t *testing.T) {
	srv, kb, _ := newTestServer()
	ctx := context.Background()

	result, err := srv.handleKBSearch(ctx, callToolReq("helpdesk_kb_search", map[string]any{"query": "vpn", "limit": float64(500)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "vpn", kb.lastQuery)
	assert.Equal(t, maxSearchLimit, kb.lastLimit)

	var out struct {
		Total int `json:"total"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, 1, out.Total)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "ticket-t-1", out.Items[0].ID)

	result, err = srv.handleKBSearch(ctx, callToolReq("helpdesk_kb_search", map[string]any{"query": "vpn"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 10, kb.lastLimit)
}

func TestKBSearchErrors(t *testing.T) {
	srv, kb, _ := newTestServer()
	ctx := context.Background()

	result, err := srv.handleKBSearch(ctx, callToolReq("helpdesk_kb_search", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	kb.err = errors.New("cluster red")
	result, err = srv.handleKBSearch(ctx, callToolReq("helpdesk_kb_search", map[string]any{"query": "printer"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cluster red")
}

func TestKBArticle(t *testing.T) {
	srv, _, _ := newTestServer()
	ctx := context.Background()

	result, err := srv.handleKBArticle(ctx, callToolReq("helpdesk_kb_article", map[string]any{"id": "ticket-t-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"ticket_id":"t-1"`)

	result, err = srv.handleKBArticle(ctx, callToolReq("helpdesk_kb_article", map[string]any{"id": "ticket-nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTicket(t *testing.T) {
	srv, _, _ := newTestServer()
	ctx := context.Background()

	result, err := srv.handleTicket(ctx, callToolReq("helpdesk_ticket", map[string]any{"ticket_id": "t-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out struct {
		ExternalKey  string `json:"external_key"`
		Status       string `json:"status"`
		Interactions []struct {
			Kind string `json:"kind"`
		} `json:"interactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, "HD-0000T001", out.ExternalKey)
	assert.Equal(t, "resolved", out.Status)
	require.Len(t, out.Interactions, 1)
	assert.Equal(t, string(domain.InteractionAutoResolve), out.Interactions[0].Kind)

	result, err = srv.handleTicket(ctx, callToolReq("helpdesk_ticket", map[string]any{"ticket_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ticket not found")

	result, err = srv.handleTicket(ctx, callToolReq("helpdesk_ticket", map[string]any{"ticket_id": "broken"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "connection reset")
}

func TestAgentStats(t *testing.T) {
	srv, _, stats := newTestServer()
	ctx := context.Background()

	result, err := srv.handleStats(ctx, callToolReq("helpdesk_agent_stats", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, 7, stats.days)
	assert.Contains(t, resultText(t, result), `"success_rate":75`)

	result, err = srv.handleStats(ctx, callToolReq("helpdesk_agent_stats", map[string]any{"days": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListTools(t *testing.T) {
	srv, _, _ := newTestServer()
	resp := srv.MCPServer().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	require.NotNil(t, resp)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var rpc struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpc))

	names := map[string]bool{}
	for _, tool := range rpc.Result.Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{"helpdesk_kb_search", "helpdesk_kb_article", "helpdesk_ticket", "helpdesk_agent_stats"} {
		assert.True(t, names[name], "expected tool %q", name)
	}
}
