package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// HTTPClient posts tickets to the analysis endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient builds a client with a bounded per-call timeout.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "analysis.http")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.id", req.TicketID))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, &TransientError{Op: "request", Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransientError{Op: "read response", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransientError{Op: "response", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(raw))}
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransientError{Op: "decode response", StatusCode: resp.StatusCode, Err: err}
	}
	return &result, nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
