// Package renderworker talks to the external render preparation worker.
package renderworker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"renderdesk/internal/metrics"
	"renderdesk/internal/models"
	"renderdesk/internal/pkg/errors"
)

// DefaultTimeout bounds one queue call.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// ErrNotConfigured is returned when the worker URL or token is missing.
var ErrNotConfigured = errors.NotConfigured("Server not configured")

// Client fetches a tenant's render queue.
type Client interface {
	FetchQueue(ctx context.Context, client string) ([]models.RenderJobMeta, error)
}

type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether both the base URL and token are set.
func (c *HTTPClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// FetchQueue returns every job the worker knows for client, in upstream order.
func (c *HTTPClient) FetchQueue(ctx context.Context, client string) ([]models.RenderJobMeta, error) {
	if !c.Configured() {
		metrics.ObserveWorkerCall(metrics.OutcomeNotConfigured, 0)
		return nil, ErrNotConfigured
	}

	start := time.Now()
	items, outcome, err := c.fetch(ctx, client)
	metrics.ObserveWorkerCall(outcome, time.Since(start))
	return items, err
}

func (c *HTTPClient) fetch(ctx context.Context, client string) ([]models.RenderJobMeta, string, error) {
	endpoint := c.baseURL + "/jobs/render/queue?client=" + url.QueryEscape(client)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, metrics.OutcomeTransportError, errors.WrapWithCode(err, errors.CodeInternal, "renderworker.queue", "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, metrics.OutcomeTransportError, errors.WrapWithCode(err, errors.CodeUpstream, "renderworker.queue", "render worker unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		msg := errorMessage(body, res.StatusCode)
		return nil, metrics.OutcomeHTTPError, errors.Upstream("render worker", res.StatusCode, msg).
			WithField("upstream_status", res.StatusCode)
	}

	items, err := decodeQueue(res.Body)
	if err != nil {
		return nil, metrics.OutcomeDecodeError, errors.WrapWithCode(err, errors.CodeUpstream, "renderworker.queue", "invalid render worker response")
	}
	return items, metrics.OutcomeOK, nil
}

// queueEnvelope covers the object shapes the worker has used for the queue.
type queueEnvelope struct {
	Jobs  []QueueItem `json:"jobs"`
	Items []QueueItem `json:"items"`
}

func decodeQueue(r io.Reader) ([]models.RenderJobMeta, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, nil
	}

	var list []QueueItem
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
	} else {
		var env queueEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		list = env.Jobs
		if list == nil {
			list = env.Items
		}
	}

	out := make([]models.RenderJobMeta, 0, len(list))
	for _, it := range list {
		m := it.ToMeta()
		if m.JobID == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// errorMessage picks the most useful text from an error response body.
func errorMessage(body []byte, status int) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			if s := messageFrom(payload[key]); s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		return text
	}
	return fmt.Sprintf("render worker returned %d", status)
}

// messageFrom reads a string, or the message of a nested {"message": ...} object.
func messageFrom(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		return messageFrom(val["message"])
	default:
		return ""
	}
}

// IsUpstream reports whether err came from the worker rather than from configuration.
func IsUpstream(err error) bool {
	return errors.IsCode(err, errors.CodeUpstream)
}

// IsNotConfigured reports whether err is ErrNotConfigured.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}
