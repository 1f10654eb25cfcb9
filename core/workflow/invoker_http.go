package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultInvokeTimeout = 60 * time.Second

// HTTPInvoker posts resolved step requests as JSON. Tool steps go to the
// registered tool's endpoint; fallback steps go to a route derived from
// the target under the microservice base URL.
type HTTPInvoker struct {
	client  *http.Client
	baseURL string
}

// NewHTTPInvoker constructs an invoker. baseURL is the microservice
// fallback root; a nil client gets a default with a request timeout.
func NewHTTPInvoker(baseURL string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{Timeout: defaultInvokeTimeout}
	}
	return &HTTPInvoker{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// InvokeTool posts the step request to the tool's registered endpoint.
func (i *HTTPInvoker) InvokeTool(ctx context.Context, tool *Tool, req *StepRequest) (any, error) {
	if tool == nil || tool.Endpoint == "" {
		return nil, fmt.Errorf("tool endpoint missing for target %s", req.Target)
	}
	return i.post(ctx, tool.Endpoint, tool.AuthToken, req)
}

// InvokeService posts the step request to the microservice route for its target.
func (i *HTTPInvoker) InvokeService(ctx context.Context, req *StepRequest) (any, error) {
	if i.baseURL == "" {
		return nil, fmt.Errorf("no microservice base url configured")
	}
	url := i.baseURL + "/" + strings.TrimPrefix(req.Target, "/")
	if req.Action != "" {
		url += "/" + req.Action
	}
	return i.post(ctx, url, "", req)
}

func (i *HTTPInvoker) post(ctx context.Context, url, authToken string, req *StepRequest) (any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal step request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("invoke %s: status %d: %s", url, resp.StatusCode, truncate(string(data), 256))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data), nil
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
