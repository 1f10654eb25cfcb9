package jobs

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

const remoteRequestTimeout = 60 * time.Second

// GraphClient talks to the graph microservice for extraction counts and
// phase runs. It backs both extractor interfaces and the idempotency
// store.
type GraphClient struct {
	client  *http.Client
	baseURL string
}

// NewGraphClient constructs a graph client. A nil client gets a default
// with a request timeout.
func NewGraphClient(baseURL string, client *http.Client) *GraphClient {
	if client == nil {
		client = &http.Client{Timeout: remoteRequestTimeout}
	}
	return &GraphClient{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (g *GraphClient) CountEntities(ctx context.Context, documentID string) (int64, error) {
	return g.count(ctx, documentID, "entities")
}

func (g *GraphClient) CountRelationships(ctx context.Context, documentID string) (int64, error) {
	return g.count(ctx, documentID, "relationships")
}

func (g *GraphClient) ExtractEntities(ctx context.Context, documentID string, force bool) (int64, error) {
	return g.extract(ctx, documentID, "entities", force)
}

func (g *GraphClient) ExtractRelationships(ctx context.Context, documentID string, force bool) (int64, error) {
	return g.extract(ctx, documentID, "relationships", force)
}

func (g *GraphClient) count(ctx context.Context, documentID, phase string) (int64, error) {
	url := fmt.Sprintf("%s/documents/%s/%s/count", g.baseURL, documentID, phase)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	return g.countResponse(req, url)
}

func (g *GraphClient) extract(ctx context.Context, documentID, phase string, force bool) (int64, error) {
	body, err := json.Marshal(map[string]bool{"force": force})
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/documents/%s/%s/extract", g.baseURL, documentID, phase)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.countResponse(req, url)
}

func (g *GraphClient) countResponse(req *http.Request, url string) (int64, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("call %s: status %d", url, resp.StatusCode)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode response from %s: %w", url, err)
	}
	return out.Count, nil
}

// DocumentClient fetches exportable documents from the document
// microservice.
type DocumentClient struct {
	client  *http.Client
	baseURL string
}

// NewDocumentClient constructs a document client. A nil client gets a
// default with a request timeout.
func NewDocumentClient(baseURL string, client *http.Client) *DocumentClient {
	if client == nil {
		client = &http.Client{Timeout: remoteRequestTimeout}
	}
	return &DocumentClient{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (d *DocumentClient) ListDocuments(ctx context.Context, collection string) ([]ExportDocument, error) {
	url := fmt.Sprintf("%s/collections/%s/documents", d.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("call %s: status %d", url, resp.StatusCode)
	}
	var docs []ExportDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", url, err)
	}
	return docs, nil
}

func (d *DocumentClient) FetchDocument(ctx context.Context, doc ExportDocument) ([]byte, error) {
	url := fmt.Sprintf("%s/documents/%s/content", d.baseURL, doc.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", doc.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch document %s: status %d", doc.ID, resp.StatusCode)
	}
	return data, nil
}
