package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGraphClient(t *testing.T) {
	var extractBody map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/doc-1/entities/count":
			_, _ = w.Write([]byte(`{"count":12}`))
		case "/documents/doc-1/relationships/extract":
			if err := json.NewDecoder(r.Body).Decode(&extractBody); err != nil {
				t.Errorf("decode extract body: %v", err)
			}
			_, _ = w.Write([]byte(`{"count":4}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, nil)
	ctx := context.Background()

	n, err := client.CountEntities(ctx, "doc-1")
	if err != nil || n != 12 {
		t.Fatalf("count = %d err %v", n, err)
	}

	n, err = client.ExtractRelationships(ctx, "doc-1", true)
	if err != nil || n != 4 {
		t.Fatalf("extract = %d err %v", n, err)
	}
	if !extractBody["force"] {
		t.Fatalf("force not forwarded: %+v", extractBody)
	}

	if _, err := client.CountEntities(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown document")
	}
}

func TestDocumentClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/contracts/documents":
			_, _ = w.Write([]byte(`[{"id":"d1","collection":"contracts","name":"lease.pdf"}]`))
		case "/documents/d1/content":
			_, _ = w.Write([]byte("lease body"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewDocumentClient(srv.URL, nil)
	ctx := context.Background()

	docs, err := client.ListDocuments(ctx, "contracts")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "lease.pdf" {
		t.Fatalf("docs %+v", docs)
	}

	body, err := client.FetchDocument(ctx, docs[0])
	if err != nil || string(body) != "lease body" {
		t.Fatalf("body %q err %v", body, err)
	}
}
