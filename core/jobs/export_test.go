package jobs

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDocumentSource struct {
	mu          sync.Mutex
	collections map[string][]ExportDocument
	contents    map[string][]byte
	fetchErr    error
	onFetch     func(doc ExportDocument)
	fetches     int32
}

func (f *fakeDocumentSource) ListDocuments(ctx context.Context, collection string) ([]ExportDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[collection], nil
}

func (f *fakeDocumentSource) FetchDocument(ctx context.Context, doc ExportDocument) ([]byte, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.onFetch != nil {
		f.onFetch(doc)
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contents[doc.ID], nil
}

type fakeObjectStore struct {
	mu       sync.Mutex
	putKey   string
	putBody  []byte
	putType  string
	puts     int
	presigns int
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putKey = key
	f.putBody = append([]byte(nil), body...)
	f.putType = contentType
	f.puts++
	return nil
}

func (f *fakeObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigns++
	return "https://objects.example.com/" + key + "?signed=1", nil
}

func newExportEnv(t *testing.T, source *fakeDocumentSource) (*queueEnv, *ExportService, *fakeObjectStore) {
	t.Helper()
	env := newQueueEnv(t)
	objects := &fakeObjectStore{}
	svc := NewExportService(env.queue, source, objects, 2)
	return env, svc, objects
}

func runningExportJob(t *testing.T, env *queueEnv, svc *ExportService, collections ...string) *Job {
	t.Helper()
	ctx := context.Background()
	job, err := svc.Enqueue(ctx, "team-1", ExportRequest{Collections: collections})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job.Status = StatusRunning
	if err := env.store.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	return job
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		out[f.Name] = string(body)
	}
	return out
}

func TestExportProcess(t *testing.T) {
	source := &fakeDocumentSource{
		collections: map[string][]ExportDocument{
			"contracts": {
				{ID: "d1", Collection: "contracts", Name: "lease.pdf"},
				{ID: "d2", Collection: "contracts", Name: "nda.pdf"},
			},
			"invoices": {
				{ID: "d3", Collection: "invoices", Name: "q1.json"},
			},
		},
		contents: map[string][]byte{
			"d1": []byte("lease body"),
			"d2": []byte("nda body"),
			"d3": []byte(`{"total":100}`),
		},
	}
	env, svc, objects := newExportEnv(t, source)
	job := runningExportJob(t, env, svc, "contracts", "invoices")

	detail, err := svc.Process(context.Background(), job, notCancelled)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if detail["files"] != 3 {
		t.Fatalf("detail %+v", detail)
	}
	per, ok := detail["collections"].(map[string]any)
	if !ok || per["contracts"] != 2 || per["invoices"] != 1 {
		t.Fatalf("per-collection %+v", detail["collections"])
	}

	if objects.putKey != "exports/"+job.JobID+".zip" || objects.putType != "application/zip" {
		t.Fatalf("upload key=%q type=%q", objects.putKey, objects.putType)
	}
	if detail["objectKey"] != objects.putKey {
		t.Fatalf("objectKey %v", detail["objectKey"])
	}
	url, _ := detail["downloadUrl"].(string)
	if url == "" || objects.presigns != 1 {
		t.Fatalf("downloadUrl %q presigns %d", url, objects.presigns)
	}

	files := readArchive(t, objects.putBody)
	if files["contracts/lease.pdf"] != "lease body" || files["invoices/q1.json"] != `{"total":100}` {
		t.Fatalf("archive %+v", files)
	}

	got, _ := env.store.GetJob(context.Background(), job.JobID)
	if got.Progress.Processed != 2 || got.Progress.Total != 2 {
		t.Fatalf("progress %+v", got.Progress)
	}
}

func TestExportEmptyCollectionsSkipUpload(t *testing.T) {
	source := &fakeDocumentSource{collections: map[string][]ExportDocument{}}
	env, svc, objects := newExportEnv(t, source)
	job := runningExportJob(t, env, svc, "empty")

	detail, err := svc.Process(context.Background(), job, notCancelled)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if detail["files"] != 0 {
		t.Fatalf("detail %+v", detail)
	}
	if objects.puts != 0 {
		t.Fatal("no archive should be uploaded for zero files")
	}
	if _, ok := detail["downloadUrl"]; ok {
		t.Fatalf("unexpected download link: %+v", detail)
	}
}

func TestExportCancelUploadsPartialArchive(t *testing.T) {
	var stop atomic.Bool
	source := &fakeDocumentSource{
		collections: map[string][]ExportDocument{
			"alpha": {{ID: "a1", Collection: "alpha", Name: "a1.txt"}},
			"beta":  {{ID: "b1", Collection: "beta", Name: "b1.txt"}},
		},
		contents: map[string][]byte{
			"a1": []byte("alpha doc"),
			"b1": []byte("beta doc"),
		},
	}
	// Flip the flag once the first collection's document is fetched, so
	// the checkpoint before the second collection observes it.
	source.onFetch = func(ExportDocument) { stop.Store(true) }
	env, svc, objects := newExportEnv(t, source)
	job := runningExportJob(t, env, svc, "alpha", "beta")

	detail, err := svc.Process(context.Background(), job, stop.Load)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if detail["files"] != 1 {
		t.Fatalf("detail %+v", detail)
	}
	if objects.puts != 1 {
		t.Fatal("partial archive must still be uploaded")
	}
	files := readArchive(t, objects.putBody)
	if files["alpha/a1.txt"] != "alpha doc" {
		t.Fatalf("archive %+v", files)
	}
	if _, ok := files["beta/b1.txt"]; ok {
		t.Fatal("cancelled collection leaked into archive")
	}
	got, _ := env.store.GetJob(context.Background(), job.JobID)
	if got.Progress.Processed != 1 || got.Progress.Total != 2 {
		t.Fatalf("progress %+v", got.Progress)
	}
}

func TestExportFetchErrorFailsCollection(t *testing.T) {
	source := &fakeDocumentSource{
		collections: map[string][]ExportDocument{
			"alpha": {{ID: "a1", Collection: "alpha", Name: "a1.txt"}},
		},
		fetchErr: errors.New("document store down"),
	}
	env, svc, objects := newExportEnv(t, source)
	job := runningExportJob(t, env, svc, "alpha")

	_, err := svc.Process(context.Background(), job, notCancelled)
	if err == nil || errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if objects.puts != 0 {
		t.Fatal("failed export must not upload")
	}
}

func TestExportWorkerPoolFetchesAll(t *testing.T) {
	docs := make([]ExportDocument, 0, 20)
	contents := make(map[string][]byte, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("d%02d", i)
		docs = append(docs, ExportDocument{ID: id, Collection: "bulk", Name: id + ".txt"})
		contents[id] = []byte("content " + id)
	}
	source := &fakeDocumentSource{
		collections: map[string][]ExportDocument{"bulk": docs},
		contents:    contents,
	}
	env, svc, objects := newExportEnv(t, source)
	job := runningExportJob(t, env, svc, "bulk")

	detail, err := svc.Process(context.Background(), job, notCancelled)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if detail["files"] != 20 {
		t.Fatalf("detail %+v", detail)
	}
	if got := atomic.LoadInt32(&source.fetches); got != 20 {
		t.Fatalf("fetches = %d", got)
	}
	files := readArchive(t, objects.putBody)
	if len(files) != 20 || files["bulk/d07.txt"] != "content d07" {
		t.Fatalf("archive has %d files", len(files))
	}
	got, _ := env.store.GetJob(context.Background(), job.JobID)
	if got.Progress.Processed != 1 || got.Progress.Total != 1 {
		t.Fatalf("progress %+v", got.Progress)
	}
}

func TestExportEnqueueValidation(t *testing.T) {
	env := newQueueEnv(t)
	svc := NewExportService(env.queue, &fakeDocumentSource{}, &fakeObjectStore{}, 0)
	if _, err := svc.Enqueue(context.Background(), "team-1", ExportRequest{}); err == nil {
		t.Fatal("expected validation error")
	}
}

// brokenSink rejects every write. The archive writer buffers roughly 4KB
// internally, so small entries complete in memory and the failure only
// surfaces once a large entry forces a flush.
type brokenSink struct{}

func (brokenSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestExportFailedWriteNotCounted(t *testing.T) {
	noise := make([]byte, 64<<10)
	state := uint32(2463534242)
	for i := range noise {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		noise[i] = byte(state)
	}
	source := &fakeDocumentSource{
		collections: map[string][]ExportDocument{
			"legal": {
				{ID: "doc-a", Collection: "legal", Name: "alpha.txt"},
				{ID: "doc-b", Collection: "legal", Name: "beta.bin"},
			},
		},
		contents: map[string][]byte{
			"doc-a": []byte("alpha body"),
			"doc-b": noise,
		},
	}
	svc := NewExportService(nil, source, nil, 1)

	zw := zip.NewWriter(brokenSink{})
	written, err := svc.exportCollection(context.Background(), zw, "legal", notCancelled)
	if err == nil {
		t.Fatal("sink failure must surface")
	}
	if written != 1 {
		t.Fatalf("written = %d, want only the entry that landed", written)
	}
}
