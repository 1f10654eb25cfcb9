package jobs

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linqra/linqra/core/infra/logging"
	"github.com/linqra/linqra/core/infra/objstore"
)

// KindCollectionExport streams a team's collections into a zip archive.
const KindCollectionExport = "collection-export"

const (
	componentExport      = "export"
	defaultExportWorkers = 4
	exportLinkExpiry     = 24 * time.Hour
)

// ExportRequest is the collection-export job payload.
type ExportRequest struct {
	Collections []string `json:"collections"`
}

// ExportDocument identifies one document inside a collection.
type ExportDocument struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

// DocumentSource lists and fetches exportable documents.
type DocumentSource interface {
	ListDocuments(ctx context.Context, collection string) ([]ExportDocument, error)
	FetchDocument(ctx context.Context, doc ExportDocument) ([]byte, error)
}

// ExportService processes collection-export jobs: documents are fetched
// by a bounded worker pool, written into one zip, uploaded, and linked
// with a presigned URL. Cancellation checkpoints sit per collection and
// per document; whatever was archived before the checkpoint is still
// uploaded as a partial result.
type ExportService struct {
	queue   *Queue
	source  DocumentSource
	objects objstore.Store
	workers int
}

// NewExportService constructs the collection-export service.
func NewExportService(queue *Queue, source DocumentSource, objects objstore.Store, workers int) *ExportService {
	if workers <= 0 {
		workers = defaultExportWorkers
	}
	return &ExportService{queue: queue, source: source, objects: objects, workers: workers}
}

// Enqueue creates a collection-export job.
func (s *ExportService) Enqueue(ctx context.Context, teamID string, req ExportRequest) (*Job, error) {
	if len(req.Collections) == 0 {
		return nil, fmt.Errorf("at least one collection required")
	}
	return s.queue.Enqueue(ctx, teamID, KindCollectionExport, req)
}

// Process builds and uploads the archive.
func (s *ExportService) Process(ctx context.Context, job *Job, cancelled func() bool) (map[string]any, error) {
	var req ExportRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, fmt.Errorf("decode export payload: %w", err)
	}

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	perCollection := map[string]any{}
	totalFiles := 0
	wasCancelled := false

	for i, collection := range req.Collections {
		if cancelled() {
			wasCancelled = true
			break
		}
		written, err := s.exportCollection(ctx, zw, collection, cancelled)
		perCollection[collection] = written
		totalFiles += written
		if errors.Is(err, ErrCancelled) {
			wasCancelled = true
			break
		}
		if err != nil {
			_ = zw.Close()
			return map[string]any{"collections": perCollection}, fmt.Errorf("export collection %s: %w", collection, err)
		}
		s.updateProgress(ctx, job.JobID, int64(i+1), int64(len(req.Collections)), map[string]any{
			"collections": perCollection,
			"files":       totalFiles,
		})
	}

	if err := zw.Close(); err != nil {
		return map[string]any{"collections": perCollection}, fmt.Errorf("finalize archive: %w", err)
	}

	detail := map[string]any{
		"collections": perCollection,
		"files":       totalFiles,
	}
	if totalFiles > 0 {
		key := "exports/" + job.JobID + ".zip"
		if err := s.objects.Put(ctx, key, buf.Bytes(), "application/zip"); err != nil {
			return detail, fmt.Errorf("upload archive: %w", err)
		}
		url, err := s.objects.PresignGet(ctx, key, exportLinkExpiry)
		if err != nil {
			return detail, fmt.Errorf("presign archive: %w", err)
		}
		detail["objectKey"] = key
		detail["downloadUrl"] = url
		logging.Info(componentExport, "archive uploaded", "job_id", job.JobID, "key", key, "files", totalFiles)
	}

	if wasCancelled {
		return detail, ErrCancelled
	}
	return detail, nil
}

// exportCollection fetches a collection's documents through the worker
// pool and writes them into the archive sequentially. Returns how many
// files were written; the error is ErrCancelled when a worker observed
// the flag mid-collection.
func (s *ExportService) exportCollection(ctx context.Context, zw *zip.Writer, collection string, cancelled func() bool) (int, error) {
	docs, err := s.source.ListDocuments(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	type fetched struct {
		doc  ExportDocument
		data []byte
		err  error
	}
	in := make(chan ExportDocument)
	out := make(chan fetched)

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range in {
				if cancelled() {
					out <- fetched{doc: doc, err: ErrCancelled}
					continue
				}
				data, err := s.source.FetchDocument(ctx, doc)
				out <- fetched{doc: doc, data: data, err: err}
			}
		}()
	}
	go func() {
		for _, doc := range docs {
			in <- doc
		}
		close(in)
		wg.Wait()
		close(out)
	}()

	written := 0
	var firstErr error
	for f := range out {
		if f.err != nil {
			if firstErr == nil {
				firstErr = f.err
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		name := f.doc.Name
		if name == "" {
			name = f.doc.ID
		}
		w, err := zw.Create(collection + "/" + name)
		if err != nil {
			firstErr = fmt.Errorf("archive entry %s: %w", name, err)
			continue
		}
		if _, err := w.Write(f.data); err != nil {
			firstErr = fmt.Errorf("archive write %s: %w", name, err)
			continue
		}
		written++
	}
	return written, firstErr
}

func (s *ExportService) updateProgress(ctx context.Context, jobID string, processed, total int64, detail map[string]any) {
	if err := s.queue.UpdateProgress(ctx, jobID, processed, total, detail); err != nil {
		logging.Error(componentExport, "progress update failed", "job_id", jobID, "error", err)
	}
}
