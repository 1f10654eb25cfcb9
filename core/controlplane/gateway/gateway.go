package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linqra/linqra/core/execution"
	"github.com/linqra/linqra/core/infra/bus"
	"github.com/linqra/linqra/core/infra/logging"
	infraMetrics "github.com/linqra/linqra/core/infra/metrics"
	"github.com/linqra/linqra/core/jobs"
	"github.com/linqra/linqra/core/workflow"
)

const (
	componentGateway    = "api-gateway"
	maxRequestBodyBytes = 2 << 20
	headerTeamID        = "X-Team-ID"
	defaultListLimit    = 50
)

// Server is the HTTP and websocket surface over the workflow executor,
// execution records, and the job queue. It holds no business logic;
// every handler validates, delegates, and encodes.
type Server struct {
	executor   *workflow.Executor
	recorder   *execution.Recorder
	records    execution.RecordStore
	stats      *execution.Aggregator
	tools      workflow.ToolStore
	queue      *jobs.Queue
	jobStore   jobs.Store
	extraction *jobs.ExtractionService
	export     *jobs.ExportService
	bus        *bus.NatsBus
	progress   string
	metrics    infraMetrics.GatewayMetrics
	started    time.Time

	clients   map[*websocket.Conn]chan []byte
	clientsMu sync.RWMutex
	eventsCh  chan []byte
}

// ServerConfig wires the Server's collaborators.
type ServerConfig struct {
	Executor   *workflow.Executor
	Recorder   *execution.Recorder
	Records    execution.RecordStore
	Tools      workflow.ToolStore
	Queue      *jobs.Queue
	JobStore   jobs.Store
	Extraction *jobs.ExtractionService
	Export     *jobs.ExportService
	Bus        *bus.NatsBus
	// ProgressSubject is the prefix job progress is published under.
	ProgressSubject string
	Metrics         infraMetrics.GatewayMetrics
}

// NewServer constructs the gateway server. Nil metrics gets a noop.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = infraMetrics.NoopGateway{}
	}
	if cfg.ProgressSubject == "" {
		cfg.ProgressSubject = jobs.DefaultProgressSubject
	}
	return &Server{
		executor:   cfg.Executor,
		recorder:   cfg.Recorder,
		records:    cfg.Records,
		stats:      execution.NewAggregator(),
		tools:      cfg.Tools,
		queue:      cfg.Queue,
		jobStore:   cfg.JobStore,
		extraction: cfg.Extraction,
		export:     cfg.Export,
		bus:        cfg.Bus,
		progress:   cfg.ProgressSubject,
		metrics:    cfg.Metrics,
		started:    time.Now().UTC(),
		clients:    make(map[*websocket.Conn]chan []byte),
		eventsCh:   make(chan []byte, 512),
	}
}

// Handler returns the full route table wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/status", s.instrumented("/api/v1/status", s.handleStatus))

	mux.HandleFunc("POST /api/v1/workflows/execute", s.instrumented("/api/v1/workflows/execute", s.handleExecuteWorkflow))

	mux.HandleFunc("GET /api/v1/executions", s.instrumented("/api/v1/executions", s.handleListExecutions))
	mux.HandleFunc("GET /api/v1/executions/{id}", s.instrumented("/api/v1/executions/{id}", s.handleGetExecution))
	mux.HandleFunc("DELETE /api/v1/executions/{id}", s.instrumented("/api/v1/executions/{id}", s.handleDeleteExecution))

	mux.HandleFunc("GET /api/v1/stats/team", s.instrumented("/api/v1/stats/team", s.handleTeamStats))
	mux.HandleFunc("GET /api/v1/stats/workflows/{id}", s.instrumented("/api/v1/stats/workflows/{id}", s.handleWorkflowStats))

	mux.HandleFunc("GET /api/v1/tools", s.instrumented("/api/v1/tools", s.handleListTools))
	mux.HandleFunc("POST /api/v1/tools", s.instrumented("/api/v1/tools", s.handleSaveTool))
	mux.HandleFunc("DELETE /api/v1/tools/{target}", s.instrumented("/api/v1/tools/{target}", s.handleDeleteTool))

	mux.HandleFunc("POST /api/v1/jobs/extraction", s.instrumented("/api/v1/jobs/extraction", s.handleEnqueueExtraction))
	mux.HandleFunc("POST /api/v1/jobs/export", s.instrumented("/api/v1/jobs/export", s.handleEnqueueExport))
	mux.HandleFunc("GET /api/v1/jobs", s.instrumented("/api/v1/jobs", s.handleListJobs))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.instrumented("/api/v1/jobs/{id}", s.handleGetJob))
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.instrumented("/api/v1/jobs/{id}/cancel", s.handleCancelJob))

	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	return corsMiddleware(mux)
}

// Start serves the API on httpAddr and Prometheus metrics on metricsAddr.
// It blocks until the listener fails.
func (s *Server) Start(httpAddr, metricsAddr string) error {
	if metricsAddr != "" {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", infraMetrics.Handler())
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      metricsMux,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 5 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			logging.Info(componentGateway, "metrics listening", "addr", metricsAddr+"/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error(componentGateway, "metrics server error", "error", err)
			}
		}()
	}

	s.startBroadcast()

	srv := &http.Server{
		Addr:         httpAddr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	logging.Info(componentGateway, "http listening", "addr", httpAddr)
	return srv.ListenAndServe()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	}
	if s.bus != nil {
		status["nats"] = s.bus.Status()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := requestSchema.Validate(raw); err != nil {
		http.Error(w, "invalid workflow request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var req workflow.Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "decode workflow request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if team := teamID(r); team != "" && team != req.TeamID {
		http.Error(w, "team mismatch between header and body", http.StatusForbidden)
		return
	}

	resp, execErr := s.executor.Execute(r.Context(), &req)
	if resp == nil {
		http.Error(w, execErr.Error(), http.StatusBadRequest)
		return
	}

	if s.recorder != nil {
		if _, err := s.recorder.Record(r.Context(), &req, resp); err != nil {
			logging.Error(componentGateway, "execution record failed",
				"execution_id", resp.Metadata.ExecutionID, "error", err)
		}
	}

	// Step failures still return the full response body; the caller reads
	// the outcome from metadata.status.
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	limit := queryLimit(r)

	var (
		recs []*execution.Record
		err  error
	)
	if wf := r.URL.Query().Get("workflow"); wf != "" {
		recs, err = s.records.ListByWorkflow(r.Context(), wf, limit)
		recs = filterTeam(recs, team)
	} else {
		recs, err = s.records.ListByTeam(r.Context(), team, limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	rec, err := s.records.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, execution.ErrRecordNotFound) {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec.TeamID != team {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	err := s.records.DeleteRecord(r.Context(), r.PathValue("id"), team)
	if errors.Is(err, execution.ErrRecordNotFound) {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTeamStats(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	recs, err := s.records.ListByTeam(r.Context(), team, queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.stats.AggregateTeam(recs))
}

func (s *Server) handleWorkflowStats(w http.ResponseWriter, r *http.Request) {
	recs, err := s.records.ListByWorkflow(r.Context(), r.PathValue("id"), queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if team := teamID(r); team != "" {
		recs = filterTeam(recs, team)
	}
	writeJSON(w, http.StatusOK, s.stats.Aggregate(recs))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	tools, err := s.tools.ListTools(r.Context(), team)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleSaveTool(w http.ResponseWriter, r *http.Request) {
	var tool workflow.Tool
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(&tool); err != nil {
		http.Error(w, "decode tool: "+err.Error(), http.StatusBadRequest)
		return
	}
	if team := teamID(r); team != "" && team != tool.TeamID {
		http.Error(w, "team mismatch between header and body", http.StatusForbidden)
		return
	}
	if tool.Target == "" || tool.TeamID == "" {
		http.Error(w, "target and teamId required", http.StatusBadRequest)
		return
	}
	if err := s.tools.SaveTool(r.Context(), &tool); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	team := teamID(r)
	if team == "" {
		http.Error(w, "team required", http.StatusBadRequest)
		return
	}
	if err := s.tools.DeleteTool(r.Context(), r.PathValue("target"), team); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Team-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error(componentGateway, "response encode failed", "error", err)
	}
}

func teamID(r *http.Request) string {
	if team := strings.TrimSpace(r.Header.Get(headerTeamID)); team != "" {
		return team
	}
	return strings.TrimSpace(r.URL.Query().Get("team"))
}

func queryLimit(r *http.Request) int64 {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

func filterTeam(recs []*execution.Record, team string) []*execution.Record {
	out := recs[:0]
	for _, rec := range recs {
		if rec.TeamID == team {
			out = append(out, rec)
		}
	}
	return out
}
