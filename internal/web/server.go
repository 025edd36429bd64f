package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"media-compressor-go/internal/batch"
	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/metrics"
	"media-compressor-go/internal/statistics"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	comp    compressor.Compressor
	stats   *statistics.Statistics
	metrics *metrics.Metrics

	// Per-client submission limits
	limitMutex   sync.Mutex
	rateLimiters map[string]*rate.Limiter
	lastCleanup  time.Time

	// Job queue
	jobsMutex sync.RWMutex
	jobs      map[string]*Job
	queue     chan *Job
	baseCtx   context.Context
	stopAll   context.CancelFunc
	workers   sync.WaitGroup

	// Batch state
	batchMutex   sync.RWMutex
	batchRunning bool
	batchStats   *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	InputPath     string  `json:"input_path"`
	OutputPath    string  `json:"output_path"`
	TargetSize    string  `json:"target_size,omitempty"`
	TargetPercent float64 `json:"target_percent,omitempty"`
}

type BatchRequest struct {
	SourceDirectory string  `json:"source_directory"`
	TargetDirectory string  `json:"target_directory"`
	TargetSize      string  `json:"target_size,omitempty"`
	TargetPercent   float64 `json:"target_percent,omitempty"`
	DryRun          bool    `json:"dry_run"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer builds the HTTP API and starts the job workers. m may be nil.
func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	comp compressor.Compressor,
	stats *statistics.Statistics,
	m *metrics.Metrics,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          cfg,
		log:          log,
		router:       mux.NewRouter(),
		wsClients:    make(map[*websocket.Conn]bool),
		comp:         comp,
		stats:        stats,
		metrics:      m,
		rateLimiters: make(map[string]*rate.Limiter),
		lastCleanup:  time.Now(),
		jobs:         make(map[string]*Job),
		queue:        make(chan *Job, cfg.Performance.QueueSize),
		baseCtx:      ctx,
		stopAll:      cancel,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	s.startWorkers(cfg.Performance.WorkerThreads)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods("POST")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the listener down, cancels running jobs and waits for the
// workers to exit.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[JobState]int{}
	s.jobsMutex.RLock()
	for _, job := range s.jobs {
		counts[job.current()]++
	}
	s.jobsMutex.RUnlock()

	s.batchMutex.RLock()
	running := s.batchRunning
	s.batchMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"workers":       s.cfg.Performance.WorkerThreads,
			"queue_size":    s.cfg.Performance.QueueSize,
			"jobs":          counts,
			"batch_running": running,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if !s.getRateLimiter(getClientIP(r)).Allow() {
		s.writeError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req CompressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InputPath == "" || req.OutputPath == "" {
		s.writeError(w, "input_path and output_path are required", http.StatusBadRequest)
		return
	}
	if req.TargetSize == "" && req.TargetPercent <= 0 {
		s.writeError(w, "target_size or target_percent is required", http.StatusBadRequest)
		return
	}
	for _, p := range []string{req.InputPath, req.OutputPath} {
		if !s.allowedPath(p) {
			s.writeError(w, fmt.Sprintf("Path not allowed: %s", p), http.StatusForbidden)
			return
		}
	}

	job, err := s.enqueue(compressor.Task{
		InputPath:     req.InputPath,
		OutputPath:    req.OutputPath,
		TargetSpec:    req.TargetSize,
		TargetPercent: req.TargetPercent,
	})
	if err != nil {
		s.writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+job.ID)
	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Job queued",
		Data:    job.view(),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.jobsMutex.RLock()
	views := make([]JobView, 0, len(s.jobs))
	for _, job := range s.jobs {
		views = append(views, job.view())
	}
	s.jobsMutex.RUnlock()

	sortViews(views)
	s.writeJSON(w, APIResponse{Success: true, Data: views})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.lookup(mux.Vars(r)["id"])
	if job == nil {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: job.view()})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job := s.lookup(mux.Vars(r)["id"])
	if job == nil {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.cancelJob(job) {
		s.writeError(w, "Job already finished", http.StatusConflict)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Job cancelled", Data: job.view()})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SourceDirectory == "" || req.TargetDirectory == "" {
		s.writeError(w, "Source and target directories are required", http.StatusBadRequest)
		return
	}
	if !s.allowedPath(req.SourceDirectory) || !s.allowedPath(req.TargetDirectory) {
		s.writeError(w, "Path not allowed", http.StatusForbidden)
		return
	}
	if info, err := os.Stat(req.SourceDirectory); err != nil || !info.IsDir() {
		s.writeError(w, "Source directory does not exist", http.StatusBadRequest)
		return
	}

	s.batchMutex.Lock()
	if s.batchRunning {
		s.batchMutex.Unlock()
		s.writeError(w, "Batch already in progress", http.StatusConflict)
		return
	}
	s.batchRunning = true
	s.batchStats = statistics.NewStatistics()
	stats := s.batchStats
	s.batchMutex.Unlock()

	go s.runBatchAsync(req, stats)

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Batch started",
	})
}

func (s *Server) runBatchAsync(req BatchRequest, stats *statistics.Statistics) {
	defer func() {
		s.batchMutex.Lock()
		s.batchRunning = false
		s.batchMutex.Unlock()
	}()

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"source_directory": req.SourceDirectory,
		"target_directory": req.TargetDirectory,
		"dry_run":          req.DryRun,
	})

	cfg := *s.cfg
	cfg.Batch.SourceDirectory = req.SourceDirectory
	cfg.Batch.TargetDirectory = req.TargetDirectory
	cfg.Batch.TargetSize = req.TargetSize
	cfg.Batch.TargetPercent = req.TargetPercent
	cfg.Batch.DryRun = req.DryRun

	runner := batch.NewRunnerWithLogHook(&cfg, s.log, stats, s.comp, func(level, message string) {
		s.broadcastWSMessage("batch_log", map[string]interface{}{
			"level":   level,
			"message": message,
		})
	})

	results, err := runner.Run(s.baseCtx)
	for _, res := range results {
		s.stats.RecordResult(res)
	}
	if err != nil {
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.broadcastWSMessage("batch_completed", map[string]interface{}{
		"statistics": stats.Snapshot(),
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"summary": s.stats.GetSummary(),
		"totals":  s.stats.Snapshot(),
	}

	s.batchMutex.RLock()
	if s.batchStats != nil {
		data["last_batch"] = s.batchStats.Snapshot()
	}
	s.batchMutex.RUnlock()

	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// gorilla connections allow one concurrent writer, so writes happen
	// under the exclusive lock
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

// allowedPath reports whether path lies under the configured root. An empty
// root allows everything.
func (s *Server) allowedPath(path string) bool {
	root := s.cfg.Server.AllowedRootPath
	if root == "" {
		return true
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// getRateLimiter returns the submission limiter for a client address.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	s.limitMutex.Lock()
	defer s.limitMutex.Unlock()

	if time.Since(s.lastCleanup) > time.Hour {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, exists := s.rateLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimit), s.cfg.Server.RateBurst)
		s.rateLimiters[ip] = limiter
	}
	return limiter
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSONStatus(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}
