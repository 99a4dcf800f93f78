// Package server exposes the engine over HTTP: task creation, status
// polling, and approval decisions, plus a /metrics endpoint for the
// prometheus scrape contract, following the teacher gateway's stdlib
// http.ServeMux + promhttp.Handler() wiring.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlas2/coderagent/internal/approval"
	"github.com/atlas2/coderagent/internal/engine"
	"github.com/atlas2/coderagent/internal/observability"
)

// Server is the HTTP surface over one engine.Engine.
type Server struct {
	eng *engine.Engine
	mux *http.ServeMux
}

// New builds a Server and registers its routes.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng, mux: http.NewServeMux()}
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("/v1/tasks/", s.handleTaskSub)
	return s
}

// ServeHTTP assigns a request ID, logs the request through the engine's
// request-scoped logger, and records latency/status via HTTPMetrics before
// delegating to the route mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := observability.AddRequestID(r.Context(), uuid.NewString())
	r = r.WithContext(ctx)
	reqLog := s.eng.ReqLog.WithContext(ctx)
	reqLog.Info(ctx, "http request started", "method", r.Method, "path", r.URL.Path)

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(sw, r)

	duration := time.Since(start).Seconds()
	s.eng.HTTPMetrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(sw.status), duration)
	reqLog.Info(ctx, "http request completed", "method", r.Method, "path", r.URL.Path,
		"status", sw.status, "duration_seconds", duration)
}

// statusWriter captures the status code written so ServeHTTP can record it
// after the handler returns.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	ChatID      string `json:"chat_id"`
	DomainID    string `json:"domain_id"`
	AgentID     string `json:"agent_id"`
	UserRequest string `json:"user_request"`
	Workspace   string `json:"workspace"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Workspace == "" || req.UserRequest == "" {
		http.Error(w, "workspace and user_request are required", http.StatusBadRequest)
		return
	}
	taskID := uuid.NewString()
	state, err := s.eng.Driver.CreateTask(r.Context(), taskID, req.ChatID, req.DomainID, req.AgentID, req.UserRequest, req.Workspace)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// handleTaskSub routes /v1/tasks/{id} (GET status) and
// /v1/tasks/{id}/decision (POST approval decision).
func (s *Server) handleTaskSub(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/v1/tasks/"):]
	taskID := path
	decisionSuffix := "/decision"
	isDecision := false
	if len(path) > len(decisionSuffix) && path[len(path)-len(decisionSuffix):] == decisionSuffix {
		taskID = path[:len(path)-len(decisionSuffix)]
		isDecision = true
	}
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}

	if isDecision {
		s.handleDecision(w, r, taskID)
		return
	}
	s.handleGetTask(w, r, taskID)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	state, ok := s.eng.Registry.Get(taskID)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type decisionRequest struct {
	CallID string `json:"call_id"`
	Accept bool   `json:"accept"`
	Batch  bool   `json:"batch"`
	Reason string `json:"reason"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	state, ok := s.eng.Registry.Get(taskID)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	gate := approval.New(s.eng.Tools, s.eng.Driver.AutoExecFor(taskID, state.WorkspacePath), s.eng.Checkpoints, state.WorkspacePath, s.eng.Log, s.eng.Audit)
	outcome, err := s.eng.Driver.HandleDecision(r.Context(), gate, taskID, approval.Decision{
		CallID: req.CallID, Accept: req.Accept, Batch: req.Batch, Reason: req.Reason,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
