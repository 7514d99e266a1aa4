package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/cairnq/pkg/log"
	"github.com/cuemby/cairnq/pkg/metrics"
	"github.com/cuemby/cairnq/pkg/queue"
	"github.com/cuemby/cairnq/pkg/types"
)

// Server adapts a *queue.Queue to the HTTP/JSON transport: /healthz,
// /readyz, /metrics, /push, /poll, /update, /delete, and the
// /admin/suspend|resume/{op} toggles.
type Server struct {
	queue   *queue.Queue
	version string
	mux     *http.ServeMux
	srv     *http.Server
}

// NewServer builds a Server and registers every route on its mux.
func NewServer(q *queue.Queue, version string) *Server {
	mux := http.NewServeMux()
	s := &Server{queue: q, version: version, mux: mux}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/push", withAPIMetrics("push", s.handlePush))
	mux.HandleFunc("/poll", withAPIMetrics("poll", s.handlePoll))
	mux.HandleFunc("/update", withAPIMetrics("update", s.handleUpdate))
	mux.HandleFunc("/delete", withAPIMetrics("delete", s.handleDelete))
	mux.HandleFunc("/admin/suspend/", withAPIMetrics("admin_suspend", s.handleSuspend))
	mux.HandleFunc("/admin/resume/", withAPIMetrics("admin_resume", s.handleResume))

	return s
}

// Start begins serving HTTP on addr. It blocks until the server is
// stopped or fails.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info("cairnq API listening on " + addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux directly, for tests that want httptest
// without a bound listener.
func (s *Server) Handler() http.Handler { return s.mux }

// statusRecorder wraps a ResponseWriter to capture the status code
// written, for the cairnq_api_requests_total label.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withAPIMetrics times every request to route and records its outcome
// to cairnq_api_requests_total/cairnq_api_request_duration_seconds. A
// panic from the operation layer (a failed backend write or barrier) is
// logged and ends the process via log.Fatal rather than being recovered
// by net/http.
func withAPIMetrics(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log.Fatal(fmt.Sprintf("fatal error in %s handler: %v", route, p))
			}
		}()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		h(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOpError(w http.ResponseWriter, err error) bool {
	var opErr *queue.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	switch opErr.Kind {
	case queue.ErrSuspended:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "suspended"})
	case queue.ErrMessageNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "MessageNotFound"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": opErr.Kind.String()})
	}
	return true
}

// errKindWireName maps ErrKind to the PascalCase names the push
// per-element error array uses on the wire.
func errKindWireName(k queue.ErrKind) string {
	switch k {
	case queue.ErrContentsTooLarge:
		return "ContentsTooLarge"
	case queue.ErrInvalidVisibilityTimeout:
		return "InvalidVisibilityTimeout"
	default:
		return k.String()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := map[string]string{}
	ready := true

	if err := s.queue.Ping(r.Context()); err != nil {
		checks["storage"] = "error: " + err.Error()
		ready = false
	} else {
		checks["storage"] = "ok"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

type pushRequestElement struct {
	Contents              string `json:"contents"`
	VisibilityTimeoutSecs int64  `json:"visibility_timeout_secs"`
}

type pushRequest struct {
	Messages []pushRequestElement `json:"messages"`
}

type pushResponseError struct {
	Index int    `json:"index"`
	Typ   string `json:"typ"`
}

type pushResponse struct {
	Errors []pushResponseError `json:"errors"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	elements := make([]queue.PushElement, len(req.Messages))
	for i, m := range req.Messages {
		elements[i] = queue.PushElement{
			Contents:              []byte(m.Contents),
			VisibilityTimeoutSecs: m.VisibilityTimeoutSecs,
		}
	}

	timer := metrics.NewTimer()
	result, err := s.queue.Push(r.Context(), elements)
	timer.ObserveDurationVec(metrics.OperationDuration, "push")
	if err != nil {
		if writeOpError(w, err) {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := pushResponse{Errors: make([]pushResponseError, len(result.Errors))}
	for i, e := range result.Errors {
		resp.Errors[i] = pushResponseError{Index: e.Index, Typ: errKindWireName(e.Kind)}
	}
	writeJSON(w, http.StatusOK, resp)
}

type pollRequest struct {
	VisibilityTimeoutSecs int64 `json:"visibility_timeout_secs"`
}

type pollResponseMessage struct {
	Contents  string `json:"contents"`
	Created   string `json:"created"`
	Index     uint64 `json:"index"`
	PollCount uint32 `json:"poll_count"`
	PollTag   string `json:"poll_tag"`
}

type pollResponse struct {
	Message *pollResponseMessage `json:"message"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	timer := metrics.NewTimer()
	msg, err := s.queue.Poll(r.Context(), req.VisibilityTimeoutSecs)
	timer.ObserveDurationVec(metrics.OperationDuration, "poll")
	if err != nil {
		if writeOpError(w, err) {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusOK, pollResponse{})
		return
	}

	writeJSON(w, http.StatusOK, pollResponse{Message: &pollResponseMessage{
		Contents:  string(msg.Contents),
		Created:   time.Unix(msg.CreatedTS, 0).UTC().Format(time.RFC3339),
		Index:     msg.ID,
		PollCount: msg.PollCount,
		PollTag:   hex.EncodeToString(msg.PollTag),
	}})
}

type updateRequest struct {
	ID                    uint64 `json:"id"`
	PollTag               string `json:"poll_tag"`
	VisibilityTimeoutSecs int64  `json:"visibility_timeout_secs"`
}

type updateResponse struct {
	NewPollTag string `json:"new_poll_tag"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tag, err := hex.DecodeString(req.PollTag)
	if err != nil {
		http.Error(w, "invalid poll_tag", http.StatusBadRequest)
		return
	}

	timer := metrics.NewTimer()
	newTag, err := s.queue.Update(r.Context(), req.ID, types.PollTag(tag), req.VisibilityTimeoutSecs)
	timer.ObserveDurationVec(metrics.OperationDuration, "update")
	if err != nil {
		if writeOpError(w, err) {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{NewPollTag: hex.EncodeToString(newTag)})
}

type deleteRequestElement struct {
	ID      uint64 `json:"id"`
	PollTag string `json:"poll_tag"`
}

type deleteRequest struct {
	Messages []deleteRequestElement `json:"messages"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	elements := make([]queue.DeleteElement, len(req.Messages))
	for i, m := range req.Messages {
		tag, err := hex.DecodeString(m.PollTag)
		if err != nil {
			http.Error(w, "invalid poll_tag", http.StatusBadRequest)
			return
		}
		elements[i] = queue.DeleteElement{ID: m.ID, PollTag: types.PollTag(tag)}
	}

	timer := metrics.NewTimer()
	err := s.queue.Delete(r.Context(), elements)
	timer.ObserveDurationVec(metrics.OperationDuration, "delete")
	if err != nil {
		if writeOpError(w, err) {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func opFromPath(prefix string, r *http.Request) (queue.Op, bool) {
	name := r.URL.Path[len(prefix):]
	return queue.ParseOp(name)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	op, ok := opFromPath("/admin/suspend/", r)
	if !ok {
		http.Error(w, "unknown op", http.StatusNotFound)
		return
	}
	s.queue.Suspension().Suspend(op)
	log.WithOp(op.String()).Info().Msg("operation suspended")
	writeJSON(w, http.StatusOK, map[string]string{"op": op.String(), "suspended": "true"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	op, ok := opFromPath("/admin/resume/", r)
	if !ok {
		http.Error(w, "unknown op", http.StatusNotFound)
		return
	}
	s.queue.Suspension().Resume(op)
	log.WithOp(op.String()).Info().Msg("operation resumed")
	writeJSON(w, http.StatusOK, map[string]string{"op": op.String(), "suspended": "false"})
}
