package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/metrics"
	"github.com/draftmill/draftmill/internal/store"
)

type submitRequest struct {
	Query string `json:"query"`
}

type submitResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) submitResearch(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}

	sessionID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	run := store.Run{
		SessionID: sessionID,
		Query:     query,
		Status:    store.RunPending,
		Phase:     "submitted",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.workflows.StartReport(r.Context(), sessionID, query); err != nil {
		s.logger.Error("failed to start report workflow",
			zap.String("session_id", sessionID),
			zap.Error(err))
		// Best effort; the run must not linger as pending when no
		// workflow will ever advance it.
		if markErr := s.store.UpdateRunStatus(r.Context(), sessionID, store.RunFailed, "submitted", "workflow start failed"); markErr != nil {
			s.logger.Error("failed to mark run failed",
				zap.String("session_id", sessionID),
				zap.Error(markErr))
		}
		http.Error(w, "failed to start run", http.StatusInternalServerError)
		return
	}

	s.publishEvent(r, sessionID, "run.started", map[string]any{"query": query})
	metrics.RunsStarted.Inc()

	writeJSONStatus(w, submitResponse{SessionID: sessionID}, http.StatusAccepted)
}

type runSummary struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s *Server) listResearch(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, runSummary{
			SessionID: run.SessionID,
			Query:     run.Query,
			Status:    run.Status,
			Phase:     run.Phase,
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		})
	}
	writeJSONStatus(w, map[string]any{"runs": summaries}, http.StatusOK)
}

type pendingResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
}

// getResearch is the poll endpoint: the artifact's presence is the run's
// completion signal. A known session with no artifact answers 202.
func (s *Server) getResearch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	artifact, err := s.store.GetReport(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if artifact != nil {
		writeJSONStatus(w, artifact, http.StatusOK)
		return
	}

	run, err := s.store.GetRun(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSONStatus(w, pendingResponse{Status: run.Status, Phase: run.Phase}, http.StatusAccepted)
}

const (
	heartbeatInterval  = 15 * time.Second
	storedEventsPollMs = 2000
)

// streamEvents serves an SSE feed of a run's progress. Worker processes
// append events to the store, so the stream merges broker publishes from
// this process with a store poll cursor.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	afterSeq := parseAfterSeq(sessionID, r)
	stored, err := s.store.ListEvents(ctx, sessionID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, event := range stored {
		sendSSE(w, event)
		if event.Seq > afterSeq {
			afterSeq = event.Seq
		}
	}
	flusher.Flush()

	eventsChan := s.broker.Subscribe(ctx, sessionID)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(storedEventsPollMs * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case event, chanOK := <-eventsChan:
			if !chanOK {
				return
			}
			if event.Seq > afterSeq {
				sendSSE(w, event)
				afterSeq = event.Seq
				flusher.Flush()
			}
		case <-poll.C:
			fresh, err := s.store.ListEvents(ctx, sessionID, afterSeq)
			if err != nil {
				continue
			}
			for _, event := range fresh {
				sendSSE(w, event)
				if event.Seq > afterSeq {
					afterSeq = event.Seq
				}
			}
			if len(fresh) > 0 {
				flusher.Flush()
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event store.RunEvent) {
	payload, _ := json.Marshal(map[string]any{
		"session_id": event.SessionID,
		"seq":        event.Seq,
		"type":       event.Type,
		"ts":         event.Timestamp,
		"source":     event.Source,
		"trace_id":   event.TraceID,
		"payload":    event.Payload,
	})
	fmt.Fprintf(w, "id: %s:%d\n", event.SessionID, event.Seq)
	fmt.Fprint(w, "event: run_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func parseAfterSeq(sessionID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	parts := strings.Split(lastEventID, ":")
	if len(parts) != 2 || parts[0] != sessionID {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func (s *Server) publishEvent(r *http.Request, sessionID string, eventType string, payload map[string]any) {
	seq, err := s.store.NextSeq(r.Context(), sessionID)
	if err != nil {
		s.logger.Warn("failed to allocate event seq", zap.Error(err))
		return
	}
	event := store.RunEvent{
		SessionID: sessionID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    "api",
		TraceID:   uuid.New().String(),
		Payload:   payload,
	}
	if err := s.store.AppendEvent(r.Context(), event); err != nil {
		s.logger.Warn("failed to append event", zap.Error(err))
		return
	}
	s.broker.Publish(event)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}
