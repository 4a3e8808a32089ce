package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/promptlane/promptlane/internal/engine"
)

// handleStreamRun executes a run while streaming progress over server-sent
// events. Client disconnect cancels the request context, which aborts the
// run at the next checkpoint; the partial run is still persisted.
func (s *Server) handleStreamRun(c *gin.Context) {
	if s == nil || s.store == nil || s.executor == nil || s.config == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	params, ok := s.bindRunParams(c)
	if !ok {
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(c, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Parallel runs emit callbacks from multiple goroutines; frames must
	// not interleave.
	var mu sync.Mutex
	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write([]byte("event: " + event + "\ndata: "))
		_, _ = w.Write(data)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	cb := engine.Callbacks{
		OnProgress: func(current, total, iteration int, caseID, caseName string) {
			send("progress", gin.H{
				"current":   current,
				"total":     total,
				"iteration": iteration,
				"caseId":    caseID,
				"caseName":  caseName,
			})
		},
		OnResult: func(r *engine.Result) {
			send("result", r)
		},
		OnError: func(err error, caseID string) {
			send("case_error", gin.H{"caseId": caseID, "error": err.Error()})
		},
	}

	run, aborted := s.executor.Run(c.Request.Context(), params, cb)

	// The request context is already canceled when the client aborted.
	if err := s.store.SaveRun(context.Background(), run); err != nil {
		send("error", gin.H{"error": err.Error()})
	}

	send("complete", gin.H{"run": run, "aborted": aborted})
}
