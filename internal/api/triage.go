package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sprite-ai/lensrev/internal/review"
	"github.com/sprite-ai/lensrev/internal/stream"
)

const keepAliveEvery = 15 * time.Second

// errorEvent turns a failure to start or follow a run into a terminal event.
func errorEvent(err error) stream.ErrorEvent {
	var re *review.Error
	switch {
	case errors.As(err, &re):
		return stream.ErrorEvent{Code: string(re.Code), Message: re.Err.Error()}
	case errors.Is(err, stream.ErrRunNotFound):
		return stream.ErrorEvent{Code: "RUN_NOT_FOUND", Message: err.Error()}
	default:
		return stream.ErrorEvent{Code: "INTERNAL", Message: err.Error()}
	}
}

// openSSE lifts the server write timeout for a long-lived response and
// returns its event writer.
func (s *Server) openSSE(w http.ResponseWriter) (*stream.SSEWriter, bool) {
	sink, err := stream.NewSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return nil, false
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	return sink, true
}

// keepAlive pings the stream until ctx ends or the stream is done.
func keepAlive(ctx context.Context, sink *stream.SSEWriter) {
	t := time.NewTicker(keepAliveEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if sink.Done() {
				return
			}
			sink.KeepAlive()
		}
	}
}

func (s *Server) follow(ctx context.Context, id string, after int, sink *stream.SSEWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go keepAlive(ctx, sink)
	return s.reviews.Registry().Subscribe(ctx, id, after, sink)
}

// handleTriageStream starts a review and streams its events. Closing the
// connection stops the stream, not the review.
func (s *Server) handleTriageStream(w http.ResponseWriter, r *http.Request) {
	var req review.Request
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}

	sink, ok := s.openSSE(w)
	if !ok {
		return
	}
	defer sink.Close()

	id, err := s.reviews.Start(r.Context(), req)
	if err != nil {
		s.log.Info().Err(err).Str("project", req.ProjectPath).Msg("review rejected")
		_ = sink.Send(errorEvent(err))
		return
	}
	w.Header().Set("X-Review-Id", id)

	if err := s.follow(r.Context(), id, 0, sink); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Str("review", id).Msg("stream ended")
		_ = sink.Send(errorEvent(err))
	}
}

// handleResume replays a run from a sequence number, taken from ?from= or
// the Last-Event-ID header, then follows it.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from := r.URL.Query().Get("from")
	if from == "" {
		from = r.Header.Get("Last-Event-ID")
	}
	after := 0
	if from != "" {
		n, err := strconv.Atoi(from)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "from must be a non-negative integer")
			return
		}
		after = n
	}

	sink, ok := s.openSSE(w)
	if !ok {
		return
	}
	defer sink.Close()

	err := s.follow(r.Context(), id, after, sink)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, stream.ErrRunNotFound):
		// Nothing has been written yet, so a plain status still works.
		s.writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", err.Error())
	default:
		s.log.Warn().Err(err).Str("review", id).Msg("resume failed")
		_ = sink.Send(errorEvent(err))
	}
}

type runStatusResponse struct {
	ID        string      `json:"id"`
	Active    bool        `json:"active"`
	Events    int         `json:"events"`
	LastEvent stream.Type `json:"lastEvent,omitempty"`
}

// handleRunStatus reports progress of a run still held in memory.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reg := s.reviews.Registry()
	records, ok := reg.Events(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no run "+id)
		return
	}
	resp := runStatusResponse{ID: id, Active: reg.Active(id), Events: len(records)}
	if n := len(records); n > 0 {
		resp.LastEvent = records[n-1].Event.Type()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.reviews.Cancel(id) {
		s.writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no active run "+id)
		return
	}
	s.log.Info().Str("review", id).Msg("review cancelled")
	s.writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelled": true})
}
