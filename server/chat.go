package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/richinex/atelier/model"
	"github.com/richinex/atelier/relay"
)

type chatRequest struct {
	ProjectID string `json:"project_id"`
	Model     string `json:"model"`
	Message   string `json:"message"`
}

// streamEvent is one frame of the outbound chat stream. Type is one of
// user_message, ai_id, chunk, done, error.
type streamEvent struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message,omitempty"`
	ID      string         `json:"id,omitempty"`
	Text    string         `json:"text,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// sseWriter frames events as server-sent data lines and flushes each one
// so chunks reach the operator as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	log     func(err error)
}

func (sw *sseWriter) send(ev streamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		sw.log(err)
		return
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		// The client is gone; the request context cancellation handles
		// the rest.
		sw.log(err)
		return
	}
	sw.flusher.Flush()
}

// handleChat relays one chat message to the selected provider and streams
// the answer back. Failures before the upstream accepts the request are
// plain HTTP errors; once it does, the response is SSE: user_message,
// ai_id, then chunk frames and exactly one terminal done or error frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" {
		s.writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if len(req.Message) > s.settings.Chat.MaxMessageBytes {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("message exceeds maximum size of %d bytes", s.settings.Chat.MaxMessageBytes))
		return
	}

	// Resolve and build before touching storage: an unknown model or a
	// missing credential must leave no trace in the conversation.
	descriptor, err := s.registry.Resolve(req.Model)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	history, err := s.store.ListMessages(ctx, req.ProjectID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load history")
		s.writeError(w, http.StatusInternalServerError, "failed to load conversation history")
		return
	}

	upstream, err := relay.BuildRequest(descriptor, s.settings.Chat.SystemPrompt, history, req.Message)
	if err != nil {
		var confErr *relay.ConfigError
		if errors.As(err, &confErr) {
			s.writeError(w, http.StatusInternalServerError, confErr.Error())
			return
		}
		s.log.Error().Err(err).Msg("failed to build upstream request")
		s.writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userMsg, err := s.store.CreateMessage(ctx, req.ProjectID, model.RoleUser, req.Message, model.KindText)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to persist user message")
		s.writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	// The cancel endpoint shares this cancel func through the in-flight
	// table; a client disconnect reaches it through r.Context().
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Dispatch before committing to SSE: failures ahead of the first
	// streamed byte surface as plain HTTP errors, not in-stream events.
	resp, err := s.dispatch(ctx, upstream)
	if err != nil {
		s.log.Error().Err(err).Str("provider", descriptor.Provider).Msg("upstream dispatch failed")
		s.writeError(w, http.StatusBadGateway, "the assistant could not be reached")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		reqErr := &relay.UpstreamRequestError{
			Provider: descriptor.Provider,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(detail)),
		}
		s.log.Error().Err(reqErr).Msg("upstream rejected request")
		s.writeError(w, http.StatusBadGateway, reqErr.Error())
		return
	}

	placeholder, err := s.store.CreateMessage(ctx, req.ProjectID, model.RoleAssistant, "", model.KindText)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create placeholder message")
		s.writeError(w, http.StatusInternalServerError, "failed to persist answer placeholder")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher, log: func(err error) {
		s.log.Debug().Err(err).Msg("stream write failed")
	}}
	sse.send(streamEvent{Type: "user_message", Message: &userMsg})
	sse.send(streamEvent{Type: "ai_id", ID: placeholder.ID})

	s.registerStream(placeholder.ID, cancel)
	defer s.unregisterStream(placeholder.ID)

	pump := relay.NewPump(descriptor, s.store, placeholder.ID, s.log)
	state := pump.Run(ctx, resp.Body, func(ev relay.Event) {
		switch ev.Kind {
		case relay.EventChunk:
			sse.send(streamEvent{Type: "chunk", Text: ev.Text})
		case relay.EventDone:
			sse.send(streamEvent{Type: "done"})
		case relay.EventError:
			sse.send(streamEvent{Type: "error", Error: ev.Detail})
		}
	})

	s.log.Info().
		Str("provider", descriptor.Provider).
		Str("message_id", placeholder.ID).
		Str("state", state.String()).
		Msg("stream finished")
}

// dispatch performs the upstream HTTP call. The caller owns the response
// body so the raw byte stream stays available to the chunk parser.
func (s *Server) dispatch(ctx context.Context, up *relay.UpstreamRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, up.Method, up.URL, bytes.NewReader(up.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	httpReq.Header = up.Header
	return s.client.Do(httpReq)
}

type cancelRequest struct {
	ID string `json:"id"`
}

// handleChatCancel cancels the in-flight stream addressed by its
// placeholder message id. The stream's own goroutine checkpoints the
// partial answer; this handler only triggers the cancellation.
func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if !s.cancelStream(req.ID) {
		s.writeError(w, http.StatusNotFound, "no active stream for id")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "cancelled": true})
}
