package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/atelier/config"
	"github.com/richinex/atelier/model"
	"github.com/richinex/atelier/relay"
	"github.com/richinex/atelier/storage"
)

// newTestServer builds a server over an in-memory store. Call after any
// t.Setenv for provider base URLs: the registry reads them once.
func newTestServer(t *testing.T) (*Server, *storage.InMemoryStore) {
	t.Helper()
	settings := config.Settings{
		HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"},
		Chat: config.ChatConfig{SystemPrompt: "test prompt", MaxMessageBytes: 1000},
	}
	store := storage.NewInMemoryStore()
	return New(settings, store, relay.NewRegistry(), zerolog.Nop()), store
}

func parseStream(t *testing.T, body string) []streamEvent {
	t.Helper()
	var events []streamEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		payload := strings.TrimPrefix(frame, "data: ")
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("unparseable frame %q: %v", frame, err)
		}
		events = append(events, ev)
	}
	return events
}

func postChat(srv *Server, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func openaiFrame(text string) string {
	return `data: {"choices":[{"delta":{"content":"` + text + `"}}]}` + "\n\n"
}

func TestChatEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("upstream saw auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":true`) {
			t.Error("upstream request was not streamed")
		}
		if !strings.Contains(string(body), "earlier question") {
			t.Error("upstream request missing conversation history")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, openaiFrame("Hel"))
		fmt.Fprint(w, openaiFrame("lo!"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()
	t.Setenv("MOONSHOT_BASE_URL", upstream.URL)
	t.Setenv("MOONSHOT_API_KEY", "test-key")

	srv, store := newTestServer(t)
	ctx := context.Background()
	project, err := store.CreateProject(ctx, "demo")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	if _, err := store.CreateMessage(ctx, project.ID, model.RoleUser, "earlier question", model.KindText); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}

	rec := postChat(srv, `{"project_id":"`+project.ID+`","model":"kimi","message":"hello"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}

	events := parseStream(t, rec.Body.String())
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != "user_message" || events[0].Message.Content != "hello" || events[0].Message.Role != model.RoleUser {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != "ai_id" || events[1].ID == "" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
	if events[2].Type != "chunk" || events[2].Text != "Hel" {
		t.Errorf("unexpected chunk: %+v", events[2])
	}
	if events[3].Type != "chunk" || events[3].Text != "lo!" {
		t.Errorf("unexpected chunk: %+v", events[3])
	}
	if events[4].Type != "done" {
		t.Errorf("expected done last, got %+v", events[4])
	}

	msgs, err := store.ListMessages(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected seeded + user + assistant messages, got %d", len(msgs))
	}
	answer := msgs[2]
	if answer.Role != model.RoleAssistant || answer.Content != "Hello!" {
		t.Errorf("expected checkpointed answer Hello!, got %+v", answer)
	}
	if answer.ID != events[1].ID {
		t.Errorf("ai_id %q does not match stored message %q", events[1].ID, answer.ID)
	}
}

func TestChatUpstreamRejection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer upstream.Close()
	t.Setenv("MOONSHOT_BASE_URL", upstream.URL)
	t.Setenv("MOONSHOT_API_KEY", "test-key")

	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	rec := postChat(srv, `{"project_id":"`+project.ID+`","model":"kimi","message":"hello"}`)

	// The stream never started, so the rejection is an HTTP-level error.
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected json error response, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "429") {
		t.Errorf("expected error carrying the provider status, got %s", rec.Body.String())
	}

	// No placeholder row for a rejected request: only the user message.
	msgs, _ := store.ListMessages(context.Background(), project.ID)
	if len(msgs) != 1 || msgs[0].Role != model.RoleUser {
		t.Errorf("expected only the user message persisted, got %+v", msgs)
	}
}

func TestChatUpstreamUnreachable(t *testing.T) {
	// A closed server: the dial itself fails, before any response exists.
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close()
	t.Setenv("MOONSHOT_BASE_URL", upstream.URL)
	t.Setenv("MOONSHOT_API_KEY", "test-key")

	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	rec := postChat(srv, `{"project_id":"`+project.ID+`","model":"kimi","message":"hello"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "could not be reached") {
		t.Errorf("expected generic failure message, got %s", rec.Body.String())
	}
	msgs, _ := store.ListMessages(context.Background(), project.ID)
	if len(msgs) != 1 || msgs[0].Role != model.RoleUser {
		t.Errorf("expected only the user message persisted, got %+v", msgs)
	}
}

func TestChatUnknownModel(t *testing.T) {
	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	rec := postChat(srv, `{"project_id":"`+project.ID+`","model":"gpt-9000","message":"hello"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	msgs, _ := store.ListMessages(context.Background(), project.ID)
	if len(msgs) != 0 {
		t.Errorf("unknown model must create no messages, got %+v", msgs)
	}
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := map[string]string{
		"empty message":     `{"project_id":"p1","model":"kimi","message":"  "}`,
		"missing project":   `{"model":"kimi","message":"hello"}`,
		"oversized message": `{"project_id":"p1","model":"kimi","message":"` + strings.Repeat("x", 2000) + `"}`,
		"malformed body":    `{"project_id":`,
	}
	for name, body := range cases {
		if rec := postChat(srv, body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestChatMissingCredential(t *testing.T) {
	t.Setenv("MOONSHOT_API_KEY", "")

	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	rec := postChat(srv, `{"project_id":"`+project.ID+`","model":"kimi","message":"hello"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "MOONSHOT_API_KEY") {
		t.Errorf("expected error naming the env var, got %s", rec.Body.String())
	}
	msgs, _ := store.ListMessages(context.Background(), project.ID)
	if len(msgs) != 0 {
		t.Errorf("missing credential must create no messages, got %+v", msgs)
	}
}

func TestChatCancelEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, openaiFrame("Hel"))
		w.(http.Flusher).Flush()
		// Stall until the relay cancels the upstream call.
		<-r.Context().Done()
	}))
	defer upstream.Close()
	t.Setenv("MOONSHOT_BASE_URL", upstream.URL)
	t.Setenv("MOONSHOT_API_KEY", "test-key")

	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	api := httptest.NewServer(srv.Handler())
	defer api.Close()

	resp, err := http.Post(api.URL+"/api/chat", "application/json",
		strings.NewReader(`{"project_id":"`+project.ID+`","model":"kimi","message":"hello"}`))
	if err != nil {
		t.Fatalf("chat request failed: %v", err)
	}
	defer resp.Body.Close()

	var events []streamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unparseable frame %q: %v", line, err)
		}
		events = append(events, ev)

		if ev.Type == "chunk" {
			// First chunk observed: cancel by placeholder id.
			cancelResp, err := http.Post(api.URL+"/api/chat/cancel", "application/json",
				strings.NewReader(`{"id":"`+events[1].ID+`"}`))
			if err != nil {
				t.Fatalf("cancel request failed: %v", err)
			}
			cancelResp.Body.Close()
			if cancelResp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 from cancel, got %d", cancelResp.StatusCode)
			}
		}
	}

	if len(events) < 4 {
		t.Fatalf("expected user_message, ai_id, chunk, done; got %+v", events)
	}
	last := events[len(events)-1]
	if last.Type != "done" {
		t.Errorf("expected done terminal event after cancel, got %+v", last)
	}

	// The partial answer survived the cancellation.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, _ := store.ListMessages(context.Background(), project.ID)
		if len(msgs) == 2 && msgs[1].Content == "Hel" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("partial answer never checkpointed: %+v", msgs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatCancelUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/cancel", strings.NewReader(`{"id":"nope"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stream id, got %d", rec.Code)
	}
}

func TestChatRecoversTrailingFrame(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Closes without a sentinel and without a trailing delimiter.
		fmt.Fprint(w, openaiFrame("Hel"))
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo!"}}]}`)
	}))
	defer upstream.Close()
	t.Setenv("MOONSHOT_BASE_URL", upstream.URL)
	t.Setenv("MOONSHOT_API_KEY", "test-key")

	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	rec := postChat(srv, `{"project_id":"`+project.ID+`","model":"kimi","message":"hello"}`)

	events := parseStream(t, rec.Body.String())
	if events[len(events)-1].Type != "done" {
		t.Errorf("expected done after EOF recovery, got %+v", events)
	}
	msgs, _ := store.ListMessages(context.Background(), project.ID)
	if len(msgs) != 2 || msgs[1].Content != "Hello!" {
		t.Errorf("expected full recovered answer, got %+v", msgs)
	}
}
