package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/richinex/atelier/model"
)

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestProjectLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/projects", `{"name":"demo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var project model.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &project); err != nil {
		t.Fatalf("failed to decode project: %v", err)
	}
	if project.ID == "" || project.Name != "demo" {
		t.Errorf("unexpected project: %+v", project)
	}

	rec = doRequest(srv, http.MethodGet, "/api/projects", "")
	var projects []model.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &projects); err != nil {
		t.Fatalf("failed to decode projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != project.ID {
		t.Errorf("unexpected project list: %+v", projects)
	}

	rec = doRequest(srv, http.MethodDelete, "/api/projects/"+project.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(srv, http.MethodDelete, "/api/projects/"+project.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted project, got %d", rec.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	if rec := doRequest(srv, http.MethodPost, "/api/projects", `{"name":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank name, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodPost, "/api/projects", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestListMessagesEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	project, _ := store.CreateProject(ctx, "demo")
	store.CreateMessage(ctx, project.ID, model.RoleUser, "first", model.KindText)
	store.CreateMessage(ctx, project.ID, model.RoleAssistant, "second", model.KindText)

	rec := doRequest(srv, http.MethodGet, "/api/projects/"+project.ID+"/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var msgs []model.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("failed to decode messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("unexpected message order: %+v", msgs)
	}
}

func TestListMessagesUnknownProject(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/projects/nope/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected empty array, got %s", body)
	}
}

func TestReviewWorkflow(t *testing.T) {
	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")

	rec := doRequest(srv, http.MethodPost, "/api/projects/"+project.ID+"/reviews", `{"title":"check the numbers"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var review model.ReviewItem
	if err := json.Unmarshal(rec.Body.Bytes(), &review); err != nil {
		t.Fatalf("failed to decode review: %v", err)
	}
	if review.Status != model.ReviewOpen {
		t.Errorf("expected new review open, got %q", review.Status)
	}

	rec = doRequest(srv, http.MethodPatch, "/api/reviews/"+review.ID, `{"status":"approved"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(srv, http.MethodGet, "/api/projects/"+project.ID+"/reviews", "")
	var reviews []model.ReviewItem
	if err := json.Unmarshal(rec.Body.Bytes(), &reviews); err != nil {
		t.Fatalf("failed to decode reviews: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Status != model.ReviewApproved {
		t.Errorf("unexpected reviews: %+v", reviews)
	}
}

func TestUpdateReviewValidation(t *testing.T) {
	srv, store := newTestServer(t)
	project, _ := store.CreateProject(context.Background(), "demo")
	review, _ := store.CreateReview(context.Background(), project.ID, "item")

	if rec := doRequest(srv, http.MethodPatch, "/api/reviews/"+review.ID, `{"status":"maybe"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodPatch, "/api/reviews/nope", `{"status":"approved"}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown review, got %d", rec.Code)
	}
}

func TestModelsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp modelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode models: %v", err)
	}
	found := false
	for _, name := range resp.Models {
		if name == "kimi-k2" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected kimi-k2 in model list, got %v", resp.Models)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}
