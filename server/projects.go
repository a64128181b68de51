package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/richinex/atelier/model"
	"github.com/richinex/atelier/storage"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list projects")
		s.writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	s.writeJSON(w, http.StatusOK, projects)
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	project, err := s.store.CreateProject(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create project")
		s.writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	s.writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "project not found")
			return
		}
		s.log.Error().Err(err).Str("project_id", id).Msg("failed to delete project")
		s.writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("project_id", id).Msg("failed to list messages")
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reviews, err := s.store.ListReviews(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("project_id", id).Msg("failed to list reviews")
		s.writeError(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}
	s.writeJSON(w, http.StatusOK, reviews)
}

type createReviewRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}

	review, err := s.store.CreateReview(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Title))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create review item")
		s.writeError(w, http.StatusInternalServerError, "failed to create review item")
		return
	}
	s.writeJSON(w, http.StatusCreated, review)
}

type updateReviewRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	var req updateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := model.ParseReviewStatus(req.Status)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	if err := s.store.UpdateReviewStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "review item not found")
			return
		}
		s.log.Error().Err(err).Str("review_id", id).Msg("failed to update review item")
		s.writeError(w, http.StatusInternalServerError, "failed to update review item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modelsResponse struct {
	Models []string `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, modelsResponse{Models: s.registry.Models()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
