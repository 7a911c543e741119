package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/prdigest/prdigest/internal/models"
	"github.com/prdigest/prdigest/internal/report"
)

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", report.ErrValidation)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", report.ErrValidation)
	}
	return nil
}

// Repositories

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, repos)
}

type createRepositoryRequest struct {
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	Token         string `json:"token"`
	DefaultBranch string `json:"defaultBranch"`
	AutoGenerate  bool   `json:"autoGenerate"`
}

func (s *Server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	repo, err := s.reports.ConnectRepository(r.Context(), req.Name, req.FullName, req.Token, req.DefaultBranch, req.AutoGenerate)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, repo)
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	repo, err := s.store.GetRepository(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, repo)
}

func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.store.DeleteRepository(id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncRepository(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	count, err := s.reports.SyncRepository(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"synced": count})
}

// Pull requests

func (s *Server) handleListPullRequests(w http.ResponseWriter, r *http.Request) {
	prs, err := s.store.ListPullRequests()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prs)
}

func (s *Server) handleGetPullRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	pr, err := s.store.GetPullRequest(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleListRepositoryPullRequests(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.store.GetRepository(id); err != nil {
		s.respondError(w, err)
		return
	}
	prs, err := s.store.ListPullRequestsByRepository(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prs)
}

// PR reports

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.store.GetPullRequest(id); err != nil {
		s.respondError(w, err)
		return
	}
	reports, err := s.store.ListReportsByPullRequest(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

type createReportRequest struct {
	Audience   models.Audience `json:"audience"`
	TemplateID *int64          `json:"templateId"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req createReportRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	rep, err := s.reports.GeneratePRReport(r.Context(), id, req.Audience, req.TemplateID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleCreateAllReports(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	reports, err := s.reports.GenerateAllAudiences(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, reports)
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	artifact, err := s.reports.ReportArtifact(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	http.ServeFile(w, r, artifact.Path)
}

func (s *Server) handlePreviewReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	html, err := s.reports.PreviewHTML(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// Repository reports

func (s *Server) handleListRepositoryReports(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.store.GetRepository(id); err != nil {
		s.respondError(w, err)
		return
	}
	reports, err := s.store.ListRepositoryReportsByRepository(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

type createRepositoryReportRequest struct {
	ReportType string `json:"reportType"`
	TemplateID *int64 `json:"templateId"`
}

func (s *Server) handleCreateRepositoryReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req createRepositoryReportRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	rep, err := s.reports.GenerateRepositoryReport(r.Context(), id, req.ReportType, req.TemplateID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleListAllRepositoryReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.ListRepositoryReports()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

func (s *Server) handleDownloadRepositoryReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	artifact, err := s.reports.RepositoryReportArtifact(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	http.ServeFile(w, r, artifact.Path)
}

// Templates

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

type templateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Audience    models.Audience `json:"audience"`
	Content     string          `json:"content"`
}

func (t templateRequest) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", report.ErrValidation)
	}
	if !t.Audience.Valid() {
		return fmt.Errorf("%w: unknown audience %q", report.ErrValidation, t.Audience)
	}
	return nil
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}
	tmpl, err := s.store.CreateTemplate(req.Name, req.Description, req.Audience, req.Content, false)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	tmpl, err := s.store.GetTemplate(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req templateRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}
	tmpl, err := s.store.UpdateTemplate(id, req.Name, req.Description, req.Audience, req.Content)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	tmpl, err := s.store.GetTemplate(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if tmpl.IsDefault {
		s.respondError(w, fmt.Errorf("%w: default templates cannot be deleted", report.ErrValidation))
		return
	}
	if err := s.store.DeleteTemplate(id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	src, err := s.store.GetTemplate(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	copyName := src.Name + " (copy)"
	tmpl, err := s.store.CreateTemplate(copyName, src.Description, src.Audience, src.Content, false)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

// Insights

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	if repoParam := r.URL.Query().Get("repositoryId"); repoParam != "" {
		repoID, err := strconv.ParseInt(repoParam, 10, 64)
		if err != nil {
			s.respondError(w, fmt.Errorf("%w: invalid repositoryId", report.ErrValidation))
			return
		}
		insights, err := s.store.ListInsightsByRepository(repoID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, insights)
		return
	}
	insights, err := s.store.ListInsights()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, insights)
}

func (s *Server) handleRefreshInsights(w http.ResponseWriter, r *http.Request) {
	created, err := s.reports.RefreshInsights(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"created": created})
}

// Statistics

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
