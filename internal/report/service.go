// Package report implements the report-generation pipeline: fetch diff,
// build prompt, generate content, persist, render.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prdigest/prdigest/internal/db"
	"github.com/prdigest/prdigest/internal/github"
	"github.com/prdigest/prdigest/internal/llm"
	"github.com/prdigest/prdigest/internal/models"
	"github.com/prdigest/prdigest/internal/prompt"
)

// ErrValidation marks request-level validation failures (HTTP 400).
var ErrValidation = errors.New("validation failed")

// Renderer is the artifact-rendering contract consumed by the pipeline.
type Renderer interface {
	HTML(content models.ReportContent, tag string) (string, error)
	WriteHTML(reportID int64, tag string, content models.ReportContent) (string, error)
	RenderPDF(ctx context.Context, reportID int64, tag string) (string, error)
}

// SourceResolver picks the source-control variant for a repository.
type SourceResolver func(repo *models.Repository) github.SourceControl

// DefaultSourceResolver selects demo or real clients per repository,
// falling back to fallbackToken for repositories stored without one.
func DefaultSourceResolver(fallbackToken string) SourceResolver {
	return func(repo *models.Repository) github.SourceControl {
		return github.ClientFor(repo.Token, repo.FullName, fallbackToken)
	}
}

// Service orchestrates the pipeline. All collaborators are injected so
// tests can substitute fakes.
type Service struct {
	store     *db.Queries
	generator llm.Generator
	renderer  Renderer
	sourceFor SourceResolver
	log       *slog.Logger
}

func NewService(store *db.Queries, generator llm.Generator, renderer Renderer, sourceFor SourceResolver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     store,
		generator: generator,
		renderer:  renderer,
		sourceFor: sourceFor,
		log:       log,
	}
}

// ConnectRepository validates access, creates the repository record, and
// runs an initial PR sync. A sync failure is logged and discarded so the
// repository record is still returned.
func (s *Service) ConnectRepository(ctx context.Context, name, fullName, token, defaultBranch string, autoGenerate bool) (*models.Repository, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !github.ValidFullName(fullName) {
		return nil, fmt.Errorf("%w: repository must be named owner/repo", ErrValidation)
	}

	source := s.sourceFor(&models.Repository{FullName: fullName, Token: token})
	ok, err := source.ValidateAccess(ctx, fullName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: token was rejected for %s", ErrValidation, fullName)
	}

	repo, err := s.store.CreateRepository(name, fullName, token, defaultBranch, autoGenerate)
	if err != nil {
		return nil, err
	}

	if _, err := s.syncWith(ctx, repo, source); err != nil {
		s.log.Warn("initial sync failed, repository created anyway",
			"repository", repo.FullName, "error", err)
	}
	return repo, nil
}

// SyncRepository refreshes the repository's pull requests from the host.
// Returns the number of pull requests upserted.
func (s *Service) SyncRepository(ctx context.Context, repositoryID int64) (int, error) {
	repo, err := s.store.GetRepository(repositoryID)
	if err != nil {
		return 0, err
	}
	return s.syncWith(ctx, repo, s.sourceFor(repo))
}

func (s *Service) syncWith(ctx context.Context, repo *models.Repository, source github.SourceControl) (int, error) {
	summaries, err := source.ListPRs(ctx, repo.FullName)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, pr := range summaries {
		_, err := s.store.UpsertPullRequest(&models.PullRequest{
			RepositoryID: repo.ID,
			Number:       pr.Number,
			Title:        pr.Title,
			Author:       pr.Author,
			AuthorAvatar: pr.AuthorAvatar,
			Status:       pr.Status,
			ReviewStatus: pr.ReviewStatus,
			CreatedAt:    pr.CreatedAt,
			UpdatedAt:    pr.UpdatedAt,
			MergedAt:     pr.MergedAt,
			GitHubID:     pr.GitHubID,
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// loadTemplate resolves an optional template and enforces the audience
// match rule before any generation happens.
func (s *Service) loadTemplate(templateID *int64, audience models.Audience) (*models.ReportTemplate, error) {
	if templateID == nil {
		return nil, nil
	}
	tmpl, err := s.store.GetTemplate(*templateID)
	if err != nil {
		return nil, err
	}
	if audience != "" && tmpl.Audience != audience {
		return nil, fmt.Errorf("%w: template audience %q does not match requested audience %q",
			ErrValidation, tmpl.Audience, audience)
	}
	return tmpl, nil
}

// GeneratePRReport runs the full pipeline for one pull request and
// audience. On render failure the structured content is retained and the
// report stays servable as HTML.
func (s *Service) GeneratePRReport(ctx context.Context, pullRequestID int64, audience models.Audience, templateID *int64) (*models.Report, error) {
	if !audience.Valid() {
		return nil, fmt.Errorf("%w: unknown audience %q", ErrValidation, audience)
	}

	pr, err := s.store.GetPullRequest(pullRequestID)
	if err != nil {
		return nil, err
	}
	repo, err := s.store.GetRepository(pr.RepositoryID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.loadTemplate(templateID, audience)
	if err != nil {
		return nil, err
	}

	details, err := s.fetchDetails(ctx, repo, pr)
	if err != nil {
		return nil, err
	}

	systemPrompt, userPrompt := prompt.BuildPR(details, audience, tmpl)
	content, err := s.generator.GenerateReport(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	report, err := s.store.CreateReport(pr.ID, audience, *content)
	if err != nil {
		return nil, err
	}

	s.renderArtifacts(ctx, report.ID, string(audience), *content, func(pdfPath string) error {
		report.PDFPath = &pdfPath
		return s.store.UpdateReportPDFPath(report.ID, pdfPath)
	})
	return report, nil
}

// fetchDetails fetches the live diff, caching it on the PR row. When the
// host is unreachable but a cached diff exists, the cache is used.
func (s *Service) fetchDetails(ctx context.Context, repo *models.Repository, pr *models.PullRequest) (*github.PRDetails, error) {
	details, err := s.sourceFor(repo).FetchPRDetails(ctx, repo.FullName, pr.Number)
	if err != nil {
		if pr.DiffCache != nil {
			var cached github.PRDetails
			if jsonErr := json.Unmarshal([]byte(*pr.DiffCache), &cached); jsonErr == nil {
				s.log.Warn("using cached diff after fetch failure",
					"pullRequest", pr.ID, "error", err)
				return &cached, nil
			}
		}
		return nil, err
	}

	if raw, jsonErr := json.Marshal(details); jsonErr == nil {
		if cacheErr := s.store.UpdatePullRequestDiffCache(pr.ID, string(raw)); cacheErr != nil {
			s.log.Warn("caching diff failed", "pullRequest", pr.ID, "error", cacheErr)
		}
	}
	return details, nil
}

// renderArtifacts writes the HTML artifact then attempts the PDF. Failures
// are logged, not returned: HtmlWritten is an accepted terminal state, and
// even a failed HTML write leaves the stored content servable via preview.
func (s *Service) renderArtifacts(ctx context.Context, id int64, tag string, content models.ReportContent, savePDF func(string) error) {
	if _, err := s.renderer.WriteHTML(id, tag, content); err != nil {
		s.log.Error("writing html artifact failed", "report", id, "error", err)
		return
	}
	pdfPath, err := s.renderer.RenderPDF(ctx, id, tag)
	if err != nil {
		s.log.Warn("pdf rendering failed, keeping html artifact", "report", id, "error", err)
		return
	}
	if err := savePDF(pdfPath); err != nil {
		s.log.Error("saving pdf path failed", "report", id, "error", err)
	}
}

// GenerateAllAudiences generates one report per audience. Iterations are
// independent: a failure partway through leaves earlier reports committed.
func (s *Service) GenerateAllAudiences(ctx context.Context, pullRequestID int64) ([]models.Report, error) {
	var reports []models.Report
	var errs []error
	for _, audience := range models.Audiences {
		r, err := s.GeneratePRReport(ctx, pullRequestID, audience, nil)
		if err != nil {
			s.log.Warn("audience report failed", "pullRequest", pullRequestID,
				"audience", audience, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", audience, err))
			continue
		}
		reports = append(reports, *r)
	}
	if len(reports) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reports, nil
}

// GenerateRepositoryReport runs the pipeline over repository aggregate
// data instead of a single PR diff.
func (s *Service) GenerateRepositoryReport(ctx context.Context, repositoryID int64, reportType string, templateID *int64) (*models.RepositoryReport, error) {
	if reportType == "" {
		return nil, fmt.Errorf("%w: reportType is required", ErrValidation)
	}
	repo, err := s.store.GetRepository(repositoryID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.loadTemplate(templateID, "")
	if err != nil {
		return nil, err
	}
	prs, err := s.store.ListPullRequestsByRepository(repo.ID)
	if err != nil {
		return nil, err
	}

	systemPrompt, userPrompt := prompt.BuildRepository(repo, prs, reportType, tmpl)
	content, err := s.generator.GenerateReport(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	rr, err := s.store.CreateRepositoryReport(repo.ID, reportType, templateID, *content)
	if err != nil {
		return nil, err
	}

	s.renderArtifacts(ctx, rr.ID, reportType, *content, func(pdfPath string) error {
		rr.PDFPath = &pdfPath
		return s.store.UpdateRepositoryReportPDFPath(rr.ID, pdfPath)
	})
	return rr, nil
}

// insightsPRWindow bounds how many recent PRs feed the insight call.
const insightsPRWindow = 10

// RefreshInsights runs the secondary insight call for every repository.
// Repositories are processed independently; per-repository failures are
// logged and skipped. Returns the number of insights created.
func (s *Service) RefreshInsights(ctx context.Context) (int, error) {
	repos, err := s.store.ListRepositories()
	if err != nil {
		return 0, err
	}
	created := 0
	for i := range repos {
		repo := &repos[i]
		prs, err := s.store.ListPullRequestsByRepository(repo.ID)
		if err != nil {
			s.log.Warn("listing pull requests for insights failed", "repository", repo.FullName, "error", err)
			continue
		}
		if len(prs) == 0 {
			continue
		}
		if len(prs) > insightsPRWindow {
			prs = prs[:insightsPRWindow]
		}

		systemPrompt, userPrompt := prompt.BuildInsights(repo, prs)
		items, err := s.generator.GenerateInsights(ctx, systemPrompt, userPrompt)
		if err != nil {
			s.log.Warn("insight generation failed", "repository", repo.FullName, "error", err)
			continue
		}
		for _, item := range items {
			if _, err := s.store.CreateInsight(repo.ID, item.Category, item.Title, item.Description, item.Severity); err != nil {
				s.log.Warn("saving insight failed", "repository", repo.FullName, "error", err)
				continue
			}
			created++
		}
	}
	return created, nil
}

// Artifact is a servable report file.
type Artifact struct {
	Path        string
	ContentType string
	Filename    string
}

func pdfArtifact(path string) *Artifact {
	return &Artifact{Path: path, ContentType: "application/pdf", Filename: filepath.Base(path)}
}

func htmlArtifact(path string) *Artifact {
	return &Artifact{Path: path, ContentType: "text/html; charset=utf-8", Filename: filepath.Base(path)}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// artifactFor serves the stored PDF when present, regenerates it from
// stored content when missing or stale, and falls back to the HTML file
// when PDF rendering fails.
func (s *Service) artifactFor(ctx context.Context, id int64, tag string, content models.ReportContent, pdfPath *string, savePDF func(string) error) (*Artifact, error) {
	if pdfPath != nil && fileExists(*pdfPath) {
		return pdfArtifact(*pdfPath), nil
	}

	htmlPath, err := s.renderer.WriteHTML(id, tag, content)
	if err != nil {
		return nil, err
	}
	regenerated, err := s.renderer.RenderPDF(ctx, id, tag)
	if err != nil {
		s.log.Warn("on-demand pdf regeneration failed, serving html", "report", id, "error", err)
		return htmlArtifact(htmlPath), nil
	}
	if err := savePDF(regenerated); err != nil {
		s.log.Error("saving regenerated pdf path failed", "report", id, "error", err)
	}
	return pdfArtifact(regenerated), nil
}

// ReportArtifact resolves the downloadable file for a PR report.
func (s *Service) ReportArtifact(ctx context.Context, reportID int64) (*Artifact, error) {
	r, err := s.store.GetReport(reportID)
	if err != nil {
		return nil, err
	}
	return s.artifactFor(ctx, r.ID, string(r.Audience), r.Content, r.PDFPath, func(p string) error {
		return s.store.UpdateReportPDFPath(r.ID, p)
	})
}

// RepositoryReportArtifact resolves the downloadable file for a
// repository-scope report.
func (s *Service) RepositoryReportArtifact(ctx context.Context, reportID int64) (*Artifact, error) {
	r, err := s.store.GetRepositoryReport(reportID)
	if err != nil {
		return nil, err
	}
	return s.artifactFor(ctx, r.ID, r.ReportType, r.Content, r.PDFPath, func(p string) error {
		return s.store.UpdateRepositoryReportPDFPath(r.ID, p)
	})
}

// PreviewHTML re-renders the stored content without calling the content
// generator. Repeated calls for the same report return identical HTML.
func (s *Service) PreviewHTML(reportID int64) (string, error) {
	r, err := s.store.GetReport(reportID)
	if err != nil {
		return "", err
	}
	return s.renderer.HTML(r.Content, string(r.Audience))
}
