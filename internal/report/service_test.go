package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prdigest/prdigest/internal/db"
	"github.com/prdigest/prdigest/internal/github"
	"github.com/prdigest/prdigest/internal/llm"
	"github.com/prdigest/prdigest/internal/models"
)

type fakeGenerator struct {
	reportCalls  int
	insightCalls int
	lastSystem   string
	lastUser     string
	content      models.ReportContent
	insights     []llm.InsightItem
	err          error
}

func (f *fakeGenerator) GenerateReport(ctx context.Context, systemPrompt, userPrompt string) (*models.ReportContent, error) {
	f.reportCalls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return nil, f.err
	}
	content := f.content
	return &content, nil
}

func (f *fakeGenerator) GenerateInsights(ctx context.Context, systemPrompt, userPrompt string) ([]llm.InsightItem, error) {
	f.insightCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.insights, nil
}

type fakeRenderer struct {
	dir      string
	failPDF  bool
	failHTML bool
}

func (f *fakeRenderer) HTML(content models.ReportContent, tag string) (string, error) {
	if f.failHTML {
		return "", errors.New("template blew up")
	}
	return "<html>" + tag + ":" + content.Title + "</html>", nil
}

func (f *fakeRenderer) WriteHTML(reportID int64, tag string, content models.ReportContent) (string, error) {
	html, err := f.HTML(content, tag)
	if err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("%d-%s.html", reportID, tag))
	return path, os.WriteFile(path, []byte(html), 0o644)
}

func (f *fakeRenderer) RenderPDF(ctx context.Context, reportID int64, tag string) (string, error) {
	if f.failPDF {
		return "", errors.New("browser went away")
	}
	path := filepath.Join(f.dir, fmt.Sprintf("%d-%s.pdf", reportID, tag))
	return path, os.WriteFile(path, []byte("%PDF-fake"), 0o644)
}

type fakeSource struct {
	validateOK bool
	listErr    error
	fetchErr   error
	prs        []github.PRSummary
	details    *github.PRDetails
}

func (f *fakeSource) ValidateAccess(ctx context.Context, fullName string) (bool, error) {
	return f.validateOK, nil
}

func (f *fakeSource) ListPRs(ctx context.Context, fullName string) ([]github.PRSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.prs, nil
}

func (f *fakeSource) FetchPRDetails(ctx context.Context, fullName string, number int) (*github.PRDetails, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.details, nil
}

func testContent() models.ReportContent {
	return models.ReportContent{
		Title:   "Generated Report",
		Summary: "All good.",
		Sections: []models.ReportSection{
			{Title: "Overview", Content: "It works."},
		},
		TestScenarios: []string{"open the page", "close the page"},
	}
}

type testEnv struct {
	svc       *Service
	store     *db.Queries
	generator *fakeGenerator
	renderer  *fakeRenderer
}

func newTestEnv(t *testing.T, resolver SourceResolver) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := db.NewQueries(database)
	require.NoError(t, store.SeedDefaultTemplates())

	generator := &fakeGenerator{content: testContent()}
	renderer := &fakeRenderer{dir: t.TempDir()}
	if resolver == nil {
		resolver = DefaultSourceResolver("")
	}
	svc := NewService(store, generator, renderer, resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &testEnv{svc: svc, store: store, generator: generator, renderer: renderer}
}

// connectDemo connects a demo repository and returns it with its seeded PRs.
func connectDemo(t *testing.T, env *testEnv) (*models.Repository, []models.PullRequest) {
	t.Helper()
	repo, err := env.svc.ConnectRepository(context.Background(), "Demo", "acme/widget", "demo", "", false)
	require.NoError(t, err)
	prs, err := env.store.ListPullRequestsByRepository(repo.ID)
	require.NoError(t, err)
	return repo, prs
}

func TestConnectRepositoryDemoSeedsPullRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	repo, prs := connectDemo(t, env)

	assert.Equal(t, "acme/widget", repo.FullName)
	require.GreaterOrEqual(t, len(prs), 2)

	seen := map[int64]bool{}
	for _, pr := range prs {
		assert.False(t, seen[pr.GitHubID], "seeded PRs must have distinct external ids")
		seen[pr.GitHubID] = true
	}
}

func TestConnectRepositoryValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.ConnectRepository(context.Background(), "", "acme/widget", "demo", "", false)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.ConnectRepository(context.Background(), "Bad", "not-a-full-name", "demo", "", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConnectRepositoryRejectedToken(t *testing.T) {
	env := newTestEnv(t, func(*models.Repository) github.SourceControl {
		return &fakeSource{validateOK: false}
	})
	_, err := env.svc.ConnectRepository(context.Background(), "Widget", "acme/widget", "ghp_bad", "", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConnectRepositorySurvivesSyncFailure(t *testing.T) {
	env := newTestEnv(t, func(*models.Repository) github.SourceControl {
		return &fakeSource{validateOK: true, listErr: errors.New("host is down")}
	})

	repo, err := env.svc.ConnectRepository(context.Background(), "Widget", "acme/widget", "ghp_ok", "", false)
	require.NoError(t, err)

	// The repository record exists even though the initial sync failed.
	got, err := env.store.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", got.FullName)

	prs, err := env.store.ListPullRequestsByRepository(repo.ID)
	require.NoError(t, err)
	assert.Empty(t, prs)
}

func TestGeneratePRReportPipeline(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)
	pr := prs[0]

	report, err := env.svc.GeneratePRReport(context.Background(), pr.ID, models.AudienceQA, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, env.generator.reportCalls)
	assert.Contains(t, env.generator.lastUser, fmt.Sprintf("Pull Request #%d", pr.Number))
	assert.Contains(t, env.generator.lastUser, "--- BEGIN DIFF ---")

	assert.Equal(t, models.AudienceQA, report.Audience)
	assert.Equal(t, testContent(), report.Content)
	require.NotNil(t, report.PDFPath)
	assert.Contains(t, *report.PDFPath, fmt.Sprintf("%d-qa.pdf", report.ID))

	// The fetched diff was cached on the PR row.
	cached, err := env.store.GetPullRequest(pr.ID)
	require.NoError(t, err)
	assert.NotNil(t, cached.DiffCache)

	// And the persisted row matches what was returned.
	stored, err := env.store.GetReport(report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Content, stored.Content)
}

func TestGeneratePRReportUnknownAudience(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	_, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, "board", nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, env.generator.reportCalls)
}

func TestGeneratePRReportTemplateAudienceMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	tmpl, err := env.store.CreateTemplate("QA deep dive", "", models.AudienceQA, "custom prompt", false)
	require.NoError(t, err)

	_, err = env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudiencePM, &tmpl.ID)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, env.generator.reportCalls, "mismatch must be caught before any LLM call")
}

func TestGeneratePRReportTemplateOverride(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	tmpl, err := env.store.CreateTemplate("QA deep dive", "", models.AudienceQA, "You are the custom QA prompt.", false)
	require.NoError(t, err)

	_, err = env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudienceQA, &tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "You are the custom QA prompt.", env.generator.lastSystem)
}

func TestGeneratePRReportNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.GeneratePRReport(context.Background(), 12345, models.AudiencePM, nil)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestGeneratePRReportGeneratorFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	env.generator.err = errors.New("model overloaded")
	_, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudiencePM, nil)
	require.Error(t, err)

	// No partial report is persisted when generation fails.
	reports, err := env.store.ListReportsByPullRequest(prs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestGeneratePRReportPDFFailureKeepsContent(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)
	env.renderer.failPDF = true

	report, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudienceClient, nil)
	require.NoError(t, err)
	assert.Nil(t, report.PDFPath)

	stored, err := env.store.GetReport(report.ID)
	require.NoError(t, err)
	assert.Equal(t, testContent(), stored.Content)
	assert.Nil(t, stored.PDFPath)

	// The HTML artifact was written and remains servable.
	htmlPath := filepath.Join(env.renderer.dir, fmt.Sprintf("%d-client.html", report.ID))
	_, statErr := os.Stat(htmlPath)
	assert.NoError(t, statErr)
}

func TestGeneratePRReportUsesCachedDiffOnFetchFailure(t *testing.T) {
	source := &fakeSource{validateOK: true, fetchErr: errors.New("host is down")}
	env := newTestEnv(t, func(*models.Repository) github.SourceControl { return source })

	repo, err := env.store.CreateRepository("Widget", "acme/widget", "ghp_ok", "", false)
	require.NoError(t, err)
	pr, err := env.store.UpsertPullRequest(&models.PullRequest{
		RepositoryID: repo.ID, Number: 1, Title: "Cached", GitHubID: 111,
		Status: models.PRStatusOpen, ReviewStatus: models.ReviewPending,
	})
	require.NoError(t, err)

	cached := `{"number":1,"title":"Cached","author":"octocat","state":"open","diff":"diff --git cached"}`
	require.NoError(t, env.store.UpdatePullRequestDiffCache(pr.ID, cached))

	_, err = env.svc.GeneratePRReport(context.Background(), pr.ID, models.AudiencePM, nil)
	require.NoError(t, err)
	assert.Contains(t, env.generator.lastUser, "diff --git cached")
}

func TestGenerateAllAudiences(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	reports, err := env.svc.GenerateAllAudiences(context.Background(), prs[0].ID)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	seen := map[models.Audience]bool{}
	for _, r := range reports {
		seen[r.Audience] = true
	}
	assert.Len(t, seen, 3)
}

func TestGenerateRepositoryReport(t *testing.T) {
	env := newTestEnv(t, nil)
	repo, _ := connectDemo(t, env)

	rr, err := env.svc.GenerateRepositoryReport(context.Background(), repo.ID, models.ReportTypeMVPSummary, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ReportTypeMVPSummary, rr.ReportType)
	assert.Equal(t, testContent(), rr.Content)
	require.NotNil(t, rr.PDFPath)
	assert.Contains(t, env.generator.lastUser, "Repository: Demo (acme/widget)")

	_, err = env.svc.GenerateRepositoryReport(context.Background(), repo.ID, "", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRefreshInsights(t *testing.T) {
	env := newTestEnv(t, nil)
	repo, _ := connectDemo(t, env)

	env.generator.insights = []llm.InsightItem{
		{Category: "velocity", Title: "Steady merges", Description: "Healthy pace.", Severity: models.SeverityInfo},
		{Category: "review", Title: "One stale PR", Severity: models.SeverityWarning},
	}

	created, err := env.svc.RefreshInsights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, env.generator.insightCalls)

	insights, err := env.store.ListInsightsByRepository(repo.ID)
	require.NoError(t, err)
	assert.Len(t, insights, 2)
}

func TestReportArtifactServesPDF(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	report, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudienceQA, nil)
	require.NoError(t, err)

	artifact, err := env.svc.ReportArtifact(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", artifact.ContentType)
	assert.Equal(t, fmt.Sprintf("%d-qa.pdf", report.ID), artifact.Filename)
}

func TestReportArtifactRegeneratesMissingPDF(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	env.renderer.failPDF = true
	report, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudiencePM, nil)
	require.NoError(t, err)
	require.Nil(t, report.PDFPath)

	// The browser is back: download regenerates the PDF on demand.
	env.renderer.failPDF = false
	artifact, err := env.svc.ReportArtifact(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", artifact.ContentType)

	stored, err := env.store.GetReport(report.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PDFPath)
}

func TestReportArtifactFallsBackToHTML(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	env.renderer.failPDF = true
	report, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudienceQA, nil)
	require.NoError(t, err)

	artifact, err := env.svc.ReportArtifact(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", artifact.ContentType)
	assert.Equal(t, fmt.Sprintf("%d-qa.html", report.ID), artifact.Filename)
}

func TestPreviewHTMLIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	_, prs := connectDemo(t, env)

	report, err := env.svc.GeneratePRReport(context.Background(), prs[0].ID, models.AudienceQA, nil)
	require.NoError(t, err)
	generatorCalls := env.generator.reportCalls

	first, err := env.svc.PreviewHTML(report.ID)
	require.NoError(t, err)
	second, err := env.svc.PreviewHTML(report.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, generatorCalls, env.generator.reportCalls, "preview must not call the generator")
}
