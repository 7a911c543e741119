package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prdigest/prdigest/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func wrapNoRows(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}

// Repositories

func (q *Queries) CreateRepository(name, fullName, token, defaultBranch string, autoGenerate bool) (*models.Repository, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	res, err := q.db.Exec(
		`INSERT INTO repositories (name, full_name, token, default_branch, auto_generate) VALUES (?, ?, ?, ?, ?)`,
		name, fullName, token, defaultBranch, autoGenerate,
	)
	if err != nil {
		return nil, fmt.Errorf("creating repository: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.GetRepository(id)
}

func (q *Queries) GetRepository(id int64) (*models.Repository, error) {
	r := &models.Repository{}
	var createdAt string
	err := q.db.QueryRow(
		`SELECT id, name, full_name, token, default_branch, auto_generate, created_at
		 FROM repositories WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.FullName, &r.Token, &r.DefaultBranch, &r.AutoGenerate, &createdAt)
	if err != nil {
		return nil, wrapNoRows(err, "getting repository")
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (q *Queries) ListRepositories() ([]models.Repository, error) {
	rows, err := q.db.Query(
		`SELECT id, name, full_name, token, default_branch, auto_generate, created_at
		 FROM repositories ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var results []models.Repository
	for rows.Next() {
		var r models.Repository
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.FullName, &r.Token, &r.DefaultBranch, &r.AutoGenerate, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (q *Queries) DeleteRepository(id int64) error {
	res, err := q.db.Exec(`DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting repository: %w", ErrNotFound)
	}
	return nil
}

// Pull requests

const prColumns = `pr.id, pr.repository_id, pr.number, pr.title, pr.author, pr.author_avatar,
	pr.status, pr.review_status, pr.created_at, pr.updated_at, pr.merged_at, pr.diff_cache, pr.github_id`

func (q *Queries) scanPullRequest(row interface{ Scan(...any) error }, withRepoName bool) (*models.PullRequest, error) {
	pr := &models.PullRequest{}
	var createdAt, updatedAt string
	var mergedAt *string
	dest := []any{&pr.ID, &pr.RepositoryID, &pr.Number, &pr.Title, &pr.Author, &pr.AuthorAvatar,
		&pr.Status, &pr.ReviewStatus, &createdAt, &updatedAt, &mergedAt, &pr.DiffCache, &pr.GitHubID}
	if withRepoName {
		dest = append(dest, &pr.RepositoryName)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	pr.CreatedAt = parseTime(createdAt)
	pr.UpdatedAt = parseTime(updatedAt)
	pr.MergedAt = parseTimePtr(mergedAt)
	return pr, nil
}

// UpsertPullRequest inserts or updates a pull request keyed on its
// host-assigned github_id.
func (q *Queries) UpsertPullRequest(pr *models.PullRequest) (*models.PullRequest, error) {
	var mergedAt *string
	if pr.MergedAt != nil {
		s := pr.MergedAt.UTC().Format(time.DateTime)
		mergedAt = &s
	}
	_, err := q.db.Exec(
		`INSERT INTO pull_requests (repository_id, number, title, author, author_avatar, status, review_status, created_at, updated_at, merged_at, github_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(github_id) DO UPDATE SET
		     title = excluded.title,
		     status = excluded.status,
		     review_status = excluded.review_status,
		     updated_at = excluded.updated_at,
		     merged_at = excluded.merged_at`,
		pr.RepositoryID, pr.Number, pr.Title, pr.Author, pr.AuthorAvatar,
		pr.Status, pr.ReviewStatus,
		pr.CreatedAt.UTC().Format(time.DateTime), pr.UpdatedAt.UTC().Format(time.DateTime),
		mergedAt, pr.GitHubID,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting pull request: %w", err)
	}
	return q.GetPullRequestByGitHubID(pr.GitHubID)
}

func (q *Queries) GetPullRequest(id int64) (*models.PullRequest, error) {
	row := q.db.QueryRow(
		`SELECT `+prColumns+`, r.name FROM pull_requests pr
		 JOIN repositories r ON r.id = pr.repository_id
		 WHERE pr.id = ?`, id,
	)
	pr, err := q.scanPullRequest(row, true)
	if err != nil {
		return nil, wrapNoRows(err, "getting pull request")
	}
	return pr, nil
}

func (q *Queries) GetPullRequestByGitHubID(githubID int64) (*models.PullRequest, error) {
	row := q.db.QueryRow(
		`SELECT `+prColumns+` FROM pull_requests pr WHERE pr.github_id = ?`, githubID,
	)
	pr, err := q.scanPullRequest(row, false)
	if err != nil {
		return nil, wrapNoRows(err, "getting pull request by github id")
	}
	return pr, nil
}

func (q *Queries) listPullRequests(query string, args ...any) ([]models.PullRequest, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}
	defer rows.Close()

	var results []models.PullRequest
	for rows.Next() {
		pr, err := q.scanPullRequest(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scanning pull request: %w", err)
		}
		results = append(results, *pr)
	}
	return results, rows.Err()
}

func (q *Queries) ListPullRequests() ([]models.PullRequest, error) {
	return q.listPullRequests(
		`SELECT ` + prColumns + `, r.name FROM pull_requests pr
		 JOIN repositories r ON r.id = pr.repository_id
		 ORDER BY pr.updated_at DESC`,
	)
}

func (q *Queries) ListPullRequestsByRepository(repositoryID int64) ([]models.PullRequest, error) {
	return q.listPullRequests(
		`SELECT `+prColumns+`, r.name FROM pull_requests pr
		 JOIN repositories r ON r.id = pr.repository_id
		 WHERE pr.repository_id = ?
		 ORDER BY pr.updated_at DESC`, repositoryID,
	)
}

func (q *Queries) UpdatePullRequestDiffCache(id int64, diff string) error {
	_, err := q.db.Exec(`UPDATE pull_requests SET diff_cache = ? WHERE id = ?`, diff, id)
	if err != nil {
		return fmt.Errorf("updating diff cache: %w", err)
	}
	return nil
}

// Report templates

func (q *Queries) CreateTemplate(name, description string, audience models.Audience, content string, isDefault bool) (*models.ReportTemplate, error) {
	res, err := q.db.Exec(
		`INSERT INTO report_templates (name, description, audience, content, is_default) VALUES (?, ?, ?, ?, ?)`,
		name, description, audience, content, isDefault,
	)
	if err != nil {
		return nil, fmt.Errorf("creating template: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.GetTemplate(id)
}

func (q *Queries) GetTemplate(id int64) (*models.ReportTemplate, error) {
	t := &models.ReportTemplate{}
	var createdAt string
	err := q.db.QueryRow(
		`SELECT id, name, description, audience, content, is_default, created_at
		 FROM report_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.Audience, &t.Content, &t.IsDefault, &createdAt)
	if err != nil {
		return nil, wrapNoRows(err, "getting template")
	}
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func (q *Queries) ListTemplates() ([]models.ReportTemplate, error) {
	rows, err := q.db.Query(
		`SELECT id, name, description, audience, content, is_default, created_at
		 FROM report_templates ORDER BY is_default DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var results []models.ReportTemplate
	for rows.Next() {
		var t models.ReportTemplate
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Audience, &t.Content, &t.IsDefault, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		results = append(results, t)
	}
	return results, rows.Err()
}

func (q *Queries) UpdateTemplate(id int64, name, description string, audience models.Audience, content string) (*models.ReportTemplate, error) {
	res, err := q.db.Exec(
		`UPDATE report_templates SET name = ?, description = ?, audience = ?, content = ? WHERE id = ?`,
		name, description, audience, content, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("updating template: %w", ErrNotFound)
	}
	return q.GetTemplate(id)
}

// DeleteTemplate removes a user template. Default templates are not deletable.
func (q *Queries) DeleteTemplate(id int64) error {
	t, err := q.GetTemplate(id)
	if err != nil {
		return err
	}
	if t.IsDefault {
		return errors.New("default templates cannot be deleted")
	}
	_, err = q.db.Exec(`DELETE FROM report_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	return nil
}

// SeedDefaultTemplates creates the three built-in audience templates if no
// default templates exist yet. Their empty content defers to the built-in
// system prompts.
func (q *Queries) SeedDefaultTemplates() error {
	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM report_templates WHERE is_default = 1`).Scan(&count); err != nil {
		return fmt.Errorf("counting default templates: %w", err)
	}
	if count > 0 {
		return nil
	}
	defaults := []struct {
		name, description string
		audience          models.Audience
	}{
		{"Product Manager Report", "Feature-focused summary for product managers", models.AudiencePM},
		{"QA Report", "Risk areas and test scenarios for QA engineers", models.AudienceQA},
		{"Client Report", "Plain-language progress overview for clients", models.AudienceClient},
	}
	for _, d := range defaults {
		if _, err := q.CreateTemplate(d.name, d.description, d.audience, "", true); err != nil {
			return err
		}
	}
	return nil
}

// Reports

func marshalContent(c models.ReportContent) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshaling report content: %w", err)
	}
	return string(b), nil
}

func (q *Queries) CreateReport(pullRequestID int64, audience models.Audience, content models.ReportContent) (*models.Report, error) {
	raw, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	res, err := q.db.Exec(
		`INSERT INTO reports (pull_request_id, audience, content) VALUES (?, ?, ?)`,
		pullRequestID, audience, raw,
	)
	if err != nil {
		return nil, fmt.Errorf("creating report: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.GetReport(id)
}

func (q *Queries) GetReport(id int64) (*models.Report, error) {
	r := &models.Report{}
	var raw, createdAt string
	err := q.db.QueryRow(
		`SELECT id, pull_request_id, audience, content, pdf_path, created_at FROM reports WHERE id = ?`, id,
	).Scan(&r.ID, &r.PullRequestID, &r.Audience, &raw, &r.PDFPath, &createdAt)
	if err != nil {
		return nil, wrapNoRows(err, "getting report")
	}
	if err := json.Unmarshal([]byte(raw), &r.Content); err != nil {
		return nil, fmt.Errorf("unmarshaling report content: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (q *Queries) ListReportsByPullRequest(pullRequestID int64) ([]models.Report, error) {
	rows, err := q.db.Query(
		`SELECT id, pull_request_id, audience, content, pdf_path, created_at
		 FROM reports WHERE pull_request_id = ? ORDER BY created_at DESC`, pullRequestID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var results []models.Report
	for rows.Next() {
		var r models.Report
		var raw, createdAt string
		if err := rows.Scan(&r.ID, &r.PullRequestID, &r.Audience, &raw, &r.PDFPath, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Content); err != nil {
			return nil, fmt.Errorf("unmarshaling report content: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (q *Queries) UpdateReportPDFPath(id int64, pdfPath string) error {
	_, err := q.db.Exec(`UPDATE reports SET pdf_path = ? WHERE id = ?`, pdfPath, id)
	if err != nil {
		return fmt.Errorf("updating report pdf path: %w", err)
	}
	return nil
}

// Repository reports

func (q *Queries) CreateRepositoryReport(repositoryID int64, reportType string, templateID *int64, content models.ReportContent) (*models.RepositoryReport, error) {
	raw, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	res, err := q.db.Exec(
		`INSERT INTO repository_reports (repository_id, report_type, template_id, content) VALUES (?, ?, ?, ?)`,
		repositoryID, reportType, templateID, raw,
	)
	if err != nil {
		return nil, fmt.Errorf("creating repository report: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.GetRepositoryReport(id)
}

func (q *Queries) GetRepositoryReport(id int64) (*models.RepositoryReport, error) {
	r := &models.RepositoryReport{}
	var raw, createdAt string
	err := q.db.QueryRow(
		`SELECT id, repository_id, report_type, template_id, content, pdf_path, created_at
		 FROM repository_reports WHERE id = ?`, id,
	).Scan(&r.ID, &r.RepositoryID, &r.ReportType, &r.TemplateID, &raw, &r.PDFPath, &createdAt)
	if err != nil {
		return nil, wrapNoRows(err, "getting repository report")
	}
	if err := json.Unmarshal([]byte(raw), &r.Content); err != nil {
		return nil, fmt.Errorf("unmarshaling repository report content: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (q *Queries) listRepositoryReports(query string, args ...any) ([]models.RepositoryReport, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing repository reports: %w", err)
	}
	defer rows.Close()

	var results []models.RepositoryReport
	for rows.Next() {
		var r models.RepositoryReport
		var raw, createdAt string
		if err := rows.Scan(&r.ID, &r.RepositoryID, &r.ReportType, &r.TemplateID, &raw, &r.PDFPath, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning repository report: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Content); err != nil {
			return nil, fmt.Errorf("unmarshaling repository report content: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (q *Queries) ListRepositoryReports() ([]models.RepositoryReport, error) {
	return q.listRepositoryReports(
		`SELECT id, repository_id, report_type, template_id, content, pdf_path, created_at
		 FROM repository_reports ORDER BY created_at DESC`,
	)
}

func (q *Queries) ListRepositoryReportsByRepository(repositoryID int64) ([]models.RepositoryReport, error) {
	return q.listRepositoryReports(
		`SELECT id, repository_id, report_type, template_id, content, pdf_path, created_at
		 FROM repository_reports WHERE repository_id = ? ORDER BY created_at DESC`, repositoryID,
	)
}

func (q *Queries) UpdateRepositoryReportPDFPath(id int64, pdfPath string) error {
	_, err := q.db.Exec(`UPDATE repository_reports SET pdf_path = ? WHERE id = ?`, pdfPath, id)
	if err != nil {
		return fmt.Errorf("updating repository report pdf path: %w", err)
	}
	return nil
}

// Insights

func (q *Queries) CreateInsight(repositoryID int64, category, title, description, severity string) (*models.Insight, error) {
	res, err := q.db.Exec(
		`INSERT INTO insights (repository_id, category, title, description, severity) VALUES (?, ?, ?, ?, ?)`,
		repositoryID, category, title, description, severity,
	)
	if err != nil {
		return nil, fmt.Errorf("creating insight: %w", err)
	}
	id, _ := res.LastInsertId()
	i := &models.Insight{}
	var createdAt string
	err = q.db.QueryRow(
		`SELECT id, repository_id, category, title, description, severity, created_at FROM insights WHERE id = ?`, id,
	).Scan(&i.ID, &i.RepositoryID, &i.Category, &i.Title, &i.Description, &i.Severity, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting insight: %w", err)
	}
	i.CreatedAt = parseTime(createdAt)
	return i, nil
}

func (q *Queries) ListInsights() ([]models.Insight, error) {
	return q.listInsights(
		`SELECT id, repository_id, category, title, description, severity, created_at
		 FROM insights ORDER BY created_at DESC`,
	)
}

func (q *Queries) ListInsightsByRepository(repositoryID int64) ([]models.Insight, error) {
	return q.listInsights(
		`SELECT id, repository_id, category, title, description, severity, created_at
		 FROM insights WHERE repository_id = ? ORDER BY created_at DESC`, repositoryID,
	)
}

func (q *Queries) listInsights(query string, args ...any) ([]models.Insight, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing insights: %w", err)
	}
	defer rows.Close()

	var results []models.Insight
	for rows.Next() {
		var i models.Insight
		var createdAt string
		if err := rows.Scan(&i.ID, &i.RepositoryID, &i.Category, &i.Title, &i.Description, &i.Severity, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning insight: %w", err)
		}
		i.CreatedAt = parseTime(createdAt)
		results = append(results, i)
	}
	return results, rows.Err()
}

// Statistics

func (q *Queries) Statistics() (*models.Statistics, error) {
	s := &models.Statistics{}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM repositories`, &s.Repositories},
		{`SELECT COUNT(*) FROM pull_requests`, &s.PullRequests},
		{`SELECT COUNT(*) FROM pull_requests WHERE status = 'open'`, &s.OpenPullRequests},
		{`SELECT COUNT(*) FROM pull_requests WHERE status = 'merged'`, &s.MergedPullRequests},
		{`SELECT COUNT(*) FROM reports`, &s.Reports},
		{`SELECT COUNT(*) FROM repository_reports`, &s.RepositoryReports},
		{`SELECT COUNT(*) FROM insights`, &s.Insights},
	}
	for _, c := range counts {
		if err := q.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("collecting statistics: %w", err)
		}
	}
	return s, nil
}
