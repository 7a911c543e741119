package models

import "time"

// Audience selects which stakeholder perspective a report is written for.
type Audience string

const (
	AudiencePM     Audience = "pm"
	AudienceQA     Audience = "qa"
	AudienceClient Audience = "client"
)

// Audiences lists every defined audience, in generation order.
var Audiences = []Audience{AudiencePM, AudienceQA, AudienceClient}

func (a Audience) Valid() bool {
	switch a {
	case AudiencePM, AudienceQA, AudienceClient:
		return true
	}
	return false
}

// Pull request lifecycle status.
const (
	PRStatusOpen   = "open"
	PRStatusClosed = "closed"
	PRStatusMerged = "merged"
)

// Pull request review status.
const (
	ReviewPending          = "pending"
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
	ReviewMerged           = "merged"
	ReviewClosed           = "closed"
)

// Insight severity.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Repository report types.
const (
	ReportTypeMVPSummary     = "mvp_summary"
	ReportTypeClientOverview = "client_overview"
)

type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Token         string    `json:"-"`
	DefaultBranch string    `json:"defaultBranch"`
	AutoGenerate  bool      `json:"autoGenerate"`
	CreatedAt     time.Time `json:"createdAt"`
}

type PullRequest struct {
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repositoryId"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	AuthorAvatar string     `json:"authorAvatar,omitempty"`
	Status       string     `json:"status"`
	ReviewStatus string     `json:"reviewStatus"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	MergedAt     *time.Time `json:"mergedAt,omitempty"`
	DiffCache    *string    `json:"-"`
	GitHubID     int64      `json:"githubId"`

	// Joined field, not stored on the row.
	RepositoryName string `json:"repositoryName,omitempty"`
}

type ReportTemplate struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Audience    Audience  `json:"audience"`
	Content     string    `json:"content"`
	IsDefault   bool      `json:"isDefault"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ReportSection is one titled block of a generated report.
type ReportSection struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Items   []string `json:"items,omitempty"`
}

// ReportContent is the structured object returned by the LLM call.
type ReportContent struct {
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	Sections        []ReportSection `json:"sections"`
	Recommendations []string        `json:"recommendations,omitempty"`
	TestScenarios   []string        `json:"testScenarios,omitempty"`
}

type Report struct {
	ID            int64         `json:"id"`
	PullRequestID int64         `json:"pullRequestId"`
	Audience      Audience      `json:"audience"`
	Content       ReportContent `json:"content"`
	PDFPath       *string       `json:"pdfPath,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type RepositoryReport struct {
	ID           int64         `json:"id"`
	RepositoryID int64         `json:"repositoryId"`
	ReportType   string        `json:"reportType"`
	TemplateID   *int64        `json:"templateId,omitempty"`
	Content      ReportContent `json:"content"`
	PDFPath      *string       `json:"pdfPath,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type Insight struct {
	ID           int64     `json:"id"`
	RepositoryID int64     `json:"repositoryId"`
	Category     string    `json:"category"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Severity     string    `json:"severity"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Statistics struct {
	Repositories       int `json:"repositories"`
	PullRequests       int `json:"pullRequests"`
	OpenPullRequests   int `json:"openPullRequests"`
	MergedPullRequests int `json:"mergedPullRequests"`
	Reports            int `json:"reports"`
	RepositoryReports  int `json:"repositoryReports"`
	Insights           int `json:"insights"`
}
