// Package github talks to the source-control host. It exposes a real
// client backed by the GitHub REST API and a demo-mode variant that serves
// synthetic data without any outbound calls.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v39/github"
	"golang.org/x/oauth2"
)

// Error taxonomy for host calls. Callers match with errors.Is.
var (
	ErrAuth     = errors.New("source control authentication failed")
	ErrNotFound = errors.New("source control resource not found")
	ErrUpstream = errors.New("source control request failed")
)

var fullNamePattern = regexp.MustCompile(`^[\w.\-]+/[\w.\-]+$`)

// ValidFullName reports whether name looks like "owner/repo".
func ValidFullName(name string) bool {
	return fullNamePattern.MatchString(name)
}

// FileChange is one changed file in a pull request.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// PRDetails aggregates PR metadata, per-file change stats and the raw
// unified diff.
type PRDetails struct {
	Number       int          `json:"number"`
	Title        string       `json:"title"`
	Author       string       `json:"author"`
	AuthorAvatar string       `json:"authorAvatar"`
	State        string       `json:"state"`
	Body         string       `json:"body"`
	Additions    int          `json:"additions"`
	Deletions    int          `json:"deletions"`
	ChangedFiles int          `json:"changed_files"`
	Files        []FileChange `json:"files"`
	Diff         string       `json:"diff"`
}

// PRSummary is one pull request as returned by a sync listing.
type PRSummary struct {
	GitHubID     int64
	Number       int
	Title        string
	Author       string
	AuthorAvatar string
	Status       string
	ReviewStatus string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
}

// SourceControl is the host contract consumed by the report pipeline.
type SourceControl interface {
	ValidateAccess(ctx context.Context, fullName string) (bool, error)
	FetchPRDetails(ctx context.Context, fullName string, number int) (*PRDetails, error)
	ListPRs(ctx context.Context, fullName string) ([]PRSummary, error)
}

// IsDemo reports whether a repository should be served by the demo client
// instead of the real host: sentinel tokens, or a demo-named repository.
func IsDemo(token, fullName string) bool {
	return token == "demo" || token == "test" || strings.Contains(strings.ToLower(fullName), "demo")
}

// ClientFor selects the source-control variant for a repository at
// construction time. fallbackToken is used when the repository was stored
// without a token of its own.
func ClientFor(token, fullName, fallbackToken string) SourceControl {
	if IsDemo(token, fullName) {
		return NewDemoClient()
	}
	if token == "" {
		token = fallbackToken
	}
	return NewClient(token)
}

// Client is the real GitHub REST client.
type Client struct {
	gh *github.Client
}

func NewClient(token string) *Client {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	return &Client{gh: github.NewClient(hc)}
}

// NewClientWithBase builds a client against a custom API base URL. Used in
// tests against a local HTTP server.
func NewClientWithBase(token, baseURL string) (*Client, error) {
	c := NewClient(token)
	var err error
	c.gh.BaseURL, err = c.gh.BaseURL.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return c, nil
}

func splitFullName(fullName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repository name %q: expected owner/repo", fullName)
	}
	return owner, repo, nil
}

// mapError translates a GitHub API failure into the local taxonomy. Errors
// are propagated unmodified otherwise; there is no retry at this layer.
func mapError(err error, what string) error {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", what, ErrAuth)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		default:
			return fmt.Errorf("%s (status %d): %w", what, er.Response.StatusCode, ErrUpstream)
		}
	}
	return fmt.Errorf("%s: %w: %v", what, ErrUpstream, err)
}

func (c *Client) ValidateAccess(ctx context.Context, fullName string) (bool, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return false, err
	}
	_, _, err = c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		mapped := mapError(err, "validating access")
		if errors.Is(mapped, ErrAuth) || errors.Is(mapped, ErrNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// FetchPRDetails makes three dependent host calls: PR metadata, the
// changed-file list, and the raw unified diff.
func (c *Client) FetchPRDetails(ctx context.Context, fullName string, number int) (*PRDetails, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("fetching PR #%d", number))
	}

	details := &PRDetails{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Author:       pr.GetUser().GetLogin(),
		AuthorAvatar: pr.GetUser().GetAvatarURL(),
		State:        prState(pr),
		Body:         pr.GetBody(),
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, mapError(err, fmt.Sprintf("listing files for PR #%d", number))
		}
		for _, f := range files {
			details.Files = append(details.Files, FileChange{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
			details.Additions += f.GetAdditions()
			details.Deletions += f.GetDeletions()
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	details.ChangedFiles = len(details.Files)

	diff, _, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("fetching diff for PR #%d", number))
	}
	details.Diff = diff

	return details, nil
}

func (c *Client) ListPRs(ctx context.Context, fullName string) ([]PRSummary, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	var all []PRSummary
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, mapError(err, "listing pull requests")
		}
		for _, pr := range prs {
			s := PRSummary{
				GitHubID:     pr.GetID(),
				Number:       pr.GetNumber(),
				Title:        pr.GetTitle(),
				Author:       pr.GetUser().GetLogin(),
				AuthorAvatar: pr.GetUser().GetAvatarURL(),
				Status:       prState(pr),
				ReviewStatus: reviewState(pr),
				CreatedAt:    pr.GetCreatedAt(),
				UpdatedAt:    pr.GetUpdatedAt(),
			}
			if pr.MergedAt != nil {
				t := pr.GetMergedAt()
				s.MergedAt = &t
			}
			all = append(all, s)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func prState(pr *github.PullRequest) string {
	if pr.MergedAt != nil || pr.GetMerged() {
		return "merged"
	}
	return pr.GetState()
}

func reviewState(pr *github.PullRequest) string {
	switch prState(pr) {
	case "merged":
		return "merged"
	case "closed":
		return "closed"
	default:
		return "pending"
	}
}
