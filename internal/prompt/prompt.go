// Package prompt assembles the system and user prompts sent to the LLM.
// Everything here is a pure function: identical inputs produce
// byte-identical output.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prdigest/prdigest/internal/github"
	"github.com/prdigest/prdigest/internal/models"
)

// NoDiffMarker is embedded in the user prompt when a pull request carries
// no diff content.
const NoDiffMarker = "No diff available."

const pmSystemPrompt = `You are a technical product analyst writing a pull request report for a product manager.

Focus on:
- What user-facing or product-level change this pull request delivers
- Which features or flows it touches and how they are affected
- Scope and completeness: what is done, what looks partial
- Risks to timelines or dependencies on other work

Write in clear business language. Avoid code-level detail unless it affects the product outcome.`

const qaSystemPrompt = `You are a senior QA engineer writing a pull request report for the QA team.

Focus on:
- What behavior changed and which components are affected
- Regression risk areas and edge cases introduced by the diff
- Configuration, data, or environment preconditions for testing

Include between 8 and 15 concrete test scenarios in the testScenarios field. Each scenario must be a single actionable sentence that a tester can execute, covering happy paths, edge cases, and failure modes.`

const clientSystemPrompt = `You are writing a progress report for a non-technical client about recent development work.

Focus on:
- What was delivered, in plain language a non-developer understands
- How it improves the product for its users
- What, if anything, the client should review or decide

Never use jargon, file names, or code terminology. Keep the tone positive and factual.`

const genericSystemPrompt = `You are a software analyst writing a structured report about a pull request. Summarize what changed, why it matters, and what deserves attention.`

const mvpSummarySystemPrompt = `You are a technical product analyst writing an MVP progress summary for an entire repository.

Using the pull request activity provided, describe what has been built so far, how complete the MVP appears, which areas are seeing the most change, and what the apparent next steps are.`

const clientOverviewSystemPrompt = `You are writing a repository-level progress overview for a non-technical client.

Using the pull request activity provided, describe what the team has delivered recently and what is in progress, in plain language. Never use jargon, file names, or code terminology.`

const insightsSystemPrompt = `You are a repository health analyst. Given recent pull request activity, produce short observations about development health: velocity, review bottlenecks, risky changes, stale work.

Each insight needs a category (such as "velocity", "review", "risk", "process"), a one-line title, a short description, and a severity of "info", "warning" or "error".`

// SystemPrompt selects the system prompt for an audience. A template with
// non-empty content overrides the built-in prompt verbatim.
func SystemPrompt(audience models.Audience, tmpl *models.ReportTemplate) string {
	if tmpl != nil && strings.TrimSpace(tmpl.Content) != "" {
		return tmpl.Content
	}
	switch audience {
	case models.AudiencePM:
		return pmSystemPrompt
	case models.AudienceQA:
		return qaSystemPrompt
	case models.AudienceClient:
		return clientSystemPrompt
	default:
		return genericSystemPrompt
	}
}

// RepositorySystemPrompt selects the system prompt for a repository-scope
// report type, with the same template-override rule.
func RepositorySystemPrompt(reportType string, tmpl *models.ReportTemplate) string {
	if tmpl != nil && strings.TrimSpace(tmpl.Content) != "" {
		return tmpl.Content
	}
	switch reportType {
	case models.ReportTypeMVPSummary:
		return mvpSummarySystemPrompt
	case models.ReportTypeClientOverview:
		return clientOverviewSystemPrompt
	default:
		return genericSystemPrompt
	}
}

// BuildPR renders the prompt pair for a single pull request.
func BuildPR(details *github.PRDetails, audience models.Audience, tmpl *models.ReportTemplate) (string, string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Pull Request #%d: %s\n", details.Number, details.Title)
	fmt.Fprintf(&b, "Author: %s\n", details.Author)
	fmt.Fprintf(&b, "State: %s\n", details.State)
	if details.Body != "" {
		fmt.Fprintf(&b, "Description: %s\n", details.Body)
	}

	fmt.Fprintf(&b, "\nFiles changed (%d), +%d/-%d total:\n", details.ChangedFiles, details.Additions, details.Deletions)
	for _, f := range details.Files {
		fmt.Fprintf(&b, "- %s (%s, +%d/-%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
	}

	if strings.TrimSpace(details.Diff) == "" {
		b.WriteString("\n" + NoDiffMarker + "\n")
	} else {
		b.WriteString("\n--- BEGIN DIFF ---\n")
		b.WriteString(details.Diff)
		b.WriteString("\n--- END DIFF ---\n")
	}

	return SystemPrompt(audience, tmpl), b.String()
}

// maxRecentPRs bounds how many pull requests a repository-scope prompt
// lists individually.
const maxRecentPRs = 10

// BuildRepository renders the prompt pair for a whole-repository report
// from aggregate pull request data.
func BuildRepository(repo *models.Repository, prs []models.PullRequest, reportType string, tmpl *models.ReportTemplate) (string, string) {
	var b strings.Builder

	open, merged, closed := 0, 0, 0
	contributors := map[string]struct{}{}
	for _, pr := range prs {
		switch pr.Status {
		case models.PRStatusOpen:
			open++
		case models.PRStatusMerged:
			merged++
		case models.PRStatusClosed:
			closed++
		}
		if pr.Author != "" {
			contributors[pr.Author] = struct{}{}
		}
	}

	fmt.Fprintf(&b, "Repository: %s (%s)\n", repo.Name, repo.FullName)
	fmt.Fprintf(&b, "Pull requests: %d total (%d open, %d merged, %d closed)\n", len(prs), open, merged, closed)
	fmt.Fprintf(&b, "Contributors: %d\n", len(contributors))

	recent := make([]models.PullRequest, len(prs))
	copy(recent, prs)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].UpdatedAt.After(recent[j].UpdatedAt)
	})
	if len(recent) > maxRecentPRs {
		recent = recent[:maxRecentPRs]
	}

	if len(recent) > 0 {
		fmt.Fprintf(&b, "\nMost recently updated pull requests (up to %d):\n", maxRecentPRs)
		for _, pr := range recent {
			fmt.Fprintf(&b, "- #%d %s (%s, by %s, updated %s)\n",
				pr.Number, pr.Title, pr.Status, pr.Author, pr.UpdatedAt.UTC().Format("2006-01-02"))
		}
	}

	return RepositorySystemPrompt(reportType, tmpl), b.String()
}

// BuildInsights renders the prompt pair for the repository-health insight
// call over recent pull requests.
func BuildInsights(repo *models.Repository, prs []models.PullRequest) (string, string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s (%s)\n", repo.Name, repo.FullName)
	fmt.Fprintf(&b, "Recent pull requests (%d):\n", len(prs))
	for _, pr := range prs {
		fmt.Fprintf(&b, "- #%d %s (%s/%s, by %s, created %s, updated %s)\n",
			pr.Number, pr.Title, pr.Status, pr.ReviewStatus, pr.Author,
			pr.CreatedAt.UTC().Format("2006-01-02"), pr.UpdatedAt.UTC().Format("2006-01-02"))
	}

	return insightsSystemPrompt, b.String()
}
