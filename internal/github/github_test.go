package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClientWithBase("token", srv.URL+"/")
	require.NoError(t, err)
	return c
}

func TestFetchPRDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "diff") {
			fmt.Fprint(w, "diff --git a/main.go b/main.go\n+package main\n")
			return
		}
		fmt.Fprint(w, `{"number": 7, "title": "Add widget", "state": "open", "body": "desc",
			"user": {"login": "octocat", "avatar_url": "https://example.com/a.png"}}`)
	})
	mux.HandleFunc("/repos/acme/widget/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"filename": "main.go", "status": "modified", "additions": 10, "deletions": 2},
			{"filename": "main_test.go", "status": "added", "additions": 30, "deletions": 0}
		]`)
	})

	c := newTestClient(t, mux)
	details, err := c.FetchPRDetails(context.Background(), "acme/widget", 7)
	require.NoError(t, err)

	assert.Equal(t, 7, details.Number)
	assert.Equal(t, "Add widget", details.Title)
	assert.Equal(t, "octocat", details.Author)
	assert.Equal(t, 40, details.Additions)
	assert.Equal(t, 2, details.Deletions)
	assert.Equal(t, 2, details.ChangedFiles)
	require.Len(t, details.Files, 2)
	assert.Equal(t, "main.go", details.Files[0].Filename)
	assert.Contains(t, details.Diff, "diff --git")
}

func TestFetchPRDetailsErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuth},
		{"forbidden", http.StatusForbidden, ErrAuth},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"server error", http.StatusBadGateway, ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message": "nope"}`)
			}))
			_, err := c.FetchPRDetails(context.Background(), "acme/widget", 7)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAccess(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/acme/widget", r.URL.Path)
			fmt.Fprint(w, `{"id": 1, "full_name": "acme/widget"}`)
		}))
		ok, err := c.ValidateAccess(context.Background(), "acme/widget")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejected token", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message": "bad credentials"}`)
		}))
		ok, err := c.ValidateAccess(context.Background(), "acme/widget")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("upstream failure", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message": "boom"}`)
		}))
		_, err := c.ValidateAccess(context.Background(), "acme/widget")
		assert.ErrorIs(t, err, ErrUpstream)
	})
}

func TestListPRs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/pulls", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[
			{"id": 1001, "number": 2, "title": "Second", "state": "open",
			 "user": {"login": "alice"}, "created_at": "2026-08-01T10:00:00Z", "updated_at": "2026-08-02T10:00:00Z"},
			{"id": 1000, "number": 1, "title": "First", "state": "closed", "merged_at": "2026-07-30T10:00:00Z",
			 "user": {"login": "bob"}, "created_at": "2026-07-29T10:00:00Z", "updated_at": "2026-07-30T10:00:00Z"}
		]`)
	}))

	prs, err := c.ListPRs(context.Background(), "acme/widget")
	require.NoError(t, err)
	require.Len(t, prs, 2)

	assert.Equal(t, int64(1001), prs[0].GitHubID)
	assert.Equal(t, "open", prs[0].Status)
	assert.Equal(t, "pending", prs[0].ReviewStatus)

	// A merged_at timestamp wins over the closed state.
	assert.Equal(t, "merged", prs[1].Status)
	assert.Equal(t, "merged", prs[1].ReviewStatus)
	require.NotNil(t, prs[1].MergedAt)
}

func TestValidFullName(t *testing.T) {
	assert.True(t, ValidFullName("acme/widget"))
	assert.True(t, ValidFullName("some-org/some.repo"))
	assert.False(t, ValidFullName("acme"))
	assert.False(t, ValidFullName("acme/widget/extra"))
	assert.False(t, ValidFullName(""))
	assert.False(t, ValidFullName("github.com/acme/widget"))
}

func TestIsDemo(t *testing.T) {
	assert.True(t, IsDemo("demo", "acme/widget"))
	assert.True(t, IsDemo("test", "acme/widget"))
	assert.True(t, IsDemo("ghp_real", "acme/demo-app"))
	assert.False(t, IsDemo("ghp_real", "acme/widget"))
}

func TestClientForSelectsVariant(t *testing.T) {
	assert.IsType(t, &DemoClient{}, ClientFor("demo", "acme/widget", ""))
	assert.IsType(t, &DemoClient{}, ClientFor("ghp_real", "acme/demo-app", ""))
	assert.IsType(t, &Client{}, ClientFor("ghp_real", "acme/widget", ""))
	assert.IsType(t, &Client{}, ClientFor("", "acme/widget", "fallback-token"))
}

func TestDemoClient(t *testing.T) {
	d := NewDemoClient()

	prs, err := d.ListPRs(context.Background(), "acme/demo")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(prs), 2)

	seen := map[int64]bool{}
	for _, pr := range prs {
		assert.False(t, seen[pr.GitHubID], "github ids must be distinct")
		seen[pr.GitHubID] = true
	}

	// Different demo repositories get disjoint id ranges.
	other, err := d.ListPRs(context.Background(), "acme/other-demo")
	require.NoError(t, err)
	for _, pr := range other {
		assert.False(t, seen[pr.GitHubID], "ids must not collide across repositories")
	}

	details, err := d.FetchPRDetails(context.Background(), "acme/demo", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, details.Number)
	assert.Len(t, details.Files, 2)
	assert.NotEmpty(t, details.Diff)
	assert.Equal(t, details.Additions, 42+65)
}
