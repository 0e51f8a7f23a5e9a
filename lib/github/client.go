// Package github wraps the pieces of the GitHub REST API the catalog
// pipeline needs: enumerating a user's repositories and fetching
// per-repository statistics.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("lib/github")

const (
	defaultTimeout = 10 * time.Second
	pageSize       = 100
)

// Stats are the repository counters surfaced in the catalog.
type Stats struct {
	OpenIssues int `json:"open_issues"`
	Stars      int `json:"stars"`
	Forks      int `json:"forks"`
}

// Repo is the slice of a repository listing the pipeline consumes.
type Repo struct {
	ID            int64
	Owner         string
	Name          string
	HTMLURL       string
	Homepage      string
	DefaultBranch string
}

type Client struct {
	gh       *github.Client
	limiter  *rate.Limiter
	username string
	authed   bool
}

type Options struct {
	// Username is the account whose repositories are listed when no
	// token is available. With a token the authenticated user's
	// repositories are listed instead, which includes collaborator and
	// organization repositories.
	Username string
	Token    string
	// Limiter overrides the default API pacing, for tests.
	Limiter *rate.Limiter
	// BaseURL points the client at a test server when set.
	BaseURL string
	Timeout time.Duration
}

func NewClient(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	gh := github.NewClient(&http.Client{Timeout: timeout})
	if opts.Token != "" {
		gh = gh.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		gh.BaseURL = base
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(opts.Token != "")
	}

	return &Client{
		gh:       gh,
		limiter:  limiter,
		username: opts.Username,
		authed:   opts.Token != "",
	}, nil
}

// NewLimiter paces API calls under GitHub's documented quotas: 5000
// requests/hour for authenticated clients, 60/hour otherwise.
func NewLimiter(authenticated bool) *rate.Limiter {
	if authenticated {
		slog.Info("github rate limiter", "rate", "5000 requests/hour", "burst", 10)
		return rate.NewLimiter(rate.Every(time.Hour/5000), 10)
	}
	slog.Info("github rate limiter (unauthenticated)", "rate", "60 requests/hour", "burst", 1)
	return rate.NewLimiter(rate.Every(time.Hour/60), 1)
}

// Token reads the API token from the environment, preferring
// GITHUB_TOKEN over GH_TOKEN.
func Token() string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	return os.Getenv("GH_TOKEN")
}

// ListRepos pages through the account's repositories until an empty
// page comes back. Archived and private repositories are dropped.
func (c *Client) ListRepos(ctx context.Context) ([]Repo, error) {
	ctx, span := tracer.Start(ctx, "client:ListRepos")
	defer span.End()

	var out []Repo
	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		repos, err := c.listPage(ctx, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to list repositories")
			return nil, fmt.Errorf("list repositories page %d: %w", page, err)
		}
		if len(repos) == 0 {
			break
		}

		for _, r := range repos {
			if r.GetArchived() || r.GetPrivate() {
				continue
			}
			out = append(out, Repo{
				ID:            r.GetID(),
				Owner:         r.GetOwner().GetLogin(),
				Name:          r.GetName(),
				HTMLURL:       r.GetHTMLURL(),
				Homepage:      r.GetHomepage(),
				DefaultBranch: r.GetDefaultBranch(),
			})
		}
	}

	slog.InfoContext(ctx, "listed repositories", "count", len(out))
	return out, nil
}

func (c *Client) listPage(ctx context.Context, page int) ([]*github.Repository, error) {
	if c.authed {
		repos, _, err := c.gh.Repositories.ListByAuthenticatedUser(
			ctx,
			&github.RepositoryListByAuthenticatedUserOptions{
				Visibility:  "public",
				Affiliation: "owner,collaborator,organization_member",
				ListOptions: github.ListOptions{Page: page, PerPage: pageSize},
			},
		)
		return repos, err
	}
	repos, _, err := c.gh.Repositories.ListByUser(
		ctx,
		c.username,
		&github.RepositoryListByUserOptions{
			Type:        "owner",
			ListOptions: github.ListOptions{Page: page, PerPage: pageSize},
		},
	)
	return repos, err
}

// GetStats fetches the issue, star and fork counters for a single
// repository. A repository that no longer exists yields (nil, nil).
func (c *Client) GetStats(ctx context.Context, owner, name string) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "client:GetStats")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	repo, res, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusNotFound {
			slog.WarnContext(ctx, "repository is gone", "owner", owner, "repo", name)
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get repository")
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}

	return &Stats{
		OpenIssues: repo.GetOpenIssuesCount(),
		Stars:      repo.GetStargazersCount(),
		Forks:      repo.GetForksCount(),
	}, nil
}

// ParseRepoURL splits a github.com repository URL into its owner and
// name segments.
func ParseRepoURL(raw string) (owner, name string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse repository url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", fmt.Errorf("not a github repository url: %s", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url is missing owner or name: %s", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
