// Package catalog rebuilds the published mod catalog: every repository
// the developer publishes is resolved to its Steam Workshop listing,
// scraped, deduplicated and merged with cached GitHub statistics into
// one sorted artifact.
package catalog

import (
	"modcatalog/lib/github"
	"modcatalog/lib/scrapers/workshop"
)

// Mod is one published catalog entry. The artifact is consumed by the
// site front-end and the preview-image compositor, so field names and
// absence semantics are load-bearing: a missing subs or github_stats
// means "unknown", never zero.
type Mod struct {
	Name        string        `json:"name"`
	Subs        *int          `json:"subs,omitempty"`
	SteamURL    string        `json:"steam_url"`
	RepoURL     string        `json:"repo_url"`
	Banner      string        `json:"banner"`
	Videos      []string      `json:"videos"`
	Highlight   bool          `json:"highlight"`
	GithubStats *github.Stats `json:"github_stats,omitempty"`
}

// entry is the working record carried through the pipeline. It keeps
// what the published Mod must not: the dedup key and the source
// repository.
type entry struct {
	res    workshop.Resolution
	scrape workshop.ScrapeResult
	repo   github.Repo
}

// Summary counts what one run did, for the end-of-run report.
type Summary struct {
	Repos          int
	Featured       int
	Discovered     int
	Mods           int
	Duplicates     int
	Skipped        int
	ScrapeFailures int
	StatsFetched   int
	StatsPending   int
}
