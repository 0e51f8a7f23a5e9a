package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"modcatalog/lib/github"
	"modcatalog/lib/scrapers/workshop"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/ptr"
)

var tracer = otel.Tracer("services/catalog")

// scrapeWorkers bounds in-flight listing scrapes. The Workshop's
// tolerance for automated traffic is the scarce resource here, so one
// worker behind the rate limiter is deliberate.
const scrapeWorkers = 1

// Builder orchestrates one catalog run end to end.
type Builder struct {
	github   *github.Client
	resolver *workshop.Resolver
	scraper  *workshop.Scraper
	store    Store
	budget   int
	now      func() time.Time
}

type BuilderOptions struct {
	Github   *github.Client
	Resolver *workshop.Resolver
	Scraper  *workshop.Scraper
	Store    Store
	// StatsBudget caps how many repository statistics fetches one run
	// may spend; the rest wait in the pending queue for later runs.
	StatsBudget int
	// Now replaces the wall clock, for tests.
	Now func() time.Time
}

func NewBuilder(opts BuilderOptions) *Builder {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	budget := opts.StatsBudget
	if budget < 0 {
		budget = 0
	}
	return &Builder{
		github:   opts.Github,
		resolver: opts.Resolver,
		scraper:  opts.Scraper,
		store:    opts.Store,
		budget:   budget,
		now:      now,
	}
}

// runState accumulates entries across both passes. Workers only touch
// it through the mutex, so completion order decides which of two
// repositories claiming the same listing survives.
type runState struct {
	mu             sync.Mutex
	entries        []entry
	taken          map[string]string // listing id -> repo that claimed it
	duplicates     int
	skipped        int
	scrapeFailures int
}

func newRunState() *runState {
	return &runState{taken: map[string]string{}}
}

func (s *runState) add(ctx context.Context, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.taken[e.res.ID]; ok {
		slog.InfoContext(
			ctx, "skipped duplicate listing",
			"repo", e.repo.Name,
			"listing", e.res.ID,
			"kept", holder,
		)
		s.duplicates++
		return
	}
	s.taken[e.res.ID] = e.repo.Name
	s.entries = append(s.entries, e)
	slog.InfoContext(
		ctx, "added mod",
		"repo", e.repo.Name,
		"listing", e.res.ID,
		"provenance", e.res.Provenance.String(),
	)
}

func (s *runState) skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

func (s *runState) failScrape() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrapeFailures++
}

// Run rebuilds the catalog from scratch: enumerate repositories,
// resolve and scrape the featured candidates, then the discovered ones,
// merge cached GitHub statistics under the per-run budget, and write
// the artifacts. Only repository enumeration is fatal; everything
// downstream degrades per repository.
func (b *Builder) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "builder:Run")
	defer span.End()

	var summary Summary

	repos, err := b.github.ListRepos(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list repositories")
		return summary, fmt.Errorf("list repositories: %w", err)
	}
	summary.Repos = len(repos)

	// pagination can hand the same repository back twice; identity is
	// the numeric id, not record equality
	var featured, discovered []github.Repo
	seen := make(map[int64]bool, len(repos))
	for _, repo := range repos {
		if seen[repo.ID] {
			slog.DebugContext(ctx, "repeated repository record", "repo", repo.Name, "id", repo.ID)
			continue
		}
		seen[repo.ID] = true
		if _, ok := b.resolver.MatchHomepage(repo.Homepage); ok {
			featured = append(featured, repo)
		} else {
			discovered = append(discovered, repo)
		}
	}
	summary.Featured = len(featured)
	summary.Discovered = len(discovered)

	state := newRunState()
	// the discovered pass must not start until the featured pass has
	// drained: featured results decide which listing ids are taken
	b.runPass(ctx, "featured", true, featured, state)
	b.runPass(ctx, "discovered", false, discovered, state)

	statsCache, err := b.store.LoadStats()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load stats cache")
		return summary, fmt.Errorf("load stats cache: %w", err)
	}
	queued, err := b.store.LoadQueue()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load pending queue")
		return summary, fmt.Errorf("load pending queue: %w", err)
	}

	summary.StatsFetched = b.fetchStats(ctx, state.entries, statsCache, queued)
	pending := pendingAfter(state.entries, statsCache)

	summary.Mods = len(state.entries)
	summary.Duplicates = state.duplicates
	summary.Skipped = state.skipped
	summary.ScrapeFailures = state.scrapeFailures
	summary.StatsPending = len(pending)

	// an interrupted run must leave the previous artifacts untouched
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	mods := finalize(state.entries, statsCache)
	if err := b.store.SaveCatalog(mods); err != nil {
		return summary, fmt.Errorf("write catalog: %w", err)
	}
	if err := b.store.SaveStats(statsCache); err != nil {
		return summary, fmt.Errorf("write stats cache: %w", err)
	}
	if err := b.store.SaveQueue(pending, b.now()); err != nil {
		return summary, fmt.Errorf("write pending queue: %w", err)
	}

	slog.InfoContext(
		ctx, "wrote catalog",
		"mods", len(mods),
		"path", b.store.CatalogPath,
	)
	slog.InfoContext(
		ctx, "run summary",
		"repos", summary.Repos,
		"featured", summary.Featured,
		"discovered", summary.Discovered,
		"mods", summary.Mods,
		"duplicates", summary.Duplicates,
		"skipped", summary.Skipped,
		"scrape_failures", summary.ScrapeFailures,
		"stats_fetched", summary.StatsFetched,
		"stats_pending", summary.StatsPending,
	)
	return summary, nil
}

// runPass drains one candidate list through the resolve+scrape worker
// pool and waits for it to finish.
func (b *Builder) runPass(ctx context.Context, name string, featuredCandidates bool, candidates []github.Repo, state *runState) {
	ctx, span := tracer.Start(ctx, "builder:runPass:"+name)
	defer span.End()

	group := errgroup.Group{}
	group.SetLimit(scrapeWorkers)
	for _, repo := range candidates {
		group.Go(func() error {
			b.process(ctx, repo, featuredCandidates, state)
			return nil
		})
	}
	// workers never return errors, every failure degrades in place
	_ = group.Wait()
}

func (b *Builder) process(ctx context.Context, repo github.Repo, featuredCandidate bool, state *runState) {
	slog.InfoContext(ctx, "processing repository", "repo", repo.Name)

	res := b.resolver.Resolve(ctx, repo)
	if !res.Found() {
		if featuredCandidate {
			// a homepage that looked like a listing link but did not
			// resolve points at bad repository metadata upstream
			slog.WarnContext(
				ctx, "featured candidate has no resolvable listing",
				"repo", repo.Name,
				"homepage", repo.Homepage,
			)
		} else {
			slog.DebugContext(ctx, "no listing for repository", "repo", repo.Name)
		}
		state.skip()
		return
	}

	scrape := b.scraper.Scrape(ctx, res.URL)
	if scrape.Failure != "" {
		slog.WarnContext(
			ctx, "listing scrape degraded",
			"repo", repo.Name,
			"listing", res.ID,
			"reason", scrape.Failure,
		)
		state.failScrape()
	}
	// discovered listings must prove they exist with a scraped title;
	// featured ones are published regardless of scrape quality
	if res.Provenance == workshop.Discovered && scrape.Title == "" {
		slog.InfoContext(
			ctx, "skipped listing without a title",
			"repo", repo.Name,
			"listing", res.ID,
		)
		state.skip()
		return
	}

	state.add(ctx, entry{res: res, scrape: scrape, repo: repo})
}

// fetchStats spends the per-run statistics budget: queued repositories
// from the previous run first, in their original order, then catalog
// repositories with no statistics at all, in catalog order. The cache
// is updated in place and the count of successful fetches returned.
func (b *Builder) fetchStats(ctx context.Context, entries []entry, cache map[string]github.Stats, queued []string) int {
	ctx, span := tracer.Start(ctx, "builder:fetchStats")
	defer span.End()

	inCatalog := make(map[string]bool, len(entries))
	for _, e := range entries {
		inCatalog[e.repo.HTMLURL] = true
	}

	var urls []string
	picked := map[string]bool{}
	for _, u := range queued {
		if inCatalog[u] && !picked[u] {
			picked[u] = true
			urls = append(urls, u)
		}
	}
	for _, e := range entries {
		u := e.repo.HTMLURL
		if _, known := cache[u]; known || picked[u] {
			continue
		}
		picked[u] = true
		urls = append(urls, u)
	}
	if len(urls) > b.budget {
		slog.InfoContext(
			ctx, "statistics fetches over budget, deferring the rest",
			"eligible", len(urls),
			"budget", b.budget,
		)
		urls = urls[:b.budget]
	}

	fetched := 0
	for _, u := range urls {
		owner, name, err := github.ParseRepoURL(u)
		if err != nil {
			slog.WarnContext(ctx, "unparseable repository url in stats queue", "url", u, "err", err)
			continue
		}
		stats, err := b.github.GetStats(ctx, owner, name)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch repository statistics", "repo", u, "err", err)
			continue
		}
		if stats == nil {
			// repository gone; GetStats already warned
			continue
		}
		cache[u] = *stats
		fetched++
	}
	return fetched
}

// pendingAfter lists the catalog repositories still lacking statistics,
// in catalog order, for the next run to pick up.
func pendingAfter(entries []entry, cache map[string]github.Stats) []string {
	var pending []string
	seen := map[string]bool{}
	for _, e := range entries {
		u := e.repo.HTMLURL
		if _, known := cache[u]; known || seen[u] {
			continue
		}
		seen[u] = true
		pending = append(pending, u)
	}
	return pending
}

// finalize converts the working records into the published schema and
// applies the order the front-end relies on: subscribers descending
// with unknown counting as zero, ties keeping their pipeline order.
func finalize(entries []entry, cache map[string]github.Stats) []Mod {
	mods := make([]Mod, 0, len(entries))
	for _, e := range entries {
		mods = append(mods, e.mod(cache))
	}
	sort.SliceStable(mods, func(i, j int) bool {
		return subsOrZero(mods[i]) > subsOrZero(mods[j])
	})
	return mods
}

// mod strips a working record down to the published subset. The
// subscriber count only ships when the whole scrape held together:
// title, banner and count all present.
func (e entry) mod(cache map[string]github.Stats) Mod {
	name := e.scrape.Title
	if name == "" {
		name = e.repo.Name
	}
	var subs *int
	if e.scrape.Title != "" && e.scrape.Banner != "" && e.scrape.Subscribers != nil {
		subs = ptr.To(*e.scrape.Subscribers)
	}
	videos := e.scrape.Videos
	if videos == nil {
		videos = []string{}
	}

	m := Mod{
		Name:      name,
		Subs:      subs,
		SteamURL:  e.res.URL,
		RepoURL:   e.repo.HTMLURL,
		Banner:    e.scrape.Banner,
		Videos:    videos,
		Highlight: e.res.Provenance == workshop.Featured,
	}
	if stats, ok := cache[e.repo.HTMLURL]; ok {
		m.GithubStats = ptr.To(stats)
	}
	return m
}

func subsOrZero(m Mod) int {
	if m.Subs == nil {
		return 0
	}
	return *m.Subs
}
