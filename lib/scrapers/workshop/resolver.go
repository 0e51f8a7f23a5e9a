package workshop

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"modcatalog/lib/github"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultListingBaseURL = "https://steamcommunity.com"
	defaultRawBaseURL     = "https://raw.githubusercontent.com"

	listingPath     = "/sharedfiles/filedetails/"
	markerFilename  = "workshop.txt"
	markerKeyPrefix = "id="

	markerFetchTimeout = 10 * time.Second
)

var numericIDRegex = regexp.MustCompile(`^[0-9]+$`)

// Resolver figures out which Workshop listing a repository publishes
// to, either from the repository homepage or from a workshop.txt marker
// file at the repository root.
type Resolver struct {
	http        *resty.Client
	listingBase string
	listingHost string
	rawBase     string
	token       string
}

type ResolverOptions struct {
	Client ClientOptions
	// ListingBaseURL overrides the Workshop host, for tests.
	ListingBaseURL string
	// RawBaseURL overrides the raw-content host serving marker files,
	// for tests.
	RawBaseURL string
	// Token authenticates marker-file fetches, which raises the
	// effective rate ceiling. Optional.
	Token string
}

func NewResolver(opts ResolverOptions) *Resolver {
	listingBase := strings.TrimSuffix(opts.ListingBaseURL, "/")
	if listingBase == "" {
		listingBase = defaultListingBaseURL
	}
	rawBase := strings.TrimSuffix(opts.RawBaseURL, "/")
	if rawBase == "" {
		rawBase = defaultRawBaseURL
	}

	listingHost := ""
	if u, err := url.Parse(listingBase); err == nil {
		listingHost = normalizeHost(u.Host)
	}

	return &Resolver{
		http:        newHTTPClient(opts.Client),
		listingBase: listingBase,
		listingHost: listingHost,
		rawBase:     rawBase,
		token:       opts.Token,
	}
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// MatchHomepage reports whether a repository homepage links directly to
// a Workshop listing, and extracts the listing id when it does. This
// never touches the network.
func (r *Resolver) MatchHomepage(homepage string) (string, bool) {
	if homepage == "" {
		return "", false
	}
	u, err := url.Parse(homepage)
	if err != nil {
		return "", false
	}
	if normalizeHost(u.Host) != r.listingHost {
		return "", false
	}
	if !strings.Contains(u.Path, "/filedetails") {
		return "", false
	}
	id := u.Query().Get("id")
	if !numericIDRegex.MatchString(id) {
		return "", false
	}
	return id, true
}

// ListingURL builds the canonical page url for a listing id.
func (r *Resolver) ListingURL(id string) string {
	return r.listingBase + listingPath + "?id=" + id
}

// Resolve maps one repository to its Workshop listing. The zero
// Resolution comes back when the repository does not declare one; the
// caller decides how loudly to treat that.
func (r *Resolver) Resolve(ctx context.Context, repo github.Repo) Resolution {
	ctx, span := tracer.Start(ctx, "resolver:Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("repo", repo.Name))

	if id, ok := r.MatchHomepage(repo.Homepage); ok {
		// the homepage link is kept verbatim as the listing url so the
		// published catalog round-trips whatever the developer wrote
		return Resolution{ID: id, Provenance: Featured, URL: repo.Homepage}
	}

	id := r.fetchMarker(ctx, repo)
	if id == "" {
		return Resolution{}
	}
	return Resolution{ID: id, Provenance: Discovered, URL: r.ListingURL(id)}
}

// fetchMarker looks for a workshop.txt at the repository root, first on
// the default branch, then on the conventional fallback. Failures here
// are deliberate silence: a repository without a readable marker is
// simply not a mod.
func (r *Resolver) fetchMarker(ctx context.Context, repo github.Repo) string {
	for _, branch := range markerBranches(repo.DefaultBranch) {
		id := r.fetchMarkerAt(ctx, repo, branch)
		if id != "" {
			return id
		}
	}
	return ""
}

func (r *Resolver) fetchMarkerAt(ctx context.Context, repo github.Repo, branch string) string {
	ctx, cancel := context.WithTimeout(ctx, markerFetchTimeout)
	defer cancel()

	req := r.http.R().SetContext(ctx)
	if r.token != "" {
		req.SetHeader("authorization", "Bearer "+r.token)
	}
	res, err := req.Get(fmt.Sprintf(
		"%s/%s/%s/%s/%s",
		r.rawBase, repo.Owner, repo.Name, branch, markerFilename,
	))
	if err != nil || res.StatusCode() != http.StatusOK {
		return ""
	}
	return parseMarker(res.Body())
}

// markerBranches is the branch fetch order: the repository's default
// branch first, then whichever of the two conventional names it is not.
func markerBranches(defaultBranch string) []string {
	switch defaultBranch {
	case "":
		return []string{"main", "master"}
	case "master":
		return []string{"master", "main"}
	default:
		return []string{defaultBranch, "master"}
	}
}

// parseMarker scans newline-separated key=value lines for the first id=
// line and returns its trimmed value.
func parseMarker(contents []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, markerKeyPrefix) {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(line, markerKeyPrefix))
	}
	return ""
}
