package workshop

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"modcatalog/lib/htmlutil"
	"modcatalog/lib/ratelimit"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxScrapeAttempts = 3
	// throttleBackoffUnit is the per-attempt backoff after a 429. The
	// rate limiter should keep us out of 429s entirely, this is the
	// fallback for when it was not conservative enough.
	throttleBackoffUnit = 30 * time.Second
	retryBackoffUnit    = 5 * time.Second
)

// Scraper fetches Workshop listing pages and parses them into
// ScrapeResults. Every page fetch goes through the shared rate limiter.
type Scraper struct {
	http    *resty.Client
	limiter *ratelimit.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

type ScraperOptions struct {
	Client ClientOptions
	// Limiter paces listing fetches. A conservative default is used
	// when nil.
	Limiter *ratelimit.Limiter
	// Sleep replaces the retry backoff sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewScraper(opts ScraperOptions) *Scraper {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(10, time.Minute)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Scraper{
		http:    newHTTPClient(opts.Client),
		limiter: limiter,
		sleep:   sleep,
	}
}

// Scrape fetches one listing page and parses every catalog field out of
// the single document. It never returns an error: a page that cannot be
// fetched after every attempt yields a ScrapeResult carrying only the
// failure reason, and individually missing page elements degrade to
// their zero values.
func (s *Scraper) Scrape(ctx context.Context, listingURL string) ScrapeResult {
	ctx, span := tracer.Start(ctx, "scraper:Scrape")
	defer span.End()
	span.SetAttributes(attribute.String("url", listingURL))

	var failure string
	for attempt := 1; attempt <= maxScrapeAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			failure = err.Error()
			break
		}

		result, throttled, reason := s.fetchOnce(ctx, listingURL)
		if reason == "" {
			return result
		}
		failure = reason
		slog.WarnContext(
			ctx, "listing fetch failed",
			"url", listingURL,
			"attempt", attempt,
			"reason", reason,
		)

		if attempt == maxScrapeAttempts {
			break
		}
		backoff := retryBackoffUnit * time.Duration(attempt)
		if throttled {
			backoff = throttleBackoffUnit * time.Duration(attempt)
		}
		if err := s.sleep(ctx, backoff); err != nil {
			failure = err.Error()
			break
		}
	}

	span.SetStatus(codes.Error, failure)
	return ScrapeResult{Failure: failure}
}

// fetchOnce makes a single page fetch and parse. The returned reason is
// empty on success; throttled marks a 429 so the caller backs off
// harder.
func (s *Scraper) fetchOnce(ctx context.Context, listingURL string) (result ScrapeResult, throttled bool, reason string) {
	res, err := s.http.R().SetContext(ctx).Get(listingURL)
	if err != nil {
		return ScrapeResult{}, false, err.Error()
	}
	if res.StatusCode() == http.StatusTooManyRequests {
		return ScrapeResult{}, true, fmt.Sprintf("status %d", res.StatusCode())
	}
	if res.StatusCode() != http.StatusOK {
		return ScrapeResult{}, false, fmt.Sprintf("status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return ScrapeResult{}, false, fmt.Sprintf("parse html: %s", err)
	}
	return parseListing(doc), false, ""
}

func parseListing(doc *goquery.Document) ScrapeResult {
	return ScrapeResult{
		Title:       htmlutil.CleanText(doc.Find("div.workshopItemTitle").First().Text()),
		Banner:      doc.Find("img#previewImageMain").AttrOr("src", ""),
		Subscribers: parseSubscribers(doc),
		Videos:      parseVideos(doc),
	}
}

// parseSubscribers pulls the subscriber count out of the stats tables:
// the first row whose second cell mentions "Subscribers" carries the
// count in its first cell, with thousands separators. The scan stops on
// the first such row. A page without one, or a count that does not
// parse as a number, yields nil.
func parseSubscribers(doc *goquery.Document) *int {
	var subs *int
	found := false
	doc.Find("table.stats_table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.Find("td")
			if cells.Length() != 2 || !strings.Contains(cells.Eq(1).Text(), "Subscribers") {
				return true
			}
			found = true
			raw := strings.ReplaceAll(htmlutil.CleanText(cells.Eq(0).Text()), ",", "")
			if n, err := strconv.Atoi(raw); err == nil {
				subs = &n
			}
			return false
		})
		return !found
	})
	return subs
}

var videoIDRegex = regexp.MustCompile(`YOUTUBE_VIDEO_ID['"]?\s*[:=]\s*['"]([A-Za-z0-9_-]{11})['"]`)

// parseVideos collects the youtube video ids assigned in the page's
// inline scripts and rebuilds them into canonical watch urls,
// deduplicated in first-seen order.
func parseVideos(doc *goquery.Document) []string {
	var videos []string
	seen := map[string]bool{}
	for _, script := range doc.Find("script").Nodes {
		text := htmlutil.GetText(script)
		for _, groups := range videoIDRegex.FindAllStringSubmatch(text, -1) {
			id := groups[1]
			if seen[id] {
				continue
			}
			seen[id] = true
			videos = append(videos, "https://www.youtube.com/watch?v="+id)
		}
	}
	return videos
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
