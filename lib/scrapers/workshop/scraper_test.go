package workshop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modcatalog/lib/ratelimit"
	"modcatalog/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const listingFixture = `<!DOCTYPE html>
<html>
<head>
	<title>Steam Workshop::Test Mod</title>
	<script type="text/javascript">
		var g_sessionID = "irrelevant";
	</script>
</head>
<body>
	<div class="workshopItemTitle">
		Test Mod
	</div>
	<div class="rightDetailsBlock">
		<table class="stats_table">
			<tr>
				<td>5,678</td>
				<td>Unique Visitors</td>
			</tr>
			<tr>
				<td>1,234</td>
				<td>Current Subscribers</td>
			</tr>
			<tr>
				<td>99</td>
				<td>Current Favorites</td>
			</tr>
		</table>
	</div>
	<img id="previewImageMain" src="https://images.example/banner.png">
	<script type="text/javascript">
		var YOUTUBE_VIDEO_ID = 'dQw4w9WgXcQ';
		var YOUTUBE_PLAYLIST = '';
	</script>
	<script type="text/javascript">
		BindVideoPreview( {"YOUTUBE_VIDEO_ID": "9bZkp7q19f0"} );
		BindVideoPreview( {"YOUTUBE_VIDEO_ID": "dQw4w9WgXcQ"} );
	</script>
</body>
</html>`

// newTestScraper wires a scraper whose backoff sleeps are recorded
// instead of slept.
func newTestScraper(sleeps *[]time.Duration) *Scraper {
	return NewScraper(ScraperOptions{
		Limiter: ratelimit.New(100, time.Second),
		Sleep: func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	})
}

func TestScrapeListing(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/workshop")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingFixture)
	}))
	defer server.Close()

	var sleeps []time.Duration
	result := newTestScraper(&sleeps).Scrape(context.Background(), server.URL)

	require.Empty(t, result.Failure)
	require.Equal(t, "Test Mod", result.Title)
	require.Equal(t, "https://images.example/banner.png", result.Banner)
	require.NotNil(t, result.Subscribers)
	require.Equal(t, 1234, *result.Subscribers)
	require.Equal(t, []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=9bZkp7q19f0",
	}, result.Videos)
	require.Empty(t, sleeps, "a clean scrape should not back off")
}

func TestScrapeDegradedPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="somethingElse">moved on</div></body></html>`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	result := newTestScraper(&sleeps).Scrape(context.Background(), server.URL)

	require.Empty(t, result.Failure, "missing markup is degradation, not failure")
	require.Empty(t, result.Title)
	require.Empty(t, result.Banner)
	require.Nil(t, result.Subscribers)
	require.Empty(t, result.Videos)
}

func TestScrapeSubscribersNotNumeric(t *testing.T) {
	page := `<html><body>
		<div class="workshopItemTitle">Broken Stats</div>
		<table class="stats_table">
			<tr><td>soon</td><td>Subscribers</td></tr>
		</table>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	var sleeps []time.Duration
	result := newTestScraper(&sleeps).Scrape(context.Background(), server.URL)

	require.Equal(t, "Broken Stats", result.Title)
	require.Nil(t, result.Subscribers)
}

func TestScrapeRetryAfterThrottle(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, listingFixture)
	}))
	defer server.Close()

	var sleeps []time.Duration
	result := newTestScraper(&sleeps).Scrape(context.Background(), server.URL)

	require.Empty(t, result.Failure)
	require.Equal(t, "Test Mod", result.Title)
	require.Equal(t, 2, hits)
	require.Equal(t, []time.Duration{30 * time.Second}, sleeps)
}

func TestScrapeGivesUpAfterRetries(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var sleeps []time.Duration
	result := newTestScraper(&sleeps).Scrape(context.Background(), server.URL)

	require.Equal(t, "status 503", result.Failure)
	require.Empty(t, result.Title)
	require.Empty(t, result.Banner)
	require.Nil(t, result.Subscribers)
	require.Empty(t, result.Videos)
	require.Equal(t, 3, hits)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeps)
}

func TestScrapeRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingFixture)
	}))
	defer server.Close()

	// a one-request window forces the limiter to pace the second scrape
	limiterSleeps := 0
	clock := time.Unix(1700000000, 0)
	limiter := ratelimit.New(1, time.Minute,
		ratelimit.WithClock(func() time.Time { return clock }),
		ratelimit.WithSleep(func(ctx context.Context, d time.Duration) error {
			limiterSleeps++
			clock = clock.Add(d)
			return nil
		}),
	)
	scraper := NewScraper(ScraperOptions{Limiter: limiter})

	scraper.Scrape(context.Background(), server.URL)
	scraper.Scrape(context.Background(), server.URL)
	require.Equal(t, 1, limiterSleeps, "the second fetch must wait out the window")
}
