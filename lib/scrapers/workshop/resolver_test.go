package workshop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"modcatalog/lib/github"
	"modcatalog/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestMatchHomepage(t *testing.T) {
	resolver := NewResolver(ResolverOptions{})

	testCases := []struct {
		homepage string
		id       string
		ok       bool
	}{
		{"https://steamcommunity.com/sharedfiles/filedetails/?id=108125", "108125", true},
		{"https://steamcommunity.com/sharedfiles/filedetails/?id=111&x=y", "111", true},
		{"https://www.steamcommunity.com/sharedfiles/filedetails/?id=42", "42", true},
		{"https://steamcommunity.com/workshop/filedetails/?id=9", "9", true},
		{"https://steamcommunity.com/sharedfiles/filedetails/", "", false},
		{"https://steamcommunity.com/sharedfiles/filedetails/?id=abc", "", false},
		{"https://steamcommunity.com/id/someuser", "", false},
		{"https://example.com/sharedfiles/filedetails/?id=108125", "", false},
		{"not a url ://", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		id, ok := resolver.MatchHomepage(tc.homepage)
		require.Equal(t, tc.ok, ok, tc.homepage)
		require.Equal(t, tc.id, id, tc.homepage)
	}
}

func TestParseMarker(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
		expected string
	}{
		{"surrounded", "foo=bar\nid=108125\nextra=x", "108125"},
		{"alone", "id=222", "222"},
		{"padded", "  id= 333 \n", "333"},
		{"crlf", "foo=bar\r\nid=444\r\n", "444"},
		{"first wins", "id=1\nid=2", "1"},
		{"missing", "foo=bar\nbaz=1", ""},
		{"empty", "", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, parseMarker([]byte(tc.contents)))
		})
	}
}

func TestMarkerBranches(t *testing.T) {
	require.Equal(t, []string{"main", "master"}, markerBranches("main"))
	require.Equal(t, []string{"master", "main"}, markerBranches("master"))
	require.Equal(t, []string{"develop", "master"}, markerBranches("develop"))
	require.Equal(t, []string{"main", "master"}, markerBranches(""))
}

// rawHost serves marker files by path, everything else 404s.
func rawHost(t *testing.T, markers map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contents, ok := markers[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, contents)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestResolveFeatured(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/workshop")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("featured resolution must not touch the network")
	}))
	defer server.Close()

	resolver := NewResolver(ResolverOptions{RawBaseURL: server.URL})

	homepage := "https://steamcommunity.com/sharedfiles/filedetails/?id=111&x=y"
	res := resolver.Resolve(context.Background(), github.Repo{
		Owner:    "chuck",
		Name:     "mod-a",
		Homepage: homepage,
	})

	require.True(t, res.Found())
	require.Equal(t, "111", res.ID)
	require.Equal(t, Featured, res.Provenance)
	require.Equal(t, homepage, res.URL, "homepage must be kept verbatim")
}

func TestResolveMarker(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/workshop")
	defer cleanup()

	server := rawHost(t, map[string]string{
		"/chuck/mod-b/main/workshop.txt": "foo=bar\nid=108125\nextra=x",
	})
	resolver := NewResolver(ResolverOptions{RawBaseURL: server.URL})

	res := resolver.Resolve(context.Background(), github.Repo{
		Owner:         "chuck",
		Name:          "mod-b",
		DefaultBranch: "main",
	})

	require.True(t, res.Found())
	require.Equal(t, "108125", res.ID)
	require.Equal(t, Discovered, res.Provenance)
	require.Equal(t, ListingURLPrefix+"108125", res.URL)
}

func TestResolveMarkerBranchFallback(t *testing.T) {
	server := rawHost(t, map[string]string{
		"/chuck/mod-c/master/workshop.txt": "id=555",
	})
	resolver := NewResolver(ResolverOptions{RawBaseURL: server.URL})

	res := resolver.Resolve(context.Background(), github.Repo{
		Owner:         "chuck",
		Name:          "mod-c",
		DefaultBranch: "renamed-default",
	})

	require.True(t, res.Found())
	require.Equal(t, "555", res.ID)
}

func TestResolveNothing(t *testing.T) {
	server := rawHost(t, map[string]string{
		// present but useless marker, and only on one branch
		"/chuck/tool/main/workshop.txt": "name=not a mod",
	})
	resolver := NewResolver(ResolverOptions{RawBaseURL: server.URL})

	res := resolver.Resolve(context.Background(), github.Repo{
		Owner:         "chuck",
		Name:          "tool",
		DefaultBranch: "main",
	})

	require.False(t, res.Found())
	require.Equal(t, Resolution{}, res)
}

func TestResolveMarkerSendsToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("authorization")
		fmt.Fprint(w, "id=777")
	}))
	defer server.Close()

	resolver := NewResolver(ResolverOptions{RawBaseURL: server.URL, Token: "secret"})
	res := resolver.Resolve(context.Background(), github.Repo{
		Owner:         "chuck",
		Name:          "mod-d",
		DefaultBranch: "main",
	})

	require.True(t, res.Found())
	require.Equal(t, "Bearer secret", gotAuth)
}
