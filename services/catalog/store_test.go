package catalog

import (
	"os"
	"strings"
	"testing"
	"time"

	"modcatalog/lib/github"
	"modcatalog/lib/testutil"

	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func testStore(ws testutil.Workspace) Store {
	return Store{
		CatalogPath: ws.CatalogPath,
		StatsPath:   ws.StatsPath,
		QueuePath:   ws.QueuePath,
	}
}

func TestStatsCacheRoundTrip(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/stats"})
	defer cleanup()
	store := testStore(ws)

	empty, err := store.LoadStats()
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	want := map[string]github.Stats{
		"https://github.com/chuck/frost": {OpenIssues: 4, Stars: 21, Forks: 3},
		"https://github.com/chuck/ashes": {OpenIssues: 0, Stars: 2, Forks: 0},
	}
	require.NoError(t, store.SaveStats(want))

	got, err := store.LoadStats()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStatsCacheRejectsGarbage(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/stats-garbage"})
	defer cleanup()
	store := testStore(ws)

	require.NoError(t, os.WriteFile(ws.StatsPath, []byte("{not json"), 0644))
	_, err := store.LoadStats()
	require.Error(t, err)
}

func TestQueueRoundTrip(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/queue"})
	defer cleanup()
	store := testStore(ws)

	missing, err := store.LoadQueue()
	require.NoError(t, err)
	require.Nil(t, missing)

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	pending := []string{
		"https://github.com/chuck/frost",
		"https://github.com/chuck/ashes",
	}
	require.NoError(t, store.SaveQueue(pending, at))

	got, err := store.LoadQueue()
	require.NoError(t, err)
	require.Equal(t, pending, got)

	contents, err := os.ReadFile(ws.QueuePath)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"timestamp": "2024-05-01T12:30:00Z"`)
}

func TestQueueDrainedWritesEmptyList(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/queue-empty"})
	defer cleanup()
	store := testStore(ws)

	require.NoError(t, store.SaveQueue(nil, time.Now()))

	contents, err := os.ReadFile(ws.QueuePath)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"pending": []`)
}

func TestCatalogSchema(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/schema"})
	defer cleanup()
	store := testStore(ws)

	mods := []Mod{
		{
			Name:      "Frostbite",
			Subs:      ptr.To(1234),
			SteamURL:  "https://steamcommunity.com/sharedfiles/filedetails/?id=111",
			RepoURL:   "https://github.com/chuck/frost",
			Banner:    "https://images.example/banner.png",
			Videos:    []string{"https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
			Highlight: true,
			GithubStats: &github.Stats{
				OpenIssues: 4,
				Stars:      21,
				Forks:      3,
			},
		},
		{
			Name:     "ashes",
			SteamURL: "https://steamcommunity.com/sharedfiles/filedetails/?id=222",
			RepoURL:  "https://github.com/chuck/ashes",
			Videos:   []string{},
		},
	}
	require.NoError(t, store.SaveCatalog(mods))

	contents, err := os.ReadFile(ws.CatalogPath)
	require.NoError(t, err)
	text := string(contents)

	// consumers diff this file, so formatting is part of the contract
	require.True(t, strings.HasSuffix(text, "\n"))
	require.True(t, strings.HasPrefix(text, "[\n  {"))

	require.JSONEq(t, `[
		{
			"name": "Frostbite",
			"subs": 1234,
			"steam_url": "https://steamcommunity.com/sharedfiles/filedetails/?id=111",
			"repo_url": "https://github.com/chuck/frost",
			"banner": "https://images.example/banner.png",
			"videos": ["https://www.youtube.com/watch?v=dQw4w9WgXcQ"],
			"highlight": true,
			"github_stats": {"open_issues": 4, "stars": 21, "forks": 3}
		},
		{
			"name": "ashes",
			"steam_url": "https://steamcommunity.com/sharedfiles/filedetails/?id=222",
			"repo_url": "https://github.com/chuck/ashes",
			"banner": "",
			"videos": [],
			"highlight": false
		}
	]`, text)

	// unknown counts are omitted, not published as zero
	require.NotContains(t, text, `"subs": 0`)
}

func TestCatalogEmpty(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/empty"})
	defer cleanup()
	store := testStore(ws)

	require.NoError(t, store.SaveCatalog(nil))

	contents, err := os.ReadFile(ws.CatalogPath)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(contents))
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	ws, cleanup := testutil.SetupWorkspace(t, testutil.WorkspaceParams{Name: "catalog/atomic"})
	defer cleanup()
	store := testStore(ws)

	require.NoError(t, store.SaveCatalog([]Mod{{Name: "solo", Videos: []string{}}}))
	require.NoError(t, store.SaveStats(map[string]github.Stats{}))
	require.NoError(t, store.SaveQueue(nil, time.Now()))

	dirEntries, err := os.ReadDir(ws.Dir)
	require.NoError(t, err)
	var names []string
	for _, e := range dirEntries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"mods.json", "github_stats.json", "stats_queue.json"}, names)
}
