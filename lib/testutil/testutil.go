package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"modcatalog/lib/telemetry"
)

type WorkspaceParams struct {
	Name string
}

// Workspace points at a throwaway directory laid out like a real run's
// working directory.
type Workspace struct {
	Dir         string
	CatalogPath string
	StatsPath   string
	QueuePath   string
}

// SetupWorkspace prepares telemetry and a scratch directory for a
// pipeline test. The directory is removed when the test finishes.
func SetupWorkspace(t testing.TB, params WorkspaceParams) (Workspace, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))

	dir := t.TempDir()
	return Workspace{
		Dir:         dir,
		CatalogPath: filepath.Join(dir, "mods.json"),
		StatsPath:   filepath.Join(dir, "github_stats.json"),
		QueuePath:   filepath.Join(dir, "stats_queue.json"),
	}, cleanup
}
