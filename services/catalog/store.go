package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modcatalog/lib/github"
)

// Store reads and writes the three artifacts a run touches: the
// published catalog, the GitHub statistics cache and the pending-stats
// queue. The latter two are the only state that survives between runs.
type Store struct {
	CatalogPath string
	StatsPath   string
	QueuePath   string
}

type queueFile struct {
	Pending   []string `json:"pending"`
	Timestamp string   `json:"timestamp"`
}

// LoadStats returns the persisted statistics cache, keyed by repository
// url. A missing file is an empty cache.
func (s Store) LoadStats() (map[string]github.Stats, error) {
	contents, err := os.ReadFile(s.StatsPath)
	if os.IsNotExist(err) {
		return map[string]github.Stats{}, nil
	}
	if err != nil {
		return nil, err
	}
	stats := map[string]github.Stats{}
	if err := json.Unmarshal(contents, &stats); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.StatsPath, err)
	}
	return stats, nil
}

func (s Store) SaveStats(stats map[string]github.Stats) error {
	return writeJSON(s.StatsPath, stats)
}

// LoadQueue returns the repository urls still waiting for a statistics
// fetch, in the order the previous run queued them.
func (s Store) LoadQueue() ([]string, error) {
	contents, err := os.ReadFile(s.QueuePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var q queueFile
	if err := json.Unmarshal(contents, &q); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.QueuePath, err)
	}
	return q.Pending, nil
}

func (s Store) SaveQueue(pending []string, at time.Time) error {
	if pending == nil {
		pending = []string{}
	}
	return writeJSON(s.QueuePath, queueFile{
		Pending:   pending,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}

func (s Store) SaveCatalog(mods []Mod) error {
	if mods == nil {
		mods = []Mod{}
	}
	return writeJSON(s.CatalogPath, mods)
}

// writeJSON writes the value atomically: marshal to a temp file in the
// target directory, then rename over the destination, so a crash
// mid-write never leaves a truncated artifact behind.
func writeJSON(path string, value any) error {
	contents, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	contents = append(contents, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(contents)
	if err == nil {
		// CreateTemp defaults to 0600, artifacts are world-readable
		err = tmp.Chmod(0644)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
