package commands

import (
	"log/slog"
	"os"
	"time"

	"modcatalog/lib/configutil"
	"modcatalog/lib/github"
	"modcatalog/lib/ratelimit"
	"modcatalog/lib/restyutil"
	"modcatalog/lib/scrapers/workshop"
	"modcatalog/lib/serviceutil"
	"modcatalog/services/catalog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type WorkshopConfig struct {
	// RateLimit requests per RateWindowSeconds against the Workshop.
	RateLimit         int `json:"rate_limit"`
	RateWindowSeconds int `json:"rate_window_seconds"`
}

type Config struct {
	Username    string         `json:"username"`
	Output      string         `json:"output"`
	StatsCache  string         `json:"stats_cache"`
	StatsQueue  string         `json:"stats_queue"`
	StatsBudget int            `json:"stats_budget"`
	Workshop    WorkshopConfig `json:"workshop"`
}

var defaultConfig = Config{
	Username:    "Chuckleberry-Finn",
	Output:      "mods.json",
	StatsCache:  "github_stats.json",
	StatsQueue:  "stats_queue.json",
	StatsBudget: 60,
	Workshop: WorkshopConfig{
		RateLimit:         10,
		RateWindowSeconds: 60,
	},
}

var generateConfig *string
var generateOutput *string

func init() {
	generateConfig = generateCmd.Flags().String("config", "config.json5", "The config file to read tool knobs from.")
	generateOutput = generateCmd.Flags().String("output", "", "Override the catalog output path from the config.")
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate [--config <path/to/config.json5>] [--output <path/to/mods.json>]",
	Short: "Rebuilds the mod catalog and writes the output artifacts.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.Load(*generateConfig, defaultConfig)
		if err != nil {
			serviceutil.Fatal("read config", err)
		}
		if *generateOutput != "" {
			cfg.Output = *generateOutput
		}

		token := github.Token()
		if token == "" {
			slog.Warn("no GITHUB_TOKEN in the environment, running against the unauthenticated rate ceiling")
		}

		gh, err := github.NewClient(github.Options{
			Username: cfg.Username,
			Token:    token,
		})
		if err != nil {
			serviceutil.Fatal("init github client", err)
		}

		var instrument restyutil.InstrumentOutput
		if *verbose {
			instrument = restyutil.NewFilesystemOutput(".dev/resty/workshop")
		}

		builder := catalog.NewBuilder(catalog.BuilderOptions{
			Github: gh,
			Resolver: workshop.NewResolver(workshop.ResolverOptions{
				Client: workshop.ClientOptions{InstrumentOutput: instrument},
				Token:  token,
			}),
			Scraper: workshop.NewScraper(workshop.ScraperOptions{
				Client: workshop.ClientOptions{InstrumentOutput: instrument},
				Limiter: ratelimit.New(
					cfg.Workshop.RateLimit,
					time.Duration(cfg.Workshop.RateWindowSeconds)*time.Second,
				),
			}),
			Store: catalog.Store{
				CatalogPath: cfg.Output,
				StatsPath:   cfg.StatsCache,
				QueuePath:   cfg.StatsQueue,
			},
			StatsBudget: cfg.StatsBudget,
		})

		t1 := time.Now()
		summary, err := builder.Run(cmd.Context())
		if err != nil {
			serviceutil.Fatal("catalog run failed", err)
		}
		t2 := time.Now()

		slog.Info("catalog run time", "seconds", t2.Sub(t1).Seconds())
		renderSummary(summary)
	},
}

func renderSummary(summary catalog.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"", "Count"})
	t.AppendRows([]table.Row{
		{"Repositories", summary.Repos},
		{"Featured candidates", summary.Featured},
		{"Discovered candidates", summary.Discovered},
		{"Mods published", summary.Mods},
		{"Duplicates dropped", summary.Duplicates},
		{"Skipped", summary.Skipped},
		{"Scrape failures", summary.ScrapeFailures},
		{"Stats fetched", summary.StatsFetched},
		{"Stats pending", summary.StatsPending},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
