package commands

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"modcatalog/lib/ratelimit"
	"modcatalog/lib/restyutil"
	"modcatalog/lib/scrapers/workshop"
	"modcatalog/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(scrapeCmd)
}

var bareListingID = regexp.MustCompile(`^[0-9]+$`)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <listing url or id>",
	Short: "Scrapes a single Workshop listing and prints the parsed fields.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listingURL := args[0]
		if bareListingID.MatchString(listingURL) {
			listingURL = workshop.ListingURLPrefix + listingURL
		}

		var instrument restyutil.InstrumentOutput
		if *verbose {
			instrument = restyutil.NewFilesystemOutput(".dev/resty/workshop")
		}
		scraper := workshop.NewScraper(workshop.ScraperOptions{
			Client:  workshop.ClientOptions{InstrumentOutput: instrument},
			Limiter: ratelimit.New(1, time.Second),
		})

		result := scraper.Scrape(cmd.Context(), listingURL)
		if result.Failure != "" {
			serviceutil.Fatal("scrape failed", errors.New(result.Failure))
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendRows([]table.Row{
			{"URL", listingURL},
			{"Title", result.Title},
			{"Subscribers", formatSubscribers(result.Subscribers)},
			{"Banner", result.Banner},
			{"Videos", strings.Join(result.Videos, "\n")},
		})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

func formatSubscribers(subs *int) any {
	if subs == nil {
		return "unknown"
	}
	return *subs
}
