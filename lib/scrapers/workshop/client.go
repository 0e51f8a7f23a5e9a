// Package workshop resolves repositories to Steam Workshop listings
// and scrapes the listing pages into normalized records.
package workshop

import (
	"time"

	"modcatalog/lib/restyutil"
	"modcatalog/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/workshop")

const defaultTimeout = 15 * time.Second

// ClientOptions configure the http client underneath a workshop
// component.
type ClientOptions struct {
	Timeout time.Duration
	// InstrumentOutput receives request/response transcripts when debug
	// logging is on. May be nil.
	InstrumentOutput restyutil.InstrumentOutput
}

// newHTTPClient builds the resty client the workshop components run on:
// browser-shaped headers so the Workshop serves the full page, plus the
// usual telemetry hooks.
func newHTTPClient(opts ClientOptions) *resty.Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	client.SetHeader("accept-language", "en-US,en;q=0.9")
	client.SetTimeout(timeout)

	telemetry.InstrumentResty(client, "scrapers/workshop/http", opts.InstrumentOutput)
	return client
}
