package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"modcatalog/lib/serviceutil"
	"modcatalog/lib/telemetry"

	"github.com/spf13/cobra"
)

var verbose *bool

var tel telemetry.Telemetry

var rootCmd = &cobra.Command{
	Use:   "modcatalog",
	Short: "modcatalog rebuilds the published mod catalog from GitHub and the Steam Workshop.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
		if *verbose {
			slog.DebugContext(cmd.Context(), "verbose logging enabled")
		}

		var err error
		tel, err = telemetry.SetupFromEnv(cmd.Context(), "modcatalog")
		if err != nil {
			serviceutil.Fatal("setup telemetry", err)
		}
		telemetry.InstrumentPerfStats(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		err := tel.Shutdown(context.Background())
		if err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	},
}

func init() {
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging/instrumentation.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
