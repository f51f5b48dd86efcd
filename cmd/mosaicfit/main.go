package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/signalsfoundry/mosaicfit/internal/pipeline"
	"github.com/spf13/cobra"
)

// version is overridden at link time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mosaicfit",
		Short: "Fit per-quadrant astrometric solutions for a 64-quadrant mosaic",
		Long: `mosaicfit reads the star catalogs of all 64 quadrants of one mosaic
exposure, fits a linear transform per quadrant and one shared second-order
TPV distortion, and writes FITS-style text headers describing the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFitCmd(), newSynthCmd(), newVersionCmd())
	return root
}

// exitCode maps a command error to the process status. Errors outside the
// pipeline's failure classes, flag errors included, exit 1.
func exitCode(err error) int {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return pipeline.Classify(err).ExitCode()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mosaicfit version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mosaicfit %s\n", version)
		},
	}
}
