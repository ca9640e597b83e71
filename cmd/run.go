package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stadtlabor/wohnlage/internal/model"
)

var runFlags datasetFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Score and cluster an address list",
	Long:  "Loads the address and amenity datasets, extracts criteria, clusters the addresses and writes the result CSV plus a diagnostic report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		in, err := loadInputs(runFlags)
		if err != nil {
			return err
		}

		report, err := env.Pipeline.Run(ctx, in)
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

func printReport(r *model.RunReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "addresses\t%d\n", r.Addresses)
	fmt.Fprintf(w, "clustered\t%d\n", r.Clustered)
	fmt.Fprintf(w, "excluded\t%d\n", r.Excluded.Total)
	for reason, n := range r.Excluded.ByReason {
		fmt.Fprintf(w, "  %s\t%d\n", reason, n)
	}
	fmt.Fprintf(w, "chosen k\t%d (elbow %d, silhouette %d)\n", r.ChosenK, r.ElbowK, r.SilhouetteK)
	fmt.Fprintf(w, "davies-bouldin\t%.3f\n", r.DaviesBouldin)
	if r.AdjustedRand != nil {
		fmt.Fprintf(w, "adjusted rand\t%.3f\n", *r.AdjustedRand)
	}
	if len(r.Degenerate) > 0 {
		fmt.Fprintf(w, "degenerate criteria\t%v\n", r.Degenerate)
	}
	if len(r.Dispersed) > 0 {
		fmt.Fprintf(w, "dispersed clusters\t%v\n", r.Dispersed)
	}
	w.Flush()
}

func init() {
	registerDatasetFlags(runCmd, &runFlags)
	rootCmd.AddCommand(runCmd)
}
