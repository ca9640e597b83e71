package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage frozen standardization baselines",
}

var baselineRecordFlags struct {
	datasetFlags
	version int
}

var baselineRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new baseline from the current datasets",
	Long:  "Extracts criteria for the address list and freezes the per-criterion mean and standard deviation as a new baseline version for baseline-relative runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		version := baselineRecordFlags.version
		if version == 0 {
			latest, err := env.Store.LatestBaseline(ctx)
			if err != nil {
				return err
			}
			version = 1
			if latest != nil {
				version = latest.Version + 1
			}
		}

		in, err := loadInputs(baselineRecordFlags.datasetFlags)
		if err != nil {
			return err
		}

		baseline, err := env.Pipeline.RecordBaseline(ctx, in, version)
		if err != nil {
			return err
		}

		fmt.Printf("baseline version %d recorded (%d criteria, run %s)\n",
			baseline.Version, len(baseline.Stats), baseline.RunID)
		return nil
	},
}

var baselineListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the recorded baselines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		latest, err := st.LatestBaseline(ctx)
		if err != nil {
			return err
		}
		if latest == nil {
			fmt.Fprintln(os.Stderr, "No baselines recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tRUN\tCRITERIA\tCREATED")
		for v := latest.Version; v >= 1; v-- {
			b, err := st.GetBaseline(ctx, v)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
				b.Version, b.RunID, len(b.Stats), b.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	registerDatasetFlags(baselineRecordCmd, &baselineRecordFlags.datasetFlags)
	baselineRecordCmd.Flags().IntVar(&baselineRecordFlags.version, "version", 0, "baseline version (default: next)")
	baselineCmd.AddCommand(baselineRecordCmd, baselineListCmd)
	rootCmd.AddCommand(baselineCmd)
}
