package main

import (
	"encoding/csv"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/loader"
	"github.com/stadtlabor/wohnlage/internal/pipeline"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
)

var geocodeFlags struct {
	input     string
	output    string
	latin1    bool
	delimiter string
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode an address CSV",
	Long:  "Resolves coordinates for every address in the input CSV through Nominatim. Results are buffered and flushed into the database cache in one batch, so repeated runs cost nothing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		// The store backs reads; new results are buffered and written
		// in one batch after the pass.
		batch := nominatim.NewBatchCache(st)
		geocoder := nominatim.NewClient(cfg.Nominatim.BaseURL,
			nominatim.WithRateLimit(cfg.Nominatim.RPS),
			nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
			nominatim.WithPlace(cfg.Nominatim.City, cfg.Nominatim.Region, cfg.Nominatim.ZipCode),
			nominatim.WithCache(batch),
		)

		opts := loader.CSVOptions{Latin1: geocodeFlags.latin1}
		if geocodeFlags.delimiter != "" {
			opts.Delimiter = []rune(geocodeFlags.delimiter)[0]
		}
		addrs, err := loader.LoadAddresses(geocodeFlags.input, opts)
		if err != nil {
			return err
		}

		matched, unmatched, err := pipeline.GeocodeAddresses(ctx, geocoder, addrs)
		if flushErr := batch.Flush(ctx, st); flushErr != nil {
			return flushErr
		}
		if err != nil {
			return err
		}
		zap.L().Info("geocoding finished",
			zap.Int("matched", matched),
			zap.Int("unmatched", len(unmatched)),
		)

		f, err := os.Create(geocodeFlags.output)
		if err != nil {
			return eris.Wrapf(err, "create %s", geocodeFlags.output)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err := w.Write([]string{"id", "label", "lat", "lon"}); err != nil {
			return eris.Wrap(err, "write header")
		}
		for _, a := range addrs {
			row := []string{a.ID, a.Label, "", ""}
			if a.Coord != nil {
				row[2] = strconv.FormatFloat(a.Coord.Lat, 'f', 6, 64)
				row[3] = strconv.FormatFloat(a.Coord.Lon, 'f', 6, 64)
			}
			if err := w.Write(row); err != nil {
				return eris.Wrapf(err, "write row %s", a.ID)
			}
		}
		w.Flush()
		return eris.Wrap(w.Error(), "flush output")
	},
}

func init() {
	f := geocodeCmd.Flags()
	f.StringVar(&geocodeFlags.input, "input", "", "address CSV to geocode (required)")
	f.StringVar(&geocodeFlags.output, "output", "geocoded.csv", "output CSV path")
	f.BoolVar(&geocodeFlags.latin1, "latin1", false, "decode input as Windows-1252")
	f.StringVar(&geocodeFlags.delimiter, "delimiter", "", "CSV delimiter (default ',')")
	_ = geocodeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(geocodeCmd)
}
