package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/config"
	"github.com/stadtlabor/wohnlage/internal/loader"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/internal/pipeline"
	"github.com/stadtlabor/wohnlage/internal/store"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// pipelineEnv holds the initialized store, clients and pipeline shared
// by the run/baseline/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Geocoder nominatim.Client
	Router   ors.Client
	Pipeline *pipeline.Pipeline
	Weights  config.Weights
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, the geocoding and routing clients
// and the pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	geocoder := nominatim.NewClient(cfg.Nominatim.BaseURL,
		nominatim.WithRateLimit(cfg.Nominatim.RPS),
		nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
		nominatim.WithPlace(cfg.Nominatim.City, cfg.Nominatim.Region, cfg.Nominatim.ZipCode),
		nominatim.WithCache(st),
	)

	orsOpts := []ors.Option{
		ors.WithRateLimit(cfg.ORS.RPS),
		ors.WithTimeout(time.Duration(cfg.ORS.TimeoutSecs) * time.Second),
		ors.WithCache(st),
	}
	if cfg.ORS.APIKey != "" {
		orsOpts = append(orsOpts, ors.WithAPIKey(cfg.ORS.APIKey))
	}
	router := ors.NewClient(cfg.ORS.BaseURL, orsOpts...)

	weights, err := loadWeights()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{
		Store:    st,
		Geocoder: geocoder,
		Router:   router,
		Pipeline: pipeline.New(cfg, st, geocoder, router, weights),
		Weights:  weights,
	}, nil
}

// loadWeights reads the criterion-weight file. A missing file disables
// composite scoring instead of failing the run.
func loadWeights() (config.Weights, error) {
	path := cfg.Extract.WeightsPath
	if path == "" {
		return config.Weights{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zap.L().Info("no weights file, composite scoring disabled", zap.String("path", path))
		return config.Weights{}, nil
	}
	w, err := config.LoadWeights(path)
	if err != nil {
		return config.Weights{}, err
	}
	return *w, nil
}

// dataset flags shared by run and baseline

type datasetFlags struct {
	addresses string
	kitas     string
	schools   string
	retail    string
	medFilter string
	stops     string
	schedule  string
	refLabels string
	latin1    bool
	delimiter string
}

// registerDatasetFlags wires the shared dataset flags onto a command.
func registerDatasetFlags(cmd *cobra.Command, d *datasetFlags) {
	f := cmd.Flags()
	f.StringVar(&d.addresses, "addresses", "", "address CSV (required)")
	f.StringVar(&d.kitas, "kitas", "", "kita CSV or shapefile")
	f.StringVar(&d.schools, "schools", "", "school CSV or shapefile")
	f.StringVar(&d.retail, "retail", "", "retail CSV or shapefile")
	f.StringVar(&d.medFilter, "med-filter", "", "keep only retail rows where this column is truthy, e.g. is_med_center")
	f.StringVar(&d.stops, "stops", "", "transit stop CSV")
	f.StringVar(&d.schedule, "schedule", "", "departure schedule XLSX")
	f.StringVar(&d.refLabels, "reference-labels", "", "external zone labels CSV for validation")
	f.BoolVar(&d.latin1, "latin1", false, "decode dataset files as Windows-1252")
	f.StringVar(&d.delimiter, "delimiter", "", "CSV delimiter (default ',')")
	_ = cmd.MarkFlagRequired("addresses")
}

// loadInputs reads all configured datasets into pipeline inputs.
func loadInputs(d datasetFlags) (pipeline.Inputs, error) {
	var in pipeline.Inputs

	opts := loader.CSVOptions{Latin1: d.latin1}
	if d.delimiter != "" {
		opts.Delimiter = []rune(d.delimiter)[0]
	}

	addrs, err := loader.LoadAddresses(d.addresses, opts)
	if err != nil {
		return in, err
	}
	in.Addresses = addrs

	for _, src := range []struct {
		path     string
		category model.Category
		filter   string
	}{
		{d.kitas, model.CategoryKita, ""},
		{d.schools, model.CategorySchool, ""},
		{d.retail, model.CategoryRetail, d.medFilter},
		{d.stops, model.CategoryStop, ""},
	} {
		if src.path == "" {
			continue
		}
		points, err := loadAmenityFile(src.path, src.category, src.filter, opts)
		if err != nil {
			return in, err
		}
		in.Amenities = append(in.Amenities, points...)
	}

	if d.schedule != "" {
		schedule, err := loader.LoadSchedule(d.schedule)
		if err != nil {
			return in, err
		}
		in.Schedule = schedule
	}

	if d.refLabels != "" {
		labels, err := loader.LoadReferenceLabels(d.refLabels, opts)
		if err != nil {
			return in, err
		}
		in.ReferenceLabels = labels
	}

	return in, nil
}

// loadAmenityFile reads one amenity dataset, CSV or shapefile.
func loadAmenityFile(path string, category model.Category, filter string, opts loader.CSVOptions) ([]model.AmenityPoint, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return loader.LoadAmenityShapefile(path, category, "name")
	}
	opts.AttributeFilter = filter
	return loader.LoadAmenities(path, category, opts)
}
