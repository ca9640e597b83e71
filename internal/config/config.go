package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Nominatim   NominatimConfig   `yaml:"nominatim" mapstructure:"nominatim"`
	ORS         ORSConfig         `yaml:"ors" mapstructure:"ors"`
	Extract     ExtractConfig     `yaml:"extract" mapstructure:"extract"`
	Transit     TransitConfig     `yaml:"transit" mapstructure:"transit"`
	Standardize StandardizeConfig `yaml:"standardize" mapstructure:"standardize"`
	Cluster     ClusterConfig     `yaml:"cluster" mapstructure:"cluster"`
	Validate    ValidateConfig    `yaml:"validate" mapstructure:"validate"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NominatimConfig configures the geocoding service.
type NominatimConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
	// RPS is the request rate limit. The public instance's fair-use
	// policy allows 1 request per second; a local instance can go
	// much higher.
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
	City    string  `yaml:"city" mapstructure:"city"`
	Region  string  `yaml:"region" mapstructure:"region"`
	ZipCode string  `yaml:"zip_code" mapstructure:"zip_code"`
}

// ORSConfig configures the OpenRouteService routing backend.
type ORSConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string  `yaml:"api_key" mapstructure:"api_key"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
	// TimeoutSecs bounds a single directions request; a timed-out
	// route is recorded as a missing distance.
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractConfig configures criterion extraction.
type ExtractConfig struct {
	// RadiiM are the density-count radii in meters.
	RadiiM []float64 `yaml:"radii_m" mapstructure:"radii_m"`
	// PrefilterM is the straight-line radius used to pick routing
	// candidates. When nothing lies within it, all points of the
	// category are routed instead.
	PrefilterM float64 `yaml:"prefilter_m" mapstructure:"prefilter_m"`
	// Workers bounds concurrent per-address extraction.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// WeightsPath points to the versioned criterion-weight file.
	WeightsPath string `yaml:"weights_path" mapstructure:"weights_path"`
}

// TransitConfig configures headway computation.
type TransitConfig struct {
	// MorningWindow and EveningWindow are "HH:MM-HH:MM" spans.
	MorningWindow string `yaml:"morning_window" mapstructure:"morning_window"`
	EveningWindow string `yaml:"evening_window" mapstructure:"evening_window"`
	// Statistic is "median" or "mean".
	Statistic string `yaml:"statistic" mapstructure:"statistic"`
}

// StandardizeConfig selects the z-score reference population.
type StandardizeConfig struct {
	// Mode is "sample" or "baseline".
	Mode string `yaml:"mode" mapstructure:"mode"`
	// BaselineID selects the frozen population for baseline mode.
	BaselineID string `yaml:"baseline_id" mapstructure:"baseline_id"`
}

// ClusterConfig configures the k-means sweep.
type ClusterConfig struct {
	KMin     int   `yaml:"k_min" mapstructure:"k_min"`
	KMax     int   `yaml:"k_max" mapstructure:"k_max"`
	Restarts int   `yaml:"restarts" mapstructure:"restarts"`
	Seed     int64 `yaml:"seed" mapstructure:"seed"`
	MaxIter  int   `yaml:"max_iter" mapstructure:"max_iter"`
}

// ValidateConfig configures cluster validation.
type ValidateConfig struct {
	// SpatialNeighbors is the k of the coherence kNN check.
	SpatialNeighbors int `yaml:"spatial_neighbors" mapstructure:"spatial_neighbors"`
	// CoherenceThreshold flags clusters as dispersed below it.
	CoherenceThreshold float64 `yaml:"coherence_threshold" mapstructure:"coherence_threshold"`
	// ReferenceLabelsPath optionally points to a CSV of external
	// labels (e.g. rent-index zones) for adjusted-Rand comparison.
	ReferenceLabelsPath string `yaml:"reference_labels_path" mapstructure:"reference_labels_path"`
}

// OutputConfig configures run artifacts.
type OutputConfig struct {
	// Path is the per-address result CSV, rewritten in full each run.
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the diagnostic HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WOHNLAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "wohnlage.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("nominatim.rps", 1)
	v.SetDefault("nominatim.city", "Brandenburg an der Havel")
	v.SetDefault("nominatim.region", "Brandenburg")
	v.SetDefault("nominatim.zip_code", "14770")
	v.SetDefault("ors.base_url", "http://localhost:8080/ors/v2/directions/foot-walking/geojson")
	v.SetDefault("ors.rps", 40)
	v.SetDefault("ors.timeout_secs", 10)
	v.SetDefault("extract.radii_m", []float64{500, 800, 1000})
	v.SetDefault("extract.prefilter_m", 2000)
	v.SetDefault("extract.workers", 8)
	v.SetDefault("extract.weights_path", "weights.yaml")
	v.SetDefault("transit.morning_window", "06:00-09:00")
	v.SetDefault("transit.evening_window", "16:00-19:00")
	v.SetDefault("transit.statistic", "median")
	v.SetDefault("standardize.mode", "sample")
	v.SetDefault("cluster.k_min", 2)
	v.SetDefault("cluster.k_max", 15)
	v.SetDefault("cluster.restarts", 10)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.max_iter", 300)
	v.SetDefault("validate.spatial_neighbors", 5)
	v.SetDefault("validate.coherence_threshold", 0.5)
	v.SetDefault("output.path", "out/wohnlage_scores.csv")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
