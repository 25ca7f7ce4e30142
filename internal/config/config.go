package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Hydro  HydroConfig  `yaml:"hydro" mapstructure:"hydro"`
	DEM    DEMConfig    `yaml:"dem" mapstructure:"dem"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Rules  Rules        `yaml:"rules" mapstructure:"rules"`
}

// StoreConfig configures the run-history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// HydroConfig configures hydrography data loading and download.
type HydroConfig struct {
	DataDir        string  `yaml:"data_dir" mapstructure:"data_dir"`
	FTPURL         string  `yaml:"ftp_url" mapstructure:"ftp_url"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	SearchBufferKM float64 `yaml:"search_buffer_km" mapstructure:"search_buffer_km"`
}

// DEMConfig points at the optional elevation raster.
type DEMConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OutputConfig configures where SICAR packages are written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MarginStep is one row of the river-margin buffer table: watercourses up to
// MaxWidthM wide receive a BufferM protection strip on each side.
type MarginStep struct {
	MaxWidthM float64 `yaml:"max_width_m" mapstructure:"max_width_m"`
	BufferM   float64 `yaml:"buffer_m" mapstructure:"buffer_m"`
}

// Rules carries the legally fixed parameters from Lei 12.651/2012. The
// engines receive a Rules value at construction and never mutate it, so an
// alternate jurisdiction can be substituted without touching engine logic.
type Rules struct {
	RiverMargins         []MarginStep       `yaml:"river_margins" mapstructure:"river_margins"`
	MaxRiverBufferM      float64            `yaml:"max_river_buffer_m" mapstructure:"max_river_buffer_m"`
	SpringRadiusM        float64            `yaml:"spring_radius_m" mapstructure:"spring_radius_m"`
	LakeSmallBufferM     float64            `yaml:"lake_small_buffer_m" mapstructure:"lake_small_buffer_m"`
	LakeLargeBufferM     float64            `yaml:"lake_large_buffer_m" mapstructure:"lake_large_buffer_m"`
	LakeLargeThresholdHa float64            `yaml:"lake_large_threshold_ha" mapstructure:"lake_large_threshold_ha"`
	SlopeThresholdDeg    float64            `yaml:"slope_threshold_deg" mapstructure:"slope_threshold_deg"`
	DefaultRiverWidthM   float64            `yaml:"default_river_width_m" mapstructure:"default_river_width_m"`
	ReservePercent       map[string]float64 `yaml:"reserve_percent" mapstructure:"reserve_percent"`
	DefaultReservePct    float64            `yaml:"default_reserve_pct" mapstructure:"default_reserve_pct"`
	ContiguityStepsM     []float64          `yaml:"contiguity_steps_m" mapstructure:"contiguity_steps_m"`
	CompletenessRatio    float64            `yaml:"completeness_ratio" mapstructure:"completeness_ratio"`
	MinParcelAreaM2      float64            `yaml:"min_parcel_area_m2" mapstructure:"min_parcel_area_m2"`
	MaxVertices          int                `yaml:"max_vertices" mapstructure:"max_vertices"`
	FiscalModuleHa       float64            `yaml:"fiscal_module_ha" mapstructure:"fiscal_module_ha"`
}

// DefaultRules returns the statutory rule tables.
func DefaultRules() Rules {
	return Rules{
		RiverMargins: []MarginStep{
			{MaxWidthM: 10, BufferM: 30},
			{MaxWidthM: 50, BufferM: 50},
			{MaxWidthM: 200, BufferM: 100},
			{MaxWidthM: 600, BufferM: 200},
		},
		MaxRiverBufferM:      500,
		SpringRadiusM:        50,
		LakeSmallBufferM:     50,
		LakeLargeBufferM:     100,
		LakeLargeThresholdHa: 20,
		SlopeThresholdDeg:    45,
		DefaultRiverWidthM:   5,
		ReservePercent: map[string]float64{
			"MATA_ATLANTICA": 0.20,
			"CERRADO":        0.20,
			"AMAZONIA":       0.80,
		},
		DefaultReservePct: 0.20,
		ContiguityStepsM:  []float64{50, 100, 200, 500, 1000, 2000},
		CompletenessRatio: 0.95,
		MinParcelAreaM2:   2500,
		MaxVertices:       1000,
		FiscalModuleHa:    16,
	}
}

// RiverBuffer picks the margin buffer for a watercourse width: the smallest
// table step whose upper bound still contains the width wins, widths beyond
// the last step get the legal maximum.
func (r Rules) RiverBuffer(widthM float64) float64 {
	for _, step := range r.RiverMargins {
		if widthM <= step.MaxWidthM {
			return step.BufferM
		}
	}
	return r.MaxRiverBufferM
}

// ReservePct returns the legal-reserve fraction for a biome, falling back to
// the default for unrecognized values.
func (r Rules) ReservePct(biome string) float64 {
	if pct, ok := r.ReservePercent[biome]; ok {
		return pct
	}
	return r.DefaultReservePct
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARCALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "carcalc.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("output.dir", "output")
	v.SetDefault("hydro.data_dir", "data_cache/ibge")
	v.SetDefault("hydro.ftp_url", "ftp://geoftp.ibge.gov.br/cartas_e_mapas/bases_cartograficas_continuas/bc250/versao2023/shapefile/hidrografia.zip")
	v.SetDefault("hydro.timeout_secs", 30)
	v.SetDefault("hydro.requests_per_sec", 5)
	v.SetDefault("hydro.search_buffer_km", 2)

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

	if len(cfg.Rules.RiverMargins) == 0 {
		cfg.Rules = DefaultRules()
	}

	return &cfg, nil
}

// LoadRules reads a rules override file, layering it over the statutory
// defaults. Zero-valued fields in the file keep their defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "config: read rules %s", path)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, eris.Wrapf(err, "config: parse rules %s", path)
	}
	return rules, nil
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
