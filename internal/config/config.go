package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

// Config captures every setting of a forecasting run and the daemon around it.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig controls the daemon listeners and schedule.
type ServerConfig struct {
	Address         string        `yaml:"address" default:":50051"`
	MetricsAddress  string        `yaml:"metricsAddress" default:":2112"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" default:"10s"`
	RunInterval     time.Duration `yaml:"runInterval" default:"1h" validate:"gt=0"`
}

// ForecastConfig holds the constants shared by all entities in one run.
type ForecastConfig struct {
	Horizon int `yaml:"horizon" default:"30" validate:"gt=0"`
	// HistoricalWindow only limits how much history is shown next to the forecast.
	HistoricalWindow int           `yaml:"historicalWindow" default:"180" validate:"gte=0"`
	LookbackWindow   int           `yaml:"lookbackWindow" default:"30" validate:"gt=0"`
	FitTimeout       time.Duration `yaml:"fitTimeout" default:"30s" validate:"gt=0"`
	Workers          int           `yaml:"workers" default:"4" validate:"gt=0"`
	IntervalWidth    float64       `yaml:"intervalWidth" default:"0.8" validate:"gt=0,lt=1"`
	SeasonalOrder    int           `yaml:"seasonalOrder" default:"3" validate:"gte=0,lte=10"`
	RegressorDegree  int           `yaml:"regressorDegree" default:"2" validate:"gte=1,lte=4"`
}

// SimulationConfig describes the synthetic entities to forecast.
type SimulationConfig struct {
	Seed      uint64                `yaml:"seed" default:"42"`
	StartDate string                `yaml:"startDate" default:"2022-01-01" validate:"datetime=2006-01-02"`
	Entities  []models.EntityParams `yaml:"entities" validate:"required,min=1,unique=ID,dive"`
}

// Start returns the parsed start date.
func (s SimulationConfig) Start() (time.Time, error) {
	return utils.ParseDate(s.StartDate)
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of run reports.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout" default:"2s"`
	ReadTimeout  time.Duration `yaml:"readTimeout" default:"500ms"`
	WriteTimeout time.Duration `yaml:"writeTimeout" default:"500ms"`
	MaxRetries   int           `yaml:"maxRetries" default:"2"`
	TLS          bool          `yaml:"tls"`
	ReportTTL    time.Duration `yaml:"reportTTL" default:"6h"`
	KeyPrefix    string        `yaml:"keyPrefix" default:"mirador-forecast"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_FORECAST_CONFIG")
	}

	cfg, err := defaultConfig()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Entities listed in a file carry no defaults: a missing or zero years is rejected.
	if len(cfg.Simulation.Entities) == 0 {
		cfg.Simulation.Entities = defaultEntities()
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints, wrapping failures as ErrInvalidParameter.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			err = errors.New(strings.Join(msgs, "; "))
		}
		return utils.NewAppError("config.Validate", err.Error(), utils.ErrInvalidParameter)
	}
	return nil
}

func defaultConfig() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return cfg, nil
}

// defaultEntities models national demand archetypes from cold to warm climates.
func defaultEntities() []models.EntityParams {
	return []models.EntityParams{
		{ID: "FR", Years: 3, BaseLevel: 150, RegressorSensitivity: 3, ClimateOffset: 0},
		{ID: "DE", Years: 3, BaseLevel: 200, RegressorSensitivity: 2.5, ClimateOffset: -2},
		{ID: "ES", Years: 3, BaseLevel: 120, RegressorSensitivity: 3.5, ClimateOffset: 5},
		{ID: "NO", Years: 3, BaseLevel: 90, RegressorSensitivity: 4, ClimateOffset: -7},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_FORECAST_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_FORECAST_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_FORECAST_RUN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RunInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_HORIZON"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Forecast.Horizon = n
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_HISTORICAL_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Forecast.HistoricalWindow = n
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_LOOKBACK_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Forecast.LookbackWindow = n
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_FIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Forecast.FitTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Forecast.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Simulation.Seed = n
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_FORECAST_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_FORECAST_CACHE_REPORT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
}
