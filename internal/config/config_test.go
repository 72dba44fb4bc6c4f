package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/utils"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forecast.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_FORECAST_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Forecast.Horizon != 30 || cfg.Forecast.HistoricalWindow != 180 || cfg.Forecast.LookbackWindow != 30 {
		t.Fatalf("unexpected forecast defaults: %+v", cfg.Forecast)
	}
	if cfg.Forecast.FitTimeout != 30*time.Second || cfg.Forecast.IntervalWidth != 0.8 {
		t.Fatalf("unexpected model defaults: %+v", cfg.Forecast)
	}
	if cfg.Simulation.Seed != 42 || len(cfg.Simulation.Entities) == 0 {
		t.Fatalf("unexpected simulation defaults: %+v", cfg.Simulation)
	}
	start, err := cfg.Simulation.Start()
	if err != nil || start.Year() != 2022 {
		t.Fatalf("unexpected start date %v (%v)", start, err)
	}
	if cfg.Cache.Enabled || cfg.Cache.ReportTTL != 6*time.Hour {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
forecast:
  horizon: 5
  fitTimeout: 2s
simulation:
  seed: 7
  startDate: "2021-06-01"
  entities:
    - id: A
      years: 1
      baseLevel: 100
      regressorSensitivity: 2
    - id: B
      years: 2
      baseLevel: 200
      climateOffset: -3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Forecast.Horizon != 5 || cfg.Forecast.FitTimeout != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg.Forecast)
	}
	if cfg.Forecast.HistoricalWindow != 180 {
		t.Fatalf("expected untouched default historical window, got %d", cfg.Forecast.HistoricalWindow)
	}
	if len(cfg.Simulation.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(cfg.Simulation.Entities))
	}
	if cfg.Simulation.Entities[0].Years != 1 || cfg.Simulation.Entities[1].Years != 2 {
		t.Fatalf("unexpected entity years: %+v", cfg.Simulation.Entities)
	}
	if cfg.Simulation.Entities[1].ClimateOffset != -3 {
		t.Fatalf("climate offset not parsed")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_FORECAST_CONFIG", "")
	t.Setenv("MIRADOR_FORECAST_HORIZON", "14")
	t.Setenv("MIRADOR_FORECAST_SEED", "1234")
	t.Setenv("MIRADOR_FORECAST_FIT_TIMEOUT", "5s")
	t.Setenv("MIRADOR_FORECAST_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Forecast.Horizon != 14 || cfg.Simulation.Seed != 1234 || cfg.Forecast.FitTimeout != 5*time.Second || !cfg.Logging.JSON {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Forecast, cfg.Simulation)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"zero horizon": "forecast:\n  horizon: 0\n",
		"duplicate entity": `
simulation:
  entities:
    - id: A
      years: 1
    - id: A
      years: 1
`,
		"missing id": `
simulation:
  entities:
    - baseLevel: 10
      years: 1
`,
		"zero years": `
simulation:
  entities:
    - id: A
      years: 0
`,
		"missing years": `
simulation:
  entities:
    - id: A
      baseLevel: 10
`,
		"zero fit timeout": "forecast:\n  fitTimeout: 0s\n",
		"bad date":         "simulation:\n  startDate: \"01/02/2022\"\n",
		"cache sans addr":  "cache:\n  enabled: true\n",
		"bad interval":     "forecast:\n  intervalWidth: 1.5\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		if !errors.Is(err, utils.ErrInvalidParameter) {
			t.Fatalf("%s: expected ErrInvalidParameter, got %v", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
