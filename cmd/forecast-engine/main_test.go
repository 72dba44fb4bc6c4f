package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/cache"
	"github.com/miradorstack/mirador-forecast/internal/config"
	"github.com/miradorstack/mirador-forecast/internal/models"
)

func sampleReport() models.Report {
	lower, upper := 90.0, 110.0
	ts := time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)
	return models.Report{
		RunID:     "abcdef0123456789",
		Seed:      42,
		Horizon:   1,
		Succeeded: []string{"A"},
		Failures: []models.EntityFailure{
			{EntityID: "B", Stage: models.StageFit, Cause: "Timeout", Message: "fit timed out"},
		},
		Observations: []models.AnnotatedObservation{
			{EntityID: "A", Timestamp: ts, Value: 100, Provenance: models.ProvenanceHistorical},
			{EntityID: "A", Timestamp: ts.AddDate(0, 0, 1), Value: 101, LowerBound: &lower, UpperBound: &upper, Provenance: models.ProvenanceForecast},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSummary(&buf, sampleReport()); err != nil {
		t.Fatalf("summary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"succeeded=1", "failed=1", "ENTITY", "Timeout"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(lines[len(lines)-2], "A ") || !strings.HasPrefix(lines[len(lines)-1], "B ") {
		t.Fatalf("expected succeeded entity before failed entity:\n%s", out)
	}
}

func TestWriteReportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := writeReport(path, sampleReport()); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded models.Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Observations[0].LowerBound != nil || decoded.Observations[1].LowerBound == nil {
		t.Fatalf("bounds not preserved: %+v", decoded.Observations)
	}
}

type scriptedRunner struct {
	mu     sync.Mutex
	seeds  []uint64
	failOn map[uint64]bool
	cancel context.CancelFunc
	stopAt int
}

func (r *scriptedRunner) RunSeed(ctx context.Context, seed uint64) (models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeds = append(r.seeds, seed)
	if len(r.seeds) == r.stopAt {
		defer r.cancel()
	}
	if r.failOn[seed] {
		return models.Report{}, errors.New("schema mismatch")
	}
	return models.Report{Seed: seed}, nil
}

type recordingHealth struct {
	states []bool
}

func (h *recordingHealth) SetServing(serving bool) {
	h.states = append(h.states, serving)
}

func TestRunScheduleAdvancesSeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &scriptedRunner{failOn: map[uint64]bool{11: true}, cancel: cancel, stopAt: 3}
	health := &recordingHealth{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runSchedule(ctx, logger, runner, health, 10, time.Millisecond)

	if len(runner.seeds) != 3 || runner.seeds[0] != 10 || runner.seeds[1] != 11 || runner.seeds[2] != 12 {
		t.Fatalf("unexpected seeds: %v", runner.seeds)
	}
	// The third run completes as the context is cancelled, so health is not updated for it.
	if len(health.states) != 2 || !health.states[0] || health.states[1] {
		t.Fatalf("unexpected health transitions: %v", health.states)
	}
}

func TestNewCacheProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, ok := newCacheProvider(config.CacheConfig{}, logger).(cache.NoopProvider); !ok {
		t.Fatalf("expected noop provider when disabled")
	}
	if _, ok := newCacheProvider(config.CacheConfig{Enabled: true, Addr: cache.MemoryAddr}, logger).(*cache.MemoryProvider); !ok {
		t.Fatalf("expected memory provider")
	}
	unreachable := config.CacheConfig{Enabled: true, Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}
	if _, ok := newCacheProvider(unreachable, logger).(cache.NoopProvider); !ok {
		t.Fatalf("expected fallback to noop when redis is unreachable")
	}
}
