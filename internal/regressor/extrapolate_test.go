package regressor

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

func rampSeries(n int) models.EntitySeries {
	s := models.EntitySeries{EntityID: "A"}
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		s.Timestamps = append(s.Timestamps, day.AddDate(0, 0, i))
		s.Values = append(s.Values, float64(i))
		s.Regressor = append(s.Regressor, float64(i))
	}
	return s
}

func TestExtrapolateLength(t *testing.T) {
	series := rampSeries(50)
	rng := rand.New(rand.NewPCG(1, 2))
	for _, horizon := range []int{1, 5, 30, 365} {
		out, err := Extrapolate(series, horizon, 30, rng)
		if err != nil {
			t.Fatalf("extrapolate: %v", err)
		}
		if len(out) != horizon {
			t.Fatalf("expected %d values, got %d", horizon, len(out))
		}
	}
}

func TestWindowMean(t *testing.T) {
	series := rampSeries(100)
	mean, err := WindowMean(series, 30)
	if err != nil {
		t.Fatalf("window mean: %v", err)
	}
	// last 30 values are 70..99
	if mean != 84.5 {
		t.Fatalf("expected 84.5, got %v", mean)
	}

	short := rampSeries(10)
	mean, err = WindowMean(short, 30)
	if err != nil {
		t.Fatalf("window mean: %v", err)
	}
	if mean != 4.5 {
		t.Fatalf("expected mean over all observations 4.5, got %v", mean)
	}

	mean, _ = WindowMean(series, 0)
	if mean != 84.5 {
		t.Fatalf("expected default lookback to be 30, got mean %v", mean)
	}
}

func TestExtrapolateConvergesToWindowMean(t *testing.T) {
	series := rampSeries(200)
	want, _ := WindowMean(series, 30)

	sum := 0.0
	const runs = 200
	const horizon = 30
	for seed := uint64(0); seed < runs; seed++ {
		out, err := Extrapolate(series, horizon, 30, utils.EntityRand(seed, "A", utils.StreamRegressor))
		if err != nil {
			t.Fatalf("extrapolate: %v", err)
		}
		for _, v := range out {
			sum += v
		}
	}
	got := sum / (runs * horizon)
	// standard error is 1.5/sqrt(6000) ~ 0.02
	if math.Abs(got-want) > 0.1 {
		t.Fatalf("expected mean near %v, got %v", want, got)
	}
}

func TestExtrapolateDeterministic(t *testing.T) {
	series := rampSeries(40)
	a, _ := Extrapolate(series, 10, 30, rand.New(rand.NewPCG(5, 5)))
	b, _ := Extrapolate(series, 10, 30, rand.New(rand.NewPCG(5, 5)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs", i)
		}
	}
}

func TestExtrapolateErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	if _, err := Extrapolate(models.EntitySeries{EntityID: "A"}, 5, 30, rng); !errors.Is(err, utils.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := Extrapolate(rampSeries(5), 0, 30, rng); !errors.Is(err, utils.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for zero horizon, got %v", err)
	}
	if _, err := Extrapolate(rampSeries(5), 3, 30, nil); !errors.Is(err, utils.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for nil rng, got %v", err)
	}
}

func TestMeanPersistenceZeroValueUsesDefaults(t *testing.T) {
	series := rampSeries(60)
	out, err := MeanPersistence{}.Extrapolate(series, 6, rand.New(rand.NewPCG(3, 3)))
	if err != nil {
		t.Fatalf("extrapolate: %v", err)
	}
	want, err := Extrapolate(series, 6, DefaultLookback, rand.New(rand.NewPCG(3, 3)))
	if err != nil {
		t.Fatalf("extrapolate: %v", err)
	}
	distinct := false
	for i := range out {
		if out[i] != want[i] {
			t.Fatalf("zero-value policy differs from defaults at %d: %v vs %v", i, out[i], want[i])
		}
		if out[i] != out[0] {
			distinct = true
		}
	}
	if !distinct {
		t.Fatalf("expected noisy draws from zero-value policy, got %v", out)
	}
}
