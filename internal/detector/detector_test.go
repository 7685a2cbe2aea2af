package detector

import (
	"math"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

func testProjection() *Projection {
	return &Projection{
		Variables:   []string{"temp", "pressure"},
		Means:       []float64{0, 0},
		Scales:      []float64{1, 1},
		Loadings:    [][]float64{{1}, {0}},
		Eigenvalues: []float64{1},
		Alpha:       0.99,
		Threshold:   4,
	}
}

func point(seq uint64, temp, pressure float64) models.Measurement {
	return models.Measurement{
		Sequence:  seq,
		Timestamp: time.Unix(int64(seq), 0),
		Values:    map[string]float64{"temp": temp, "pressure": pressure},
	}
}

func TestScoreExceedsThreshold(t *testing.T) {
	d := New(testProjection(), ModeLatest)
	limit := Limit{Alpha: 0.99, Threshold: 4}

	score := d.Score([]models.Measurement{point(1, 3, 0)}, limit)
	if math.Abs(score.Statistic-9) > 1e-12 {
		t.Fatalf("statistic = %v, want 9", score.Statistic)
	}
	if !score.Exceeded {
		t.Fatalf("expected exceedance at statistic 9 vs threshold 4")
	}

	quiet := d.Score([]models.Measurement{point(2, 1, 0)}, limit)
	if quiet.Exceeded {
		t.Fatalf("statistic 1 should not exceed threshold 4")
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	d := New(testProjection(), ModeLatest)
	limit := Limit{Alpha: 0.99, Threshold: 4}
	snap := []models.Measurement{point(1, 1.25, -0.5), point(2, 2.5, 0.75)}

	first := d.Score(snap, limit)
	second := d.Score(snap, limit)

	if first.Statistic != second.Statistic || first.Exceeded != second.Exceeded {
		t.Fatalf("identical inputs produced different scores: %v vs %v", first, second)
	}
	if len(first.Contributions) != len(second.Contributions) {
		t.Fatalf("contribution lengths differ")
	}
	for i := range first.Contributions {
		if first.Contributions[i] != second.Contributions[i] {
			t.Fatalf("contribution %d differs: %v vs %v", i, first.Contributions[i], second.Contributions[i])
		}
	}
}

func TestContributionsRankResidualVariableFirst(t *testing.T) {
	d := New(testProjection(), ModeLatest)

	// temp lies on the retained component so its residual is zero; pressure
	// is entirely residual and must rank first.
	score := d.Score([]models.Measurement{point(1, 3, 2)}, Limit{Alpha: 0.99, Threshold: 4})
	if len(score.Contributions) != 2 {
		t.Fatalf("want 2 contributions, got %d", len(score.Contributions))
	}
	if score.Contributions[0].Variable != "pressure" {
		t.Fatalf("top contributor = %s, want pressure", score.Contributions[0].Variable)
	}
	if math.Abs(score.Contributions[0].Residual-2) > 1e-12 {
		t.Fatalf("pressure residual = %v, want 2", score.Contributions[0].Residual)
	}
}

func TestWindowMeanMode(t *testing.T) {
	d := New(testProjection(), ModeWindowMean)
	snap := []models.Measurement{point(1, 2, 0), point(2, 4, 0)}

	score := d.Score(snap, Limit{Alpha: 0.99, Threshold: 4})
	// Mean temp is 3 -> statistic 9.
	if math.Abs(score.Statistic-9) > 1e-12 {
		t.Fatalf("statistic = %v, want 9", score.Statistic)
	}
	if score.Sequence != 2 {
		t.Fatalf("score should carry the latest sequence, got %d", score.Sequence)
	}
}

func TestLimitForUsesBaselineAndRecomputes(t *testing.T) {
	proj := testProjection()

	baseline, err := proj.LimitFor(0.99)
	if err != nil {
		t.Fatalf("LimitFor(0.99): %v", err)
	}
	if baseline.Threshold != 4 {
		t.Fatalf("baseline threshold = %v, want the artifact value 4", baseline.Threshold)
	}

	stricter, err := proj.LimitFor(0.999)
	if err != nil {
		t.Fatalf("LimitFor(0.999): %v", err)
	}
	looser, err := proj.LimitFor(0.90)
	if err != nil {
		t.Fatalf("LimitFor(0.90): %v", err)
	}
	if stricter.Threshold <= looser.Threshold {
		t.Fatalf("quantile not monotone: %v (0.999) <= %v (0.90)", stricter.Threshold, looser.Threshold)
	}

	// Chi-square with 1 dof at 0.95 is about 3.84.
	limit, err := proj.LimitFor(0.95)
	if err != nil {
		t.Fatalf("LimitFor(0.95): %v", err)
	}
	if math.Abs(limit.Threshold-3.841) > 0.1 {
		t.Fatalf("chi-square(0.95,1) approx = %v, want ~3.84", limit.Threshold)
	}

	if _, err := proj.LimitFor(0); err == nil {
		t.Fatalf("alpha 0 must be rejected")
	}
	if _, err := proj.LimitFor(1.5); err == nil {
		t.Fatalf("alpha above 1 must be rejected")
	}
}

func TestProjectionValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Projection)
	}{
		{"no variables", func(p *Projection) { p.Variables = nil }},
		{"means mismatch", func(p *Projection) { p.Means = []float64{1} }},
		{"zero scale", func(p *Projection) { p.Scales = []float64{0, 1} }},
		{"loadings rows", func(p *Projection) { p.Loadings = p.Loadings[:1] }},
		{"loadings cols", func(p *Projection) { p.Loadings = [][]float64{{1, 2}, {0, 1}} }},
		{"no components", func(p *Projection) { p.Eigenvalues = nil }},
		{"bad eigenvalue", func(p *Projection) { p.Eigenvalues = []float64{-1} }},
		{"bad alpha", func(p *Projection) { p.Alpha = 1.2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testProjection()
			tc.mutate(p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := testProjection().Validate(); err != nil {
		t.Fatalf("valid projection rejected: %v", err)
	}
}
