package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

// ScoreMode selects which observation of the window gets scored.
type ScoreMode string

const (
	// ModeLatest scores the most recent measurement in the window.
	ModeLatest ScoreMode = "latest"
	// ModeWindowMean scores the column-wise mean of the whole window.
	ModeWindowMean ScoreMode = "window_mean"
)

// ParseScoreMode maps a config string onto a ScoreMode.
func ParseScoreMode(value string) (ScoreMode, error) {
	switch ScoreMode(value) {
	case ModeLatest, "":
		return ModeLatest, nil
	case ModeWindowMean:
		return ModeWindowMean, nil
	default:
		return "", fmt.Errorf("unknown score mode %q", value)
	}
}

// Detector computes T² exceedance scores against an immutable projection.
// It is deterministic and side-effect free: identical window contents,
// projection, and limit always produce bit-identical results.
type Detector struct {
	proj *Projection
	mode ScoreMode
}

// New creates a detector over the supplied projection.
func New(proj *Projection, mode ScoreMode) *Detector {
	if mode == "" {
		mode = ModeLatest
	}
	return &Detector{proj: proj, mode: mode}
}

// Projection exposes the read-only artifact (used for limit recomputation).
func (d *Detector) Projection() *Projection { return d.proj }

// Variables returns the ordered variable names the detector expects.
func (d *Detector) Variables() []string {
	return append([]string(nil), d.proj.Variables...)
}

// Score projects the selected observation onto the retained components and
// returns the T² statistic compared against the supplied control limit.
// The caller guarantees a non-empty snapshot.
func (d *Detector) Score(snapshot []models.Measurement, limit Limit) models.AnomalyScore {
	latest := snapshot[len(snapshot)-1]
	observed := d.observation(snapshot)

	k := len(d.proj.Variables)
	a := d.proj.Components()

	// Centre and scale the observation.
	scaled := make([]float64, k)
	for j, name := range d.proj.Variables {
		scaled[j] = (observed[name] - d.proj.Means[j]) / d.proj.Scales[j]
	}

	// Component scores t = xᵀ·P.
	scores := make([]float64, a)
	for c := 0; c < a; c++ {
		var t float64
		for j := 0; j < k; j++ {
			t += scaled[j] * d.proj.Loadings[j][c]
		}
		scores[c] = t
	}

	statistic := 0.0
	for c := 0; c < a; c++ {
		statistic += scores[c] * scores[c] / d.proj.Eigenvalues[c]
	}

	return models.AnomalyScore{
		Sequence:      latest.Sequence,
		Timestamp:     latest.Timestamp,
		Statistic:     statistic,
		Threshold:     limit.Threshold,
		Alpha:         limit.Alpha,
		Exceeded:      statistic > limit.Threshold,
		Contributions: d.contributions(scaled, scores),
	}
}

// observation picks the scored point according to the configured mode.
func (d *Detector) observation(snapshot []models.Measurement) map[string]float64 {
	if d.mode == ModeLatest {
		return snapshot[len(snapshot)-1].Values
	}
	mean := make(map[string]float64, len(d.proj.Variables))
	for _, name := range d.proj.Variables {
		var sum float64
		for _, m := range snapshot {
			sum += m.Values[name]
		}
		mean[name] = sum / float64(len(snapshot))
	}
	return mean
}

// contributions ranks variables by |scaled residual| descending, where the
// residual is the scaled observation minus its reconstruction from the
// retained components. Informational only; never affects Exceeded.
func (d *Detector) contributions(scaled, scores []float64) []models.VariableContribution {
	k := len(d.proj.Variables)
	a := d.proj.Components()

	out := make([]models.VariableContribution, 0, k)
	for j := 0; j < k; j++ {
		var reconstructed float64
		for c := 0; c < a; c++ {
			reconstructed += scores[c] * d.proj.Loadings[j][c]
		}
		out = append(out, models.VariableContribution{
			Variable: d.proj.Variables[j],
			Residual: scaled[j] - reconstructed,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Residual) > math.Abs(out[j].Residual)
	})
	return out
}
