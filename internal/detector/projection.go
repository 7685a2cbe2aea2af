package detector

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Projection is the pretrained PCA artifact the detector scores against.
// Loaded once at startup and shared read-only; nothing mutates it afterwards.
type Projection struct {
	Variables   []string    `yaml:"variables"`
	Means       []float64   `yaml:"means"`
	Scales      []float64   `yaml:"scales"`
	Loadings    [][]float64 `yaml:"loadings"` // one row per variable, one column per retained component
	Eigenvalues []float64   `yaml:"eigenvalues"`
	Alpha       float64     `yaml:"alpha"`     // confidence level the baseline threshold was computed at
	Threshold   float64     `yaml:"threshold"` // baseline control limit at Alpha
}

// Limit pairs a confidence level with its control limit.
type Limit struct {
	Alpha     float64
	Threshold float64
}

// LoadProjection reads and validates a projection artifact from a YAML file.
func LoadProjection(path string) (*Projection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read projection artifact: %w", err)
	}
	var proj Projection
	if err := yaml.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parse projection artifact: %w", err)
	}
	if err := proj.Validate(); err != nil {
		return nil, err
	}
	return &proj, nil
}

// Validate checks structural consistency of the artifact.
func (p *Projection) Validate() error {
	k := len(p.Variables)
	if k == 0 {
		return errors.New("projection has no variables")
	}
	if len(p.Means) != k {
		return fmt.Errorf("projection means length %d, want %d", len(p.Means), k)
	}
	if len(p.Scales) != k {
		return fmt.Errorf("projection scales length %d, want %d", len(p.Scales), k)
	}
	for i, s := range p.Scales {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("projection scale for %s is not usable", p.Variables[i])
		}
	}
	if len(p.Loadings) != k {
		return fmt.Errorf("projection loadings rows %d, want %d", len(p.Loadings), k)
	}
	a := len(p.Eigenvalues)
	if a == 0 {
		return errors.New("projection retains no components")
	}
	for _, row := range p.Loadings {
		if len(row) != a {
			return fmt.Errorf("projection loadings columns %d, want %d", len(row), a)
		}
	}
	for i, ev := range p.Eigenvalues {
		if ev <= 0 {
			return fmt.Errorf("eigenvalue %d is non-positive", i)
		}
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("projection alpha %v out of (0,1)", p.Alpha)
	}
	return nil
}

// Components returns the number of retained principal components.
func (p *Projection) Components() int { return len(p.Eigenvalues) }

// LimitFor computes the T² control limit at the requested confidence level
// from the retained eigen-structure. The baseline threshold shipped with the
// artifact is used verbatim when alpha matches it; any other alpha maps to
// the chi-square quantile with one degree of freedom per retained component.
func (p *Projection) LimitFor(alpha float64) (Limit, error) {
	if alpha <= 0 || alpha >= 1 {
		return Limit{}, fmt.Errorf("alpha %v out of (0,1)", alpha)
	}
	if alpha == p.Alpha && p.Threshold > 0 {
		return Limit{Alpha: alpha, Threshold: p.Threshold}, nil
	}
	return Limit{Alpha: alpha, Threshold: chiSquareQuantile(alpha, float64(p.Components()))}, nil
}
