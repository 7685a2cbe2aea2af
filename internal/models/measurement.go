package models

import "time"

// Measurement is one multivariate sensor reading. Immutable once created.
type Measurement struct {
	Sequence  uint64             `json:"sequence"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Clone returns a deep copy so window snapshots never alias caller maps.
func (m Measurement) Clone() Measurement {
	values := make(map[string]float64, len(m.Values))
	for k, v := range m.Values {
		values[k] = v
	}
	return Measurement{Sequence: m.Sequence, Timestamp: m.Timestamp, Values: values}
}

// IngestStatus enumerates gateway outcomes for one submitted measurement.
type IngestStatus string

const (
	IngestAccepted    IngestStatus = "accepted"
	IngestIgnored     IngestStatus = "ignored"
	IngestAggregating IngestStatus = "aggregating"
)

// VariableContribution ranks one variable's share of an anomaly.
type VariableContribution struct {
	Variable string  `json:"variable"`
	Residual float64 `json:"residual"`
}

// AnomalyScore is the T² statistic for one window state.
type AnomalyScore struct {
	Sequence      uint64                 `json:"sequence"`
	Timestamp     time.Time              `json:"timestamp"`
	Statistic     float64                `json:"statistic"`
	Threshold     float64                `json:"threshold"`
	Alpha         float64                `json:"alpha"`
	Exceeded      bool                   `json:"exceeded"`
	Contributions []VariableContribution `json:"contributions,omitempty"`
}
