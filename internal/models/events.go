package models

import "time"

// EventKind enumerates the pipeline events pushed to subscribers.
type EventKind string

const (
	EventMeasurementAccepted  EventKind = "measurement_accepted"
	EventAnomalyScoreUpdated  EventKind = "anomaly_score_updated"
	EventConsensusReportReady EventKind = "consensus_report_ready"
)

// Event is one broadcast pipeline occurrence. Exactly one of the payload
// pointers is set, matching Kind.
type Event struct {
	Kind        EventKind        `json:"kind"`
	Time        time.Time        `json:"time"`
	Measurement *Measurement     `json:"measurement,omitempty"`
	Score       *AnomalyScore    `json:"score,omitempty"`
	Report      *ConsensusReport `json:"report,omitempty"`
}

// TriggerPhase enumerates scheduler states exposed through the status API.
type TriggerPhase string

const (
	TriggerIdle         TriggerPhase = "idle"
	TriggerAccumulating TriggerPhase = "accumulating"
	TriggerReadyToFire  TriggerPhase = "ready_to_fire"
	TriggerCooldown     TriggerPhase = "cooldown"
)

// PipelineStatus is the point-in-time view served by the status endpoint.
type PipelineStatus struct {
	WindowFill       int           `json:"window_fill"`
	WindowCapacity   int           `json:"window_capacity"`
	Decimation       int           `json:"decimation"`
	LastSequence     uint64        `json:"last_sequence"`
	LatestScore      *AnomalyScore `json:"latest_score,omitempty"`
	Alpha            float64       `json:"alpha"`
	Threshold        float64       `json:"threshold"`
	TriggerPhase     TriggerPhase  `json:"trigger_phase"`
	ConsecutiveCount int           `json:"consecutive_count"`
	LastFiredAt      time.Time     `json:"last_fired_at,omitempty"`
	LastReportAt     time.Time     `json:"last_report_at,omitempty"`
	DiagnosisBusy    bool          `json:"diagnosis_busy"`
}
