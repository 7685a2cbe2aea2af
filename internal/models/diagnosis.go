package models

import "time"

// DiagnosisRequest snapshots the pipeline state behind one trigger epoch.
// Built once per fire and never mutated afterwards.
type DiagnosisRequest struct {
	Epoch     uint64        `json:"epoch"`
	Window    []Measurement `json:"window"`
	Score     AnomalyScore  `json:"score"`
	FiredAt   time.Time     `json:"fired_at"`
	Variables []string      `json:"variables"`
}

// ProviderStatus enumerates per-provider diagnosis outcomes.
type ProviderStatus string

const (
	ProviderSuccess         ProviderStatus = "success"
	ProviderTimeout         ProviderStatus = "timeout"
	ProviderUnavailable     ProviderStatus = "unavailable"
	ProviderInvalidResponse ProviderStatus = "invalid_response"
)

// DiagnosisResult is one provider's answer for one request.
type DiagnosisResult struct {
	Provider string         `json:"provider"`
	Status   ProviderStatus `json:"status"`
	Text     string         `json:"text,omitempty"`
	Latency  time.Duration  `json:"latency"`
}

// ConsensusStatus summarises how many providers answered successfully.
type ConsensusStatus string

const (
	ConsensusAllSucceeded   ConsensusStatus = "all_succeeded"
	ConsensusPartialSuccess ConsensusStatus = "partial_success"
	ConsensusAllFailed      ConsensusStatus = "all_failed"
)

// ConsensusReport aggregates all provider results for one trigger epoch.
// Terminal once every provider reported or the global timeout elapsed.
type ConsensusReport struct {
	ReportID  string            `json:"report_id"`
	Epoch     uint64            `json:"epoch"`
	Status    ConsensusStatus   `json:"status"`
	Results   []DiagnosisResult `json:"results"`
	Summary   string            `json:"summary"`
	CreatedAt time.Time         `json:"created_at"`
}

// SuccessCount returns the number of successful provider results.
func (r ConsensusReport) SuccessCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == ProviderSuccess {
			n++
		}
	}
	return n
}
