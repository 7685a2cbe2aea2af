package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-engine/internal/metrics"
	"github.com/sentinelstack/sentinel-engine/internal/models"
	"github.com/sentinelstack/sentinel-engine/internal/utils"
)

// ErrInvalidResponse marks a provider answer that arrived but could not be
// used (malformed payload, empty diagnosis).
var ErrInvalidResponse = errors.New("invalid provider response")

// Provider is the abstract diagnosis capability the orchestrator fans out
// to. Implementations are selected from static configuration.
type Provider interface {
	// Label identifies the provider in results and logs.
	Label() string
	// Timeout bounds one Submit call.
	Timeout() time.Duration
	// Submit asks the provider to explain the triggering window. The
	// returned text is the diagnosis payload.
	Submit(ctx context.Context, req models.DiagnosisRequest) (string, error)
}

// Orchestrator dispatches one DiagnosisRequest to every configured provider
// concurrently and reconciles the answers into a ConsensusReport. A single
// failing provider never aborts the run; stragglers at the global deadline
// are recorded as timeouts and their late results discarded.
type Orchestrator struct {
	logger        *slog.Logger
	providers     []Provider
	globalTimeout time.Duration
	latencies     *utils.LatencyTracker
}

// New constructs an orchestrator. The global timeout is raised to the
// largest per-provider timeout when configured lower.
func New(logger *slog.Logger, providers []Provider, globalTimeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range providers {
		if t := p.Timeout(); t > globalTimeout {
			globalTimeout = t
		}
	}
	if globalTimeout <= 0 {
		globalTimeout = 30 * time.Second
	}
	return &Orchestrator{
		logger:        logger.With(slog.String("component", "orchestrator")),
		providers:     providers,
		globalTimeout: globalTimeout,
		latencies:     utils.NewLatencyTracker(256),
	}
}

// ProviderCount returns the number of configured providers.
func (o *Orchestrator) ProviderCount() int { return len(o.providers) }

// Dispatch runs the full fan-out/fan-in for one request and returns the
// terminal report. It blocks up to the global timeout.
func (o *Orchestrator) Dispatch(ctx context.Context, req models.DiagnosisRequest) models.ConsensusReport {
	started := time.Now()
	gctx, cancel := context.WithTimeout(ctx, o.globalTimeout)
	defer cancel()

	type labelled struct {
		result models.DiagnosisResult
	}
	resultCh := make(chan labelled, len(o.providers))

	for _, p := range o.providers {
		go func(p Provider) {
			resultCh <- labelled{result: o.callProvider(gctx, p, req)}
		}(p)
	}

	results := make([]models.DiagnosisResult, 0, len(o.providers))
	seen := make(map[string]bool, len(o.providers))

collect:
	for len(results) < len(o.providers) {
		select {
		case lr := <-resultCh:
			results = append(results, lr.result)
			seen[lr.result.Provider] = true
		case <-gctx.Done():
			break collect
		}
	}

	// Anything still outstanding at the global deadline is a timeout; its
	// call was cancelled through gctx and any late answer lands in the
	// buffered channel where it is simply never read.
	for _, p := range o.providers {
		if !seen[p.Label()] {
			results = append(results, models.DiagnosisResult{
				Provider: p.Label(),
				Status:   models.ProviderTimeout,
				Latency:  o.globalTimeout,
			})
		}
	}

	report := o.buildReport(req, results)
	elapsed := time.Since(started)
	o.latencies.Observe(elapsed)
	metrics.ObserveDiagnosis(elapsed, string(report.Status))
	for _, r := range report.Results {
		metrics.CountProviderResult(r.Provider, string(r.Status))
	}

	o.logger.Info("diagnosis complete",
		slog.Uint64("epoch", req.Epoch),
		slog.String("status", string(report.Status)),
		slog.Int("successes", report.SuccessCount()),
		slog.Duration("elapsed", elapsed),
	)
	if count := o.latencies.Count(); count >= 10 && count%10 == 0 {
		o.logger.Info("diagnosis latency", slog.Duration("p95", o.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return report
}

func (o *Orchestrator) callProvider(ctx context.Context, p Provider, req models.DiagnosisRequest) models.DiagnosisResult {
	pctx := ctx
	if t := p.Timeout(); t > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	started := time.Now()
	text, err := p.Submit(pctx, req)
	latency := time.Since(started)

	result := models.DiagnosisResult{Provider: p.Label(), Latency: latency}
	switch {
	case err == nil && strings.TrimSpace(text) == "":
		result.Status = models.ProviderInvalidResponse
	case err == nil:
		result.Status = models.ProviderSuccess
		result.Text = text
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = models.ProviderTimeout
	case errors.Is(err, ErrInvalidResponse):
		result.Status = models.ProviderInvalidResponse
	default:
		result.Status = models.ProviderUnavailable
	}

	if err != nil {
		o.logger.Warn("provider failed",
			slog.String("provider", p.Label()),
			slog.String("status", string(result.Status)),
			slog.Any("error", err),
		)
	}
	return result
}

func (o *Orchestrator) buildReport(req models.DiagnosisRequest, results []models.DiagnosisResult) models.ConsensusReport {
	successes := 0
	for _, r := range results {
		if r.Status == models.ProviderSuccess {
			successes++
		}
	}

	var status models.ConsensusStatus
	switch {
	case successes == len(results) && successes > 0:
		status = models.ConsensusAllSucceeded
	case successes > 0:
		status = models.ConsensusPartialSuccess
	default:
		status = models.ConsensusAllFailed
	}

	return models.ConsensusReport{
		ReportID:  uuid.New().String(),
		Epoch:     req.Epoch,
		Status:    status,
		Results:   results,
		Summary:   summarise(results),
		CreatedAt: time.Now().UTC(),
	}
}

// summarise builds the provider-labelled listing of successful diagnoses.
// No semantic reconciliation happens here, only labelled aggregation.
func summarise(results []models.DiagnosisResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Status != models.ProviderSuccess {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", r.Provider, r.Text)
	}
	if b.Len() == 0 {
		return "no provider produced a diagnosis"
	}
	return b.String()
}
