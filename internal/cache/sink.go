package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

const (
	latestReportKey = "sentinel:report:latest"
	leaseKey        = "sentinel:lease:diagnosis"
)

// ReportCache keeps the most recent consensus report in the cache so status
// endpoints and restarting replicas can serve it without touching the
// archive.
type ReportCache struct {
	provider Provider
	ttl      time.Duration
}

// NewReportCache wraps a provider as a report sink. A zero TTL keeps reports
// until overwritten.
func NewReportCache(provider Provider, ttl time.Duration) *ReportCache {
	return &ReportCache{provider: provider, ttl: ttl}
}

// StoreReport caches the report under the latest-report key.
func (r *ReportCache) StoreReport(ctx context.Context, report models.ConsensusReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.ReportID, err)
	}
	return r.provider.Set(ctx, latestReportKey, payload, r.ttl)
}

// LatestReport returns the cached report, or ErrCacheMiss when none exists.
func (r *ReportCache) LatestReport(ctx context.Context) (models.ConsensusReport, error) {
	payload, err := r.provider.Get(ctx, latestReportKey)
	if err != nil {
		return models.ConsensusReport{}, err
	}
	var report models.ConsensusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return models.ConsensusReport{}, fmt.Errorf("decode cached report: %w", err)
	}
	return report, nil
}

// DiagnosisLease extends the one-in-flight diagnosis guard across replicas
// sharing a cache. The claim carries a TTL so a crashed holder cannot wedge
// the fleet.
type DiagnosisLease struct {
	logger   *slog.Logger
	provider Provider
	ttl      time.Duration
}

// NewDiagnosisLease builds a lease on the shared cache. TTL must cover the
// longest plausible diagnosis run.
func NewDiagnosisLease(logger *slog.Logger, provider Provider, ttl time.Duration) *DiagnosisLease {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &DiagnosisLease{
		logger:   logger.With(slog.String("component", "diagnosis-lease")),
		provider: provider,
		ttl:      ttl,
	}
}

// TryAcquire claims the lease for the given epoch. A cache error counts as
// acquired: losing the cross-replica guard is better than never diagnosing.
func (l *DiagnosisLease) TryAcquire(ctx context.Context, epoch uint64) bool {
	claimed, err := l.provider.SetNX(ctx, leaseKey, []byte(strconv.FormatUint(epoch, 10)), l.ttl)
	if err != nil {
		l.logger.Warn("lease claim failed, proceeding without it", slog.Any("error", err))
		return true
	}
	return claimed
}

// Release drops the lease claim.
func (l *DiagnosisLease) Release(ctx context.Context) {
	if err := l.provider.Del(ctx, leaseKey); err != nil {
		l.logger.Warn("lease release failed", slog.Any("error", err))
	}
}
