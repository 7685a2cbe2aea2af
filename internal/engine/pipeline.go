package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/bus"
	"github.com/sentinelstack/sentinel-engine/internal/detector"
	"github.com/sentinelstack/sentinel-engine/internal/metrics"
	"github.com/sentinelstack/sentinel-engine/internal/models"
	"github.com/sentinelstack/sentinel-engine/internal/utils"
	"github.com/sentinelstack/sentinel-engine/internal/window"
)

// Dispatcher runs the diagnosis fan-out for one trigger epoch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.DiagnosisRequest) models.ConsensusReport
}

// ReportSink receives terminal consensus reports (archive, cache).
// Sink failures are logged and never propagate into the pipeline.
type ReportSink interface {
	StoreReport(ctx context.Context, report models.ConsensusReport) error
}

// Lease guards the one-in-flight diagnosis invariant across replicas that
// share a cache. A nil lease means the in-process guard alone applies.
type Lease interface {
	TryAcquire(ctx context.Context, epoch uint64) bool
	Release(ctx context.Context)
}

// Config carries the runtime-tunable pipeline parameters.
type Config struct {
	WindowCapacity int
	Decimation     int
	Trigger        TriggerConfig
	Alpha          float64
}

// Validate rejects out-of-range parameters.
func (c Config) Validate() error {
	if c.WindowCapacity < 1 {
		return fmt.Errorf("%w: window capacity %d", utils.ErrConfigInvalid, c.WindowCapacity)
	}
	if c.Decimation < 1 {
		return fmt.Errorf("%w: decimation %d", utils.ErrConfigInvalid, c.Decimation)
	}
	if c.Trigger.ConsecutiveThreshold < 1 {
		return fmt.Errorf("%w: consecutive threshold %d", utils.ErrConfigInvalid, c.Trigger.ConsecutiveThreshold)
	}
	if c.Trigger.MinInterval < 0 {
		return fmt.Errorf("%w: min trigger interval %v", utils.ErrConfigInvalid, c.Trigger.MinInterval)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("%w: alpha %v", utils.ErrConfigInvalid, c.Alpha)
	}
	return nil
}

// SubmitResult is the gateway's answer for one measurement.
type SubmitResult struct {
	Status     models.IngestStatus
	WindowFill int
	Score      *models.AnomalyScore
}

// Reconfig is a partial runtime reconfiguration; nil fields keep the
// current value. Applies prospectively only.
type Reconfig struct {
	WindowCapacity       *int
	Decimation           *int
	ConsecutiveThreshold *int
	MinInterval          *time.Duration
	Alpha                *float64
}

type submitMsg struct {
	m     models.Measurement
	reply chan SubmitResult
}

type reconfigMsg struct {
	req   Reconfig
	reply chan error
}

type reportNotice struct {
	report  models.ConsensusReport
	dropped bool
}

// Pipeline is the single-writer core: one goroutine owns the window, the
// detector limit, and the trigger state, fed through channels. The mutable
// region never spans a network call; only the diagnosis goroutine suspends.
type Pipeline struct {
	logger     *slog.Logger
	det        *detector.Detector
	win        *window.Store
	sched      *Scheduler
	pub        *bus.Publisher
	dispatcher Dispatcher
	sinks      []ReportSink
	lease      Lease

	cfg   Config
	limit detector.Limit
	nowFn func() time.Time

	submitCh   chan submitMsg
	reconfigCh chan reconfigMsg
	statusCh   chan chan models.PipelineStatus
	reportCh   chan reportNotice

	lastSeq       uint64
	acceptedCount uint64
	latestScore   *models.AnomalyScore
	busy          bool
	lastReportAt  time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// NewPipeline wires the pipeline. The detector's projection supplies the
// initial control limit for cfg.Alpha.
func NewPipeline(
	logger *slog.Logger,
	det *detector.Detector,
	pub *bus.Publisher,
	dispatcher Dispatcher,
	cfg Config,
	sinks []ReportSink,
	lease Lease,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit, err := det.Projection().LimitFor(cfg.Alpha)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrConfigInvalid, err)
	}

	return &Pipeline{
		logger:     logger.With(slog.String("component", "pipeline")),
		det:        det,
		win:        window.New(cfg.WindowCapacity),
		sched:      NewScheduler(cfg.Trigger),
		pub:        pub,
		dispatcher: dispatcher,
		sinks:      sinks,
		lease:      lease,
		cfg:        cfg,
		limit:      limit,
		nowFn:      time.Now,
		submitCh:   make(chan submitMsg),
		reconfigCh: make(chan reconfigMsg),
		statusCh:   make(chan chan models.PipelineStatus),
		reportCh:   make(chan reportNotice, 1),
		stopped:    make(chan struct{}),
	}, nil
}

// Start launches the processing loop.
func (p *Pipeline) Start(ctx context.Context) {
	p.runCtx, p.cancel = context.WithCancel(ctx)
	go p.run()
}

// Stop cancels the loop and waits for it to drain.
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		<-p.stopped
	})
}

// Submit sequences one measurement through the pipeline and returns the
// gateway outcome. Safe for concurrent callers; all mutation happens on the
// loop goroutine.
func (p *Pipeline) Submit(ctx context.Context, m models.Measurement) (SubmitResult, error) {
	reply := make(chan SubmitResult, 1)
	select {
	case p.submitCh <- submitMsg{m: m, reply: reply}:
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	case <-p.runCtx.Done():
		return SubmitResult{}, p.runCtx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

// Reconfigure applies a runtime configuration change on the loop goroutine.
// Invalid values leave the active configuration untouched.
func (p *Pipeline) Reconfigure(ctx context.Context, req Reconfig) error {
	reply := make(chan error, 1)
	select {
	case p.reconfigCh <- reconfigMsg{req: req, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.runCtx.Done():
		return p.runCtx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a consistent point-in-time view of the pipeline.
func (p *Pipeline) Status(ctx context.Context) (models.PipelineStatus, error) {
	reply := make(chan models.PipelineStatus, 1)
	select {
	case p.statusCh <- reply:
	case <-ctx.Done():
		return models.PipelineStatus{}, ctx.Err()
	case <-p.runCtx.Done():
		return models.PipelineStatus{}, p.runCtx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return models.PipelineStatus{}, ctx.Err()
	}
}

func (p *Pipeline) run() {
	defer close(p.stopped)
	for {
		select {
		case msg := <-p.submitCh:
			msg.reply <- p.handleSubmit(msg.m)
		case msg := <-p.reconfigCh:
			msg.reply <- p.handleReconfig(msg.req)
		case reply := <-p.statusCh:
			reply <- p.snapshotStatus()
		case notice := <-p.reportCh:
			p.busy = false
			if !notice.dropped {
				p.lastReportAt = notice.report.CreatedAt
			}
		case <-p.runCtx.Done():
			return
		}
	}
}

func (p *Pipeline) handleSubmit(m models.Measurement) SubmitResult {
	if !p.validate(m) {
		metrics.CountMeasurement("malformed")
		p.logger.Debug("measurement ignored",
			slog.Uint64("sequence", m.Sequence),
			slog.Any("reason", utils.ErrMalformedInput),
		)
		return SubmitResult{Status: models.IngestIgnored, WindowFill: p.win.Len()}
	}
	if m.Sequence <= p.lastSeq {
		metrics.CountMeasurement("duplicate")
		p.logger.Debug("measurement ignored",
			slog.Uint64("sequence", m.Sequence),
			slog.Any("reason", utils.ErrDuplicateSequence),
		)
		return SubmitResult{Status: models.IngestIgnored, WindowFill: p.win.Len(), Score: p.latestScore}
	}

	accepted := m.Clone()
	p.lastSeq = accepted.Sequence
	p.acceptedCount++
	metrics.CountMeasurement("accepted")
	p.publish(models.Event{
		Kind:        models.EventMeasurementAccepted,
		Time:        accepted.Timestamp,
		Measurement: &accepted,
	})

	// Decimation: only every D-th accepted point advances the window.
	if p.cfg.Decimation > 1 && p.acceptedCount%uint64(p.cfg.Decimation) != 0 {
		return p.acknowledge()
	}

	p.win.Push(accepted)
	if !p.win.Full() {
		return SubmitResult{Status: models.IngestAggregating, WindowFill: p.win.Len()}
	}

	snapshot := p.win.Snapshot()
	score := p.det.Score(snapshot, p.limit)
	p.latestScore = &score
	metrics.CountScore(score.Exceeded)
	p.publish(models.Event{
		Kind:  models.EventAnomalyScoreUpdated,
		Time:  score.Timestamp,
		Score: &score,
	})

	now := p.nowFn()
	if fired, epoch := p.sched.Observe(score.Exceeded, now); fired {
		p.fire(epoch, snapshot, score, now)
	}

	return SubmitResult{Status: models.IngestAccepted, WindowFill: p.win.Len(), Score: &score}
}

// acknowledge answers for an accepted but decimated measurement: the window
// did not advance and no new score exists.
func (p *Pipeline) acknowledge() SubmitResult {
	if !p.win.Full() {
		return SubmitResult{Status: models.IngestAggregating, WindowFill: p.win.Len()}
	}
	return SubmitResult{Status: models.IngestAccepted, WindowFill: p.win.Len(), Score: p.latestScore}
}

func (p *Pipeline) validate(m models.Measurement) bool {
	if m.Values == nil {
		return false
	}
	for _, name := range p.det.Variables() {
		v, ok := m.Values[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// fire dispatches exactly one DiagnosisRequest per trigger epoch. A fire
// arriving while a prior diagnosis is still in flight is dropped, not
// queued.
func (p *Pipeline) fire(epoch uint64, snapshot []models.Measurement, score models.AnomalyScore, now time.Time) {
	if p.busy {
		metrics.CountTrigger(metrics.TriggerDropped)
		p.logger.Warn("trigger dropped, diagnosis in flight",
			slog.Uint64("epoch", epoch),
			slog.Float64("statistic", score.Statistic),
		)
		return
	}

	p.busy = true
	metrics.CountTrigger(metrics.TriggerFired)
	req := models.DiagnosisRequest{
		Epoch:     epoch,
		Window:    snapshot,
		Score:     score,
		FiredAt:   now,
		Variables: p.det.Variables(),
	}
	p.logger.Info("trigger fired",
		slog.Uint64("epoch", epoch),
		slog.Float64("statistic", score.Statistic),
		slog.Float64("threshold", score.Threshold),
	)
	go p.runDiagnosis(req)
}

// runDiagnosis is the only place besides the loop goroutine the pipeline
// spawns work. It suspends on the orchestrator join and reports back through
// reportCh so the loop clears the in-flight flag.
func (p *Pipeline) runDiagnosis(req models.DiagnosisRequest) {
	ctx := p.runCtx

	if p.lease != nil && !p.lease.TryAcquire(ctx, req.Epoch) {
		metrics.CountTrigger(metrics.TriggerDropped)
		p.logger.Warn("trigger dropped, diagnosis lease held elsewhere", slog.Uint64("epoch", req.Epoch))
		p.notifyReport(reportNotice{dropped: true})
		return
	}

	report := p.dispatcher.Dispatch(ctx, req)

	if p.lease != nil {
		p.lease.Release(ctx)
	}

	for _, sink := range p.sinks {
		if err := sink.StoreReport(ctx, report); err != nil {
			p.logger.Warn("report sink failed", slog.Any("error", err))
		}
	}
	p.publish(models.Event{
		Kind:   models.EventConsensusReportReady,
		Time:   report.CreatedAt,
		Report: &report,
	})
	p.notifyReport(reportNotice{report: report})
}

func (p *Pipeline) notifyReport(notice reportNotice) {
	select {
	case p.reportCh <- notice:
	case <-p.runCtx.Done():
	}
}

func (p *Pipeline) handleReconfig(req Reconfig) error {
	next := p.cfg
	if req.WindowCapacity != nil {
		next.WindowCapacity = *req.WindowCapacity
	}
	if req.Decimation != nil {
		next.Decimation = *req.Decimation
	}
	if req.ConsecutiveThreshold != nil {
		next.Trigger.ConsecutiveThreshold = *req.ConsecutiveThreshold
	}
	if req.MinInterval != nil {
		next.Trigger.MinInterval = *req.MinInterval
	}
	if req.Alpha != nil {
		next.Alpha = *req.Alpha
	}
	if err := next.Validate(); err != nil {
		return err
	}

	limit := p.limit
	if req.Alpha != nil {
		var err error
		limit, err = p.det.Projection().LimitFor(next.Alpha)
		if err != nil {
			return fmt.Errorf("%w: %v", utils.ErrConfigInvalid, err)
		}
	}

	if next.WindowCapacity != p.cfg.WindowCapacity {
		p.win.Resize(next.WindowCapacity)
	}
	p.sched.SetConfig(next.Trigger)
	p.cfg = next
	p.limit = limit
	p.logger.Info("pipeline reconfigured",
		slog.Int("window_capacity", next.WindowCapacity),
		slog.Int("decimation", next.Decimation),
		slog.Int("consecutive_threshold", next.Trigger.ConsecutiveThreshold),
		slog.Duration("min_interval", next.Trigger.MinInterval),
		slog.Float64("alpha", next.Alpha),
		slog.Float64("threshold", limit.Threshold),
	)
	return nil
}

func (p *Pipeline) snapshotStatus() models.PipelineStatus {
	now := p.nowFn()
	return models.PipelineStatus{
		WindowFill:       p.win.Len(),
		WindowCapacity:   p.win.Capacity(),
		Decimation:       p.cfg.Decimation,
		LastSequence:     p.lastSeq,
		LatestScore:      p.latestScore,
		Alpha:            p.limit.Alpha,
		Threshold:        p.limit.Threshold,
		TriggerPhase:     p.sched.Phase(now),
		ConsecutiveCount: p.sched.Count(),
		LastFiredAt:      p.sched.LastFired(),
		LastReportAt:     p.lastReportAt,
		DiagnosisBusy:    p.busy,
	}
}

func (p *Pipeline) publish(ev models.Event) {
	if p.pub != nil {
		p.pub.Publish(ev)
	}
}
