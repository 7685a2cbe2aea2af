package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sentinelstack/sentinel-engine/internal/archive"
	"github.com/sentinelstack/sentinel-engine/internal/bus"
	"github.com/sentinelstack/sentinel-engine/internal/engine"
	"github.com/sentinelstack/sentinel-engine/internal/models"
)

type fakePipeline struct {
	submitRes    engine.SubmitResult
	submitErr    error
	reconfigErr  error
	lastReconfig engine.Reconfig
	status       models.PipelineStatus
}

func (f *fakePipeline) Submit(context.Context, models.Measurement) (engine.SubmitResult, error) {
	return f.submitRes, f.submitErr
}

func (f *fakePipeline) Reconfigure(_ context.Context, req engine.Reconfig) error {
	f.lastReconfig = req
	return f.reconfigErr
}

func (f *fakePipeline) Status(context.Context) (models.PipelineStatus, error) {
	return f.status, nil
}

type fakeReports struct {
	reports map[string]models.ConsensusReport
}

func (f *fakeReports) ListReports(_ context.Context, limit int) ([]models.ConsensusReport, error) {
	out := make([]models.ConsensusReport, 0, len(f.reports))
	for _, r := range f.reports {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeReports) GetReport(_ context.Context, id string) (models.ConsensusReport, error) {
	r, ok := f.reports[id]
	if !ok {
		return models.ConsensusReport{}, archive.ErrNotFound
	}
	return r, nil
}

func newRouter(pipeline PipelineAPI, reports ReportReader, events EventSource) *mux.Router {
	r := mux.NewRouter()
	NewHandlers(nil, pipeline, reports, events).Register(r)
	return r
}

func TestIngestReturnsSubmitOutcome(t *testing.T) {
	score := &models.AnomalyScore{Sequence: 9, Statistic: 5.5, Threshold: 4, Exceeded: true}
	pipeline := &fakePipeline{submitRes: engine.SubmitResult{
		Status:     models.IngestAccepted,
		WindowFill: 5,
		Score:      score,
	}}
	router := newRouter(pipeline, nil, nil)

	body := `{"sequence":9,"timestamp":"2026-08-30T10:00:00Z","values":{"temp":3.1}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.IngestAccepted || resp.WindowFill != 5 || resp.Score == nil {
		t.Fatalf("response = %+v", resp)
	}
}

func TestIngestRejectsBadJSON(t *testing.T) {
	router := newRouter(&fakePipeline{}, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("{broken")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestPipelineDown(t *testing.T) {
	pipeline := &fakePipeline{submitErr: errors.New("stopped")}
	router := newRouter(pipeline, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("{}")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	pipeline := &fakePipeline{status: models.PipelineStatus{
		WindowFill:     3,
		WindowCapacity: 60,
		Alpha:          0.99,
		TriggerPhase:   models.TriggerAccumulating,
	}}
	router := newRouter(pipeline, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st models.PipelineStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.WindowCapacity != 60 || st.TriggerPhase != models.TriggerAccumulating {
		t.Fatalf("status body = %+v", st)
	}
}

func TestConfigUpdateMapsFields(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newRouter(pipeline, nil, nil)

	body := `{"window_capacity":10,"alpha":0.95,"min_trigger_interval":"45s"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := pipeline.lastReconfig
	if got.WindowCapacity == nil || *got.WindowCapacity != 10 {
		t.Fatalf("window capacity not mapped: %+v", got)
	}
	if got.Alpha == nil || *got.Alpha != 0.95 {
		t.Fatalf("alpha not mapped: %+v", got)
	}
	if got.MinInterval == nil || *got.MinInterval != 45*time.Second {
		t.Fatalf("min interval not mapped: %+v", got)
	}
	if got.Decimation != nil || got.ConsecutiveThreshold != nil {
		t.Fatalf("absent fields must stay nil: %+v", got)
	}
}

func TestConfigUpdateRejectsBadDuration(t *testing.T) {
	router := newRouter(&fakePipeline{}, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/config",
		strings.NewReader(`{"min_trigger_interval":"soon"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestConfigUpdateSurfacesValidationError(t *testing.T) {
	pipeline := &fakePipeline{reconfigErr: errors.New("invalid config: alpha 1.5")}
	router := newRouter(pipeline, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/config",
		strings.NewReader(`{"alpha":1.5}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("alpha")) {
		t.Fatalf("error detail lost: %s", rec.Body)
	}
}

func TestReportsEndpoints(t *testing.T) {
	reports := &fakeReports{reports: map[string]models.ConsensusReport{
		"r-1": {ReportID: "r-1", Epoch: 1, Status: models.ConsensusAllSucceeded},
	}}
	router := newRouter(&fakePipeline{}, reports, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/r-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing report status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newRouter(&fakePipeline{}, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEventsStreamsOverWebsocket(t *testing.T) {
	pub := bus.NewPublisher(nil, 16)
	defer pub.Close()

	router := newRouter(&fakePipeline{}, nil, pub)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(50 * time.Millisecond)
	pub.Publish(models.Event{
		Kind: models.EventAnomalyScoreUpdated,
		Time: time.Unix(100, 0).UTC(),
		Score: &models.AnomalyScore{
			Sequence:  12,
			Statistic: 7.7,
			Threshold: 6.6,
			Exceeded:  true,
		},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Kind != models.EventAnomalyScoreUpdated || ev.Score == nil || ev.Score.Sequence != 12 {
		t.Fatalf("event = %+v", ev)
	}
}
