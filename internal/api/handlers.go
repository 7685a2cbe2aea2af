package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sentinelstack/sentinel-engine/internal/archive"
	"github.com/sentinelstack/sentinel-engine/internal/bus"
	"github.com/sentinelstack/sentinel-engine/internal/engine"
	"github.com/sentinelstack/sentinel-engine/internal/models"
)

// PipelineAPI is the slice of the pipeline the HTTP layer needs.
type PipelineAPI interface {
	Submit(ctx context.Context, m models.Measurement) (engine.SubmitResult, error)
	Reconfigure(ctx context.Context, req engine.Reconfig) error
	Status(ctx context.Context) (models.PipelineStatus, error)
}

// ReportReader serves archived consensus reports.
type ReportReader interface {
	ListReports(ctx context.Context, limit int) ([]models.ConsensusReport, error)
	GetReport(ctx context.Context, reportID string) (models.ConsensusReport, error)
}

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe() *bus.Subscription
}

// Handlers bundles the HTTP endpoints over the engine.
type Handlers struct {
	logger   *slog.Logger
	pipeline PipelineAPI
	reports  ReportReader
	events   EventSource
	upgrader websocket.Upgrader
}

// NewHandlers wires the endpoint set. reports and events may be nil when the
// corresponding subsystem is disabled; their endpoints then answer 404.
func NewHandlers(logger *slog.Logger, pipeline PipelineAPI, reports ReportReader, events EventSource) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:   logger.With(slog.String("component", "api")),
		pipeline: pipeline,
		reports:  reports,
		events:   events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/ingest", h.handleIngest).Methods(http.MethodPost)
	v1.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/config", h.handleConfig).Methods(http.MethodPut)
	v1.HandleFunc("/reports", h.handleListReports).Methods(http.MethodGet)
	v1.HandleFunc("/reports/{id}", h.handleGetReport).Methods(http.MethodGet)
	v1.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
}

type ingestResponse struct {
	Status     models.IngestStatus  `json:"status"`
	WindowFill int                  `json:"window_fill"`
	Score      *models.AnomalyScore `json:"score,omitempty"`
}

func (h *Handlers) handleIngest(w http.ResponseWriter, r *http.Request) {
	var m models.Measurement
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid measurement payload")
		return
	}

	res, err := h.pipeline.Submit(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:     res.Status,
		WindowFill: res.WindowFill,
		Score:      res.Score,
	})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.pipeline.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type configRequest struct {
	WindowCapacity       *int     `json:"window_capacity,omitempty"`
	Decimation           *int     `json:"decimation,omitempty"`
	ConsecutiveThreshold *int     `json:"consecutive_threshold,omitempty"`
	MinTriggerInterval   *string  `json:"min_trigger_interval,omitempty"`
	Alpha                *float64 `json:"alpha,omitempty"`
}

func (h *Handlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	var body configRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config payload")
		return
	}

	req := engine.Reconfig{
		WindowCapacity:       body.WindowCapacity,
		Decimation:           body.Decimation,
		ConsecutiveThreshold: body.ConsecutiveThreshold,
		Alpha:                body.Alpha,
	}
	if body.MinTriggerInterval != nil {
		d, err := time.ParseDuration(*body.MinTriggerInterval)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_trigger_interval")
			return
		}
		req.MinInterval = &d
	}

	if err := h.pipeline.Reconfigure(r.Context(), req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.pipeline.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) handleListReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	reports, err := h.reports.ListReports(r.Context(), limit)
	if err != nil {
		h.logger.Error("list reports", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handlers) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive disabled")
		return
	}
	report, err := h.reports.GetReport(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		h.logger.Error("get report", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEvents upgrades to a websocket and streams events until the client
// goes away. A slow client sheds its oldest events upstream in the
// publisher, so writes here never back up the pipeline.
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.events.Subscribe()
	defer sub.Close()

	// Reader goroutine: its only job is noticing the client hanging up.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
