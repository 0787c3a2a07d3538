package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"attendguard/internal/alerts"
	"attendguard/internal/clock"
	"attendguard/internal/config"
	"attendguard/internal/engine"
	"attendguard/internal/metrics"
	"attendguard/internal/model"
	"attendguard/internal/outlier"
	"attendguard/internal/storage"
)

type EngineControl interface {
	Reset()
	Inspect(ctx context.Context, employeeCode string, date time.Time) (engine.InspectResult, error)
	Train(ctx context.Context) (engine.TrainResult, error)
	ModelStatus() outlier.Status
}

// Records is the read side of the store the API serves from.
type Records interface {
	FindEmployeeByCode(ctx context.Context, code string) (model.Employee, error)
	ListRecords(ctx context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error)
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
}

type Server struct {
	cfg      *config.Manager
	presence *metrics.Store
	alerts   *alerts.Store
	records  Records
	engine   EngineControl
	logger   *slog.Logger
	version  string
	started  time.Time
}

type statusResponse struct {
	Status     string                 `json:"status"`
	Time       string                 `json:"time"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	ConfigPath string                 `json:"config_path"`
	Ingest     ingestStatus           `json:"ingest"`
	API        apiStatus              `json:"api"`
	Storage    storageStatus          `json:"storage"`
	Model      outlier.Status         `json:"model"`
	Detection  config.DetectionConfig `json:"detection"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	Lines    bool `json:"lines"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

func NewServer(cfg *config.Manager, presence *metrics.Store, feed *alerts.Store, records Records, eng EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		presence: presence,
		alerts:   feed,
		records:  records,
		engine:   eng,
		logger:   logger,
		version:  version,
		started:  time.Now().UTC(),
	}
}

func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/alerts/recent", s.handleRecentAlerts)
	r.Route("/employees/{code}/records", func(rr chi.Router) {
		rr.Get("/", s.handleRecords)
		rr.Get("/{date}/inspect", s.handleInspect)
	})
	r.Post("/model/train", s.handleTrain)
	r.Post("/admin/clear", s.handleClear)
	r.Post("/admin/restart", s.handleRestart)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			Lines:    cfg.Ingest.Lines.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
		API:       apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage:   storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Detection: cfg.Detection,
	}
	if s.engine != nil {
		resp.Model = s.engine.ModelStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Get().Detection.Location()
	date := clock.DateOf(time.Now(), loc)
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := clock.ParseDate(v, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		date = d
	}
	withEmployees := r.URL.Query().Get("employees") == "true"
	writeJSON(w, http.StatusOK, s.presence.Snapshot(date, withEmployees))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.AlertFilter
	if code := q.Get("employee"); code != "" {
		emp, err := s.records.FindEmployeeByCode(r.Context(), code)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		filter.EmployeeID = emp.ID
	}
	if v := q.Get("severity"); v != "" {
		filter.Severity = model.Severity(strings.ToLower(v))
		if !filter.Severity.Valid() {
			writeError(w, http.StatusBadRequest, errors.New("unknown severity"))
			return
		}
	}
	if v := q.Get("kind"); v != "" {
		filter.Kind = model.AlertKind(v)
		if !filter.Kind.Valid() {
			writeError(w, http.StatusBadRequest, errors.New("unknown alert kind"))
			return
		}
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Resolved = &b
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Since = ts
	}
	filter.Limit = queryInt(r, "limit", 100)
	list, err := s.records.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(queryInt(r, "limit", 0))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	emp, err := s.records.FindEmployeeByCode(r.Context(), code)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	loc := s.cfg.Get().Detection.Location()
	var from, to time.Time
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		if v := r.URL.Query().Get(name); v != "" {
			d, err := clock.ParseDate(v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			*dst = d
		}
	}
	list, err := s.records.ListRecords(r.Context(), emp.ID, from, to)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee": emp,
		"records":  list,
		"count":    len(list),
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Get().Detection.Location()
	date, err := clock.ParseDate(chi.URLParam(r, "date"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.Inspect(r.Context(), chi.URLParam(r, "code"), date)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Train(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Trained {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"trained": res.Trained,
		"samples": res.Samples,
		"model":   s.engine.ModelStatus(),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.presence.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "presence", "stats":
		s.presence.Clear()
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown clear target"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if s.engine != nil {
		s.engine.Reset()
	}
	s.presence.Clear()
	s.alerts.Clear()
	if s.logger != nil {
		s.logger.Info("in-memory detection state reset")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if s.logger != nil {
		s.logger.Error("api store error", "err", err)
	}
	writeError(w, http.StatusInternalServerError, err)
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
