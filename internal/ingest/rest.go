package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/engine"
	"attendguard/internal/model"
	"attendguard/internal/normalize"
)

// SwipeProcessor applies a swipe and reports what happened.
type SwipeProcessor interface {
	ProcessSwipe(ctx context.Context, sw model.Swipe) (engine.Outcome, error)
}

type RESTServer struct {
	cfg    *config.Manager
	proc   SwipeProcessor
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, proc SwipeProcessor, logger *slog.Logger) *RESTServer {
	return &RESTServer{cfg: cfg, proc: proc, logger: logger}
}

func StartREST(ctx context.Context, cfg *config.Manager, proc SwipeProcessor, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(cfg, proc, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /swipe", s.handleSwipe)
	mux.HandleFunc("POST /swipes", s.handleBatch)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

type swipeResponse struct {
	engine.Outcome
	Error string `json:"error,omitempty"`
}

func (s *RESTServer) handleSwipe(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	out, err := s.process(r.Context(), obj)
	code := statusCode(out, err)
	resp := swipeResponse{Outcome: out}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, code, resp)
}

func (s *RESTServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected a json array of swipes"})
		return
	}
	results := make([]swipeResponse, 0, len(list))
	accepted, failed := 0, 0
	for _, obj := range list {
		out, err := s.process(r.Context(), obj)
		resp := swipeResponse{Outcome: out}
		if err != nil {
			resp.Error = err.Error()
			failed++
		} else {
			accepted++
		}
		results = append(results, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"failed":   failed,
		"results":  results,
	})
}

func (s *RESTServer) process(ctx context.Context, obj map[string]any) (engine.Outcome, error) {
	fields := ParseJSONMap(obj)
	sw, err := normalize.Normalize(*fields, s.cfg.Get(), "rest")
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest normalize error", "err", err)
		}
		return engine.Outcome{}, err
	}
	return s.proc.ProcessSwipe(ctx, sw)
}

func statusCode(out engine.Outcome, err error) int {
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrUnknownCredential):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRevokedCredential):
		return http.StatusForbidden
	case errors.Is(err, normalize.ErrMissingCredential), errors.Is(err, engine.ErrMissingCredential),
		errors.Is(err, normalize.ErrInvalidTimestamp):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
	switch out.Status {
	case engine.StatusCheckedIn:
		return http.StatusCreated
	case engine.StatusAlreadyCheckedOut, engine.StatusOutOfOrder:
		return http.StatusConflict
	}
	return http.StatusOK
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	trim := bytesTrim(body)
	if len(trim) == 0 {
		return nil, errors.New("empty body")
	}
	return trim, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func bytesTrim(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
