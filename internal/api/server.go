// Package api exposes the effort engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/evaluation"
	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/notify"
	"github.com/sells-group/effort-cli/internal/pipeline"
	"github.com/sells-group/effort-cli/internal/policy"
	"github.com/sells-group/effort-cli/internal/regressor"
	"github.com/sells-group/effort-cli/internal/store"
)

// maxBodyBytes bounds request bodies to the upload size limit.
const maxBodyBytes = dataset.MaxFileSize

// Server handles API requests. The store is optional; without one, model
// endpoints answer 503 and processing uses the fallback cascade only.
type Server struct {
	cfg     *config.Config
	store   store.Store
	senders []notify.Sender
}

// NewServer creates a Server.
func NewServer(cfg *config.Config, st store.Store, senders []notify.Sender) *Server {
	return &Server{cfg: cfg, store: st, senders: senders}
}

// Handler returns the routed handler with CORS and recovery middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/process", s.process)
		r.Post("/train", s.train)
		r.Get("/models", s.listModels)
		r.Get("/models/active/importance", s.activeImportance)
	})
	return r
}

// TableRequest carries an upload as columns and string rows.
type TableRequest struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	// Notify sends alerts for the processed rows (process only).
	Notify bool `json:"notify,omitempty"`
	// Name and Activate apply to train only.
	Name     string `json:"name,omitempty"`
	Activate *bool  `json:"activate,omitempty"`
}

// ProcessResponse is the body of a successful process call.
type ProcessResponse struct {
	Results []model.PredictionResult `json:"results"`
	Summary evaluation.Summary       `json:"summary"`
	Sent    int                      `json:"notifications_sent"`
}

// TrainResponse is the body of a successful train call.
type TrainResponse struct {
	ModelID string            `json:"model_id"`
	Name    string            `json:"name"`
	Active  bool              `json:"active"`
	Metrics regressor.Metrics `json:"metrics"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*TableRequest, *model.Dataset, bool) {
	var req TableRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	ds, err := dataset.Decode(req.Columns, req.Rows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return &req, ds, true
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	req, ds, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var opts []pipeline.Option
	if tm := s.activeModel(ctx); tm != nil {
		a, err := regressor.NewAdapter(s.cfg.Model, policy.New(s.cfg.Policy))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		opts = append(opts, pipeline.WithModel(a, tm))
	}

	orch := pipeline.New(s.cfg, opts...)
	out, err := orch.Process(ctx, ds)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := ProcessResponse{
		Results: out.Results,
		Summary: evaluation.Summarize(ds, out, orch.Policy()),
	}
	if req.Notify && len(s.senders) > 0 {
		notes := notify.BuildNotifications(ds, out.Results)
		resp.Sent, err = notify.Dispatch(ctx, s.senders, resp.Summary, notes)
		if err != nil {
			zap.L().Warn("api: notification delivery incomplete", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	req, ds, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	a, err := regressor.NewAdapter(s.cfg.Model, policy.New(s.cfg.Policy))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tm, metrics, err := a.Train(ctx, ds, req.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	activate := req.Activate == nil || *req.Activate
	resp := TrainResponse{ModelID: tm.ID, Name: tm.Name, Metrics: metrics}
	if s.store != nil {
		if err := s.store.SaveModel(ctx, tm, activate); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Active = activate
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "model registry is not configured")
		return
	}
	models, err := s.store.ListModels(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []store.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) activeImportance(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "model registry is not configured")
		return
	}
	tm, err := s.store.GetActiveModel(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tm == nil {
		writeError(w, http.StatusNotFound, "no active model")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id":   tm.ID,
		"importance": regressor.FeatureImportance(tm),
	})
}

// activeModel loads the registry's active model. Failures are logged and
// processing falls back to the rule cascade.
func (s *Server) activeModel(ctx context.Context) *regressor.TrainedModel {
	if s.store == nil {
		return nil
	}
	tm, err := s.store.GetActiveModel(ctx)
	if err != nil {
		zap.L().Warn("api: active model unavailable", zap.Error(err))
		return nil
	}
	return tm
}

func writeEngineError(w http.ResponseWriter, err error) {
	var ide *model.InsufficientDataError
	var sme *model.SchemaMismatchError
	switch {
	case errors.As(err, &ide):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &sme):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		zap.L().Error("api: engine failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("api: shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("api: starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "api: listen")
	}
	return nil
}
