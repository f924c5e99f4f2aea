// Package server exposes the curve-fitting solver over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copperline/lmsolve/internal/config"
	"github.com/copperline/lmsolve/internal/fitting"
	"github.com/copperline/lmsolve/internal/optimization"
	"github.com/copperline/lmsolve/internal/optimization/levenberg"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

// Server handles fit requests by running the Levenberg-Marquardt driver
// synchronously per request. It holds no per-request state.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics
}

// New creates a server. Metrics are registered on reg; pass
// prometheus.DefaultRegisterer in production.
func New(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		metrics: newMetrics(reg),
	}
}

// RegisterRoutes mounts the API on the router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fit", s.handleFit)
	})
	r.Get("/healthz", s.handleHealth)
}

// fitRequest is the JSON body of POST /api/v1/fit.
type fitRequest struct {
	Model   string      `json:"model"`
	X       []float64   `json:"x"`
	Y       []float64   `json:"y"`
	Initial []float64   `json:"initial"`
	Sigma   float64     `json:"sigma,omitempty"`
	Options *fitOptions `json:"options,omitempty"`
}

// fitOptions optionally overrides the configured solver parameters for one
// request. Zero values keep the configured defaults.
type fitOptions struct {
	Factorization    string  `json:"factorization,omitempty"`
	Elimination      string  `json:"elimination,omitempty"`
	LambdaInitial    float64 `json:"lambda_initial,omitempty"`
	LambdaFactor     float64 `json:"lambda_factor,omitempty"`
	LambdaUpperBound float64 `json:"lambda_upper_bound,omitempty"`
	MaxIterations    int     `json:"max_iterations,omitempty"`
}

// fitResponse is the JSON body returned for a completed fit.
type fitResponse struct {
	Parameters []float64 `json:"parameters"`
	Error      float64   `json:"error"`
	Iterations int       `json:"iterations"`
	Lambda     float64   `json:"lambda"`
	Converged  bool      `json:"converged"`
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req fitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.rejectFit(w, "unknown", "invalid request body: "+err.Error())
		return
	}

	model, err := fitting.ModelByName(req.Model)
	if err != nil {
		s.rejectFit(w, req.Model, err.Error())
		return
	}

	const key = optimization.Key("theta")
	problem := fitting.NewProblem()
	if err := problem.AddSeries(key, model, req.X, req.Y, req.Sigma); err != nil {
		s.rejectFit(w, req.Model, err.Error())
		return
	}
	initial, err := problem.InitialValues(map[optimization.Key][]float64{key: req.Initial})
	if err != nil {
		s.rejectFit(w, req.Model, err.Error())
		return
	}

	params, err := s.solverParams(req.Options)
	if err != nil {
		s.rejectFit(w, req.Model, err.Error())
		return
	}

	optimizer, err := levenberg.New(problem, problem.Ordering(), params, s.logger)
	if err != nil {
		s.rejectFit(w, req.Model, err.Error())
		return
	}

	result, err := optimizer.Optimize(r.Context(), initial)
	if err != nil {
		s.logger.Error("fit failed", zap.String("model", req.Model), zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		s.metrics.fits.WithLabelValues(req.Model, "failed").Inc()
		return
	}

	status := "ok"
	if !result.Converged {
		status = "not_converged"
	}
	s.metrics.fits.WithLabelValues(req.Model, status).Inc()
	s.metrics.duration.Observe(time.Since(start).Seconds())
	s.metrics.iterations.Observe(float64(result.State.Iteration))

	final := result.State.Values.(optimization.VectorValues)
	s.respondJSON(w, http.StatusOK, fitResponse{
		Parameters: final.At(key),
		Error:      result.State.Error,
		Iterations: result.State.Iteration,
		Lambda:     result.State.Lambda,
		Converged:  result.Converged,
	})
}

// rejectFit reports a malformed fit request.
func (s *Server) rejectFit(w http.ResponseWriter, model, msg string) {
	s.respondError(w, http.StatusBadRequest, msg)
	s.metrics.fits.WithLabelValues(model, "bad_request").Inc()
}

// solverParams merges per-request overrides onto the configured defaults.
func (s *Server) solverParams(opts *fitOptions) (levenberg.Params, error) {
	params, err := s.cfg.SolverParams()
	if err != nil {
		return levenberg.Params{}, err
	}
	if opts == nil {
		return params, nil
	}
	if opts.Factorization != "" {
		if params.Factorization, err = linear.ParseFactorization(opts.Factorization); err != nil {
			return levenberg.Params{}, err
		}
	}
	if opts.Elimination != "" {
		if params.Elimination, err = linear.ParseElimination(opts.Elimination); err != nil {
			return levenberg.Params{}, err
		}
	}
	if opts.LambdaInitial > 0 {
		params.LambdaInitial = opts.LambdaInitial
	}
	if opts.LambdaFactor > 0 {
		params.LambdaFactor = opts.LambdaFactor
	}
	if opts.LambdaUpperBound > 0 {
		params.LambdaUpperBound = opts.LambdaUpperBound
	}
	if opts.MaxIterations > 0 {
		params.MaxIterations = opts.MaxIterations
	}
	return params, params.Validate()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
