// Package config loads the service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copperline/lmsolve/internal/optimization/levenberg"
	"github.com/copperline/lmsolve/internal/optimization/linear"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Solver struct {
		Factorization    string  `env:"SOLVER_FACTORIZATION" envDefault:"cholesky"`
		Elimination      string  `env:"SOLVER_ELIMINATION" envDefault:"multifrontal"`
		LambdaInitial    float64 `env:"SOLVER_LAMBDA_INITIAL" envDefault:"1e-5"`
		LambdaFactor     float64 `env:"SOLVER_LAMBDA_FACTOR" envDefault:"10"`
		LambdaUpperBound float64 `env:"SOLVER_LAMBDA_UPPER_BOUND" envDefault:"1e5"`
		MaxIterations    int     `env:"SOLVER_MAX_ITERATIONS" envDefault:"100"`
		RelativeErrorTol float64 `env:"SOLVER_RELATIVE_ERROR_TOL" envDefault:"1e-5"`
		AbsoluteErrorTol float64 `env:"SOLVER_ABSOLUTE_ERROR_TOL" envDefault:"1e-5"`
		ErrorTol         float64 `env:"SOLVER_ERROR_TOL" envDefault:"0"`
		Verbosity        string  `env:"SOLVER_VERBOSITY" envDefault:"silent"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development runs default to debug logging unless set explicitly.
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// SolverParams translates the solver configuration strings into validated
// optimizer parameters. Invalid selections surface immediately as fatal
// configuration errors.
func (c *Config) SolverParams() (levenberg.Params, error) {
	p := levenberg.Params{
		LambdaInitial:    c.Solver.LambdaInitial,
		LambdaFactor:     c.Solver.LambdaFactor,
		LambdaUpperBound: c.Solver.LambdaUpperBound,
		MaxIterations:    c.Solver.MaxIterations,
		RelativeErrorTol: c.Solver.RelativeErrorTol,
		AbsoluteErrorTol: c.Solver.AbsoluteErrorTol,
		ErrorTol:         c.Solver.ErrorTol,
	}

	var err error
	if p.Factorization, err = linear.ParseFactorization(c.Solver.Factorization); err != nil {
		return levenberg.Params{}, err
	}
	if p.Elimination, err = linear.ParseElimination(c.Solver.Elimination); err != nil {
		return levenberg.Params{}, err
	}
	if p.Verbosity, err = levenberg.ParseVerbosity(c.Solver.Verbosity); err != nil {
		return levenberg.Params{}, err
	}
	if err = p.Validate(); err != nil {
		return levenberg.Params{}, err
	}
	return p, nil
}
