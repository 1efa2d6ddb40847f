// Package server exposes the runtime over HTTP: goal declaration, invocation,
// ground truth, synthesis, proposal history, and a WebSocket stream of
// synthesis progress.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teleologic/telos/pkg/bus"
	"github.com/teleologic/telos/pkg/cost"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/storage"
	"github.com/teleologic/telos/pkg/synth"
	"github.com/teleologic/telos/pkg/truth"
)

// invoker dispatches goal calls.
type invoker interface {
	Invoke(ctx context.Context, goalName string, args map[string]any) (any, error)
}

// synthesizer runs synthesis for a goal.
type synthesizer interface {
	Synthesize(ctx context.Context, goalName string) (*synth.RunResult, error)
}

// apiStore is the read/declare surface the handlers need.
type apiStore interface {
	CreateGoal(goal *schema.Goal) error
	GetGoal(name string) (*schema.Goal, error)
	ListGoals() ([]*schema.Goal, error)
	ListProposals(goalName string) ([]*storage.Proposal, error)
	GetProposal(id string) (*storage.Proposal, error)
	GetRegistryChain(goalName string) ([]*storage.RegistryEntry, error)
	QueryInvocations(goalName string, filter storage.InvocationFilter) ([]*storage.InvocationRecord, error)
}

// budgetReader exposes spend status.
type budgetReader interface {
	Status() *cost.BudgetStatus
}

// Server is the HTTP front end.
type Server struct {
	store   apiStore
	router  invoker
	truth   *truth.Service
	synth   synthesizer
	tracker budgetReader
	bus     bus.Bus
	logger  *logging.Logger
	addr    string
}

// Config wires the server's collaborators.
type Config struct {
	Addr    string
	Store   apiStore
	Router  invoker
	Truth   *truth.Service
	Synth   synthesizer
	Tracker budgetReader
	Bus     bus.Bus
	Logger  *logging.Logger
}

// New builds a server. Tracker and Bus may be nil; the budget endpoint and
// progress stream degrade gracefully.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Server{
		store:   cfg.Store,
		router:  cfg.Router,
		truth:   cfg.Truth,
		synth:   cfg.Synth,
		tracker: cfg.Tracker,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		addr:    cfg.Addr,
	}
}

// Routes assembles the chi router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/synthesis", s.handleSynthesisStream)

	r.Route("/api", func(r chi.Router) {
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", s.handleListGoals)
			r.Post("/", s.handleDeclareGoal)
			r.Route("/{goal}", func(r chi.Router) {
				r.Get("/", s.handleGetGoal)
				r.Post("/invoke", s.handleInvoke)
				r.Get("/truth", s.handleGetTruth)
				r.Put("/truth", s.handlePutTruth)
				r.Post("/synthesize", s.handleSynthesize)
				r.Get("/proposals", s.handleListProposals)
				r.Get("/chain", s.handleGetChain)
				r.Get("/log", s.handleQueryLog)
			})
		})
		r.Get("/proposals/{id}", s.handleGetProposal)
		r.Get("/budget", s.handleBudget)
	})
	return r
}

// Start runs the HTTP server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info(logging.CategoryServer, "listening", "server started", map[string]any{
		"addr": s.addr,
	})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
