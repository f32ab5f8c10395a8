package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cartobot/internal/eventbus"
	rtsup "cartobot/internal/runtime/supervisor"
	logx "cartobot/pkg/logx"
)

// Status is what /healthz reports.
type Status struct {
	State string         `json:"state"`
	Ready bool           `json:"ready"`
	Jobs  []JobStatus    `json:"jobs,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

type JobStatus struct {
	Name     string    `json:"name"`
	Hour     int       `json:"hour"`
	Next     time.Time `json:"next,omitempty"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
}

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the optional ops HTTP endpoint. It only binds loopback addresses
// unless an explicit host is given.
type Server struct {
	cfg     Config
	log     logx.Logger
	metrics *Metrics
	bus     eventbus.Bus
	status  func() Status

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	addr string
}

func NewServer(cfg Config, metrics *Metrics, bus eventbus.Bus, status func() Status, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9464"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// pprof profile endpoints stream for up to 30s.
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "ops")), metrics: metrics, bus: bus, status: status}
}

// Handler builds the router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	r.Mount("/debug", middleware.Profiler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := Status{State: "unknown"}
	if s.status != nil {
		st = s.status()
	}
	w.Header().Set("Content-Type", "application/json")
	if !st.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// Start listens and serves in the background. The bus collector runs
// alongside. Start is a no-op if already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup = sup
	if s.metrics != nil && s.bus != nil {
		sup.Go("metrics.collect", func(ctx context.Context) error {
			return s.metrics.Collect(ctx, s.bus)
		})
	}
	sup.Go("http.shutdown", func(ctx context.Context) error {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
		return nil
	})
	sup.Go("http.serve", func(ctx context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
			return nil
		}
		return err
	})
	s.log.Info("ops server started", logx.String("addr", s.addr))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("ops server stopped")
	return err
}
