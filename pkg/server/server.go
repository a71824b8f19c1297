// Package server assembles the openleash sidecar: the state store, nonce
// cache, challenge store, authorization service and audit log behind a chi
// router, plus the background sweepers that keep the in-memory caches
// bounded.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/auth"
	"github.com/openleash/openleash/pkg/authorize"
	"github.com/openleash/openleash/pkg/config"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/nonce"
	"github.com/openleash/openleash/pkg/observability"
	"github.com/openleash/openleash/pkg/proof"
	"github.com/openleash/openleash/pkg/registration"
	"github.com/openleash/openleash/pkg/store"
	"github.com/openleash/openleash/pkg/versioning"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators New wires together. Store is required; the
// rest fall back to in-process defaults.
type Deps struct {
	Store     *store.SQLStore
	Nonces    nonce.Store
	Recorder  audit.Recorder
	AuditLog  audit.Reader
	Telemetry *observability.Provider
	Logger    *slog.Logger
	Now       func() time.Time
}

// sweeper is implemented by caches that expire entries in the background.
type sweeper interface {
	Run(ctx context.Context, interval time.Duration)
}

// Server is a configured openleash sidecar.
type Server struct {
	cfg        *config.Config
	store      *store.SQLStore
	nonces     nonce.Store
	recorder   audit.Recorder
	auditLog   audit.Reader
	telemetry  *observability.Provider
	logger     *slog.Logger
	now        func() time.Time
	challenges *registration.ChallengeStore
	protocol   *registration.Protocol
	authn      *auth.AgentAuthenticator
	authz      *authorize.Service
	limiter    *api.GlobalRateLimiter
	handler    http.Handler

	closeMu sync.Mutex
	closers []func() error
}

// New builds a Server from cfg and deps.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Nonces == nil {
		deps.Nonces = nonce.NewMemoryStore(time.Duration(cfg.Security.NonceTTLSeconds)*time.Second,
			nonce.WithClock(deps.Now), nonce.WithLogger(deps.Logger))
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Nop
	}
	if deps.Telemetry == nil {
		deps.Telemetry, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}

	format, err := proof.NewFormat(cfg.Tokens.Format)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		store:      deps.Store,
		nonces:     deps.Nonces,
		recorder:   deps.Recorder,
		auditLog:   deps.AuditLog,
		telemetry:  deps.Telemetry,
		logger:     deps.Logger.With("component", "server"),
		now:        deps.Now,
		challenges: registration.NewChallengeStore(deps.Now),
	}
	s.protocol = registration.NewProtocol(s.challenges, s.store, registration.WithClock(deps.Now))

	telemetry := s.telemetry
	s.authn = auth.NewAgentAuthenticator(s.store, s.nonces, time.Duration(cfg.Security.ClockSkewSeconds)*time.Second).
		WithClock(deps.Now).
		OnReject(func(ctx context.Context, code auth.Code) { telemetry.RecordAuthFailure(ctx, string(code)) })

	s.authz = authorize.NewService(s.store,
		proof.NewIssuer(format, deps.Now),
		proof.NewVerifier(deps.Now),
		s.recorder,
		authorize.Options{
			DefaultProofTTL: cfg.Tokens.DefaultTTLSeconds,
			MaxProofTTL:     cfg.Tokens.MaxTTLSeconds,
		},
	)
	s.authz.SetTelemetry(s.telemetry)
	s.authz.SetLogger(deps.Logger.With("component", "authorize"))
	s.authz.Loader().OnReload(func(hash string, _ *contracts.Policy) {
		s.logger.Debug("policy parsed", "sha256", hash)
	})

	if cfg.RateLimit.RPS > 0 {
		s.limiter = api.NewGlobalRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	s.handler = s.routes()
	return s, nil
}

// Open builds every dependency from cfg: the SQL store, the nonce backend,
// the audit sinks and telemetry. Close releases them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func() error
	fail := func(err error) (*Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("server: data dir: %w", err)
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.StoreDSN())
	if err != nil {
		return fail(err)
	}
	closers = append(closers, st.Close)

	var nonces nonce.Store
	ttl := time.Duration(cfg.Security.NonceTTLSeconds) * time.Second
	switch cfg.Nonce.Backend {
	case "redis":
		rs := nonce.NewRedisStoreFromAddr(cfg.Nonce.RedisAddr, cfg.Nonce.RedisPassword, cfg.Nonce.RedisDB, ttl)
		closers = append(closers, rs.Close)
		if err := rs.Ping(ctx); err != nil {
			return fail(fmt.Errorf("server: nonce backend: %w", err))
		}
		nonces = rs
	default:
		nonces = nonce.NewMemoryStore(ttl, nonce.WithLogger(logger))
	}

	var (
		sinks  audit.Multi
		reader audit.Reader
	)
	if cfg.Audit.Sink == "store" || cfg.Audit.Sink == "both" {
		ss := audit.NewStoreSink(st)
		sinks = append(sinks, ss)
		reader = ss
	}
	if cfg.Audit.Sink == "file" || cfg.Audit.Sink == "both" || len(sinks) == 0 {
		fl, err := audit.OpenFileLog(cfg.AuditLogPath())
		if err != nil {
			return fail(err)
		}
		closers = append(closers, fl.Close)
		sinks = append(sinks, fl)
		reader = fl
	}
	var sink audit.Sink = sinks
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	recorder := audit.BestEffort(audit.NewRecorder(sink), logger)

	telemetry, err := observability.New(ctx, observability.FromTelemetry(cfg.Telemetry, versioning.Current))
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return telemetry.Shutdown(sctx)
	})

	s, err := New(cfg, Deps{
		Store:     st,
		Nonces:    nonces,
		Recorder:  recorder,
		AuditLog:  reader,
		Telemetry: telemetry,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}
	s.closers = closers
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Store returns the state store.
func (s *Server) Store() *store.SQLStore { return s.store }

// Recorder returns the audit recorder.
func (s *Server) Recorder() audit.Recorder { return s.recorder }

// Run serves HTTP on the configured bind address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.BindAddress)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	s.startSweepers(ctx, &wg)
	defer func() {
		cancel()
		wg.Wait()
	}()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	_ = s.recorder.Record(ctx, contracts.AuditServerStarted, map[string]any{
		"bind_address": ln.Addr().String(),
		"version":      versioning.Current,
	}, audit.Refs{})
	s.logger.Info("openleash listening", "addr", ln.Addr().String(), "version", versioning.Current)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) startSweepers(ctx context.Context, wg *sync.WaitGroup) {
	interval := time.Duration(s.cfg.Security.SweepIntervalSeconds) * time.Second
	runners := []sweeper{s.challenges}
	if sw, ok := s.nonces.(sweeper); ok {
		runners = append(runners, sw)
	}
	for _, r := range runners {
		wg.Add(1)
		go func(r sweeper) {
			defer wg.Done()
			r.Run(ctx, interval)
		}(r)
	}
	if s.limiter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.limiter.Run(ctx)
		}()
	}
}

// Close releases everything Open acquired, in reverse order.
func (s *Server) Close() error {
	s.closeMu.Lock()
	closers := s.closers
	s.closers = nil
	s.closeMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
