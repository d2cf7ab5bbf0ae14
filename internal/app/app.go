// Package app wires all livescribe subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled and then drains
// the active session, and Shutdown tears the remaining pieces down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithTranscriber, etc.). When an option is not provided, New
// creates real implementations from the config through the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/api"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/mcp"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// readHeaderTimeout bounds reading request headers on the public listener.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the livescribe server.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	registry   *config.Registry
	version    string
	levelVar   *slog.LevelVar
	configPath string

	// Subsystems, initialised in New.
	source         audio.Source
	transcriber    transcriber.Provider
	injectedTr     bool
	metrics        *observe.Metrics
	metricsHandler http.Handler
	hub            *api.Hub
	sessions       *SessionManager
	handler        http.Handler
	server         *http.Server
	watcher        *config.Watcher

	// addr is the bound listener address once Run is serving.
	addr    string
	serving chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry used to build backends from config.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithSource injects an audio source instead of creating one from config.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithTranscriber injects a transcriber instead of building the failover
// chain from config. Config reloads then never replace it.
func WithTranscriber(t transcriber.Provider) Option {
	return func(a *App) {
		a.transcriber = t
		a.injectedTr = true
	}
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any backend.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		version: "dev",
		serving: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Transcriber ───────────────────────────────────────────────────
	if a.transcriber == nil {
		if a.registry == nil {
			return nil, errors.New("app: no transcriber injected and no registry to build one")
		}
		chain, err := buildTranscriber(cfg, a.registry, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("app: init transcriber: %w", err)
		}
		a.transcriber = chain
	}

	// ── 2. Audio source ──────────────────────────────────────────────────
	if a.source == nil {
		if a.registry == nil {
			return nil, errors.New("app: no audio source injected and no registry to build one")
		}
		src, err := a.registry.CreateAudio(cfg.Audio.Source)
		if err != nil {
			return nil, fmt.Errorf("app: init audio source: %w", err)
		}
		a.source = src
	}

	// ── 3. Sessions and events ───────────────────────────────────────────
	a.hub = api.NewHub(0)
	a.closers = append(a.closers, a.hub.Close)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Source:      a.source,
		Transcriber: a.transcriber,
		Session:     SessionConfig(cfg),
		Events:      a.hub,
		Metrics:     a.metrics,
	})

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.buildHandler()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// ── 5. Config hot reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.reload)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	slog.Info("application initialised",
		"listen_addr", cfg.Server.ListenAddr,
		"audio_source", cfg.Audio.Source.Name,
		"transcriber", cfg.Transcriber.Primary.Name,
		"fallbacks", len(cfg.Transcriber.Fallbacks),
		"mcp", cfg.MCP.Enabled,
	)
	return a, nil
}

// buildHandler assembles the API server with health checks, audio ingress,
// metrics and the optional MCP endpoint.
func (a *App) buildHandler() http.Handler {
	var checkers []health.Checker
	if av, ok := a.transcriber.(health.Availability); ok {
		checkers = append(checkers, health.Available("transcriber", av))
	}
	if av, ok := a.source.(health.Availability); ok {
		checkers = append(checkers, health.Available("audio", av))
	}

	cfg := api.Config{
		Sessions:    a.sessions,
		Events:      a.hub,
		Metrics:     a.metricsHandler,
		Health:      health.New(checkers...),
		HTTPMetrics: a.metrics,
	}
	if h, ok := a.source.(http.Handler); ok {
		cfg.Audio = h
	}
	if a.cfg.MCP.Enabled {
		cfg.MCP = mcp.Handler(mcp.NewServer(a.sessions, a.version))
	}
	return api.New(cfg).Handler()
}

// buildTranscriber creates the primary backend and its fallbacks, each behind
// its own circuit breaker whose transitions are counted in m.
func buildTranscriber(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*resilience.TranscriberFallback, error) {
	tc := cfg.Transcriber
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  tc.CircuitBreaker.MaxFailures,
			ResetTimeout: tc.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  tc.CircuitBreaker.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	primary, err := reg.CreateTranscriber(tc.Primary)
	if err != nil {
		return nil, fmt.Errorf("create primary %q: %w", tc.Primary.Name, err)
	}
	chain := resilience.NewTranscriberFallback(primary, tc.Primary.Name, fbCfg)

	seen := map[string]bool{tc.Primary.Name: true}
	for i, entry := range tc.Fallbacks {
		p, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback %d %q: %w", i, entry.Name, err)
		}
		label := entry.Name
		if seen[label] {
			label = fmt.Sprintf("%s#%d", entry.Name, i+1)
		}
		seen[label] = true
		chain.AddFallback(label, p)
	}
	return chain, nil
}

// Handler returns the root HTTP handler. Useful for serving the App from a
// test server without calling Run.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr returns the bound listener address after Run started serving, or "".
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Serving is closed once Run has bound its listener.
func (a *App) Serving() <-chan struct{} { return a.serving }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it ends the active session, waits for its final segment and
// then shuts the HTTP server down, both bounded by server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.mu.Unlock()
	close(a.serving)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		var err error
		if tls := a.currentConfig().Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.drain()
	})
	return g.Wait()
}

// drain ends the active session and stops accepting HTTP requests.
func (a *App) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.currentConfig().Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// reload applies a changed config file. Session settings take effect for the
// next session; listener, TLS, MCP and audio source changes need a restart.
func (a *App) reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	slog.Info("config changed", "sections", d.Sections)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired || old.Audio.Source.Name != new.Audio.Source.Name {
		slog.Warn("some changed settings only take effect after a restart",
			"listen_addr", new.Server.ListenAddr,
			"audio_source", new.Audio.Source.Name,
			"mcp", new.MCP.Enabled,
		)
	}

	if d.SessionChanged {
		var tr transcriber.Provider
		if !a.injectedTr && a.registry != nil && slices.Contains(d.Sections, "transcriber") {
			chain, err := buildTranscriber(new, a.registry, a.metrics)
			if err != nil {
				slog.Warn("config reload: keeping previous transcriber", "err", err)
			} else {
				tr = chain
			}
		}
		a.sessions.UpdateConfig(SessionConfig(new), tr)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

// currentConfig returns the most recently applied config.
func (a *App) currentConfig() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the active session if Run has not already done so, then runs
// the closers in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
