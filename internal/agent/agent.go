package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voxproxy/internal/lifecycle"
	"github.com/dgnsrekt/voxproxy/internal/router"
	"github.com/dgnsrekt/voxproxy/internal/store"
)

// Agent is the background caching agent: a local HTTP server that
// proxies page requests to the chat application through the request
// router, backed by the store generations the lifecycle manager owns.
type Agent struct {
	cfg      Config
	upstream *url.URL
	manager  *lifecycle.Manager
	router   *router.Router
	logger   *log.Logger
}

// New creates an agent from the given configuration.
func New(cfg Config, logger *log.Logger) (*Agent, error) {
	if logger == nil {
		logger = log.Default()
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.UpstreamURL)
	}

	var reg store.Registry
	if cfg.CacheDir != "" {
		reg, err = store.NewDiskRegistry(cfg.CacheDir, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("unable to open cache directory: %w", err)
		}
	} else {
		reg = store.NewMemoryRegistry()
	}

	fetcher := lifecycle.NewHTTPFetcher(nil, upstream, cfg.InstallRatePerSecond)
	manager := lifecycle.NewManager(reg, fetcher, logger)

	prefixes := cfg.BypassPrefixes
	if len(prefixes) == 0 {
		prefixes = router.DefaultBypassPrefixes
	}
	rt := router.New(manager, nil,
		router.WithBypassPrefixes(prefixes),
		router.WithOriginHost(upstream.Host),
		router.WithLogger(logger),
	)

	return &Agent{
		cfg:      cfg,
		upstream: upstream,
		manager:  manager,
		router:   rt,
		logger:   logger,
	}, nil
}

// Manager exposes the lifecycle manager for command wiring.
func (a *Agent) Manager() *lifecycle.Manager {
	return a.manager
}

// Install loads the manifest, initializes a store generation named by
// the manifest's content hash and finalizes it. A failed install is
// logged and leaves the previous generation serving. After a restart
// the sole persisted generation is adopted first, so an unchanged
// manifest needs no fetches and a failed install still ends with the
// persisted generation serving.
func (a *Agent) Install(ctx context.Context) error {
	version, assets, err := LoadManifest(a.cfg.ManifestPath)
	if err != nil {
		return err
	}

	if a.manager.Current() == nil {
		if _, err := a.manager.Adopt(); err != nil {
			a.logger.Warn("unable to adopt persisted store", "err", err)
		}
	}

	if cur := a.manager.Current(); cur != nil && cur.Name() == version {
		a.logger.Debug("manifest unchanged", "version", version)
		return nil
	}

	if err := a.manager.Initialize(ctx, version, assets); err != nil {
		return err
	}
	return a.manager.Finalize(ctx, version)
}

// Handler returns the HTTP handler the page talks to: a same-origin
// reverse proxy whose transport is the request router.
func (a *Agent) Handler() http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(a.upstream)
	proxy.Transport = a.router
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		a.logger.Warn("proxy error", "path", r.URL.Path, "err", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
	}
	return proxy
}

// Serve runs the agent's HTTP server until ctx is cancelled, watching
// the manifest file and re-installing when it changes.
func (a *Agent) Serve(ctx context.Context) error {
	if err := a.Install(ctx); err != nil {
		// Fail-closed on correctness, fail-open on availability: the
		// agent still serves, falling back to live fetches.
		a.logger.Error("initial install failed", "err", err)
	}

	stopWatch, err := WatchManifest(a.cfg.ManifestPath, func() {
		if err := a.Install(ctx); err != nil {
			a.logger.Error("manifest reinstall failed", "err", err)
		}
	})
	if err != nil {
		a.logger.Warn("manifest watch unavailable", "err", err)
	} else {
		defer stopWatch() //nolint:errcheck
	}

	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("caching agent listening", "addr", a.cfg.ListenAddr, "upstream", a.upstream.String())
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}
}
