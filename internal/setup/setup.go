// Package setup wires the agent together: configuration, storage, the
// broadcast transport, the signer, the wallet and its HTTP surface.
package setup

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	clientconfig "github.com/quantumauth-io/quantum-wallet/cmd/quantum-wallet/config"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/wtypes"
	clienthttp "github.com/quantumauth-io/quantum-wallet/internal/http"
	"github.com/quantumauth-io/quantum-wallet/internal/metrics"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/pairing"
	"github.com/quantumauth-io/quantum-wallet/internal/wallet"
)

const shutdownTimeout = 5 * time.Second

type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Run starts the agent and blocks until ctx is cancelled or the HTTP server
// fails.
func Run(ctx context.Context, build BuildInfo) error {
	log.Info("quantum-wallet",
		"version", build.Version,
		"commit", build.Commit,
		"build_date", build.BuildDate,
	)

	// ---- Config
	cfg, err := clientconfig.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	var cl closer
	defer cl.close()

	dir, err := dataDir(cfg)
	if err != nil {
		return err
	}

	// ---- Password, only when something is encrypted at rest
	var pw []byte
	if cfg.App.Signer || cfg.Storage.Backend == clientconfig.BackendFile {
		if pw, err = password(cfg); err != nil {
			return err
		}
		defer Zero(pw)
	}

	// ---- Storage + transport
	store, err := openStore(ctx, cfg, dir, pw, &cl)
	if err != nil {
		return err
	}
	transport, err := openTransport(ctx, cfg, &cl)
	if err != nil {
		return err
	}

	// ---- Signer
	var signer wtypes.Signer
	if cfg.App.Signer {
		w, err := unlockSigner(dir, pw)
		if err != nil {
			return err
		}
		signer = w
	}

	// ---- Wallet
	qw, err := wallet.New(cfg.Wallet(), wallet.Deps{
		Transport: transport,
		Store:     store,
		Signer:    signer,
		Dialer:    networks.EthDialer{},
		TabID:     cfg.App.TabID,
	})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := qw.Cleanup(cctx); err != nil {
			log.Error("wallet cleanup failed", "error", err)
		}
	}()

	// ---- Metrics
	var (
		gatherer prometheus.Gatherer
		opts     []clienthttp.Option
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)
		stop := m.Watch(qw)
		defer stop()
		gatherer = reg
		opts = append(opts, clienthttp.WithMetrics(m))
	}

	if err := qw.Initialize(ctx); err != nil {
		return err
	}

	// ---- HTTP
	routerCfg := clienthttp.RouterConfig{
		AllowedOrigins: cfg.App.AllowedOrigins,
		LoopbackOnly:   cfg.App.LoopbackOnly,
	}
	if path := strings.TrimSpace(cfg.App.PairingTokenFile); path != "" {
		token, created, err := pairing.Ensure(path)
		if err != nil {
			return err
		}
		if created {
			log.Info("extension pairing token written", "path", path)
		}
		routerCfg.Token = token
	}
	handler := clienthttp.NewRouter(clienthttp.NewServer(qw, opts...), routerCfg, gatherer)

	addr := net.JoinHostPort(cfg.App.LocalHost, cfg.App.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "HTTP server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
	return nil
}
