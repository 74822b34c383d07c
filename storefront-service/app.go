package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jeffsasaki/pledge-storefront/api"
	"github.com/jeffsasaki/pledge-storefront/clients"
	"github.com/jeffsasaki/pledge-storefront/config"
	"github.com/jeffsasaki/pledge-storefront/identity"
	"github.com/jeffsasaki/pledge-storefront/metrics"
	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/orderview"
	"github.com/jeffsasaki/pledge-storefront/pledge"
	"github.com/jeffsasaki/pledge-storefront/stats"
	"github.com/jeffsasaki/pledge-storefront/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	adapter *store.Adapter
	engine  *pledge.Engine
	console *orderview.Console
	amqp    *clients.AmqpClient
	handler http.Handler
	closers []func() error

	// streamsDone is closed when shutdown starts, ending open order streams.
	streamsDone chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, streamsDone: make(chan struct{})}

	campaign, err := config.LoadCampaign(cfg.CampaignFile)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	a.adapter = store.NewAdapter(a.openLive(ctx),
		store.WithLogger(logger),
		store.WithFallbackHook(func(op string, _ error) { m.StoreFallback(op) }))
	m.SetBackendLive(a.adapter.Mode() == store.ModeLive)
	logger.Info("Order store ready", slog.String("mode", a.adapter.Mode().String()))

	engineOpts := []pledge.Option{pledge.WithMetrics(m), pledge.WithLogger(logger)}
	if publishers := a.connectBus(); len(publishers) > 0 {
		engineOpts = append(engineOpts, pledge.WithPublisher(publishers))
	}
	a.engine = pledge.NewEngine(a.adapter, pledge.Policy{RequireConsent: cfg.Pledge.RequireConsent}, engineOpts...)

	a.console = orderview.NewConsole(a.engine, logger)
	a.console.Watch(a.adapter)

	sessions, err := identity.NewSessions([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create sessions: %w", err)
	}

	srv := &api.Server{
		Campaign: campaign,
		Pledges:  a.engine,
		Orders:   a.adapter,
		Stats:    stats.NewAggregator(a.adapter, logger, m),
		Console:  a.console,
		Sessions: sessions,
		Provider: identity.NewMockProvider(model.UserProfile{
			ID:          cfg.Auth.MockUser.ID,
			Email:       cfg.Auth.MockUser.Email,
			DisplayName: cfg.Auth.MockUser.DisplayName,
		}),
		Admins:   identity.AdminPolicy{Email: cfg.Auth.AdminEmail},
		Gatherer: registry,
		Logger:   logger,
		Done:     a.streamsDone,
	}
	a.handler = srv.Handler()
	return a, nil
}

// openLive returns nil when no live store is configured or it cannot be
// reached, which starts the adapter in ephemeral mode.
func (a *app) openLive(ctx context.Context) store.Backend {
	if !a.cfg.Store.LiveConfigured() {
		a.logger.Warn("No live order store configured, orders are kept in memory only")
		return nil
	}
	db, err := store.OpenPostgres(ctx, a.cfg.Store.DSN, a.cfg.Store.ConnectTimeout)
	if err != nil {
		a.logger.Warn("Live order store unavailable, orders are kept in memory only",
			slog.String("error", err.Error()))
		return nil
	}
	a.closers = append(a.closers, db.Close)
	return store.NewPostgresBackend(db, a.cfg.Store.DSN, store.WithPostgresLogger(a.logger))
}

// connectBus dials the configured brokers. Events are best effort, so a
// broker that cannot be reached is logged and skipped.
func (a *app) connectBus() clients.Fanout {
	var publishers clients.Fanout

	if a.cfg.AMQP.URL != "" {
		client, err := clients.DialAmqp(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.logger)
		if err == nil {
			err = client.DeclareExchange()
			if err != nil {
				client.Close()
			}
		}
		if err != nil {
			a.logger.Warn("RabbitMQ unavailable, order events and payment updates disabled",
				slog.String("error", err.Error()))
		} else {
			a.amqp = client
			a.closers = append(a.closers, client.Close)
			publishers = append(publishers, client)
		}
	}

	if a.cfg.NATS.URL != "" {
		client, err := clients.ConnectNats(a.cfg.NATS.URL, a.cfg.NATS.SubjectPrefix, a.logger)
		if err != nil {
			a.logger.Warn("NATS unavailable, NATS order events disabled", slog.String("error", err.Error()))
		} else {
			a.closers = append(a.closers, client.Close)
			publishers = append(publishers, client)
		}
	}

	return publishers
}

// startConsumers applies payment confirmations from the payment_updates queue.
func (a *app) startConsumers(ctx context.Context) error {
	if a.amqp == nil {
		return nil
	}
	handler := clients.PaymentUpdateHandler(ctx, a.engine, a.logger)
	if err := a.amqp.SetupConsumer(ctx, a.cfg.AMQP.PaymentUpdates, handler); err != nil {
		return fmt.Errorf("setup payment updates consumer: %w", err)
	}
	a.logger.Info("Listening for payment updates", slog.String("queue", a.cfg.AMQP.PaymentUpdates))
	return nil
}

// serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func (a *app) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.serveOn(ctx, ln)
}

func (a *app) serveOn(ctx context.Context, ln net.Listener) error {
	if err := a.startConsumers(ctx); err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // order streams stay open
		IdleTimeout:  60 * time.Second,
	}
	var once sync.Once
	srv.RegisterOnShutdown(func() {
		once.Do(func() { close(a.streamsDone) })
	})

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Storefront listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down storefront")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) Close() {
	if a.console != nil {
		a.console.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", slog.String("error", err.Error()))
		}
	}
}
