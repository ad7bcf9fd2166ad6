package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/connection"
	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/model"
	"github.com/rickgao/orderfeed/internal/router"
	"github.com/rickgao/orderfeed/internal/session"
	"github.com/rickgao/orderfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/orderfeed.local.yaml", "path to config file")
	envFile := flag.String("env", ".env", "path to .env file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load env file:", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting orderfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"tenant", cfg.Tenant.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("orderfeed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("orderfeed stopped")
}

func run(cfg *config.FeedConfig, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, closeStore, err := session.OpenStore(ctx, *cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sess := session.New(*cfg, store, session.Options{
		Metrics: m,
		Logger:  logger,
		OnRedirect: func(loginURL string) {
			logger.Warn("credential invalidated, sign in again", "login_url", loginURL)
		},
	})

	sess.Router().SubscribeAll(func(d router.Delivery) {
		logOrderEvent(logger, d)
	})
	sess.Manager().OnStateChange(func(c connection.StateChange) {
		logger.Info("primary channel state",
			"from", c.From.String(),
			"to", c.To.String(),
			"reason", c.Reason,
			"passive", c.Passive,
		)
	})

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(sess, reg, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// SIGHUP stands in for the client returning to the foreground.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("foreground signal received, re-validating credential")
				sess.Monitor().NotifyForeground()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), session.ShutdownTimeout)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("orderfeed running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)
	return g.Wait()
}

func newHandler(sess *session.Session, reg *prometheus.Registry, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := sess.Health()

		status := "healthy"
		switch {
		case !h.Healthy():
			status = "unhealthy"
		case h.State != connection.StateConnected.String():
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(struct {
			Status  string         `json:"status"`
			Version version.Info   `json:"version"`
			Session session.Health `json:"session"`
		}{status, version.Get(), h})
	})

	return mux
}

func logOrderEvent(logger *slog.Logger, d router.Delivery) {
	attrs := []any{"kind", string(d.Event.Kind()), "source", string(d.Source)}

	switch e := d.Event.(type) {
	case model.NewOrder:
		attrs = append(attrs,
			"order_id", e.Order.ID,
			"order_number", e.OrderNumber,
			"customer", e.CustomerName,
			"total", e.Total.StringFixed(2),
			"items", e.ItemsCount,
		)
	case model.OrderEvent:
		o := e.OrderRef()
		attrs = append(attrs, "order_id", o.ID, "status", string(o.Status))
	case model.StatsUpdated:
		attrs = append(attrs, "total_orders", e.Stats.TotalOrders, "today_revenue", e.Stats.TodayRevenue.String())
	case model.CountersUpdated:
		attrs = append(attrs, "new", e.Counters.NewOrders, "pending", e.Counters.PendingOrders)
	}

	logger.Info("order event", attrs...)
}
