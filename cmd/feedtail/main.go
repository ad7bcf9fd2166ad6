// feedtail connects to a store's order feed and prints routed events.
//
// Usage: go run ./cmd/feedtail --config configs/orderfeed.local.yaml [--action ord_1:READY]
//
// The credential comes from credential.token in the config or ORDERFEED_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/connection"
	"github.com/rickgao/orderfeed/internal/model"
	"github.com/rickgao/orderfeed/internal/router"
	"github.com/rickgao/orderfeed/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/orderfeed.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	action := flag.String("action", "", "request a status change once connected, as ORDER_ID:STATUS")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if token := os.Getenv("ORDERFEED_TOKEN"); token != "" {
		cfg.Credential.Token = token
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var (
		orderID string
		status  model.OrderStatus
	)
	if *action != "" {
		orderID, status, err = parseAction(*action)
		if err != nil {
			logger.Error("invalid --action", "error", err)
			os.Exit(2)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := session.OpenStore(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	sess := session.New(*cfg, store, session.Options{Logger: logger})
	sess.Router().SubscribeAll(func(d router.Delivery) {
		printEvent(d, *verbose)
	})

	if orderID != "" {
		var once sync.Once
		sess.Manager().OnStateChange(func(c connection.StateChange) {
			if c.To != connection.StateConnected {
				return
			}
			once.Do(func() {
				go requestAction(ctx, sess, orderID, status, logger)
			})
		})
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h := sess.Health()
				logger.Info("stats",
					"state", h.State,
					"stream_connected", h.StreamConnected,
					"received", h.Router.Received,
					"routed", h.Router.Routed,
					"duplicates", h.Router.Duplicates,
					"parse_errors", h.Router.ParseErrors,
					"new_orders", h.Counters.NewOrders,
					"pending_orders", h.Counters.PendingOrders,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "tenant", cfg.Tenant.ID)
	if err := sess.Run(ctx); err != nil {
		logger.Error("session failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func parseAction(s string) (string, model.OrderStatus, error) {
	id, st, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("want ORDER_ID:STATUS, got %q", s)
	}
	status := model.OrderStatus(strings.ToUpper(st))
	if !status.Valid() {
		return "", "", fmt.Errorf("unknown status %q", st)
	}
	return id, status, nil
}

func requestAction(ctx context.Context, sess *session.Session, orderID string, status model.OrderStatus, logger *slog.Logger) {
	ack, err := sess.RequestAction(ctx, orderID, status)
	var actionErr *connection.ActionError
	switch {
	case errors.As(err, &actionErr):
		fmt.Printf("[ACTION] %s -> %s rejected: %s\n", orderID, status, actionErr.Message)
	case err != nil:
		logger.Error("action failed", "order_id", orderID, "status", status, "error", err)
	default:
		fmt.Printf("[ACTION] %s -> %s acknowledged (request %s)\n", orderID, status, ack.RequestID)
	}
}

func printEvent(d router.Delivery, verbose bool) {
	tag := strings.ToUpper(string(d.Event.Kind()))
	if verbose {
		data, _ := json.MarshalIndent(d.Event, "", "  ")
		fmt.Printf("[%s] (%s) %s\n", tag, d.Source, data)
		return
	}

	switch e := d.Event.(type) {
	case model.NewOrder:
		fmt.Printf("[%s] (%s) %s #%s %s total=%s items=%d\n",
			tag, d.Source, e.Order.ID, e.OrderNumber, e.CustomerName, e.Total.StringFixed(2), e.ItemsCount)
	case model.OrderEvent:
		o := e.OrderRef()
		fmt.Printf("[%s] (%s) %s status=%s\n", tag, d.Source, o.ID, o.Status)
	case model.StatsUpdated:
		fmt.Printf("[%s] (%s) total=%d pending=%d today=%d revenue=%s\n",
			tag, d.Source, e.Stats.TotalOrders, e.Stats.PendingOrders, e.Stats.TodayOrders, e.Stats.TodayRevenue)
	case model.CountersUpdated:
		fmt.Printf("[%s] (%s) new=%d total=%d pending=%d\n",
			tag, d.Source, e.Counters.NewOrders, e.Counters.TotalOrders, e.Counters.PendingOrders)
	}
}
