// Command watcher follows a recurring up/down market and renders the live
// order books of its current window, rolling over at every boundary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johan/polymarket-orderbook-watcher/internal/config"
	"github.com/johan/polymarket-orderbook-watcher/internal/display"
	"github.com/johan/polymarket-orderbook-watcher/internal/gamma"
	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/session"
	"github.com/johan/polymarket-orderbook-watcher/internal/telemetry"
	"github.com/johan/polymarket-orderbook-watcher/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file (missing is fine)")
	family := flag.String("family", "", "Market family slug prefix (overrides config)")
	windowLen := flag.Duration("window", 0, "Window length (overrides config)")
	depth := flag.Int("depth", display.DefaultDepth, "Levels shown per side")
	refresh := flag.Duration("refresh", time.Second, "Screen refresh interval")
	noClear := flag.Bool("no-clear", false, "Scroll instead of redrawing in place")
	flag.Parse()

	cfg, found, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := cfg.ApplyEnv(*envFile); err != nil {
		log.Fatalf("Error loading environment: %v", err)
	}
	if *family != "" {
		cfg.Market.Family = *family
	}
	if *windowLen > 0 {
		cfg.Market.Window = *windowLen
		cfg.Market.Label = ""
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	telemetry.Init(telemetry.ParseLogLevel(cfg.Logging.Level), cfg.Logging.Format)
	if !found {
		telemetry.Infof("Config file %s not found, using defaults", *configPath)
	}

	gammaClient := gamma.NewClient(&http.Client{Timeout: cfg.Gamma.Timeout}).
		WithBaseURL(cfg.Gamma.BaseURL).
		WithRateLimit(cfg.Gamma.RateLimit, cfg.Gamma.Burst)
	resolver := market.NewResolver(gammaClient, cfg.Market.Family, cfg.WindowLabel())

	dialer := session.WSDialer{
		URL: cfg.WebSocket.URL,
		Reconnect: ws.ReconnectConfig{
			InitialBackoff: cfg.WebSocket.InitialBackoff,
			MaxBackoff:     cfg.WebSocket.MaxBackoff,
			BackoffFactor:  cfg.WebSocket.BackoffFactor,
		},
		PingInterval: cfg.WebSocket.PingInterval,
	}

	sess := session.New(resolver, dialer, session.Options{
		Window:         cfg.Market.Window,
		SettleDelay:    cfg.Session.SettleDelay,
		FetchTimeout:   cfg.Session.FetchTimeout,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		RetryInterval:  cfg.Session.RetryInterval,
		InboxSize:      cfg.Session.InboxSize,
	})

	renderer := display.NewRenderer(fmt.Sprintf("Polymarket %s %s Orderbook", cfg.Market.Family, cfg.WindowLabel()))
	renderer.Depth = *depth
	renderer.Clear = !*noClear

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(ctx)
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			telemetry.Infof("Serving metrics on %s/metrics", cfg.Metrics.Addr)
			if err := telemetry.ServeMetrics(ctx, cfg.Metrics.Addr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(*refresh)
		defer ticker.Stop()
		for {
			if err := renderer.Render(os.Stdout, sess.View()); err != nil {
				return fmt.Errorf("rendering: %w", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Watcher error: %v", err)
	}

	fmt.Fprintln(os.Stderr, "\nWatcher shutdown complete")
}
