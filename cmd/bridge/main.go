// Command bridge runs the Homebox inventory bridge: it polls a Homebox
// server, mirrors items into Home Assistant sensor entities, and exposes
// action endpoints for moving, creating and filling items.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"homeboxbridge/internal/actions"
	"homeboxbridge/internal/api"
	"homeboxbridge/internal/clock"
	"homeboxbridge/internal/config"
	"homeboxbridge/internal/coordinator"
	"homeboxbridge/internal/ha"
	"homeboxbridge/internal/homebox"
	"homeboxbridge/internal/publish"
)

func main() {
	godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("Bridge exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "bridge.yaml"
	}
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}

	clk := clock.NewRealClock()
	auth := homebox.NewAuthManager(cfg.Homebox.BaseURL(), cfg.Credentials(),
		cfg.Homebox.TokenTTL.Std(), cfg.Homebox.RequestTimeout.Std(), clk, logger)
	client := homebox.NewClient(cfg.Homebox.BaseURL(), auth,
		&http.Client{Timeout: cfg.Homebox.RequestTimeout.Std()}, logger)
	coord := coordinator.New(client, cfg.Homebox.PollInterval.Std(), clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Home Assistant is optional: without it the bridge still polls and
	// serves its local API, it just skips publication and notifications.
	var (
		notifier actions.Notifier = actions.NopNotifier{}
		areas    actions.AreaSource
		haClient *ha.Client
	)
	if cfg.HomeAssistant.URL != "" {
		haClient = ha.NewClient(websocketURL(cfg.HomeAssistant.URL), cfg.HomeAssistant.Token, logger)
		if err := haClient.Connect(); err != nil {
			// Reconnection kicks in once the first connect succeeds; a cold
			// failure here usually means bad config, so surface it.
			return fmt.Errorf("failed to connect to Home Assistant: %w", err)
		}
		defer haClient.Disconnect()
		notifier = haClient
		areas = haClient

		states := ha.NewStateClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		publisher := publish.New(states, logger)
		coord.Subscribe(func(snap *coordinator.Snapshot) {
			if err := publisher.Publish(ctx, snap); err != nil {
				logger.Error("Failed to publish snapshot", zap.Error(err))
			}
		})
	} else {
		logger.Warn("No Home Assistant URL configured, entity publication disabled")
		areas = noAreas{}
	}

	svc := actions.New(client, coord, auth, areas, notifier, logger)
	server := api.New(api.Options{
		Addr:           fmt.Sprintf(":%d", cfg.API.Port),
		Token:          cfg.API.Token,
		RateLimitRPS:   cfg.API.RateLimitRPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
	}, coord, svc, logger)

	// Prime the cache before serving so the first requests see data.
	if _, err := coord.Refresh(ctx); err != nil {
		logger.Warn("Initial fetch failed, will retry on schedule", zap.Error(err))
	}
	go coord.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown did not complete cleanly", zap.Error(err))
	}

	// A login-derived session token should be invalidated on exit; a static
	// configured token must survive the process.
	if cfg.Homebox.AuthMethod == homebox.AuthMethodLogin {
		auth.Logout(shutdownCtx)
	}
	return nil
}

// websocketURL derives the WebSocket endpoint from the HTTP base URL.
func websocketURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/api/websocket"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String()
}

// noAreas stands in for the area registry when Home Assistant is not
// configured.
type noAreas struct{}

func (noAreas) ListAreas(context.Context) ([]string, error) {
	return nil, errors.New("home assistant is not configured")
}
