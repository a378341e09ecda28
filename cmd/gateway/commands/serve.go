package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/everstory/authcore/bridge"
	"github.com/everstory/authcore/config"
	"github.com/everstory/authcore/data/connection"
	"github.com/everstory/authcore/gateway"
	"github.com/everstory/authcore/handler"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/version"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %v", err)
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}

func runServer(cfg *config.Config) error {
	cleanup, err := logger.Init(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer cleanup()
	logger.SetVersion(version.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns, err := connection.New(cfg.Data)
	if err != nil {
		return fmt.Errorf("failed to open data connections: %v", err)
	}
	defer conns.Close()

	resolver, err := buildResolver(cfg, conns)
	if err != nil {
		return err
	}

	upstreams, err := gateway.ParseUpstreams(cfg.Gateway.Upstreams)
	if err != nil {
		return fmt.Errorf("invalid upstream configuration: %v", err)
	}

	if cfg.RunMode != "" {
		gin.SetMode(cfg.RunMode)
	}
	cfg.Watch(func(fresh *config.Config) {
		logger.Infof(ctx, "configuration file reloaded")
		if fresh.RunMode != "" {
			gin.SetMode(fresh.RunMode)
		}
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", handler.Health(conns))
	engine.Use(gateway.Authenticated(resolver, cfg.Gateway.PublicPrefixes))
	engine.NoRoute(gateway.Proxy(upstreams))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "%s listening on %s", cfg.AppName, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %v", err)
	}
	logger.Infof(context.Background(), "%s stopped", cfg.AppName)
	return nil
}

// buildResolver picks the identity source: direct HTTP to the authority by
// default, or the pub/sub bridge when configured.
func buildResolver(cfg *config.Config, conns *connection.Connections) (gateway.TokenResolver, error) {
	switch cfg.Gateway.Resolver {
	case "bridge":
		if conns.RC == nil {
			return nil, errors.New("bridge resolver requires redis configuration")
		}
		broker := bridge.NewRedisBroker(conns.RC)
		verifier := bridge.NewVerifier(broker, cfg.Auth.BridgeTimeout, logger.StandardLogger())
		return gateway.NewVerifierResolver(verifier), nil
	case "", "http":
		if cfg.Gateway.AuthServiceURL == "" {
			return nil, errors.New("gateway.auth_service_url is required for the http resolver")
		}
		return gateway.NewAuthClient(cfg.Gateway.AuthServiceURL, logger.StandardLogger()), nil
	default:
		return nil, fmt.Errorf("unknown resolver %q", cfg.Gateway.Resolver)
	}
}
