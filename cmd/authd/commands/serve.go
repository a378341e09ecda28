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

	"github.com/everstory/authcore/auth/events"
	"github.com/everstory/authcore/auth/repository"
	"github.com/everstory/authcore/auth/service"
	"github.com/everstory/authcore/auth/session"
	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/bridge"
	"github.com/everstory/authcore/config"
	"github.com/everstory/authcore/data/cache"
	"github.com/everstory/authcore/data/connection"
	"github.com/everstory/authcore/handler"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/security/jwt"
	"github.com/everstory/authcore/version"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authority server",
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

	if conns.DB == nil || conns.RC == nil {
		return errors.New("authority requires both database and redis configuration")
	}

	if cfg.Data.Database.Migrate {
		if err := repository.Migrate(ctx, conns.DB); err != nil {
			return fmt.Errorf("failed to run migrations: %v", err)
		}
	}

	svc := buildService(cfg, conns)

	broker := bridge.NewRedisBroker(conns.RC)
	listener := bridge.NewListener(broker, svc, logger.StandardLogger())
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf(ctx, "bridge listener stopped: %v", err)
		}
	}()

	if cfg.RunMode != "" {
		gin.SetMode(cfg.RunMode)
	}
	cfg.Watch(func(fresh *config.Config) {
		logger.Infof(ctx, "configuration file reloaded")
		if fresh.RunMode != "" {
			gin.SetMode(fresh.RunMode)
		}
	})
	if err := handler.RegisterValidations(); err != nil {
		return fmt.Errorf("failed to register validations: %v", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), handler.Trace())
	engine.GET("/health", handler.Health(conns))
	handler.New(svc).RegisterRoutes(engine)

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

func buildService(cfg *config.Config, conns *connection.Connections) *service.Service {
	log := logger.StandardLogger()

	users, pending := repository.NewPostgresRepositories(conns.DB)

	live := cache.NewCache[structs.Session](conns.RC, "session")
	var policy session.Policy
	if cfg.Auth.RevocationPolicy == "blacklist" {
		marks := cache.NewCache[session.Mark](conns.RC, "revoked")
		policy = session.NewBlacklistPolicy(live, marks)
	} else {
		policy = session.NewReplacementPolicy(live)
	}

	tm := jwt.NewTokenManager(cfg.Auth.JWT.Secret)
	store := session.NewStore(live, policy, tm, cfg.Auth.JWT.Expire, log)

	var announcer events.Announcer = events.Noop{}
	if conns.RMQ != nil {
		announcer = events.NewRabbitMQ(conns.RMQ, "auth.events")
	}

	return service.NewService(users, pending, store, announcer, log)
}
