package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/relaychat/relay/pkg/api/v1"
	"github.com/relaychat/relay/pkg/auth"
	"github.com/relaychat/relay/pkg/common"
	"github.com/relaychat/relay/pkg/model"
	"github.com/relaychat/relay/pkg/orchestrator"
	"github.com/relaychat/relay/pkg/repository"
	"github.com/relaychat/relay/pkg/sandbox"
	"github.com/relaychat/relay/pkg/types"
)

type Gateway struct {
	Config      types.AppConfig
	RedisClient *common.RedisClient
	BackendRepo *repository.PostgresBackend
	httpServer  *http.Server
	echo        *echo.Echo
	ctx         context.Context
	cancelFunc  context.CancelFunc

	baseRouteGroup *echo.Group
	rootRouteGroup *echo.Group

	sandboxManager *sandbox.Manager
	executor       *sandbox.Executor
	provider       model.Provider
	orchestrator   *orchestrator.Orchestrator
}

func NewGateway() (*Gateway, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return nil, err
	}
	config := configManager.GetConfig()

	// Setup logging
	if config.PrettyLogs {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	var redisClient *common.RedisClient
	var backendRepo *repository.PostgresBackend

	// Local mode: skip Redis and Postgres
	if config.IsLocalMode() {
		log.Info().Msg("running in local mode - Redis and Postgres disabled")
	} else {
		redisClient, err = common.NewRedisClient(config.Database.Redis, common.WithClientName("RelayGateway"))
		if err != nil {
			return nil, err
		}

		// Postgres is optional: without it, sandbox records and plans fall
		// back to in-memory stores.
		if config.Database.Postgres.Host != "" {
			backendRepo, err = repository.NewPostgresBackend(config.Database.Postgres)
			if err != nil {
				log.Warn().Err(err).Msg("failed to connect to postgres, using in-memory records")
				backendRepo = nil
			} else if err := backendRepo.RunMigrations(); err != nil {
				log.Warn().Err(err).Msg("failed to run postgres migrations")
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	gateway := &Gateway{
		Config:      config,
		RedisClient: redisClient,
		BackendRepo: backendRepo,
		ctx:         ctx,
		cancelFunc:  cancel,
	}

	return gateway, nil
}

func (g *Gateway) initHTTP() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())

	if g.Config.Gateway.HTTP.EnablePrettyLogs {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human}\n",
		}))
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: g.Config.Gateway.HTTP.CORS.AllowedOrigins,
		AllowHeaders: g.Config.Gateway.HTTP.CORS.AllowedHeaders,
		AllowMethods: g.Config.Gateway.HTTP.CORS.AllowedMethods,
	}))

	e.Use(middleware.Recover())
	e.Use(auth.HTTPMiddleware(g.tokenValidator()))

	g.echo = e
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.Config.Gateway.HTTP.Host, g.Config.Gateway.HTTP.Port),
		Handler: e,
	}

	g.baseRouteGroup = e.Group(apiv1.HttpServerBaseRoute)
	g.rootRouteGroup = e.Group(apiv1.HttpServerRootRoute)

	return nil
}

func (g *Gateway) tokenValidator() auth.TokenValidator {
	if g.Config.Gateway.JWTSecret != "" {
		return auth.NewJWTValidator(g.Config.Gateway.AuthToken, g.Config.Gateway.JWTSecret)
	}
	return auth.NewStaticValidator(g.Config.Gateway.AuthToken)
}

func (g *Gateway) registerServices() error {
	// Sandbox lifecycle: persistent records via Postgres when available.
	var sandboxRepo repository.SandboxRepository
	if g.BackendRepo != nil {
		sandboxRepo = g.BackendRepo
	} else {
		sandboxRepo = repository.NewSandboxMemoryRepository()
		log.Info().Msg("sandbox records: in-memory backend")
	}

	var pauseLock *common.RedisLock
	if g.RedisClient != nil {
		pauseLock = common.NewRedisLock(g.RedisClient)
	}

	sandboxClient := sandbox.NewClient(g.Config.Sandbox)
	g.sandboxManager = sandbox.NewManager(sandboxClient, sandboxRepo, pauseLock, g.Config.Sandbox)
	g.executor = sandbox.NewExecutor(g.Config.Sandbox)

	// Model provider
	g.provider = model.NewOpenAIProvider(g.Config.Provider)

	// Entitlements: plan table when Postgres is up, static premium otherwise.
	var entitlements repository.EntitlementRepository
	if g.BackendRepo != nil {
		entitlements = g.BackendRepo
	} else {
		entitlements = repository.NewStaticEntitlements(true)
	}

	var limiter repository.RateLimiter
	if g.RedisClient != nil {
		limiter = repository.NewRedisRateLimiter(g.RedisClient, g.Config.Chat.RateLimit)
	}

	g.orchestrator = orchestrator.NewOrchestrator(
		g.provider,
		g.sandboxManager,
		g.executor,
		entitlements,
		limiter,
		g.Config.Chat,
		g.Config.Sandbox.Template,
	)

	apiv1.NewHealthGroup(g.baseRouteGroup.Group("/health"), g.RedisClient, g.BackendRepo)
	apiv1.NewChatGroup(g.baseRouteGroup.Group("/chat"), g.orchestrator, g.provider)

	log.Info().Msg("chat and health APIs registered")
	return nil
}

// StartAsync starts the gateway server without blocking.
// Use this when embedding the gateway in another process (e.g., CLI).
func (g *Gateway) StartAsync() error {
	err := g.initHTTP()
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	err = g.registerServices()
	if err != nil {
		return fmt.Errorf("failed to register services: %w", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%d", g.Config.Gateway.HTTP.Host, g.Config.Gateway.HTTP.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error().Err(err).Msg("failed to listen on http")
			return
		}

		if err := g.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	log.Info().
		Str("host", g.Config.Gateway.HTTP.Host).
		Int("port", g.Config.Gateway.HTTP.Port).
		Msg("gateway http server running")

	return nil
}

// HTTPAddr returns the gateway's HTTP address
func (g *Gateway) HTTPAddr() string {
	return fmt.Sprintf("http://localhost:%d", g.Config.Gateway.HTTP.Port)
}

// Shutdown gracefully shuts down the gateway (exported for external use)
func (g *Gateway) Shutdown() {
	g.shutdown()
}

func (g *Gateway) Start() error {
	if err := g.StartAsync(); err != nil {
		return err
	}

	terminationSignal := make(chan os.Signal, 1)
	signal.Notify(terminationSignal, os.Interrupt, syscall.SIGTERM)
	<-terminationSignal

	log.Info().Msg("termination signal received. shutting down...")
	g.shutdown()

	return nil
}

func (g *Gateway) shutdown() {
	timeout := g.Config.Gateway.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return g.httpServer.Shutdown(ctx)
	})

	// In-flight detached pause tasks finish before the process exits.
	eg.Go(func() error {
		g.sandboxManager.Drain()
		return nil
	})

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	if g.BackendRepo != nil {
		if err := g.BackendRepo.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close postgres")
		}
	}
	if g.RedisClient != nil {
		if err := g.RedisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis")
		}
	}

	g.cancelFunc()
}
