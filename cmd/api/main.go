package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kayakoyan/marketplace-backend/api/responses"
	"github.com/kayakoyan/marketplace-backend/api/routes"
	"github.com/kayakoyan/marketplace-backend/internal/chat"
	"github.com/kayakoyan/marketplace-backend/internal/notifications"
	"github.com/kayakoyan/marketplace-backend/internal/orders"
	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	pkgAuth "github.com/kayakoyan/marketplace-backend/pkg/auth"
	"github.com/kayakoyan/marketplace-backend/pkg/config"
	"github.com/kayakoyan/marketplace-backend/pkg/db"
	"github.com/kayakoyan/marketplace-backend/pkg/env"
	"github.com/kayakoyan/marketplace-backend/pkg/instance"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/metrics"
	"github.com/kayakoyan/marketplace-backend/pkg/migrate"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox"
	"github.com/kayakoyan/marketplace-backend/pkg/redis"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := openStore(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap storage", err)
		os.Exit(1)
	}
	uploader := storage.NewUploader(store, cfg.Storage.MaxUploadBytes())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	realtimeMetrics := metrics.NewRealtimeMetrics(registry)

	hub := realtime.NewHub(realtime.HubOptions{Metrics: realtimeMetrics, Logger: logg})
	bus := realtime.NewBus(redisClient, hub, logg)
	tracker := realtime.NewTracker(realtime.TrackerOptions{
		Grace:       cfg.Presence.Grace,
		Store:       presenceStore(cfg, redisClient),
		Broadcaster: bus,
		Logger:      logg,
	})

	ordersRepo := orders.NewRepository(dbClient.DB())
	chatService, err := chat.NewService(chat.ServiceParams{
		Repo:         chat.NewRepository(dbClient.DB()),
		Orders:       ordersRepo,
		Tx:           dbClient,
		Broadcaster:  bus,
		Uploader:     uploader,
		Limiter:      redisClient,
		Hub:          hub,
		FeedMode:     cfg.Chat.FeedMode,
		Logger:       logg,
		TypingLimit:  cfg.Chat.TypingLimit,
		TypingWindow: cfg.Chat.RateWindow,
	})
	if err != nil {
		logg.Error(ctx, "failed to create chat service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:        ordersRepo,
		Tx:          dbClient,
		Outbox:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Broadcaster: bus,
		Chat:        chatService,
		Uploader:    uploader,
		Metrics:     metrics.NewOrderMetrics(registry),
		Logger:      logg,
		PaymentTTL:  cfg.Orders.PaymentTTL,
	})
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}

	authorizer := realtime.NewAuthorizer(ordersRepo)
	wsHandler := realtime.NewWSHandler(realtime.WSHandlerParams{
		Hub:        hub,
		Authorizer: authorizer,
		Tracker:    tracker,
		Verify: func(token string) (realtime.Identity, error) {
			claims, err := pkgAuth.ParseAccessToken(cfg.JWT, token)
			if err != nil {
				return realtime.Identity{}, err
			}
			return realtime.Identity{UserID: claims.UserID, Name: claims.Name}, nil
		},
		WriteError: func(ctx context.Context, w http.ResponseWriter, err error) {
			responses.WriteError(ctx, logg, w, err)
		},
		Metrics: realtimeMetrics,
		Logger:  logg,
		Origins: cfg.CORS.AllowedOrigins,
	})

	handler := routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		metrics.NewHTTPMetrics(registry),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ordersService,
		chatService,
		notificationsService,
		authorizer,
		wsHandler,
	)
	handler = withLocalFiles(cfg, handler)

	addr := ":" + env.Get("PORT", cfg.App.Port)
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"instance":  instance.GetID(),
		"feed_mode": cfg.Chat.FeedMode,
	})
	logg.Info(logCtx, "starting api server")

	// no WriteTimeout: the SSE stream and the socket outlive any fixed budget
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := bus.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(logCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(logCtx, "api server shut down gracefully")
}
