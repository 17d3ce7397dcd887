package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kayakoyan/marketplace-backend/api/controllers"
	chatcontrollers "github.com/kayakoyan/marketplace-backend/api/controllers/chats"
	ordercontrollers "github.com/kayakoyan/marketplace-backend/api/controllers/orders"
	"github.com/kayakoyan/marketplace-backend/api/middleware"
	"github.com/kayakoyan/marketplace-backend/internal/notifications"
	"github.com/kayakoyan/marketplace-backend/pkg/config"
	"github.com/kayakoyan/marketplace-backend/pkg/db"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/metrics"
	"github.com/kayakoyan/marketplace-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	httpMetrics *metrics.HTTPMetrics,
	metricsHandler http.Handler,
	ordersSvc ordercontrollers.Service,
	chatSvc chatcontrollers.Service,
	notificationsService notifications.Service,
	channelAuthorizer controllers.ChannelAuthorizer,
	realtimeHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	// a nil *redis.Client must not reach the middleware as a non-nil interface
	var (
		idempotencyStore redis.IdempotencyStore
		readiness        = map[string]controllers.Pinger{}
	)
	if dbP != nil {
		readiness["db"] = dbP
	}
	if redisClient != nil {
		idempotencyStore = redisClient
		readiness["redis"] = redisClient
	}
	sendLimit := middleware.NewRateLimitPolicy("chat_send", cfg.Chat.RateWindow, cfg.Chat.SendLimit)
	sendLimiter := func(next http.Handler) http.Handler { return next }
	if redisClient != nil {
		sendLimiter = middleware.RateLimit(sendLimit, redisClient, logg)
	}
	maxUpload := cfg.Storage.MaxUploadBytes()
	stream := chatcontrollers.StreamOptions{
		Budget: cfg.Chat.StreamBudget,
		Poll:   cfg.Chat.StreamPollInterval,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	r.Get("/ping", controllers.PublicPing())
	if realtimeHandler != nil {
		// the socket authenticates its own handshake
		r.Method(http.MethodGet, "/realtime/ws", realtimeHandler)
	}

	chatRoutes := func(r chi.Router) {
		r.Get("/", chatcontrollers.Conversations(chatSvc, logg))
		r.Get("/unread-count", chatcontrollers.UnreadCount(chatSvc, logg))
		r.Route("/{order}", func(r chi.Router) {
			r.With(sendLimiter).Post("/", chatcontrollers.Send(chatSvc, maxUpload, logg))
			r.Post("/typing", chatcontrollers.Typing(chatSvc, logg))
			r.Post("/read", chatcontrollers.MarkRead(chatSvc, logg))
			r.Get("/messages", chatcontrollers.Messages(chatSvc, logg))
			r.Get("/stream", chatcontrollers.Stream(chatSvc, stream, logg))
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/me", controllers.PrivatePing())
		r.Post("/broadcasting/auth", controllers.BroadcastingAuth(channelAuthorizer, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Get("/unread-count", controllers.NotificationUnreadCount(notificationsService, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
			r.Post("/{id}/read", controllers.MarkNotificationRead(notificationsService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleCustomer))
			r.Post("/", ordercontrollers.Checkout(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, enums.RoleCustomer, logg))
			r.Route("/{order}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(ordersSvc, logg))
				r.Post("/payments", ordercontrollers.SubmitPayment(ordersSvc, maxUpload, logg))
				r.Post("/accept", ordercontrollers.Transition(ordersSvc.AcceptDelivery, logg))
				r.Post("/cancel", ordercontrollers.TransitionWithReason(ordersSvc.Cancel, logg))
				r.Get("/download", ordercontrollers.Download(ordersSvc, logg))
			})
		})
		r.Route("/chats", chatRoutes)

		r.Route("/worker", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleWorker))
			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.List(ordersSvc, enums.RoleWorker, logg))
				r.Route("/{order}", func(r chi.Router) {
					r.Get("/", ordercontrollers.Detail(ordersSvc, logg))
					r.Post("/verify-payment", ordercontrollers.Transition(ordersSvc.VerifyPayment, logg))
					r.Post("/reject-payment", ordercontrollers.TransitionWithReason(ordersSvc.RejectPayment, logg))
					r.Post("/start", ordercontrollers.Transition(ordersSvc.StartWork, logg))
					r.Post("/deliver", ordercontrollers.Deliver(ordersSvc, maxUpload, logg))
					r.Post("/cancel", ordercontrollers.TransitionWithReason(ordersSvc.Cancel, logg))
				})
			})
			r.Route("/chats", chatRoutes)
		})
	})

	return r
}
