package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chatcontrollers "github.com/kayakoyan/marketplace-backend/api/controllers/chats"
	ordercontrollers "github.com/kayakoyan/marketplace-backend/api/controllers/orders"
	"github.com/kayakoyan/marketplace-backend/internal/chat"
	"github.com/kayakoyan/marketplace-backend/internal/notifications"
	"github.com/kayakoyan/marketplace-backend/internal/orders"
	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	pkgAuth "github.com/kayakoyan/marketplace-backend/pkg/auth"
	"github.com/kayakoyan/marketplace-backend/pkg/config"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

// stubOrders implements the actions bound as method values at router build
// time; everything else falls through to the embedded interface.
type stubOrders struct {
	ordercontrollers.Service
	listedAs enums.UserRole
}

func (s *stubOrders) List(_ context.Context, _ orders.Actor, role enums.UserRole, _ *enums.OrderStatus, _ pagination.Params) (pagination.Page[orders.OrderView], error) {
	s.listedAs = role
	return pagination.Page[orders.OrderView]{}, nil
}

func (s *stubOrders) VerifyPayment(context.Context, orders.Actor, uint64) (*models.Order, error) {
	return &models.Order{}, nil
}

func (s *stubOrders) RejectPayment(context.Context, orders.Actor, uint64, string) (*models.Order, error) {
	return &models.Order{}, nil
}

func (s *stubOrders) StartWork(context.Context, orders.Actor, uint64) (*models.Order, error) {
	return &models.Order{}, nil
}

func (s *stubOrders) AcceptDelivery(context.Context, orders.Actor, uint64) (*models.Order, error) {
	return &models.Order{}, nil
}

func (s *stubOrders) Cancel(context.Context, orders.Actor, uint64, string) (*models.Order, error) {
	return &models.Order{}, nil
}

type stubChat struct {
	chatcontrollers.Service
	calls int
}

func (s *stubChat) Conversations(context.Context, orders.Actor) ([]chat.Conversation, error) {
	s.calls++
	return nil, nil
}

type stubNotifications struct {
	notifications.Service
}

func (stubNotifications) UnreadCount(context.Context, uint64) (int64, error) {
	return 3, nil
}

type stubAuthorizer struct{}

func (stubAuthorizer) Authorize(context.Context, uint64, string) (realtime.Channel, error) {
	return realtime.Channel{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "kayakoyan-test", ExpirationMinutes: 10},
		Chat: config.ChatConfig{
			StreamBudget:       time.Second,
			StreamPollInterval: 10 * time.Millisecond,
		},
	}
}

type testRouter struct {
	handler http.Handler
	orders  *stubOrders
	chat    *stubChat
}

func newTestRouter(cfg *config.Config) testRouter {
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: "error"})
	ordersSvc := &stubOrders{}
	chatSvc := &stubChat{}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRouter(
		cfg,
		logg,
		stubPinger{},
		nil,
		nil,
		metricsHandler,
		ordersSvc,
		chatSvc,
		stubNotifications{},
		stubAuthorizer{},
		nil,
	)
	return testRouter{handler: handler, orders: ordersSvc, chat: chatSvc}
}

func buildToken(t *testing.T, cfg *config.Config, userID uint64, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Name:   "Test User",
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(router testRouter, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, path := range []string{"/health/live", "/health/ready", "/metrics", "/ping"} {
		resp := serve(router, http.MethodGet, path, "")
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
	if got := serve(router, http.MethodGet, "/health/live", "").Header().Get("X-KKY-Env"); got != "dev" {
		t.Fatalf("expected env header got %q", got)
	}
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, path := range []string{"/me", "/orders", "/chats", "/notifications/unread-count", "/worker/orders"} {
		resp := serve(router, http.MethodGet, path, "")
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token got %d", path, resp.Code)
		}
	}
}

func TestPrivateGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	resp := serve(router, http.MethodGet, "/notifications/unread-count", buildToken(t, cfg, 7, enums.RoleCustomer))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestWorkerGroupRequiresWorkerRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	customer := buildToken(t, cfg, 7, enums.RoleCustomer)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/worker/orders"},
		{http.MethodGet, "/worker/chats"},
		{http.MethodPost, "/worker/orders/42/start"},
		{http.MethodPost, "/worker/orders/42/verify-payment"},
	} {
		resp := serve(router, tc.method, tc.path, customer)
		if resp.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403 for customer got %d", tc.method, tc.path, resp.Code)
		}
	}

	resp := serve(router, http.MethodGet, "/worker/orders", buildToken(t, cfg, 8, enums.RoleWorker))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for worker got %d", resp.Code)
	}
	if router.orders.listedAs != enums.RoleWorker {
		t.Fatalf("expected worker side listing got %q", router.orders.listedAs)
	}
}

func TestCustomerOrdersListFromCustomerSide(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	resp := serve(router, http.MethodGet, "/orders", buildToken(t, cfg, 7, enums.RoleCustomer))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if router.orders.listedAs != enums.RoleCustomer {
		t.Fatalf("expected customer side listing got %q", router.orders.listedAs)
	}
}

func TestCustomerOrdersRequireCustomerRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	for _, role := range []enums.UserRole{enums.RoleWorker, enums.RoleAdmin} {
		token := buildToken(t, cfg, 8, role)
		for _, tc := range []struct {
			method string
			path   string
		}{
			{http.MethodPost, "/orders"},
			{http.MethodGet, "/orders"},
			{http.MethodPost, "/orders/42/accept"},
		} {
			resp := serve(router, tc.method, tc.path, token)
			if resp.Code != http.StatusForbidden {
				t.Fatalf("%s %s as %s: expected 403 got %d", tc.method, tc.path, role, resp.Code)
			}
		}
	}
	if router.orders.listedAs != "" {
		t.Fatalf("expected no listing call got %q", router.orders.listedAs)
	}
}

func TestChatBasesShareHandlers(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	worker := buildToken(t, cfg, 8, enums.RoleWorker)

	for _, path := range []string{"/chats", "/worker/chats"} {
		resp := serve(router, http.MethodGet, path, worker)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
	if router.chat.calls != 2 {
		t.Fatalf("expected 2 conversation calls got %d", router.chat.calls)
	}
}

func TestNoRawStatusEndpoint(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	worker := buildToken(t, cfg, 8, enums.RoleWorker)
	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		resp := serve(router, method, "/worker/orders/42", worker)
		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405 got %d", method, resp.Code)
		}
	}
	resp := serve(router, http.MethodPost, "/worker/orders/42/status", worker)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
