package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/amank-23/go-trading-engine/src/auth"
)

func okHandler(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

func TestRateLimiterAllowsBurstThenRefuses(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow("10.0.0.1") {
		t.Error("expected first request allowed")
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("expected second request allowed within burst")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("expected third request refused once the burst is spent")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	if !rl.Allow("10.0.0.1") {
		t.Error("expected first client's request allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("expected first client refused after spending its bucket")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("expected second client unaffected by first client's bucket")
	}
}

func TestRateLimiterMiddlewareReturns429(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", okHandler)

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(first)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Burst") != "1" {
		t.Errorf("Expected X-RateLimit-Burst header 1, got: %s", resp.Header.Get("X-RateLimit-Burst"))
	}

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err = app.Test(second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got: %d", resp.StatusCode)
	}
}

func TestTradingHaltBlocksEverythingButHealth(t *testing.T) {
	th := NewTradingHalt(0)
	th.Halt()

	app := fiber.New()
	app.Use(th.Middleware())
	app.Get("/health", okHandler)
	app.Get("/api/v1/trades", okHandler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 while halted, got: %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected health exempt from halt, got: %d", resp.StatusCode)
	}

	th.Resume()
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 after resume, got: %d", resp.StatusCode)
	}
	if th.IsHalted() {
		t.Error("expected halt flag cleared after resume")
	}
}

func TestTradingHaltShedsLoadAtInFlightCap(t *testing.T) {
	th := NewTradingHalt(1)

	app := fiber.New()
	app.Use(th.Middleware())
	app.Get("/api/v1/trades", okHandler)

	if got := th.InFlight(); got != 0 {
		t.Fatalf("expected no requests in flight, got: %d", got)
	}

	// hold the only slot as if a slow request were still being served
	th.inFlight.Add(1)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 at the in-flight cap, got: %d", resp.StatusCode)
	}

	th.inFlight.Add(-1)
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 once the slot freed, got: %d", resp.StatusCode)
	}
	if got := th.InFlight(); got != 0 {
		t.Errorf("expected in-flight counter back to zero, got: %d", got)
	}
}

func TestRequireAuthPassThroughWhenUnconfigured(t *testing.T) {
	app := fiber.New()
	app.Use(RequireAuth(nil))
	app.Get("/", okHandler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected pass-through without auth service, got: %d", resp.StatusCode)
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	service := auth.NewService("test-secret", time.Hour)
	service.RegisterAPICredentials("client-a", "secret-a")

	app := fiber.New()
	app.Use(RequireAuth(service))
	app.Get("/", okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc123"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.name, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got: %d", tc.name, resp.StatusCode)
		}
	}
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	service := auth.NewService("test-secret", time.Hour)
	service.RegisterAPICredentials("client-a", "secret-a")

	token, err := service.GenerateToken(auth.Credentials{APIKey: "client-a", APISecret: "secret-a"})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	app := fiber.New()
	app.Use(RequireAuth(service))
	app.Get("/", func(c *fiber.Ctx) error {
		clientID, _ := c.Locals("client_id").(string)
		return c.SendString(clientID)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 with valid token, got: %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if got := string(body); got != "client-a" {
		t.Errorf("expected client id client-a in request locals, got %q", got)
	}
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogger())
	app.Get("/", okHandler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	requestID := resp.Header.Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("expected X-Request-ID header on response")
	}
	if _, err := uuid.Parse(requestID); err != nil {
		t.Errorf("expected a parseable uuid request id, got %q", requestID)
	}

	// inbound correlation id survives
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id-1")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "upstream-id-1" {
		t.Errorf("expected inbound request id preserved, got %q", got)
	}
}
