package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"peakload/internal/config"
	"peakload/internal/types"
)

func TestMountRoutes_HealthAndV1(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{
		Server: config.ServerConfig{APIKey: types.SecretString("k")},
	})
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Post("/advisories", func(w http.ResponseWriter, r *http.Request) {
			Data(w, r, http.StatusOK, map[string]string{"ok": "yes"})
		})
	})
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health: expected 200 without auth, got %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected request id header on every response")
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/advisories", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("advisories without key: expected 401, got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/advisories", nil)
	r.Header.Set("Authorization", "Bearer k")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("advisories with key: expected 200, got %d", w.Code)
	}
}

func TestShutdown_RunsClosersInOrder(t *testing.T) {
	s, _ := newTestServer(t, nil)
	var order []string
	s.OnShutdown(func() { order = append(order, "pool") })
	s.OnShutdown(func() { order = append(order, "metrics") })

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(order) != 2 || order[0] != "pool" || order[1] != "metrics" {
		t.Errorf("unexpected closer order %v", order)
	}
}
