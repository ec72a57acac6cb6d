package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	h := newTestHandlers(nil, nil, nil)
	rec := doRequest(h.Healthz, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		h := newTestHandlers(&mockStore{}, nil, nil)
		rec := doRequest(h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("got status %d", rec.Code)
		}
	})

	t.Run("Database Down", func(t *testing.T) {
		h := newTestHandlers(&mockStore{pingErr: errors.New("connection refused")}, nil, nil)
		rec := doRequest(h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("got status %d, want 503", rec.Code)
		}
	})
}
