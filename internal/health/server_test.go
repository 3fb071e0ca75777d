package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func getJSON(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return rec.Code, resp
}

func TestHealthAlwaysOK(t *testing.T) {
	s := New(0, WithLogger(discard()))
	s.RegisterChecker("down", func(context.Context) error {
		return errors.New("unreachable")
	})

	code, resp := getJSON(t, s.Handler(), "/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
}

func TestReadyNoCheckers(t *testing.T) {
	s := New(0, WithLogger(discard()))

	code, resp := getJSON(t, s.Handler(), "/ready")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp.Status != StatusReady {
		t.Errorf("status = %q, want %q", resp.Status, StatusReady)
	}
}

func TestReadyStates(t *testing.T) {
	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return errors.New("auth failed") }

	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all healthy",
			checkers:   map[string]Checker{"cf": ok, "do": ok},
			wantCode:   http.StatusOK,
			wantStatus: StatusReady,
		},
		{
			name:       "one of two down",
			checkers:   map[string]Checker{"cf": ok, "do": bad},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name:       "all down",
			checkers:   map[string]Checker{"cf": bad, "do": bad},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(0, WithLogger(discard()))
			for name, checker := range tt.checkers {
				s.RegisterChecker(name, checker)
			}

			code, resp := getJSON(t, s.Handler(), "/ready")
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Components) != len(tt.checkers) {
				t.Errorf("components = %d, want %d", len(resp.Components), len(tt.checkers))
			}
		})
	}
}

func TestReadyReportsComponentErrors(t *testing.T) {
	s := New(0, WithLogger(discard()))
	s.RegisterChecker("route53", func(context.Context) error {
		return errors.New("expired credentials")
	})

	code, resp := getJSON(t, s.Handler(), "/ready")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if len(resp.Components) != 1 {
		t.Fatalf("components = %d, want 1", len(resp.Components))
	}
	c := resp.Components[0]
	if c.Name != "route53" || c.Healthy {
		t.Errorf("component = %+v, want route53 unhealthy", c)
	}
	if c.Error != "expired credentials" {
		t.Errorf("component error = %q, want expired credentials", c.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(0, WithLogger(discard()))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
