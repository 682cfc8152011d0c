package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no dependencies is healthy", func(t *testing.T) {
		status := NewHealthChecker(nil, nil).Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
		if len(status.Dependencies) != 0 {
			t.Errorf("Expected no dependencies, got %d", len(status.Dependencies))
		}
	})

	t.Run("database and redis healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		defer mr.Close()
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer redisClient.Close()

		status := NewHealthChecker(db, redisClient).Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s: %+v", status.Status, status.Dependencies)
		}
		if status.Dependencies["database"].Status != StatusHealthy {
			t.Error("Expected healthy database")
		}
		if status.Dependencies["redis"].Status != StatusHealthy {
			t.Error("Expected healthy redis")
		}
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer redisClient.Close()
		mr.Close()

		status := NewHealthChecker(nil, redisClient).Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded, got %s", status.Status)
		}
	})

	t.Run("database query failure is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection reset"))

		status := NewHealthChecker(db, nil).Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if status.Dependencies["database"].Message != "connection reset" {
			t.Errorf("Unexpected message %q", status.Dependencies["database"].Message)
		}
	})

	t.Run("custom optional and required checks", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)
		checker.AddCheck("mongo", false, func(ctx context.Context) error { return errors.New("down") })
		if got := checker.Check(context.Background()).Status; got != StatusDegraded {
			t.Errorf("Expected degraded, got %s", got)
		}

		checker.AddCheck("amqp", true, func(ctx context.Context) error { return errors.New("down") })
		if got := checker.Check(context.Background()).Status; got != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", got)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	checker.SetVersion("1.2.3")

	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if status.Version != "1.2.3" {
		t.Errorf("Expected version 1.2.3, got %s", status.Version)
	}

	checker.AddCheck("database", true, func(ctx context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
