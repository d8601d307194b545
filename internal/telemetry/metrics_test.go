package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetDoorState(t *testing.T) {
	SetDoorState("unlocked")
	if got := testutil.ToFloat64(DoorState.WithLabelValues("unlocked")); got != 1 {
		t.Errorf("unlocked gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DoorState.WithLabelValues("locked")); got != 0 {
		t.Errorf("locked gauge = %v, want 0", got)
	}

	SetDoorState("locked")
	if got := testutil.ToFloat64(DoorState.WithLabelValues("unlocked")); got != 0 {
		t.Errorf("unlocked gauge after lock = %v, want 0", got)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/days/{day}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/days/{day}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/days/3", nil))

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/days/{day}", "418"))
	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestHandlerServesDoorkeeperMetrics(t *testing.T) {
	SchedulerTicksTotal.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "doorkeeper_scheduler_ticks_total") {
		t.Error("scheduler tick counter not exported")
	}
}
