package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/actuator"
	"github.com/friendsincode/doorkeeper/internal/config"
	"github.com/friendsincode/doorkeeper/internal/logbuffer"
)

func testConfig(holidayURL string) *config.Config {
	return &config.Config{
		Environment:         "test",
		HTTPBind:            "127.0.0.1",
		HTTPPort:            0,
		DBBackend:           config.DatabaseSQLite,
		DBDSN:               ":memory:",
		Timezone:            "UTC",
		Location:            time.UTC,
		ReconfigureInterval: time.Minute,
		OpenHold:            50 * time.Millisecond,
		HolidayCountry:      "AT",
		HolidayAPIURL:       holidayURL,
		HolidayCacheSize:    2,
		HolidayCacheMaxAge:  time.Hour,
		HolidayFetchTimeout: time.Second,
		Transport:           config.TransportMemory,
		Namespace:           "doorkeeper",
		RPCTimeout:          time.Second,
	}
}

func TestServerServesDoorAPI(t *testing.T) {
	holidays := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer holidays.Close()

	srv, err := New(testConfig(holidays.URL), logbuffer.New(100), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()
	h := srv.Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := do(http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d (%s)", rr.Code, rr.Body.String())
	}
	if rr := do(http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "doorkeeper_") {
		t.Errorf("metrics status = %d", rr.Code)
	}

	rr := do(http.MethodPut, "/api/v1/door/opening-hours/montag", `{"frames":[{"start":0,"end":1439}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT opening hours status = %d (%s)", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		rr = do(http.MethodGet, "/api/v1/door/state", "")
		if rr.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never became available: %d %s", rr.Code, rr.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if rr := do(http.MethodPost, "/api/v1/door/open", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("open status = %d (%s)", rr.Code, rr.Body.String())
	}
	if srv.simulator.Calls(actuator.MethodOpen) != 1 {
		t.Errorf("simulated actuator open calls = %d", srv.simulator.Calls(actuator.MethodOpen))
	}
}

func TestServerRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Transport = "carrier-pigeon"

	if _, err := New(cfg, nil, zerolog.Nop()); err == nil {
		t.Fatal("New() succeeded with unknown transport")
	}
}
