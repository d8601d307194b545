package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/doorkeeper/internal/actuator"
	"github.com/friendsincode/doorkeeper/internal/door"
	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/logbuffer"
	"github.com/friendsincode/doorkeeper/internal/models"
)

type fakeDoor struct {
	decision  door.Decision
	status    door.Status
	overwrite *models.Overwrite
	err       error
	openErr   error
	opened    int
	cleared   int
}

func (f *fakeDoor) Current() (door.Decision, error) { return f.decision, f.err }
func (f *fakeDoor) Status() (door.Status, error)    { return f.status, f.err }
func (f *fakeDoor) Overwrite() (*models.Overwrite, error) {
	return f.overwrite, f.err
}

func (f *fakeDoor) SetOverwrite(_ context.Context, state models.DoorState, until time.Time) (models.Overwrite, error) {
	if f.err != nil {
		return models.Overwrite{}, f.err
	}
	ow := models.Overwrite{State: state, Until: until}
	if err := ow.Validate(time.Now()); err != nil {
		return models.Overwrite{}, err
	}
	f.overwrite = &ow
	return ow, nil
}

func (f *fakeDoor) ClearOverwrite(context.Context) error {
	f.cleared++
	f.overwrite = nil
	return f.err
}

func (f *fakeDoor) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	return nil
}

type fakeHours struct {
	schedule models.WeeklySchedule
}

func (f *fakeHours) Schedule(context.Context) (models.WeeklySchedule, error) {
	return f.schedule, nil
}

func (f *fakeHours) Day(_ context.Context, day models.Weekday) ([]models.TimeFrame, error) {
	return f.schedule.Frames(day), nil
}

func (f *fakeHours) ReplaceDay(_ context.Context, day models.Weekday, frames []models.TimeFrame) error {
	sorted, err := models.ValidateFrames(frames)
	if err != nil {
		return err
	}
	f.schedule[day] = sorted
	return nil
}

type fakeHolidays map[int][]models.Holiday

func (f fakeHolidays) Lookup(_ context.Context, year int) []models.Holiday {
	return f[year]
}

func newTestRouter(d *fakeDoor, hours *fakeHours, bus *events.Bus) http.Handler {
	if bus == nil {
		bus = events.NewBus()
	}
	holidays := fakeHolidays{2024: {{Date: "2024-12-25", Name: "Christmas Day", LocalName: "Christtag"}}}
	r := chi.NewRouter()
	New(d, hours, holidays, bus, zerolog.Nop()).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
}

func TestStateEndpoint(t *testing.T) {
	until := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	d := &fakeDoor{
		decision: door.Decision{State: models.DoorUnlocked, Until: until, Source: door.SourceSchedule},
		status:   door.Status{Applied: models.DoorUnlocked},
	}
	rr := do(t, newTestRouter(d, &fakeHours{}, nil), http.MethodGet, "/api/v1/door/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		Decision struct {
			State      string    `json:"state"`
			ValidUntil time.Time `json:"validUntil"`
			Source     string    `json:"source"`
		} `json:"decision"`
	}
	decode(t, rr, &body)
	if body.Decision.State != "unlocked" || !body.Decision.ValidUntil.Equal(until) || body.Decision.Source != "schedule" {
		t.Errorf("state body = %+v", body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"not running", door.ErrNotRunning, http.StatusServiceUnavailable, "scheduler_not_running"},
		{"no decision", door.ErrNoDecision, http.StatusServiceUnavailable, "no_decision_yet"},
		{"actuator timeout", actuator.ErrTimeout, http.StatusGatewayTimeout, "actuator_timeout"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newTestRouter(&fakeDoor{err: tt.err}, &fakeHours{}, nil), http.MethodGet, "/api/v1/door/state", "")
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			var body map[string]string
			decode(t, rr, &body)
			if body["error"] != tt.code {
				t.Errorf("error = %q, want %q", body["error"], tt.code)
			}
		})
	}
}

func TestOpenEndpoint(t *testing.T) {
	d := &fakeDoor{}
	h := newTestRouter(d, &fakeHours{}, nil)

	if rr := do(t, h, http.MethodPost, "/api/v1/door/open", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if d.opened != 1 {
		t.Errorf("opened = %d", d.opened)
	}

	d.openErr = actuator.ErrTimeout
	if rr := do(t, h, http.MethodPost, "/api/v1/door/open", ""); rr.Code != http.StatusGatewayTimeout {
		t.Errorf("status on timeout = %d", rr.Code)
	}
}

func TestOverwriteEndpoints(t *testing.T) {
	d := &fakeDoor{}
	h := newTestRouter(d, &fakeHours{}, nil)
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	tests := []struct {
		name  string
		body  string
		want  int
		field string
	}{
		{"locked", `{"state":"locked","until":"` + until.Format(time.RFC3339) + `"}`, http.StatusOK, ""},
		{"open cannot be held", `{"state":"open","until":"` + until.Format(time.RFC3339) + `"}`, http.StatusBadRequest, "state"},
		{"unknown state", `{"state":"ajar","until":"` + until.Format(time.RFC3339) + `"}`, http.StatusBadRequest, "state"},
		{"past", `{"state":"unlocked","until":"2001-01-01T00:00:00Z"}`, http.StatusBadRequest, "until"},
		{"missing until", `{"state":"unlocked"}`, http.StatusBadRequest, "until"},
		{"bad json", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPut, "/api/v1/door/overwrite", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
			if tt.field != "" {
				var body map[string]string
				decode(t, rr, &body)
				if body["field"] != tt.field {
					t.Errorf("field = %q, want %q", body["field"], tt.field)
				}
			}
		})
	}

	rr := do(t, h, http.MethodGet, "/api/v1/door/overwrite", "")
	var got overwriteResponse
	decode(t, rr, &got)
	if got.Overwrite == nil || got.Overwrite.State != models.DoorLocked || !got.Overwrite.Until.Equal(until) {
		t.Errorf("GET overwrite = %+v", got.Overwrite)
	}

	if rr := do(t, h, http.MethodDelete, "/api/v1/door/overwrite", ""); rr.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rr.Code)
	}
	if d.cleared != 1 || d.overwrite != nil {
		t.Errorf("overwrite not cleared")
	}
}

func TestOpeningHoursEndpoints(t *testing.T) {
	hours := &fakeHours{schedule: models.WeeklySchedule{
		models.Monday: {{Start: 480, End: 720}},
	}}
	h := newTestRouter(&fakeDoor{}, hours, nil)

	rr := do(t, h, http.MethodGet, "/api/v1/door/opening-hours", "")
	var list struct {
		Days []dayResponse `json:"days"`
	}
	decode(t, rr, &list)
	if len(list.Days) != 7 || len(list.Days[0].Frames) != 1 || list.Days[6].Frames == nil {
		t.Errorf("list = %+v", list)
	}

	for _, day := range []string{"2", "tuesday", "Dienstag", "di"} {
		rr := do(t, h, http.MethodPut, "/api/v1/door/opening-hours/"+day, `{"frames":[{"start":840,"end":1080},{"start":480,"end":720}]}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("PUT %s status = %d (%s)", day, rr.Code, rr.Body.String())
		}
		var got dayResponse
		decode(t, rr, &got)
		if got.Day != models.Tuesday || got.Frames[0].Start != 480 {
			t.Errorf("PUT %s = %+v", day, got)
		}
	}

	rr = do(t, h, http.MethodPut, "/api/v1/door/opening-hours/funday", `{"frames":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown day status = %d", rr.Code)
	}

	rr = do(t, h, http.MethodPut, "/api/v1/door/opening-hours/1", `{"frames":[{"start":480,"end":720},{"start":700,"end":800}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("overlap status = %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/door/opening-hours/montag", "")
	var day dayResponse
	decode(t, rr, &day)
	if day.Day != models.Monday || len(day.Frames) != 1 {
		t.Errorf("GET montag = %+v", day)
	}
}

func TestHolidaysEndpoint(t *testing.T) {
	h := newTestRouter(&fakeDoor{}, &fakeHours{}, nil)

	rr := do(t, h, http.MethodGet, "/api/v1/door/holidays/2024", "")
	var body struct {
		Holidays []models.Holiday `json:"holidays"`
	}
	decode(t, rr, &body)
	if len(body.Holidays) != 1 || body.Holidays[0].LocalName != "Christtag" {
		t.Errorf("holidays = %+v", body.Holidays)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/door/holidays/2030", "")
	decode(t, rr, &body)
	if body.Holidays == nil || len(body.Holidays) != 0 {
		t.Errorf("empty year = %+v", body.Holidays)
	}

	if rr := do(t, h, http.MethodGet, "/api/v1/door/holidays/soon", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad year status = %d", rr.Code)
	}
}

func TestStreamPushesDoorEvents(t *testing.T) {
	bus := events.NewBus()
	d := &fakeDoor{decision: door.Decision{State: models.DoorLocked, Source: door.SourceHoliday}}
	srv := httptest.NewServer(newTestRouter(d, &fakeHours{}, bus))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/door/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	read := func() map[string]any {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	}

	if msg := read(); msg["type"] != "door.decision" {
		t.Fatalf("first message = %v", msg)
	}

	// the handler subscribes before sending the initial decision
	for bus.Subscribers(events.EventDoorState) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(events.EventDoorState, events.Payload{"state": "unlocked"})

	msg := read()
	if msg["type"] != string(events.EventDoorState) {
		t.Fatalf("message type = %v", msg["type"])
	}
	if payload, _ := msg["payload"].(map[string]any); payload["state"] != "unlocked" {
		t.Errorf("payload = %v", msg["payload"])
	}
}

func TestLogsEndpoint(t *testing.T) {
	d := &fakeDoor{}
	r := chi.NewRouter()
	a := New(d, &fakeHours{}, fakeHolidays{}, events.NewBus(), zerolog.Nop())

	a.Routes(r)

	if rr := do(t, r, http.MethodGet, "/api/v1/door/logs", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status without buffer = %d", rr.Code)
	}

	buf := logbuffer.New(10)
	buf.Add(logbuffer.Entry{Level: "warn", Component: "door_controller", Message: "actuation failed"})
	buf.Add(logbuffer.Entry{Level: "info", Component: "holidays", Message: "loaded"})
	a.SetLogBuffer(buf)

	rr := do(t, r, http.MethodGet, "/api/v1/door/logs?level=warn&limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Entries    []logbuffer.Entry `json:"entries"`
		Components []string          `json:"components"`
	}
	decode(t, rr, &body)
	if len(body.Entries) != 1 || body.Entries[0].Component != "door_controller" || len(body.Components) != 2 {
		t.Errorf("logs = %+v", body)
	}

	if rr := do(t, r, http.MethodGet, "/api/v1/door/logs?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
}
