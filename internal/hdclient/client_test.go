package hdclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/renalcare/hdschedule/internal/platform/eventbus"
)

// fakeBackend records requests and answers with canned responses.
type fakeBackend struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handler  http.HandlerFunc
}

func newFakeBackend(t *testing.T, h http.HandlerFunc) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{handler: h}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.requests = append(fb.requests, r.Clone(context.Background()))
		fb.bodies = append(fb.bodies, string(body))
		fb.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		fb.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) count() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.requests)
}

func (fb *fakeBackend) last() (*http.Request, string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.requests[len(fb.requests)-1], fb.bodies[len(fb.bodies)-1]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nextEvent(t *testing.T, sub *eventbus.Subscription) eventbus.Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatal("expected a schedule-changed event")
		return eventbus.Event{}
	}
}

func expectNoEvent(t *testing.T, sub *eventbus.Subscription) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestListByDate(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{
			{"id": 7, "phn": "P1", "patientName": "One", "date": "2024-03-10", "slotId": "10:00"},
			{"id": "a-b-c", "phn": "P2", "patientName": "Two", "date": "2024-03-10", "slotId": "12:00", "notes": "wheelchair"},
		})
	})
	c := New(srv.URL + "/api/hd-schedule/")

	appts, err := c.ListByDate(context.Background(), "2024-03-10")
	if err != nil {
		t.Fatalf("ListByDate: %v", err)
	}
	if len(appts) != 2 || appts[0].ID != "7" || appts[1].ID != "a-b-c" || appts[1].Notes != "wheelchair" {
		t.Fatalf("unexpected appointments %+v", appts)
	}

	req, _ := fb.last()
	if req.Method != http.MethodGet || req.URL.Path != "/api/hd-schedule/day" || req.URL.Query().Get("date") != "2024-03-10" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL)
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("no Authorization header expected without a token")
	}
}

func TestListByDate_EmptyBodies(t *testing.T) {
	for _, body := range []string{"", "null", "[]"} {
		_, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, body)
		})
		appts, err := New(srv.URL).ListByDate(context.Background(), "2024-03-12")
		if err != nil {
			t.Fatalf("body %q: %v", body, err)
		}
		if appts == nil || len(appts) != 0 {
			t.Errorf("body %q: expected empty non-nil list, got %v", body, appts)
		}
	}
}

func TestListByDate_Errors(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	_, err := New(srv.URL).ListByDate(context.Background(), "2024-03-10")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway || httpErr.Message != "upstream exploded" {
		t.Fatalf("expected HTTPError 502, got %v", err)
	}

	_, err = New("http://127.0.0.1:1").ListByDate(context.Background(), "2024-03-10")
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Op != "list" {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []interface{}{})
	})

	c := New(srv.URL, WithTokenSource(StaticToken(" abc.def.ghi\n")))
	if _, err := c.ListByDate(context.Background(), "2024-03-10"); err != nil {
		t.Fatalf("ListByDate: %v", err)
	}
	req, _ := fb.last()
	if got := req.Header.Get("Authorization"); got != "Bearer abc.def.ghi" {
		t.Errorf("expected bearer header, got %q", got)
	}

	// A missing token file still sends the request, unauthenticated.
	c = New(srv.URL, WithTokenSource(FileToken(filepath.Join(t.TempDir(), "missing"))))
	if _, err := c.ListByDate(context.Background(), "2024-03-10"); err != nil {
		t.Fatalf("ListByDate: %v", err)
	}
	req, _ = fb.last()
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("expected no Authorization header, got %q", got)
	}
}

func TestFileToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("tok-1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	ts := FileToken(path)
	if tok, err := ts.Token(); err != nil || tok != "tok-1" {
		t.Fatalf("Token() = %q, %v", tok, err)
	}
	if err := os.WriteFile(path, []byte("tok-2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := ts.Token(); tok != "tok-2" {
		t.Errorf("expected rewritten token, got %q", tok)
	}
	if tok, err := FileToken("").Token(); err != nil || tok != "" {
		t.Errorf("empty path: %q, %v", tok, err)
	}
}

func TestBook(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id": "appt-1", "phn": req.PHN, "patientName": req.PatientName, "date": req.Date, "slotId": req.SlotID,
		})
	})
	bus := eventbus.New()
	sub := bus.Subscribe(4)
	defer sub.Close()
	c := New(srv.URL, WithNotifier(bus))

	appt, err := c.Book(context.Background(), BookRequest{PHN: "P1", PatientName: "One", Date: "2024-03-10", SlotID: "10:00"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.ID != "appt-1" || appt.SlotID != "10:00" {
		t.Errorf("unexpected appointment %+v", appt)
	}

	req, body := fb.last()
	if req.Method != http.MethodPost || req.URL.Path != "/book" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type %q", req.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, `"slotId":"10:00"`) || strings.Contains(body, "notes") {
		t.Errorf("unexpected body %s", body)
	}

	evt := nextEvent(t, sub)
	if evt.Topic != eventbus.TopicScheduleChanged || evt.Action != eventbus.ActionBook || evt.ResourceID != "appt-1" || evt.Date != "2024-03-10" {
		t.Errorf("unexpected event %+v", evt)
	}
	if payload, ok := evt.Payload.(Appointment); !ok || payload.PHN != "P1" {
		t.Errorf("expected created appointment as payload, got %#v", evt.Payload)
	}
}

func TestBook_ValidationSendsNothing(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	c := New(srv.URL)

	tests := []struct {
		req   BookRequest
		field string
	}{
		{BookRequest{SlotID: "10:00", Date: "2024-03-10"}, "phn"},
		{BookRequest{PHN: " ", SlotID: "10:00", Date: "2024-03-10"}, "phn"},
		{BookRequest{PHN: "P1", Date: "2024-03-10"}, "slotId"},
		{BookRequest{PHN: "P1", SlotID: "10:00"}, "date"},
	}
	for _, tt := range tests {
		_, err := c.Book(context.Background(), tt.req)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tt.field {
			t.Errorf("expected ValidationError on %s, got %v", tt.field, err)
		}
	}
	if fb.count() != 0 {
		t.Errorf("expected zero requests, got %d", fb.count())
	}
}

func TestBook_ConflictVerbatim(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "slot 10:00 on 2024-03-10 is already booked"})
	})
	bus := eventbus.New()
	sub := bus.Subscribe(4)
	defer sub.Close()

	_, err := New(srv.URL, WithNotifier(bus)).Book(context.Background(), BookRequest{PHN: "P1", Date: "2024-03-10", SlotID: "10:00"})
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if err.Error() != "slot 10:00 on 2024-03-10 is already booked" {
		t.Errorf("unexpected message %q", err.Error())
	}
	expectNoEvent(t, sub)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		check  func(error) bool
		msg    string
	}{
		{http.StatusBadRequest, `{"message":"phn is required"}`, func(err error) bool { var v *ValidationError; return errors.As(err, &v) }, "phn is required"},
		{http.StatusUnprocessableEntity, `{"error":"bad date"}`, func(err error) bool { var v *ValidationError; return errors.As(err, &v) }, "bad date"},
		{http.StatusConflict, `"already booked"`, IsConflict, "already booked"},
		{http.StatusInternalServerError, "", func(err error) bool { var h *HTTPError; return errors.As(err, &h) }, "http 500: Internal Server Error"},
	}
	for _, tt := range tests {
		_, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, tt.body)
		})
		_, err := New(srv.URL).Book(context.Background(), BookRequest{PHN: "P1", Date: "2024-03-10", SlotID: "10:00"})
		if !tt.check(err) {
			t.Errorf("status %d: unexpected error type %T", tt.status, err)
			continue
		}
		if err.Error() != tt.msg {
			t.Errorf("status %d: expected %q, got %q", tt.status, tt.msg, err.Error())
		}
	}
}

func TestCancel(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	bus := eventbus.New()
	sub := bus.Subscribe(4)
	defer sub.Close()

	if err := New(srv.URL, WithNotifier(bus)).Cancel(context.Background(), "appt 1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	req, _ := fb.last()
	if req.Method != http.MethodDelete || req.URL.EscapedPath() != "/appt%201" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.EscapedPath())
	}
	evt := nextEvent(t, sub)
	if evt.Action != eventbus.ActionCancel || evt.ResourceID != "appt 1" {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestCancel_NotFound(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "appointment not found"})
	})
	bus := eventbus.New()
	sub := bus.Subscribe(4)
	defer sub.Close()

	err := New(srv.URL, WithNotifier(bus)).Cancel(context.Background(), "gone")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	var nf *NotFoundError
	errors.As(err, &nf)
	if nf.ID != "gone" {
		t.Errorf("expected id on error, got %q", nf.ID)
	}
	// The slot is free either way, so views still hear about it.
	if evt := nextEvent(t, sub); evt.Action != eventbus.ActionCancel {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestCancel_ServerErrorNoEvent(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	bus := eventbus.New()
	sub := bus.Subscribe(4)
	defer sub.Close()

	err := New(srv.URL, WithNotifier(bus)).Cancel(context.Background(), "x")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPError 503, got %v", err)
	}
	expectNoEvent(t, sub)

	if err := New(srv.URL).Cancel(context.Background(), " "); err == nil {
		t.Error("expected validation error for empty id")
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`"abc"`, "abc"},
		{`42`, "42"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id ID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("%s: got %q, want %q", tt.in, id, tt.want)
		}
	}
	var id ID
	if err := json.Unmarshal([]byte(`{}`), &id); err == nil {
		t.Error("expected error for object id")
	}
}
