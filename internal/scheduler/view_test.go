package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/renalcare/hdschedule/internal/domain/hdschedule"
	"github.com/renalcare/hdschedule/internal/hdclient"
	"github.com/renalcare/hdschedule/internal/platform/auth"
	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/pkg/slots"
)

func TestNoticeFor(t *testing.T) {
	tests := []struct {
		name   string
		action string
		err    error
		want   Notice
	}{
		{"select patient", eventbus.ActionBook, ErrSelectPatient, Notice{"Select Patient", "Choose a patient before booking a slot."}},
		{"select slot", eventbus.ActionBook, ErrSelectSlot, Notice{"Select Slot", "Choose a slot to book."}},
		{"slot taken", eventbus.ActionBook, ErrSlotTaken, Notice{"Slot Taken", "That slot already has an appointment."}},
		{"conflict verbatim", eventbus.ActionBook, &hdclient.ConflictError{Message: "slot 10:00 on 2024-03-10 is already booked"},
			Notice{"Booking failed", "slot 10:00 on 2024-03-10 is already booked"}},
		{"wrapped conflict", eventbus.ActionBook, fmt.Errorf("book: %w", &hdclient.ConflictError{Message: "taken"}),
			Notice{"Booking failed", "taken"}},
		{"validation", eventbus.ActionBook, &hdclient.ValidationError{Field: "phn", Message: "patient health number is required"},
			Notice{"Booking failed", "phn: patient health number is required"}},
		{"network on cancel", eventbus.ActionCancel, &hdclient.NetworkError{Op: "cancel", Err: errors.New("dial tcp: refused")},
			Notice{"Cancellation failed", "The schedule service could not be reached."}},
		{"http", eventbus.ActionCancel, &hdclient.HTTPError{Status: 503, Message: "maintenance"},
			Notice{"Cancellation failed", "maintenance"}},
		{"other", eventbus.ActionBook, errors.New("boom"), Notice{"Booking failed", "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NoticeFor(tt.action, tt.err); got != tt.want {
				t.Errorf("NoticeFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWithSlots(t *testing.T) {
	catalog := []slots.Slot{{ID: "07:00", Label: "07:00 - 11:00"}, {ID: "11:00", Label: "11:00 - 15:00"}}
	v := NewDayView(newFakeStore(nil), nil, WithSlots(catalog))
	catalog[0].ID = "mutated"

	got := v.Slots()
	if len(got) != 2 || got[0].Slot.ID != "07:00" {
		t.Fatalf("unexpected slots %+v", got)
	}
}

func TestMountWithoutBus(t *testing.T) {
	store := newFakeStore(nil)
	v := NewDayView(store, nil, WithClock(fixedClock("2024-03-10")))
	if err := v.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	v.Unmount()
	if lists, _, _ := store.calls(); len(lists) != 1 {
		t.Errorf("expected the initial load, got %v", lists)
	}
}

// newBackend serves the real hd-schedule resource over HTTP.
func newBackend(t *testing.T) string {
	t.Helper()
	e := echo.New()
	e.Use(auth.DevAuthMiddleware(auth.JWTConfig{}))
	svc := hdschedule.NewService(hdschedule.NewMemoryRepo(), nil, zerolog.Nop())
	hdschedule.NewHandler(svc).RegisterRoutes(e.Group("/api/hd-schedule"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/hd-schedule"
}

func TestViews_AgainstBackend(t *testing.T) {
	base := newBackend(t)
	bus := eventbus.New()
	clock := WithClock(fixedClock("2024-03-10"))

	// Two workstations share the backend; only the first shares a bus with both views.
	client := hdclient.New(base, hdclient.WithNotifier(bus))
	other := hdclient.New(base)

	day := NewDayView(client, bus, clock)
	week := NewWeekView(client, bus, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := day.Mount(ctx); err != nil {
		t.Fatalf("day Mount: %v", err)
	}
	defer day.Unmount()
	if err := week.Mount(ctx); err != nil {
		t.Fatalf("week Mount: %v", err)
	}
	defer week.Unmount()

	if _, err := other.Book(ctx, hdclient.BookRequest{PHN: "P1", PatientName: "One", Date: "2024-03-10", SlotID: "10:00"}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if err := day.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	var taken []string
	for _, sv := range day.Slots() {
		if sv.State == Booked {
			taken = append(taken, sv.Slot.ID)
		}
	}
	if len(taken) != 1 || taken[0] != "10:00" {
		t.Fatalf("expected only 10:00 taken, got %v", taken)
	}

	// The other workstation takes 12:00 after this view loaded; the backend refuses ours.
	if _, err := other.Book(ctx, hdclient.BookRequest{PHN: "P9", Date: "2024-03-10", SlotID: "12:00"}); err != nil {
		t.Fatalf("competing booking: %v", err)
	}
	day.SelectPatient(Patient{PHN: "P2", Name: "Two"})
	day.SelectSlot("12:00")
	if _, err := day.Book(ctx); !hdclient.IsConflict(err) {
		t.Fatalf("expected conflict from backend, got %v", err)
	}
	if n, _ := day.LastNotice(); n.Description != "slot 12:00 on 2024-03-10 is already booked" {
		t.Errorf("unexpected notice %+v", n)
	}

	day.SelectSlot("14:00")
	appt, err := day.Book(ctx)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	eventually(t, "week sees 14:00", func() bool {
		cell, _ := week.Cell(mustDate(t, "2024-03-10"), "14:00")
		return cell.Taken()
	})

	if err := week.Cancel(ctx, appt.ID.String()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	eventually(t, "day sees 14:00 free", func() bool { return !day.SlotTaken("14:00") })

	// Cancelling again hits a 404 that the view treats as done.
	if err := week.Cancel(ctx, appt.ID.String()); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestViews_CancelUnknownIDAgainstBackend(t *testing.T) {
	base := newBackend(t)
	bus := eventbus.New()
	client := hdclient.New(base, hdclient.WithNotifier(bus))
	ctx := context.Background()

	if err := client.Cancel(ctx, "42"); !hdclient.IsNotFound(err) {
		t.Fatalf("expected not-found from backend, got %T %v", err, err)
	}

	clock := WithClock(fixedClock("2024-03-10"))
	week := NewWeekView(client, bus, clock)
	day := NewDayView(client, bus, clock)
	if err := week.Cancel(ctx, "42"); err != nil {
		t.Errorf("week Cancel: expected success, got %v", err)
	}
	if err := day.Cancel(ctx, "42"); err != nil {
		t.Errorf("day Cancel: expected success, got %v", err)
	}
	if n, ok := week.LastNotice(); ok {
		t.Errorf("unexpected week notice %+v", n)
	}
	if n, ok := day.LastNotice(); ok {
		t.Errorf("unexpected day notice %+v", n)
	}
}
