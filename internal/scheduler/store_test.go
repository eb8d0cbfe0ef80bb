package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/renalcare/hdschedule/internal/hdclient"
	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/pkg/slots"
)

// fakeStore is an in-memory Store that announces mutations on a bus the way
// *hdclient.Client does.
type fakeStore struct {
	mu        sync.Mutex
	byDate    map[string][]hdclient.Appointment
	nextID    int
	listCalls []string
	bookCalls int
	cancels   int
	listErr   map[string]error
	bookErr   error
	cancelErr error
	bookGate  chan struct{}
	bus       *eventbus.Bus
}

func newFakeStore(bus *eventbus.Bus) *fakeStore {
	return &fakeStore{
		byDate:  make(map[string][]hdclient.Appointment),
		listErr: make(map[string]error),
		bus:     bus,
	}
}

func (f *fakeStore) seed(date, slotID, phn, name string) hdclient.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a := hdclient.Appointment{ID: hdclient.ID(fmt.Sprint(f.nextID)), PHN: phn, PatientName: name, Date: date, SlotID: slotID}
	f.byDate[date] = append(f.byDate[date], a)
	return a
}

func (f *fakeStore) ListByDate(_ context.Context, date string) ([]hdclient.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, date)
	if err := f.listErr[date]; err != nil {
		return nil, err
	}
	out := append([]hdclient.Appointment{}, f.byDate[date]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out, nil
}

func (f *fakeStore) Book(ctx context.Context, req hdclient.BookRequest) (*hdclient.Appointment, error) {
	f.mu.Lock()
	f.bookCalls++
	gate := f.bookGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &hdclient.NetworkError{Op: "book", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	if f.bookErr != nil {
		err := f.bookErr
		f.mu.Unlock()
		return nil, err
	}
	for _, a := range f.byDate[req.Date] {
		if a.SlotID == req.SlotID {
			f.mu.Unlock()
			return nil, &hdclient.ConflictError{Message: fmt.Sprintf("slot %s on %s is already booked", req.SlotID, req.Date)}
		}
	}
	f.nextID++
	a := hdclient.Appointment{ID: hdclient.ID(fmt.Sprint(f.nextID)), PHN: req.PHN, PatientName: req.PatientName, Date: req.Date, SlotID: req.SlotID}
	f.byDate[req.Date] = append(f.byDate[req.Date], a)
	f.mu.Unlock()

	f.bus.Publish(eventbus.Event{Action: eventbus.ActionBook, ResourceID: a.ID.String(), Date: a.Date, Payload: a})
	return &a, nil
}

func (f *fakeStore) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	f.cancels++
	if f.cancelErr != nil {
		err := f.cancelErr
		f.mu.Unlock()
		return err
	}
	var found bool
	for date, list := range f.byDate {
		for i, a := range list {
			if a.ID.String() == id {
				f.byDate[date] = append(list[:i:i], list[i+1:]...)
				found = true
				break
			}
		}
	}
	f.mu.Unlock()

	f.bus.Publish(eventbus.Event{Action: eventbus.ActionCancel, ResourceID: id})
	if !found {
		return &hdclient.NotFoundError{ID: id}
	}
	return nil
}

func (f *fakeStore) calls() (lists []string, books, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.listCalls...), f.bookCalls, f.cancels
}

func (f *fakeStore) resetCalls() {
	f.mu.Lock()
	f.listCalls = nil
	f.bookCalls = 0
	f.cancels = 0
	f.mu.Unlock()
}

func mustDate(t *testing.T, key string) slots.Date {
	t.Helper()
	d, err := slots.ParseKey(key)
	if err != nil {
		t.Fatalf("ParseKey(%q): %v", key, err)
	}
	return d
}

func fixedClock(key string) func() time.Time {
	d, err := slots.ParseKey(key)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return d.In(time.Local).Add(9 * time.Hour) }
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
