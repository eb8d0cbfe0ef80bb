package scheduler

import (
	"context"
	"sync"

	"github.com/renalcare/hdschedule/internal/hdclient"
	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/pkg/slots"
)

// SlotState is the display state of one slot in the day view.
type SlotState int

const (
	Available SlotState = iota
	Pending
	Booked
)

func (s SlotState) String() string {
	switch s {
	case Available:
		return "available"
	case Pending:
		return "pending"
	case Booked:
		return "booked"
	default:
		return "unknown"
	}
}

// SlotView is one row of the day view.
type SlotView struct {
	Slot        slots.Slot
	State       SlotState
	Appointment *hdclient.Appointment
}

// DayView books and cancels slots on a single date for the selected patient.
// Methods are safe for concurrent use; no lock is held across a Store call.
type DayView struct {
	store Store
	bus   *eventbus.Bus
	opts  options
	subs  subscription

	mu       sync.Mutex
	date     slots.Date
	appts    []hdclient.Appointment
	gen      uint64
	patient  Patient
	selected string
	pending  map[string]struct{}
	notice   *Notice
}

// NewDayView creates a view on today's date. Nothing is loaded until Mount,
// SetDate or Reload is called.
func NewDayView(store Store, bus *eventbus.Bus, opts ...ViewOption) *DayView {
	o := buildOptions(opts)
	return &DayView{
		store:   store,
		bus:     bus,
		opts:    o,
		date:    slots.Today(o.now),
		appts:   []hdclient.Appointment{},
		pending: make(map[string]struct{}),
	}
}

// Date returns the date being shown.
func (v *DayView) Date() slots.Date {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.date
}

// SetDate switches to d, dropping the cached appointments of the old date,
// and loads d.
func (v *DayView) SetDate(ctx context.Context, d slots.Date) error {
	v.mu.Lock()
	v.date = d
	v.appts = []hdclient.Appointment{}
	v.selected = ""
	v.mu.Unlock()
	return v.Reload(ctx)
}

// Reload replaces the cache with the backend's list for the current date.
// On failure the cache is left empty and the error is logged and returned.
func (v *DayView) Reload(ctx context.Context) error {
	v.mu.Lock()
	v.gen++
	gen, key := v.gen, v.date.Key()
	v.mu.Unlock()

	appts, err := v.store.ListByDate(ctx, key)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return nil
	}
	if err != nil {
		v.opts.logger.Error().Err(err).Str("date", key).Msg("load appointments")
		v.appts = []hdclient.Appointment{}
		return err
	}
	v.appts = appts
	return nil
}

// SelectPatient sets the patient the next Book call is made for.
func (v *DayView) SelectPatient(p Patient) {
	v.mu.Lock()
	v.patient = p
	v.mu.Unlock()
}

// ClearPatient drops the selected patient.
func (v *DayView) ClearPatient() {
	v.SelectPatient(Patient{})
}

// Patient returns the selected patient, zero if none.
func (v *DayView) Patient() Patient {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.patient
}

// SelectSlot chooses the slot the next Book call uses. An empty id clears it.
func (v *DayView) SelectSlot(id string) {
	v.mu.Lock()
	v.selected = id
	v.mu.Unlock()
}

// SelectedSlot returns the slot id chosen with SelectSlot.
func (v *DayView) SelectedSlot() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected
}

// SlotTaken reports whether the cached list has an appointment in slot id.
func (v *DayView) SlotTaken(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return findSlot(v.appts, id) != nil
}

// Appointments returns a copy of the cached list.
func (v *DayView) Appointments() []hdclient.Appointment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]hdclient.Appointment(nil), v.appts...)
}

// Slots returns every catalog slot with its current state. A slot with a
// request in flight is Pending whatever the cache says.
func (v *DayView) Slots() []SlotView {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]SlotView, 0, len(v.opts.catalog))
	for _, s := range v.opts.catalog {
		sv := SlotView{Slot: s, State: Available, Appointment: findSlot(v.appts, s.ID)}
		if sv.Appointment != nil {
			sv.State = Booked
		}
		if _, ok := v.pending[s.ID]; ok {
			sv.State = Pending
		}
		out = append(out, sv)
	}
	return out
}

// LastNotice returns the most recent failure notice, if any.
func (v *DayView) LastNotice() (Notice, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.notice == nil {
		return Notice{}, false
	}
	return *v.notice, true
}

func (v *DayView) setNotice(action string, err error) {
	n := NoticeFor(action, err)
	v.notice = &n
}

// Book books the selected slot for the selected patient. The local checks
// run first and fail without touching the network. After the Store call the
// list is reloaded from the backend whatever the outcome.
func (v *DayView) Book(ctx context.Context) (*hdclient.Appointment, error) {
	v.mu.Lock()
	var err error
	switch {
	case !v.patient.selected():
		err = ErrSelectPatient
	case v.selected == "", !knownSlot(v.opts.catalog, v.selected):
		err = ErrSelectSlot
	case findSlot(v.appts, v.selected) != nil:
		err = ErrSlotTaken
	}
	if err == nil {
		if _, busy := v.pending[v.selected]; busy {
			err = ErrInFlight
		}
	}
	if err != nil {
		v.setNotice(eventbus.ActionBook, err)
		v.mu.Unlock()
		return nil, err
	}

	slotID := v.selected
	req := hdclient.BookRequest{
		PHN:         v.patient.PHN,
		PatientName: v.patient.Name,
		Date:        v.date.Key(),
		SlotID:      slotID,
	}
	v.pending[slotID] = struct{}{}
	v.mu.Unlock()

	appt, err := v.store.Book(ctx, req)

	v.mu.Lock()
	delete(v.pending, slotID)
	if err != nil {
		v.setNotice(eventbus.ActionBook, err)
	} else if v.selected == slotID {
		v.selected = ""
	}
	v.mu.Unlock()

	if err != nil {
		v.opts.logger.Warn().Err(err).Str("date", req.Date).Str("slot_id", slotID).Msg("booking failed")
	}
	_ = v.Reload(ctx)
	return appt, err
}

// Cancel cancels the appointment with the given id. An id the backend no
// longer knows counts as cancelled.
func (v *DayView) Cancel(ctx context.Context, id string) error {
	v.mu.Lock()
	var slotID string
	for _, a := range v.appts {
		if a.ID.String() == id {
			slotID = a.SlotID
			break
		}
	}
	if slotID != "" {
		if _, busy := v.pending[slotID]; busy {
			v.setNotice(eventbus.ActionCancel, ErrInFlight)
			v.mu.Unlock()
			return ErrInFlight
		}
		v.pending[slotID] = struct{}{}
	}
	v.mu.Unlock()

	err := v.store.Cancel(ctx, id)
	if hdclient.IsNotFound(err) {
		v.opts.logger.Info().Str("appointment_id", id).Msg("appointment already gone")
		err = nil
	}

	v.mu.Lock()
	if slotID != "" {
		delete(v.pending, slotID)
	}
	if err != nil {
		v.setNotice(eventbus.ActionCancel, err)
	}
	v.mu.Unlock()

	if err != nil {
		v.opts.logger.Warn().Err(err).Str("appointment_id", id).Msg("cancellation failed")
	}
	_ = v.Reload(ctx)
	return err
}

// Mount loads the current date and keeps the view in sync with the event
// bus until ctx ends or Unmount is called.
func (v *DayView) Mount(ctx context.Context) error {
	v.subs.start(ctx, v.bus, v.opts.logger, v.Reload)
	return v.Reload(ctx)
}

// Unmount stops listening for schedule changes.
func (v *DayView) Unmount() {
	v.subs.stop()
}
