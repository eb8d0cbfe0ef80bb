package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/renalcare/hdschedule/internal/hdclient"
	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/pkg/slots"
)

// BookKey is the in-flight key of a booking for (date, slotID).
func BookKey(date slots.Date, slotID string) string {
	return date.Key() + slotID
}

// CancelKey is the in-flight key of a cancellation.
func CancelKey(id string) string {
	return "cancel-" + id
}

// Cell is one (date, slot) position of the weekly grid.
type Cell struct {
	Date        slots.Date
	Slot        slots.Slot
	Appointment *hdclient.Appointment
	InFlight    bool
	CanBook     bool
}

// Taken reports whether the cell has an appointment.
func (c Cell) Taken() bool { return c.Appointment != nil }

// Key returns the in-flight key of the action the cell offers.
func (c Cell) Key() string {
	if c.Appointment != nil {
		return CancelKey(c.Appointment.ID.String())
	}
	return BookKey(c.Date, c.Slot.ID)
}

// WeekView is a Sunday-to-Saturday grid of slots around a center date.
type WeekView struct {
	store Store
	bus   *eventbus.Bus
	opts  options
	subs  subscription

	mu       sync.Mutex
	center   slots.Date
	byDate   map[string][]hdclient.Appointment
	failed   []string
	gen      uint64
	patient  Patient
	inFlight map[string]struct{}
	notice   *Notice
}

// NewWeekView creates a view centered on today.
func NewWeekView(store Store, bus *eventbus.Bus, opts ...ViewOption) *WeekView {
	o := buildOptions(opts)
	return &WeekView{
		store:    store,
		bus:      bus,
		opts:     o,
		center:   slots.Today(o.now),
		byDate:   make(map[string][]hdclient.Appointment),
		inFlight: make(map[string]struct{}),
	}
}

// Center returns the date the grid was last centered on.
func (w *WeekView) Center() slots.Date {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.center
}

// Days returns the seven dates on screen.
func (w *WeekView) Days() [7]slots.Date {
	return slots.WeekDates(w.Center())
}

// SetCenter moves the grid to the week containing d and reloads it. In-flight
// markers of the previous week are dropped.
func (w *WeekView) SetCenter(ctx context.Context, d slots.Date) error {
	w.mu.Lock()
	w.center = d
	w.byDate = make(map[string][]hdclient.Appointment)
	w.failed = nil
	w.inFlight = make(map[string]struct{})
	w.mu.Unlock()
	return w.Reload(ctx)
}

// NextWeek moves the grid seven days forward.
func (w *WeekView) NextWeek(ctx context.Context) error {
	return w.SetCenter(ctx, w.Center().AddDays(7))
}

// PrevWeek moves the grid seven days back.
func (w *WeekView) PrevWeek(ctx context.Context) error {
	return w.SetCenter(ctx, w.Center().AddDays(-7))
}

// Today recenters the grid on the current date.
func (w *WeekView) Today(ctx context.Context) error {
	return w.SetCenter(ctx, slots.Today(w.opts.now))
}

// Reload fetches all seven days concurrently. A day whose fetch fails is
// shown empty; the others are unaffected. Results for a week that has been
// navigated away from in the meantime are discarded.
func (w *WeekView) Reload(ctx context.Context) error {
	w.mu.Lock()
	w.gen++
	gen := w.gen
	days := slots.WeekDates(w.center)
	w.mu.Unlock()

	var (
		lists [7][]hdclient.Appointment
		errs  [7]error
		g     errgroup.Group
	)
	for i, d := range days {
		g.Go(func() error {
			appts, err := w.store.ListByDate(ctx, d.Key())
			if err != nil {
				errs[i] = err
				appts = []hdclient.Appointment{}
			}
			lists[i] = appts
			return nil
		})
	}
	_ = g.Wait()

	byDate := make(map[string][]hdclient.Appointment, len(days))
	var failed []string
	for i, d := range days {
		key := d.Key()
		byDate[key] = lists[i]
		if errs[i] != nil {
			failed = append(failed, key)
			w.opts.logger.Warn().Err(errs[i]).Str("date", key).Msg("load appointments, showing day as empty")
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return nil
	}
	w.byDate = byDate
	w.failed = failed
	if err := ctx.Err(); err != nil && len(failed) == len(days) {
		return err
	}
	return nil
}

// FailedDays returns the date keys whose last fetch failed.
func (w *WeekView) FailedDays() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.failed...)
}

// Appointments returns the cached list for date.
func (w *WeekView) Appointments(date slots.Date) []hdclient.Appointment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]hdclient.Appointment(nil), w.byDate[date.Key()]...)
}

func (w *WeekView) SelectPatient(p Patient) {
	w.mu.Lock()
	w.patient = p
	w.mu.Unlock()
}

func (w *WeekView) ClearPatient() {
	w.SelectPatient(Patient{})
}

func (w *WeekView) Patient() Patient {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.patient
}

// InFlight reports whether a request tagged with key is running.
func (w *WeekView) InFlight(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inFlight[key]
	return ok
}

func (w *WeekView) cellLocked(d slots.Date, s slots.Slot) Cell {
	c := Cell{Date: d, Slot: s, Appointment: findSlot(w.byDate[d.Key()], s.ID)}
	_, c.InFlight = w.inFlight[c.Key()]
	c.CanBook = c.Appointment == nil && !c.InFlight && w.patient.selected()
	return c
}

// Grid returns one row per catalog slot, each with the seven days of the
// week in order.
func (w *WeekView) Grid() [][]Cell {
	w.mu.Lock()
	defer w.mu.Unlock()

	days := slots.WeekDates(w.center)
	rows := make([][]Cell, 0, len(w.opts.catalog))
	for _, s := range w.opts.catalog {
		row := make([]Cell, 0, len(days))
		for _, d := range days {
			row = append(row, w.cellLocked(d, s))
		}
		rows = append(rows, row)
	}
	return rows
}

// Cell returns the cell at (date, slotID).
func (w *WeekView) Cell(date slots.Date, slotID string) (Cell, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.opts.catalog {
		if s.ID == slotID {
			return w.cellLocked(date, s), true
		}
	}
	return Cell{}, false
}

// LastNotice returns the most recent failure notice, if any.
func (w *WeekView) LastNotice() (Notice, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notice == nil {
		return Notice{}, false
	}
	return *w.notice, true
}

func (w *WeekView) setNotice(action string, err error) {
	n := NoticeFor(action, err)
	w.notice = &n
}

// Book books (date, slotID) for the selected patient. Only the cell's own
// in-flight key is held while the request runs; other cells stay usable.
func (w *WeekView) Book(ctx context.Context, date slots.Date, slotID string) (*hdclient.Appointment, error) {
	key := BookKey(date, slotID)

	w.mu.Lock()
	var err error
	switch {
	case !w.patient.selected():
		err = ErrSelectPatient
	case slotID == "" || !knownSlot(w.opts.catalog, slotID):
		err = ErrSelectSlot
	case findSlot(w.byDate[date.Key()], slotID) != nil:
		err = ErrSlotTaken
	}
	if err == nil {
		if _, busy := w.inFlight[key]; busy {
			err = ErrInFlight
		}
	}
	if err != nil {
		w.setNotice(eventbus.ActionBook, err)
		w.mu.Unlock()
		return nil, err
	}
	req := hdclient.BookRequest{
		PHN:         w.patient.PHN,
		PatientName: w.patient.Name,
		Date:        date.Key(),
		SlotID:      slotID,
	}
	flights := w.inFlight
	flights[key] = struct{}{}
	w.mu.Unlock()

	appt, err := w.store.Book(ctx, req)

	w.mu.Lock()
	delete(flights, key)
	if err != nil {
		w.setNotice(eventbus.ActionBook, err)
	}
	w.mu.Unlock()

	if err != nil {
		w.opts.logger.Warn().Err(err).Str("date", req.Date).Str("slot_id", slotID).Msg("booking failed")
	}
	_ = w.Reload(ctx)
	return appt, err
}

// Cancel cancels appointment id. A not-found answer counts as success.
func (w *WeekView) Cancel(ctx context.Context, id string) error {
	key := CancelKey(id)

	w.mu.Lock()
	if _, busy := w.inFlight[key]; busy {
		w.setNotice(eventbus.ActionCancel, ErrInFlight)
		w.mu.Unlock()
		return ErrInFlight
	}
	flights := w.inFlight
	flights[key] = struct{}{}
	w.mu.Unlock()

	err := w.store.Cancel(ctx, id)
	if hdclient.IsNotFound(err) {
		w.opts.logger.Info().Str("appointment_id", id).Msg("appointment already gone")
		err = nil
	}

	w.mu.Lock()
	delete(flights, key)
	if err != nil {
		w.setNotice(eventbus.ActionCancel, err)
	}
	w.mu.Unlock()

	if err != nil {
		w.opts.logger.Warn().Err(err).Str("appointment_id", id).Msg("cancellation failed")
	}
	_ = w.Reload(ctx)
	return err
}

// Mount loads the week and reloads it on every schedule change until ctx
// ends or Unmount is called.
func (w *WeekView) Mount(ctx context.Context) error {
	w.subs.start(ctx, w.bus, w.opts.logger, w.Reload)
	return w.Reload(ctx)
}

// Unmount stops listening for schedule changes.
func (w *WeekView) Unmount() {
	w.subs.stop()
}
