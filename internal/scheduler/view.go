// Package scheduler holds the booking views of the hemodialysis unit: a
// single-day slot list and a seven-day grid. Both read appointments through a
// Store, never patch their caches locally after a mutation, and reload
// whenever the shared event bus reports a schedule change.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renalcare/hdschedule/internal/hdclient"
	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/pkg/slots"
)

// Local booking preconditions. The texts are shown to the user as-is. They
// are advisory: the backend makes the final call on a taken slot.
var (
	ErrSelectPatient = errors.New("Select Patient")
	ErrSelectSlot    = errors.New("Select Slot")
	ErrSlotTaken     = errors.New("Slot Taken")
	ErrInFlight      = errors.New("Request In Progress")
)

// Store is the subset of *hdclient.Client the views need.
type Store interface {
	ListByDate(ctx context.Context, date string) ([]hdclient.Appointment, error)
	Book(ctx context.Context, req hdclient.BookRequest) (*hdclient.Appointment, error)
	Cancel(ctx context.Context, id string) error
}

// Patient is the person bookings are made for.
type Patient struct {
	PHN  string
	Name string
}

func (p Patient) selected() bool { return strings.TrimSpace(p.PHN) != "" }

// Notice is a short user-facing message about a failed action.
type Notice struct {
	Title       string
	Description string
}

// NoticeFor converts an error from a book or cancel action into a Notice.
func NoticeFor(action string, err error) Notice {
	title := "Booking failed"
	if action == eventbus.ActionCancel {
		title = "Cancellation failed"
	}

	var (
		conflict   *hdclient.ConflictError
		validation *hdclient.ValidationError
		network    *hdclient.NetworkError
		httpErr    *hdclient.HTTPError
	)
	switch {
	case errors.Is(err, ErrSelectPatient):
		return Notice{Title: err.Error(), Description: "Choose a patient before booking a slot."}
	case errors.Is(err, ErrSelectSlot):
		return Notice{Title: err.Error(), Description: "Choose a slot to book."}
	case errors.Is(err, ErrSlotTaken):
		return Notice{Title: err.Error(), Description: "That slot already has an appointment."}
	case errors.Is(err, ErrInFlight):
		return Notice{Title: err.Error(), Description: "Wait for the previous request to finish."}
	case errors.As(err, &conflict):
		return Notice{Title: title, Description: conflict.Message}
	case errors.As(err, &validation):
		return Notice{Title: title, Description: validation.Error()}
	case errors.As(err, &network):
		return Notice{Title: title, Description: "The schedule service could not be reached."}
	case errors.As(err, &httpErr):
		return Notice{Title: title, Description: httpErr.Message}
	default:
		return Notice{Title: title, Description: err.Error()}
	}
}

// ViewOption configures a DayView or WeekView.
type ViewOption func(*options)

type options struct {
	logger  zerolog.Logger
	catalog []slots.Slot
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		logger:  zerolog.Nop(),
		catalog: slots.DefaultSlots(),
		now:     time.Now,
	}
}

func buildOptions(opts []ViewOption) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithLogger sets the view logger.
func WithLogger(l zerolog.Logger) ViewOption {
	return func(o *options) { o.logger = l }
}

// WithSlots replaces the default slot catalog.
func WithSlots(catalog []slots.Slot) ViewOption {
	return func(o *options) {
		o.catalog = append([]slots.Slot(nil), catalog...)
	}
}

// WithClock sets the source of "today".
func WithClock(now func() time.Time) ViewOption {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

const eventBuffer = 16

// subscription runs a view's reload loop while it is mounted.
type subscription struct {
	mu   sync.Mutex
	sub  *eventbus.Subscription
	done chan struct{}
}

// start subscribes to bus and calls reload for every schedule change until
// ctx ends or stop is called. It reports false if already running.
func (s *subscription) start(ctx context.Context, bus *eventbus.Bus, logger zerolog.Logger, reload func(context.Context) error) bool {
	if bus == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		select {
		case <-s.done:
		default:
			return false
		}
	}
	sub := bus.Subscribe(eventBuffer, eventbus.TopicScheduleChanged)
	done := make(chan struct{})
	s.sub, s.done = sub, done

	go func() {
		defer close(done)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				// Every event triggers the same full reload, so queued ones collapse.
				for drained := false; !drained; {
					select {
					case _, ok := <-sub.C():
						if !ok {
							return
						}
					default:
						drained = true
					}
				}
				logger.Debug().Str("action", evt.Action).Str("resource_id", evt.ResourceID).
					Bool("remote", evt.Remote).Msg("schedule changed, reloading")
				_ = reload(ctx)
			}
		}
	}()
	return true
}

// stop ends the reload loop and waits for it to exit.
func (s *subscription) stop() {
	s.mu.Lock()
	sub, done := s.sub, s.done
	s.sub, s.done = nil, nil
	s.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Close()
	<-done
}

func knownSlot(catalog []slots.Slot, id string) bool {
	for _, s := range catalog {
		if s.ID == id {
			return true
		}
	}
	return false
}

func findSlot(appts []hdclient.Appointment, slotID string) *hdclient.Appointment {
	for i := range appts {
		if appts[i].SlotID == slotID {
			a := appts[i]
			return &a
		}
	}
	return nil
}
