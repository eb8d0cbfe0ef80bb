package hdschedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renalcare/hdschedule/internal/platform/websocket"
	"github.com/renalcare/hdschedule/pkg/slots"
)

// Topic is the websocket topic schedule changes are published on.
const Topic = "hd-schedule"

const (
	EventBooked    = "schedule.booked"
	EventCancelled = "schedule.cancelled"
)

var (
	ErrMissingPHN  = errors.New("phn is required")
	ErrMissingSlot = errors.New("slotId is required")
	ErrUnknownSlot = errors.New("unknown slotId")
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
)

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingPHN) || errors.Is(err, ErrMissingSlot) ||
		errors.Is(err, ErrUnknownSlot) || errors.Is(err, ErrInvalidDate)
}

type Service struct {
	appointments AppointmentRepository
	events       websocket.EventPublisher
	logger       zerolog.Logger
}

// NewService wires the repository and an optional event publisher.
func NewService(repo AppointmentRepository, events websocket.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{appointments: repo, events: events, logger: logger}
}

func normalizeDate(date string) (string, error) {
	d, err := slots.ParseKey(strings.TrimSpace(date))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return d.Key(), nil
}

func (s *Service) ListByDate(ctx context.Context, date string) ([]*Appointment, error) {
	key, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	return s.appointments.ListByDate(ctx, key)
}

// Book creates an appointment. ErrSlotTaken means another booking holds the
// same date and slot.
func (s *Service) Book(ctx context.Context, req *BookRequest) (*Appointment, error) {
	if strings.TrimSpace(req.PHN) == "" {
		return nil, ErrMissingPHN
	}
	if strings.TrimSpace(req.SlotID) == "" {
		return nil, ErrMissingSlot
	}
	if !slots.Valid(req.SlotID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, req.SlotID)
	}
	key, err := normalizeDate(req.Date)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		PHN:         strings.TrimSpace(req.PHN),
		PatientName: strings.TrimSpace(req.PatientName),
		Date:        key,
		SlotID:      req.SlotID,
		Notes:       req.Notes,
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.logger.Info().Str("date", key).Str("slot_id", req.SlotID).Msg("booking conflict")
		}
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("date", key).Str("slot_id", a.SlotID).Msg("appointment booked")
	s.publish(ctx, EventBooked, a)
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// Cancel deletes the appointment. A second cancel of the same id returns
// ErrNotFound.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	a, err := s.appointments.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("appointment_id", id.String()).Str("date", a.Date).Str("slot_id", a.SlotID).Msg("appointment cancelled")
	s.publish(ctx, EventCancelled, a)
	return nil
}

// Slots returns the bookable slot catalog.
func (s *Service) Slots() []slots.Slot {
	return slots.DefaultSlots()
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	if s.events == nil {
		return
	}
	evt, err := websocket.NewEvent(eventType, Topic, a.ID.String(), a)
	if err != nil {
		s.logger.Error().Err(err).Str("type", eventType).Msg("build schedule event")
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("publish schedule event")
	}
}
