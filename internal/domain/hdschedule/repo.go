package hdschedule

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrSlotTaken is returned by Create when (date, slot) is already booked.
	ErrSlotTaken = errors.New("slot is already booked")
	// ErrNotFound is returned when no appointment has the requested id.
	ErrNotFound = errors.New("appointment not found")
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDate(ctx context.Context, date string) ([]*Appointment, error)
	// Delete removes the appointment and returns what was removed.
	Delete(ctx context.Context, id uuid.UUID) (*Appointment, error)
}
