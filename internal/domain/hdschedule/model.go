package hdschedule

import (
	"time"

	"github.com/google/uuid"
)

// Appointment maps to the hd_appointment table. (Date, SlotID) is unique.
type Appointment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PHN         string    `db:"phn" json:"phn"`
	PatientName string    `db:"patient_name" json:"patientName"`
	Date        string    `db:"appt_date" json:"date"`
	SlotID      string    `db:"slot_id" json:"slotId"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// BookRequest is the body of POST /book.
type BookRequest struct {
	PHN         string  `json:"phn"`
	PatientName string  `json:"patientName"`
	Date        string  `json:"date"`
	SlotID      string  `json:"slotId"`
	Notes       *string `json:"notes,omitempty"`
}
