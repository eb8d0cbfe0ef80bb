package hdclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Appointment is one booked dialysis slot as returned by the backend.
type Appointment struct {
	ID          ID     `json:"id"`
	PHN         string `json:"phn"`
	PatientName string `json:"patientName"`
	Date        string `json:"date"`
	SlotID      string `json:"slotId"`
	Notes       string `json:"notes,omitempty"`
}

// BookRequest is the body of POST /book.
type BookRequest struct {
	PHN         string `json:"phn"`
	PatientName string `json:"patientName"`
	Date        string `json:"date"`
	SlotID      string `json:"slotId"`
	Notes       string `json:"notes,omitempty"`
}

// ID is an appointment identifier. Backends may send it as a JSON string or
// a JSON number; both decode to the same textual form.
type ID string

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts both string and numeric ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("appointment id: %w", err)
	}
	*id = ID(n.String())
	return nil
}
