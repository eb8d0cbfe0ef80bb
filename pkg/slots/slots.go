// Package slots defines the fixed catalog of bookable hemodialysis windows
// and the civil calendar dates they are booked against.
package slots

// Slot is one bookable two-hour window within a scheduling day. ID is the
// canonical "HH:MM" start time, so catalog order equals lexical order.
type Slot struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var defaultSlots = []Slot{
	{ID: "06:00", Label: "06:00 - 08:00"},
	{ID: "08:00", Label: "08:00 - 10:00"},
	{ID: "10:00", Label: "10:00 - 12:00"},
	{ID: "12:00", Label: "12:00 - 14:00"},
	{ID: "14:00", Label: "14:00 - 16:00"},
	{ID: "16:00", Label: "16:00 - 18:00"},
}

// DefaultSlots returns a copy of the unit's slot catalog, ordered by start time.
func DefaultSlots() []Slot {
	out := make([]Slot, len(defaultSlots))
	copy(out, defaultSlots)
	return out
}

// Lookup returns the catalog slot with the given id.
func Lookup(id string) (Slot, bool) {
	for _, s := range defaultSlots {
		if s.ID == id {
			return s, true
		}
	}
	return Slot{}, false
}

// Valid reports whether id names a slot in the catalog.
func Valid(id string) bool {
	_, ok := Lookup(id)
	return ok
}
