package model

// Stamp positions an update in the recency total order: created_at first,
// then event id compared as an opaque string.
type Stamp struct {
	At      int64  `json:"at"`
	EventID string `json:"eventId,omitempty"`
}

// StampOf returns the recency stamp of an event.
func StampOf(ev Event) Stamp { return Stamp{At: int64(ev.CreatedAt), EventID: ev.ID} }

// After reports whether s wins over other.
func (s Stamp) After(other Stamp) bool {
	if s.At != other.At {
		return s.At > other.At
	}
	return s.EventID > other.EventID
}
