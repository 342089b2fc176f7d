package model

// RelayFailure is a relay that rejected or did not acknowledge a publish.
type RelayFailure struct {
	Relay string `json:"relay"`
	Error string `json:"error"`
}

// Receipt is the publish status of one event across a relay set.
type Receipt struct {
	EventID     string         `json:"eventId"`
	AckedRelays []string       `json:"ackedRelays,omitempty"`
	PublishedTo []string       `json:"publishedTo,omitempty"`
	Relays      []string       `json:"relays,omitempty"`
	Failures    []RelayFailure `json:"failures,omitempty"`
}
