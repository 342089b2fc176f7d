package model

// Readiness is the ordinal capability tier a relay+signer pair satisfies.
type Readiness string

const (
	R0 Readiness = "R0"
	R1 Readiness = "R1"
	R2 Readiness = "R2"
	R3 Readiness = "R3"
	R4 Readiness = "R4"
)

// Rank returns 0..4, or -1 for an unknown value.
func (r Readiness) Rank() int {
	switch r {
	case R0:
		return 0
	case R1:
		return 1
	case R2:
		return 2
	case R3:
		return 3
	case R4:
		return 4
	}
	return -1
}

// Capabilities is the raw capability tuple of a relay and the local signer.
type Capabilities struct {
	RelayURL           string `json:"relayUrl"`
	SupportsAuth       bool   `json:"supportsAuth"`
	SupportsGroupKinds bool   `json:"supportsGroupKinds"`
	SupportsStableAck  bool   `json:"supportsStableAck"`
	SignerNip44        bool   `json:"signerNip44"`
}

// CapabilitySnapshot is a cached probe result.
type CapabilitySnapshot struct {
	RelayURL  string    `json:"relayUrl"`
	CheckedAt int64     `json:"checkedAt"`
	ExpiresAt int64     `json:"expiresAt"`
	StaleAt   int64     `json:"staleAt"`
	Readiness Readiness `json:"readiness"`
	Reasons   []string  `json:"reasons"`
}
