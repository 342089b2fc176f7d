package capability

import (
	"fmt"

	"github.com/navcom/groupctl/internal/model"
)

var uiMessages = map[Reason]string{
	ReasonNoRelays:             "No relay is configured for this group.",
	ReasonMissingAuth:          "Relay does not support required authentication.",
	ReasonMissingGroupKind:     "Relay does not support required group event kinds.",
	ReasonUnstableAck:          "Relay acknowledgements are unstable.",
	ReasonMissingSignerFeature: "Signer is missing secure group feature support.",
	ReasonStaleCache:           "Capability snapshot is stale and should be refreshed.",
}

// Message pairs a reason code with its user-facing text.
type Message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MapReasons deduplicates reasons and attaches their messages. Unknown codes are skipped.
func MapReasons(reasons []string) []Message {
	var out []Message
	for _, r := range uniq(reasons) {
		if msg, ok := uiMessages[Reason(r)]; ok {
			out = append(out, Message{Code: r, Message: msg})
		}
	}
	return out
}

// GateMessage explains why a secure preference may fall back to baseline.
// It returns "" when no notice applies.
func GateMessage(preferred model.TransportMode, securePilot bool, snap *model.CapabilitySnapshot) string {
	if preferred != model.ModeSecure {
		return ""
	}
	if !securePilot {
		return "Secure mode is currently unavailable in this build; baseline fallback will be used."
	}
	if snap == nil || snap.Readiness == "" || snap.Readiness == model.R4 {
		return ""
	}
	if msgs := MapReasons(snap.Reasons); len(msgs) > 0 {
		return fmt.Sprintf("Secure capability mismatch (%s). Baseline fallback may be used: %s", snap.Readiness, msgs[0].Message)
	}
	return fmt.Sprintf("Secure capability mismatch (%s). Baseline fallback may be used.", snap.Readiness)
}
