// Package capability evaluates relay and signer capabilities into readiness
// tiers and caches the results with TTL and staleness semantics.
package capability

import "github.com/navcom/groupctl/internal/model"

// Reason is an informational capability code.
type Reason string

const (
	ReasonNoRelays             Reason = "GROUP_CAPABILITY_NO_RELAYS"
	ReasonMissingAuth          Reason = "GROUP_CAPABILITY_MISSING_AUTH"
	ReasonMissingGroupKind     Reason = "GROUP_CAPABILITY_MISSING_GROUP_KIND"
	ReasonUnstableAck          Reason = "GROUP_CAPABILITY_UNSTABLE_ACK"
	ReasonMissingSignerFeature Reason = "GROUP_CAPABILITY_MISSING_SIGNER_FEATURE"
	ReasonStaleCache           Reason = "GROUP_CAPABILITY_STALE_CACHE"
)

// Trigger is the cause of a probe decision.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerCreate   Trigger = "create"
	TriggerJoin     Trigger = "join"
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// Result is the outcome of evaluating a capability tuple.
type Result struct {
	RelayURL  string
	CheckedAt int64
	Readiness model.Readiness
	Reasons   []string
}

// Evaluate computes readiness by AND-ing the flags in priority order.
// Reasons accumulate independently of readiness.
func Evaluate(c model.Capabilities, checkedAt int64) Result {
	var reasons []string
	if c.RelayURL == "" {
		reasons = append(reasons, string(ReasonNoRelays))
	}
	if !c.SupportsAuth {
		reasons = append(reasons, string(ReasonMissingAuth))
	}
	if !c.SupportsGroupKinds {
		reasons = append(reasons, string(ReasonMissingGroupKind))
	}
	if !c.SupportsStableAck {
		reasons = append(reasons, string(ReasonUnstableAck))
	}
	if !c.SignerNip44 {
		reasons = append(reasons, string(ReasonMissingSignerFeature))
	}
	return Result{RelayURL: c.RelayURL, CheckedAt: checkedAt, Readiness: readiness(c), Reasons: reasons}
}

func readiness(c model.Capabilities) model.Readiness {
	switch {
	case c.RelayURL == "" || !c.SupportsAuth:
		return model.R0
	case !c.SupportsGroupKinds:
		return model.R1
	case !c.SupportsStableAck:
		return model.R2
	case !c.SignerNip44:
		return model.R3
	}
	return model.R4
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
