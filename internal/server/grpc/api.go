package grpcserver

import (
	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
)

// DispatchRequest is the body of Dispatch.
type DispatchRequest struct {
	Action             model.Action        `json:"action"`
	Payload            model.Payload       `json:"payload"`
	RequestedMode      model.TransportMode `json:"requestedMode,omitempty"`
	Tier               *model.MissionTier  `json:"tier,omitempty"`
	DowngradeConfirmed bool                `json:"downgradeConfirmed,omitempty"`
	AllowTier2Override bool                `json:"allowTier2Override,omitempty"`
	DisallowFallback   bool                `json:"disallowFallback,omitempty"`
	Retries            int                 `json:"retries,omitempty"`
}

// DispatchResponse carries the classified outcome.
type DispatchResponse struct {
	Outcome   feedback.Outcome `json:"outcome"`
	UIMessage string           `json:"uiMessage,omitempty"`
}

// GroupRequest names one group.
type GroupRequest struct {
	GroupID string `json:"groupId"`
}

// ProjectionResponse is a group projection with its list summary.
type ProjectionResponse struct {
	Projection model.Projection   `json:"projection"`
	Summary    projection.Summary `json:"summary"`
}

// ListGroupsResponse lists every loaded group.
type ListGroupsResponse struct {
	Groups []projection.Summary `json:"groups"`
}

// AuditRequest selects a page of a group's audit trail. The viewer is the caller.
type AuditRequest struct {
	GroupID  string                 `json:"groupId"`
	Cursor   int                    `json:"cursor,omitempty"`
	PageSize int                    `json:"pageSize,omitempty"`
	Action   string                 `json:"action,omitempty"`
	Actor    projection.ActorFilter `json:"actor,omitempty"`
}

// AuditResponse wraps one audit page.
type AuditResponse struct {
	Page projection.AuditPage `json:"page"`
}

// ProbeRequest asks for capability snapshots of relays. Empty relays uses
// the configured set.
type ProbeRequest struct {
	Relays  []string           `json:"relays,omitempty"`
	Trigger capability.Trigger `json:"trigger,omitempty"`
}

// ProbeResponse reports per-relay snapshots and the weakest of them.
type ProbeResponse struct {
	Snapshots []model.CapabilitySnapshot `json:"snapshots"`
	Messages  []capability.Message       `json:"messages,omitempty"`
	Weakest   *model.CapabilitySnapshot  `json:"weakest,omitempty"`
}

// RotationStatusResponse reports rotation jobs and key states.
type RotationStatusResponse struct {
	Jobs []model.RotationJob `json:"jobs"`
	Keys []model.KeyState    `json:"keys,omitempty"`
}

// RevokeDeviceRequest names a compromised device.
type RevokeDeviceRequest struct {
	GroupID           string              `json:"groupId"`
	CompromisedPubkey string              `json:"compromisedPubkey"`
	Reason            string              `json:"reason,omitempty"`
	RequestedMode     model.TransportMode `json:"requestedMode,omitempty"`
}

// RevokeDeviceResponse reports each remediation step.
type RevokeDeviceResponse struct {
	OK                   bool               `json:"ok"`
	MembershipRemediated bool               `json:"membershipRemediated"`
	Removal              feedback.Outcome   `json:"removal"`
	RevokedKeyCount      int                `json:"revokedKeyCount"`
	CorrelationID        string             `json:"correlationId,omitempty"`
	RotationScheduled    bool               `json:"rotationScheduled"`
	RotationJob          *model.RotationJob `json:"rotationJob,omitempty"`
}
