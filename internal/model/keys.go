package model

// SecretClass classifies the sensitivity of a group secret.
type SecretClass string

const (
	SecretS1 SecretClass = "S1"
	SecretS2 SecretClass = "S2"
	SecretS3 SecretClass = "S3"
	SecretS4 SecretClass = "S4"
	SecretS5 SecretClass = "S5"
)

// KeyStatus is the lifecycle status of a group key.
type KeyStatus string

const (
	KeyActive    KeyStatus = "active"
	KeyRotating  KeyStatus = "rotating"
	KeyRevoked   KeyStatus = "revoked"
	KeyDestroyed KeyStatus = "destroyed"
	KeyExpired   KeyStatus = "expired"
)

// Terminal reports whether the status is absorbing.
func (s KeyStatus) Terminal() bool {
	return s == KeyRevoked || s == KeyDestroyed || s == KeyExpired
}

// KeyUseAction is the operation a key is used for.
type KeyUseAction string

const (
	UseSend      KeyUseAction = "send"
	UseSubscribe KeyUseAction = "subscribe"
	UseReconcile KeyUseAction = "reconcile"
	UseControl   KeyUseAction = "control"
)

// KeyState is the lifecycle state of one (group, key) pair.
type KeyState struct {
	KeyID         string               `json:"keyId"`
	GroupID       string               `json:"groupId"`
	SecretClass   SecretClass          `json:"secretClass"`
	Status        KeyStatus            `json:"status"`
	CreatedAt     int64                `json:"createdAt"`
	UpdatedAt     int64                `json:"updatedAt"`
	ExpiresAt     int64                `json:"expiresAt,omitempty"` // 0 means no expiry
	LastUsedAt    int64                `json:"lastUsedAt,omitempty"`
	UseCount      int                  `json:"useCount"`
	UsageByAction map[KeyUseAction]int `json:"usageByAction"`
}

// RotationTrigger is the cause of a key rotation.
type RotationTrigger string

const (
	TriggerSchedule            RotationTrigger = "schedule"
	TriggerMembershipChange    RotationTrigger = "membership-change"
	TriggerCompromiseSuspected RotationTrigger = "compromise-suspected"
	TriggerManual              RotationTrigger = "manual"
)

// JobStatus is the state of a rotation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobFailed    JobStatus = "failed"
	JobCompleted JobStatus = "completed"
)

// RotationJob is the single live rotation job of a group.
type RotationJob struct {
	GroupID       string          `json:"groupId"`
	KeyID         string          `json:"keyId"`
	Trigger       RotationTrigger `json:"trigger"`
	Status        JobStatus       `json:"status"`
	ScheduledAt   int64           `json:"scheduledAt"`
	UpdatedAt     int64           `json:"updatedAt"`
	Attempts      int             `json:"attempts"`
	NextRetryAt   int64           `json:"nextRetryAt,omitempty"` // 0 when no retry is offered
	LastAttemptAt int64           `json:"lastAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}
