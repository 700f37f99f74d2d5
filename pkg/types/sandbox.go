package types

import "time"

// SandboxStatus tracks a persistent sandbox through its lifecycle.
// Transitions are monotonic active -> pausing -> paused, with paused/active
// returning to active on resume. A hard failure skips pausing entirely
// (kill-and-recreate).
type SandboxStatus string

const (
	SandboxStatusActive  SandboxStatus = "active"
	SandboxStatusPausing SandboxStatus = "pausing"
	SandboxStatusPaused  SandboxStatus = "paused"
)

// SandboxRecord is the persistence row for one user's sandbox of a given
// template. At most one non-expired record exists per (user_id, template).
type SandboxRecord struct {
	Id         uint          `json:"id"`
	ExternalId string        `json:"external_id"`
	UserId     string        `json:"user_id"`
	Template   string        `json:"template"`
	SandboxId  string        `json:"sandbox_id"`
	Status     SandboxStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SandboxInfo describes a sandbox as reported by the remote execution service.
type SandboxInfo struct {
	SandboxId string            `json:"sandbox_id"`
	Template  string            `json:"template"`
	State     string            `json:"state"`
	Metadata  map[string]string `json:"metadata"`
	StartedAt time.Time         `json:"started_at"`
}

// Metadata keys used to tag temporary sandboxes on the remote service.
const (
	SandboxMetaUserId   = "userId"
	SandboxMetaTemplate = "template"
)
