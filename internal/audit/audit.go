package audit

import (
	"context"
	"time"
)

// Event represents a single auditable action in the system.
type Event struct {
	OrganizationID string
	UserID         string // "" for system events
	Action         string // e.g. "estimate.updated", "access.denied"
	ResourceType   string // e.g. "estimate", "member"
	ResourceID     string
	Metadata       map[string]any
	Source         string    // "api", "system"
	OccurredAt     time.Time // stamped on enqueue when zero
}

// StoredEvent is an Event as read back from the store.
type StoredEvent struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	UserID         *string        `json:"user_id"`
	Action         string         `json:"action"`
	ResourceType   *string        `json:"resource_type"`
	ResourceID     *string        `json:"resource_id"`
	Metadata       map[string]any `json:"metadata"`
	Source         string         `json:"source"`
	CreatedAt      time.Time      `json:"created_at"`
}

const (
	ActionAccessDenied    = "access.denied"
	ActionEstimateCreated = "estimate.created"
	ActionEstimateUpdated = "estimate.updated"
	ActionMemberRoleSet   = "member.role_changed"
)

const (
	SourceAPI    = "api"
	SourceSystem = "system"
)

const (
	MetadataRequestID   = "request_id"
	MetadataKind        = "kind"
	MetadataRequirement = "requirement"
	MetadataReason      = "reason"
	MetadataFields      = "fields"
	MetadataAccessLevel = "access_level"
	MetadataFromRole    = "from_role"
	MetadataToRole      = "to_role"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }
