package audit

import (
	"context"

	"github.com/xtmate/xtmate/internal/platform/middleware"
	"github.com/xtmate/xtmate/internal/rbac"
)

// DenialLogger records authorization denials as access.denied events.
type DenialLogger struct {
	logger Logger
}

func NewDenialLogger(logger Logger) *DenialLogger {
	return &DenialLogger{logger: logger}
}

// LogDenial implements rbac.AuditLogger. Denials without an organization
// (unauthenticated callers) have no tenant to file them under and are skipped.
func (d *DenialLogger) LogDenial(ctx context.Context, denial rbac.Denial) {
	if denial.OrganizationID == "" {
		return
	}
	meta := map[string]any{
		MetadataKind:   denial.Kind.String(),
		MetadataReason: denial.Reason,
	}
	if denial.Requirement != "" {
		meta[MetadataRequirement] = denial.Requirement
	}
	if id := middleware.GetRequestID(ctx); id != "" {
		meta[MetadataRequestID] = id
	}
	d.logger.Log(ctx, Event{
		OrganizationID: denial.OrganizationID,
		UserID:         denial.UserID,
		Action:         ActionAccessDenied,
		ResourceType:   denial.ResourceType,
		ResourceID:     denial.ResourceID,
		Metadata:       meta,
		Source:         SourceAPI,
	})
}

var _ rbac.AuditLogger = (*DenialLogger)(nil)
