package coordinator

import (
	"context"
	"fmt"

	"github.com/nerrad567/solar-controller-core/internal/audit"
	"github.com/nerrad567/solar-controller-core/internal/auth"
)

// DeviceActivity returns the audit trail of a device the caller is linked
// to, newest first. Without an audit repository the trail is empty.
func (c *Coordinator) DeviceActivity(ctx context.Context, id auth.Identity, filter audit.Filter) (*audit.ListResult, error) {
	ok, err := c.store.HasAccess(ctx, id.UserID, filter.DeviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}

	if c.audit == nil {
		return &audit.ListResult{Entries: []audit.Entry{}, Limit: filter.Limit, Offset: filter.Offset}, nil
	}
	result, err := c.audit.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return result, nil
}

// record appends to the audit trail. A failed write is logged and never
// fails the operation it describes.
func (c *Coordinator) record(ctx context.Context, action, deviceID string, id auth.Identity, details map[string]any) {
	if c.audit == nil {
		return
	}
	err := c.audit.Record(ctx, &audit.Entry{
		Action:    action,
		DeviceID:  deviceID,
		UserID:    id.UserID,
		Details:   details,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("audit write failed", "action", action, "device_id", deviceID, "error", err)
	}
}
