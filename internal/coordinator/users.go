package coordinator

import (
	"context"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/auth"
)

// DeviceHistory returns persisted telemetry for a device the caller is
// linked to, newest first.
func (c *Coordinator) DeviceHistory(ctx context.Context, id auth.Identity, deviceID string, q access.SampleQuery) ([]access.Sample, error) {
	ok, err := c.store.HasAccess(ctx, id.UserID, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	return c.store.ListSamples(ctx, deviceID, q)
}

// Me returns the caller's own account.
func (c *Coordinator) Me(ctx context.Context, id auth.Identity) (access.User, error) {
	return c.store.GetUser(ctx, id.UserID)
}

// ListUsers returns every other registered user, ordered by name, for
// picking a share target.
func (c *Coordinator) ListUsers(ctx context.Context, id auth.Identity) ([]access.User, error) {
	return c.store.ListOtherUsers(ctx, id.UserID)
}
