package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/audit"
	"github.com/nerrad567/solar-controller-core/internal/auth"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/solar-controller-core/internal/livestatus"
	"github.com/nerrad567/solar-controller-core/internal/pairing"
	"github.com/nerrad567/solar-controller-core/internal/telemetry"
)

// Default liveness timings.
const (
	DefaultStaleThreshold = 30 * time.Second
	DefaultSweepInterval  = 30 * time.Second
)

// defaultNamePrefix is combined with the last four characters of the
// device id when a claim does not name the device.
const defaultNamePrefix = "Solar Controller "

// Publisher sends a message to the broker and returns once the broker has
// accepted it. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Deps holds the coordinator's collaborators.
type Deps struct {
	Store     access.Store
	Cache     *livestatus.Cache
	Pairing   *pairing.Registry
	Publisher Publisher

	// Mirror optionally receives a copy of persisted telemetry.
	Mirror telemetry.Mirror

	// Audit optionally records claims, shares, removals and commands.
	Audit audit.Repository

	Topics         mqtt.Topics
	QoS            byte
	StaleThreshold time.Duration
	SweepInterval  time.Duration

	Logger Logger
	Now    func() time.Time
}

// Coordinator implements the device operations exposed to users and the
// telemetry entry points driven by the broker.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	store     access.Store
	cache     *livestatus.Cache
	pairing   *pairing.Registry
	publisher Publisher
	audit     audit.Repository
	ingestor  *telemetry.Ingestor

	topics         mqtt.Topics
	qos            byte
	staleThreshold time.Duration
	sweepInterval  time.Duration

	logger Logger
	now    func() time.Time
}

// New creates a Coordinator. Store, Cache and Pairing are required; a nil
// Publisher makes every control request fail with ErrDispatchFailed.
func New(deps Deps) *Coordinator {
	c := &Coordinator{
		store:          deps.Store,
		cache:          deps.Cache,
		pairing:        deps.Pairing,
		publisher:      deps.Publisher,
		audit:          deps.Audit,
		topics:         deps.Topics,
		qos:            deps.QoS,
		staleThreshold: deps.StaleThreshold,
		sweepInterval:  deps.SweepInterval,
		logger:         deps.Logger,
		now:            deps.Now,
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.staleThreshold <= 0 {
		c.staleThreshold = DefaultStaleThreshold
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = DefaultSweepInterval
	}

	var samples telemetry.SampleStore
	if deps.Store != nil {
		samples = deps.Store
	}
	c.ingestor = telemetry.NewIngestor(telemetry.Deps{
		Topics:  deps.Topics,
		Cache:   deps.Cache,
		Pairing: deps.Pairing,
		Store:   samples,
		Mirror:  deps.Mirror,
		Logger:  c.logger,
		Now:     c.now,
	})
	return c
}

// DeviceView is a linked device merged with its live status.
type DeviceView struct {
	access.LinkedDevice
	Status livestatus.Status `json:"status"`
}

// ClaimRequest is the input to ClaimDevice. Name is used only when the
// device is new.
type ClaimRequest struct {
	DeviceID         string `json:"deviceId"`
	ConfirmationCode string `json:"confirmationCode"`
	Name             string `json:"name"`
}

// UnmarshalJSON accepts the confirmation code as a string or a number, the
// same forms a device may report it in.
func (r *ClaimRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		DeviceID         string          `json:"deviceId"`
		ConfirmationCode json.RawMessage `json:"confirmationCode"`
		Name             string          `json:"name"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = ClaimRequest{
		DeviceID:         wire.DeviceID,
		ConfirmationCode: telemetry.DecodeCode(wire.ConfirmationCode),
		Name:             wire.Name,
	}
	return nil
}

// Command is a control request and also the wire form published to
// <ns>/<deviceId>/command.
type Command struct {
	Command string `json:"command"`
	State   bool   `json:"state"`
}

// DefaultDeviceName returns the name given to an unnamed new device.
func DefaultDeviceName(deviceID string) string {
	suffix := deviceID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return defaultNamePrefix + suffix
}

// ClaimDevice links the caller to a device whose current confirmation code
// they present. The first claimant of a device unknown to the store becomes
// its owner; later claimants only gain access.
//
// A code stays valid until the device reports a new one, so the same code
// may be presented again by anyone who knows it.
func (c *Coordinator) ClaimDevice(ctx context.Context, id auth.Identity, req ClaimRequest) (DeviceView, error) {
	if req.DeviceID == "" || !c.pairing.Consume(req.DeviceID, req.ConfirmationCode) {
		return DeviceView{}, ErrInvalidClaim
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultDeviceName(req.DeviceID)
	}

	linked, created, err := c.store.ClaimDevice(ctx, id.UserID, req.DeviceID, name)
	if err != nil {
		return DeviceView{}, err
	}

	c.logger.Info("device claimed",
		"device_id", req.DeviceID,
		"user_id", id.UserID,
		"new_device", created,
	)
	c.record(ctx, audit.ActionClaim, req.DeviceID, id, map[string]any{"owner": linked.IsOwner})
	return DeviceView{LinkedDevice: linked, Status: c.cache.Get(req.DeviceID)}, nil
}

// ListDevicesForUser returns the caller's devices, most recently linked
// first, each with its live status.
func (c *Coordinator) ListDevicesForUser(ctx context.Context, id auth.Identity) ([]DeviceView, error) {
	linked, err := c.store.ListDevicesForUser(ctx, id.UserID)
	if err != nil {
		return nil, err
	}

	views := make([]DeviceView, 0, len(linked))
	for _, l := range linked {
		views = append(views, DeviceView{LinkedDevice: l, Status: c.cache.Get(l.DeviceID)})
	}
	return views, nil
}

// ControlDevice publishes cmd to the device and, once the broker has
// accepted it, records the commanded relay state in the live cache. The
// device's own status report later confirms or corrects it. Nothing is
// recorded when the publish fails.
func (c *Coordinator) ControlDevice(ctx context.Context, id auth.Identity, deviceID string, cmd Command) (livestatus.Status, error) {
	if cmd.Command == "" {
		return livestatus.Status{}, ErrInvalidCommand
	}

	ok, err := c.store.HasAccess(ctx, id.UserID, deviceID)
	if err != nil {
		return livestatus.Status{}, err
	}
	if !ok {
		return livestatus.Status{}, ErrAccessDenied
	}

	if c.publisher == nil {
		return livestatus.Status{}, fmt.Errorf("%w: no broker connection", ErrDispatchFailed)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return livestatus.Status{}, fmt.Errorf("%w: encoding command: %w", ErrDispatchFailed, err)
	}
	if err := c.publisher.Publish(c.topics.Command(deviceID), payload, c.qos, false); err != nil {
		c.logger.Warn("command publish failed", "device_id", deviceID, "error", err)
		c.record(ctx, audit.ActionCommandFailed, deviceID, id, map[string]any{
			"command": cmd.Command,
			"state":   cmd.State,
			"error":   err.Error(),
		})
		return livestatus.Status{}, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	now := c.now()
	state := cmd.State
	status := c.cache.Upsert(deviceID, livestatus.Patch{RelayState: &state, LastUpdated: &now})

	c.logger.Info("command sent",
		"device_id", deviceID,
		"user_id", id.UserID,
		"command", cmd.Command,
		"state", cmd.State,
	)
	c.record(ctx, audit.ActionCommand, deviceID, id, map[string]any{"command": cmd.Command, "state": cmd.State})
	return status, nil
}

// ShareDevice gives the user registered under email non-owner access to a
// device the caller owns. It returns the user the device was shared with.
func (c *Coordinator) ShareDevice(ctx context.Context, id auth.Identity, deviceID, email string) (access.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return access.User{}, ErrTargetNotFound
	}

	target, err := c.store.ShareDevice(ctx, id.UserID, deviceID, email)
	if err != nil {
		return access.User{}, err
	}

	c.logger.Info("device shared", "device_id", deviceID, "owner_id", id.UserID, "target_id", target.ID)
	c.record(ctx, audit.ActionShare, deviceID, id, map[string]any{"targetUserId": target.ID, "targetEmail": target.Email})
	return target, nil
}

// RemoveDeviceAccess drops the caller's link to a device. When it was the
// last link the device is deleted too, which the result reports.
func (c *Coordinator) RemoveDeviceAccess(ctx context.Context, id auth.Identity, deviceID string) (bool, error) {
	deleted, err := c.store.RemoveAccess(ctx, id.UserID, deviceID)
	if err != nil {
		return false, err
	}

	c.logger.Info("device access removed", "device_id", deviceID, "user_id", id.UserID, "device_deleted", deleted)
	c.record(ctx, audit.ActionRemove, deviceID, id, map[string]any{"deviceDeleted": deleted})
	return deleted, nil
}

// IngestTelemetry applies one broker message. It satisfies
// mqtt.MessageHandler and never returns an error: malformed messages are
// logged and dropped so the stream keeps flowing.
func (c *Coordinator) IngestTelemetry(topic string, payload []byte) error {
	return c.ingestor.HandleMessage(topic, payload)
}

// SweepStaleness marks offline every online device not seen within the
// stale threshold as of now, returning the affected ids.
func (c *Coordinator) SweepStaleness(now time.Time) []string {
	stale := c.cache.MarkStaleIfUnseen(now, c.staleThreshold)
	if len(stale) > 0 {
		c.logger.Info("devices marked offline", "count", len(stale), "device_ids", stale)
	}
	return stale
}

// RunSweeper runs the staleness sweep every sweep interval until ctx is
// done.
func (c *Coordinator) RunSweeper(ctx context.Context) {
	c.cache.Run(ctx, c.sweepInterval, c.staleThreshold)
}

// Status returns the live status of one device.
func (c *Coordinator) Status(deviceID string) livestatus.Status {
	return c.cache.Get(deviceID)
}

// HasAccess reports whether the caller is linked to the device.
func (c *Coordinator) HasAccess(ctx context.Context, id auth.Identity, deviceID string) (bool, error) {
	return c.store.HasAccess(ctx, id.UserID, deviceID)
}
