package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/solar-controller-core/internal/livestatus"
	"github.com/nerrad567/solar-controller-core/internal/pairing"
)

// persistTimeout bounds the history write for a single message.
const persistTimeout = 5 * time.Second

// SampleStore is the part of the access store the ingestor writes to.
type SampleStore interface {
	DeviceExists(ctx context.Context, deviceID string) (bool, error)
	RecordSample(ctx context.Context, s access.Sample) error
}

// Mirror receives a copy of every persisted sample, e.g. InfluxDB.
type Mirror interface {
	WriteDeviceTelemetry(deviceID string, fields map[string]any, at time.Time)
}

// Deps holds the ingestor's collaborators. Store and Mirror are optional.
type Deps struct {
	Topics  mqtt.Topics
	Cache   *livestatus.Cache
	Pairing *pairing.Registry
	Store   SampleStore
	Mirror  Mirror
	Logger  Logger
	Now     func() time.Time
}

// Ingestor applies device messages to the live cache, the pairing
// registry and the history store.
type Ingestor struct {
	topics  mqtt.Topics
	cache   *livestatus.Cache
	pairing *pairing.Registry
	store   SampleStore
	mirror  Mirror
	logger  Logger
	now     func() time.Time
}

// NewIngestor creates an Ingestor. Cache and Pairing are required.
func NewIngestor(deps Deps) *Ingestor {
	in := &Ingestor{
		topics:  deps.Topics,
		cache:   deps.Cache,
		pairing: deps.Pairing,
		store:   deps.Store,
		mirror:  deps.Mirror,
		logger:  deps.Logger,
		now:     deps.Now,
	}
	if in.logger == nil {
		in.logger = noopLogger{}
	}
	if in.now == nil {
		in.now = time.Now
	}
	return in
}

// HandleMessage satisfies mqtt.MessageHandler. Every failure is logged
// here and nil is returned.
func (in *Ingestor) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := in.Ingest(ctx, topic, payload); err != nil {
		in.logger.Warn("dropping device message", "topic", topic, "error", err)
	}
	return nil
}

// Ingest applies one message. It returns ErrUnhandledTopic or ErrDecode
// when the message was ignored; history persistence failures are logged
// and do not fail the call, since live state has already been updated.
func (in *Ingestor) Ingest(ctx context.Context, topic string, payload []byte) error {
	deviceID, kind, ok := in.topics.ParseDeviceTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledTopic, topic)
	}

	switch kind {
	case mqtt.KindStatus:
		return in.ingestStatus(ctx, deviceID, payload)
	case mqtt.KindOnline:
		in.ingestOnline(deviceID, payload)
		return nil
	default:
		return fmt.Errorf("%w: kind %q", ErrUnhandledTopic, kind)
	}
}

func (in *Ingestor) ingestStatus(ctx context.Context, deviceID string, payload []byte) error {
	report, err := DecodeStatus(payload)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}

	now := in.now()

	if report.ConfirmationCode != "" {
		in.pairing.Record(deviceID, report.ConfirmationCode)
		in.logger.Info("confirmation code received", "device_id", deviceID)
	}

	in.cache.Replace(deviceID, report.Status(now))

	if in.store == nil {
		return nil
	}
	exists, err := in.store.DeviceExists(ctx, deviceID)
	if err != nil {
		in.logger.Error("checking device for history", "device_id", deviceID, "error", err)
		return nil
	}
	if !exists {
		return nil
	}
	if err := in.store.RecordSample(ctx, report.Sample(deviceID, now)); err != nil {
		in.logger.Error("recording telemetry sample", "device_id", deviceID, "error", err)
		return nil
	}
	if in.mirror != nil {
		in.mirror.WriteDeviceTelemetry(deviceID, report.Fields(), now)
	}
	return nil
}

func (in *Ingestor) ingestOnline(deviceID string, payload []byte) {
	online := DecodeOnline(payload)
	now := in.now()
	in.cache.Upsert(deviceID, livestatus.Patch{Online: &online, LastSeen: &now})
	in.logger.Debug("device presence", "device_id", deviceID, "online", online)
}
