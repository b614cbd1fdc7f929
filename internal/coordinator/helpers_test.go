package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/audit"
	"github.com/nerrad567/solar-controller-core/internal/auth"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/database"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/solar-controller-core/internal/livestatus"
	"github.com/nerrad567/solar-controller-core/internal/pairing"
	_ "github.com/nerrad567/solar-controller-core/migrations" // registers schema
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// published is one message seen by fakePublisher.
type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic, string(payload), qos, retained})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	coord   *Coordinator
	store   *access.SQLiteStore
	audit   *audit.SQLiteRepository
	db      *database.DB
	cache   *livestatus.Cache
	pairing *pairing.Registry
	pub     *fakePublisher
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "coordinator.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	// The store gets its own ticking clock so added_at ordering is strict.
	storeClock := &clock{now: baseTime}
	tick := func() time.Time {
		storeClock.Advance(time.Millisecond)
		return storeClock.Now()
	}

	f := &fixture{
		store:   access.NewSQLiteStore(db.DB, access.WithClock(tick)),
		audit:   audit.NewSQLiteRepository(db.DB),
		db:      db,
		cache:   livestatus.New(),
		pairing: pairing.NewRegistry(),
		pub:     &fakePublisher{},
		clock:   &clock{now: baseTime},
	}
	f.coord = New(Deps{
		Store:     f.store,
		Cache:     f.cache,
		Pairing:   f.pairing,
		Publisher: f.pub,
		Audit:     f.audit,
		Topics:    mqtt.Topics{Namespace: "solar"},
		QoS:       1,
		Now:       f.clock.Now,
	})
	return f
}

// user creates a stored user and returns the identity the auth layer
// would hand the coordinator.
func (f *fixture) user(t *testing.T, email string) auth.Identity {
	t.Helper()
	u, err := f.store.UpsertUser(context.Background(), "sub-"+email, email, email, "")
	if err != nil {
		t.Fatalf("UpsertUser(%s): %v", email, err)
	}
	return auth.Identity{UserID: u.ID, Email: u.Email, Subject: u.Subject}
}

// report delivers a status message carrying code.
func (f *fixture) report(t *testing.T, deviceID, code string) {
	t.Helper()
	payload := `{"relayState":false,"wifiRSSI":-60,"uptime":10,"freeHeap":30000,"confirmationCode":"` + code + `"}`
	if err := f.coord.IngestTelemetry("solar/"+deviceID+"/status", []byte(payload)); err != nil {
		t.Fatalf("IngestTelemetry() error = %v", err)
	}
}

// claim pairs deviceID with a fresh code and claims it as id.
func (f *fixture) claim(t *testing.T, id auth.Identity, deviceID string) DeviceView {
	t.Helper()
	f.report(t, deviceID, "123456")
	v, err := f.coord.ClaimDevice(context.Background(), id, ClaimRequest{DeviceID: deviceID, ConfirmationCode: "123456"})
	if err != nil {
		t.Fatalf("ClaimDevice(%s) error = %v", deviceID, err)
	}
	return v
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := f.db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
