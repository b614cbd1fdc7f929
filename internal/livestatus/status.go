// Package livestatus holds the in-memory, per-device view of what each relay
// controller last reported. Nothing here is persisted; a restart starts
// every device as offline.
package livestatus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the last known live state of one device. Pointer fields are
// nil until the device has reported them.
type Status struct {
	RelayState  *bool     `json:"relayState,omitempty"`
	WiFiRSSI    *int      `json:"wifiRSSI,omitempty"`
	Uptime      *int64    `json:"uptime,omitempty"`
	FreeHeap    *int64    `json:"freeHeap,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen,omitzero"`
	LastUpdated time.Time `json:"lastUpdated,omitzero"`
}

// Patch is a partial update. Nil fields leave the current value untouched.
type Patch struct {
	RelayState  *bool
	WiFiRSSI    *int
	Uptime      *int64
	FreeHeap    *int64
	Online      *bool
	LastSeen    *time.Time
	LastUpdated *time.Time
}

func (s Status) apply(p Patch) Status {
	if p.RelayState != nil {
		s.RelayState = p.RelayState
	}
	if p.WiFiRSSI != nil {
		s.WiFiRSSI = p.WiFiRSSI
	}
	if p.Uptime != nil {
		s.Uptime = p.Uptime
	}
	if p.FreeHeap != nil {
		s.FreeHeap = p.FreeHeap
	}
	if p.Online != nil {
		s.Online = *p.Online
	}
	if p.LastSeen != nil {
		s.LastSeen = *p.LastSeen
	}
	if p.LastUpdated != nil {
		s.LastUpdated = *p.LastUpdated
	}
	return s
}

// ChangeFunc observes every mutation. It is called after the lock is
// released, from the goroutine that made the change.
type ChangeFunc func(deviceID string, status Status)

// Cache is a concurrency-safe map of device id to Status. Entries are
// created on first report and never removed.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]Status
	now      func() time.Time
	onChange ChangeFunc
	logger   Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now for the sweep loop.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used by Run.
func WithLogger(l Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Status),
		now:     time.Now,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOnChange registers the change observer. Pass nil to remove it.
func (c *Cache) SetOnChange(fn ChangeFunc) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Get returns the entry for deviceID, or an offline zero Status when the
// device has never reported.
func (c *Cache) Get(deviceID string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[deviceID]
}

// Lookup is Get that also reports whether an entry exists.
func (c *Cache) Lookup(deviceID string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[deviceID]
	return s, ok
}

// Upsert merges p over the current entry, creating it if absent, and
// returns the result.
func (c *Cache) Upsert(deviceID string, p Patch) Status {
	c.mu.Lock()
	s := c.entries[deviceID].apply(p)
	c.entries[deviceID] = s
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(deviceID, s)
	}
	return s
}

// Replace overwrites the entry for deviceID.
func (c *Cache) Replace(deviceID string, s Status) {
	c.mu.Lock()
	c.entries[deviceID] = s
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(deviceID, s)
	}
}

// MarkStaleIfUnseen flips every online entry whose LastSeen is more than
// threshold before now to offline and returns the affected ids, sorted.
// Other fields are kept.
func (c *Cache) MarkStaleIfUnseen(now time.Time, threshold time.Duration) []string {
	type flip struct {
		id string
		s  Status
	}
	var flipped []flip

	c.mu.Lock()
	for id, s := range c.entries {
		if s.Online && now.Sub(s.LastSeen) > threshold {
			s.Online = false
			c.entries[id] = s
			flipped = append(flipped, flip{id, s})
		}
	}
	fn := c.onChange
	c.mu.Unlock()

	sort.Slice(flipped, func(i, j int) bool { return flipped[i].id < flipped[j].id })

	ids := make([]string, len(flipped))
	for i, f := range flipped {
		ids[i] = f.id
		if fn != nil {
			fn(f.id, f.s)
		}
	}
	return ids
}

// Run sweeps for stale devices every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := c.MarkStaleIfUnseen(c.now(), threshold); len(ids) > 0 {
				c.logger.Info("devices marked offline", "count", len(ids), "device_ids", ids)
			}
		}
	}
}

// Len returns the number of known devices.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
