// Package pairing tracks the confirmation code each relay controller most
// recently advertised. A user proves physical access to a device by
// presenting that code when claiming it.
package pairing

import (
	"crypto/subtle"
	"sync"
)

// Registry maps device id to its pending confirmation code. Each new code
// replaces the previous one; codes have no time-based expiry.
//
// Consume does not remove the code: the same code keeps validating until
// the device advertises a new one. Claim idempotency is enforced by the
// access store, which rejects a second link for the same user.
type Registry struct {
	mu    sync.RWMutex
	codes map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{codes: make(map[string]string)}
}

// Record stores code as the current code for deviceID. Empty codes are ignored.
func (r *Registry) Record(deviceID, code string) {
	if code == "" {
		return
	}
	r.mu.Lock()
	r.codes[deviceID] = code
	r.mu.Unlock()
}

// Consume reports whether code exactly matches the code on record for
// deviceID. It is false when no code has been recorded.
func (r *Registry) Consume(deviceID, code string) bool {
	r.mu.RLock()
	current, ok := r.codes[deviceID]
	r.mu.RUnlock()

	if !ok || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(code)) == 1
}

// Pending reports whether a code is on record for deviceID.
func (r *Registry) Pending(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codes[deviceID]
	return ok
}
