package access

import "time"

// User is an authenticated person. Subject is the identity provider's
// stable id; Email is what other users share devices with.
type User struct {
	ID        string    `json:"id"`
	Subject   string    `json:"-"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastLogin time.Time `json:"lastLogin"`
}

// Device is a registered relay controller. DeviceID is the identifier the
// hardware reports on MQTT; ID is the internal row id.
type Device struct {
	ID        int64     `json:"-"`
	DeviceID  string    `json:"deviceId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// LinkedDevice is a device as seen through one user's ownership link.
type LinkedDevice struct {
	Device
	IsOwner bool      `json:"isOwner"`
	AddedAt time.Time `json:"addedAt"`
}

// Sample is one persisted telemetry report. Nil fields were absent from
// the report.
type Sample struct {
	DeviceID   string    `json:"deviceId"`
	RelayState *bool     `json:"relayState,omitempty"`
	WiFiRSSI   *int      `json:"wifiRSSI,omitempty"`
	Uptime     *int64    `json:"uptime,omitempty"`
	FreeHeap   *int64    `json:"freeHeap,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// SampleQuery bounds a history lookup. Zero times leave that side open;
// a non-positive Limit means DefaultSampleLimit.
type SampleQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

const (
	DefaultSampleLimit = 100
	MaxSampleLimit     = 1000
)
