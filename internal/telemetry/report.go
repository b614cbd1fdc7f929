package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/livestatus"
)

// StatusReport is a decoded status payload.
type StatusReport struct {
	RelayState       *bool
	WiFiRSSI         *int
	Uptime           *int64
	FreeHeap         *int64
	ConfirmationCode string
}

// DecodeStatus parses a status payload. The payload must be a JSON object;
// unknown keys are ignored. Each measurement is converted on its own, so a
// field of the wrong type is left nil without losing the rest of the report.
// Fractional numbers are truncated and 0/1 are accepted as a relay state.
// A numeric confirmationCode is kept in its literal text form, so 123456 and
// "123456" are the same code.
func DecodeStatus(payload []byte) (StatusReport, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return StatusReport{}, fmt.Errorf("%w: status is not a JSON object", ErrDecode)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return StatusReport{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	r := StatusReport{
		RelayState:       decodeBool(fields["relayState"]),
		Uptime:           decodeInt(fields["uptime"]),
		FreeHeap:         decodeInt(fields["freeHeap"]),
		ConfirmationCode: DecodeCode(fields["confirmationCode"]),
	}
	if rssi := decodeInt(fields["wifiRSSI"]); rssi != nil && *rssi >= math.MinInt32 && *rssi <= math.MaxInt32 {
		v := int(*rssi)
		r.WiFiRSSI = &v
	}
	return r, nil
}

// DecodeCode normalises a confirmation code given as a JSON string or
// number to its text form. Anything else yields "".
func DecodeCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeInt accepts any JSON number, truncating fractions.
func decodeInt(raw json.RawMessage) *int64 {
	var n json.Number
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil {
		return nil
	}
	if i, err := n.Int64(); err == nil {
		return &i
	}
	f, err := n.Float64()
	if err != nil || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil
	}
	i := int64(math.Trunc(f))
	return &i
}

// decodeBool accepts true/false and the numbers 0 and 1.
func decodeBool(raw json.RawMessage) *bool {
	if len(raw) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return nil
	}
	switch i, err := n.Int64(); {
	case err != nil:
		return nil
	case i == 0 || i == 1:
		b = i == 1
		return &b
	}
	return nil
}

// DecodeOnline interprets a presence payload: exactly "true" is online.
func DecodeOnline(payload []byte) bool {
	return string(payload) == "true"
}

// Status builds the live status entry for a report received at seen.
func (r StatusReport) Status(seen time.Time) livestatus.Status {
	return livestatus.Status{
		RelayState: r.RelayState,
		WiFiRSSI:   r.WiFiRSSI,
		Uptime:     r.Uptime,
		FreeHeap:   r.FreeHeap,
		Online:     true,
		LastSeen:   seen,
	}
}

// Sample builds the history row for a report received at seen.
func (r StatusReport) Sample(deviceID string, seen time.Time) access.Sample {
	return access.Sample{
		DeviceID:   deviceID,
		RelayState: r.RelayState,
		WiFiRSSI:   r.WiFiRSSI,
		Uptime:     r.Uptime,
		FreeHeap:   r.FreeHeap,
		RecordedAt: seen,
	}
}

// Fields returns the non-nil measurements keyed for the time-series mirror.
func (r StatusReport) Fields() map[string]any {
	fields := make(map[string]any, 4)
	if r.RelayState != nil {
		fields["relay_state"] = *r.RelayState
	}
	if r.WiFiRSSI != nil {
		fields["wifi_rssi"] = int64(*r.WiFiRSSI)
	}
	if r.Uptime != nil {
		fields["uptime"] = *r.Uptime
	}
	if r.FreeHeap != nil {
		fields["free_heap"] = *r.FreeHeap
	}
	return fields
}
