package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceTelemetry holds one point per accepted status report.
const MeasurementDeviceTelemetry = "device_telemetry"

// WriteDeviceTelemetry queues one telemetry point tagged with the device id.
// Nil field values are dropped; the point is skipped when no fields remain.
// The write is non-blocking; failures surface through SetOnError.
//
//	client.WriteDeviceTelemetry("A4CF12B3C4D5", map[string]any{"relay_state": true, "wifi_rssi": -61}, now)
func (c *Client) WriteDeviceTelemetry(deviceID string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			clean[k] = v
		}
	}
	if len(clean) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDeviceTelemetry,
		map[string]string{"device_id": deviceID},
		clean,
		at,
	))
}
