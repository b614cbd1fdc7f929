// Package influxdb mirrors relay-controller telemetry into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The mirror is
// optional: the SQLite history table stays the source of truth, and InfluxDB
// is only written when the influxdb section of config.yaml is enabled.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceTelemetry(deviceID, map[string]any{"relay_state": true}, time.Now())
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller.
package influxdb
