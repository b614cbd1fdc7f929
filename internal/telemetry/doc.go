// Package telemetry turns MQTT messages from relay controllers into live
// status updates, pending confirmation codes and persisted history.
//
// Two message kinds are understood:
//
//	<ns>/<deviceId>/status  JSON {relayState, wifiRSSI, uptime, freeHeap, confirmationCode?}
//	<ns>/<deviceId>/online  "true" for online, anything else for offline
//
// Messages that cannot be decoded are logged and dropped. The transport
// never sees an error from HandleMessage.
package telemetry
