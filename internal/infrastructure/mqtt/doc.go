// Package mqtt connects Solar Controller Core to the MQTT broker its relay
// controllers talk to.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Publishing with QoS and a bounded wait for broker acceptance
//   - Wildcard subscriptions with panic-safe handlers
//   - A retained server presence topic with Last Will and Testament
//
// # Topics
//
// Every topic lives under one namespace (default "solar"):
//
//	solar/<deviceId>/status   device → server, JSON telemetry
//	solar/<deviceId>/online   device → server, "true" or "false"
//	solar/<deviceId>/command  server → device, {"command":..., "state":...}
//	solar/server/status       server presence (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllStatus(), 1, ingestor.HandleMessage)
package mqtt
