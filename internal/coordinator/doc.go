// Package coordinator reconciles live device telemetry with durable
// ownership records.
//
// It owns the device lifecycle as seen by users:
//
//	unclaimed --(claim with current confirmation code)--> claimed(owners, shared users)
//	claimed   --(last link removed)--------------------> gone from the store
//
// A device exists in the store only while at least one user is linked to
// it. Unclaimed devices live only in the live status cache and the pairing
// registry.
//
// The coordinator trusts the Identity it is given; authentication happens
// in the transport layer.
package coordinator
