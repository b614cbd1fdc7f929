package mqtt

import "strings"

// Device topic kinds. A controller publishes KindStatus and KindOnline and
// listens on KindCommand.
const (
	KindStatus  = "status"
	KindOnline  = "online"
	KindCommand = "command"
)

// serverSegment is the reserved second level used for the server's own
// presence topic. It can never collide with a device because devices are
// only recognised on the status and online kinds.
const serverSegment = "server"

// Topics builds and parses topics under a single namespace, e.g. "solar".
//
//	topics := mqtt.Topics{Namespace: "solar"}
//	topics.Command("A4CF12B3C4D5") // "solar/A4CF12B3C4D5/command"
type Topics struct {
	Namespace string
}

// Status returns the topic a device publishes telemetry on.
func (t Topics) Status(deviceID string) string {
	return t.Namespace + "/" + deviceID + "/" + KindStatus
}

// Online returns the topic a device publishes its presence flag on.
func (t Topics) Online(deviceID string) string {
	return t.Namespace + "/" + deviceID + "/" + KindOnline
}

// Command returns the topic a device receives relay commands on.
func (t Topics) Command(deviceID string) string {
	return t.Namespace + "/" + deviceID + "/" + KindCommand
}

// AllStatus matches every device's status topic.
func (t Topics) AllStatus() string {
	return t.Namespace + "/+/" + KindStatus
}

// AllOnline matches every device's presence topic.
func (t Topics) AllOnline() string {
	return t.Namespace + "/+/" + KindOnline
}

// ServerStatus is the retained presence topic of this service (LWT target).
func (t Topics) ServerStatus() string {
	return t.Namespace + "/" + serverSegment + "/status"
}

// ParseDeviceTopic splits "<ns>/<deviceId>/<kind>" into its device id and
// kind. ok is false for topics outside the namespace, with the wrong number
// of levels, with an empty device id, or addressed to the server itself.
func (t Topics) ParseDeviceTopic(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != t.Namespace {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" || parts[1] == serverSegment {
		return "", "", false
	}
	return parts[1], parts[2], true
}
