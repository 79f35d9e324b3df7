package mqtt

import "strings"

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "homesync"

// infoSegment holds per-client bookkeeping topics outside the data tree.
const infoSegment = ".info"

// Topics maps store paths onto MQTT topics under a prefix.
//
//	topics := mqtt.Topics{Prefix: "homesync"}
//	topics.Path("device_states/uid/home/light-1")
//	// Returns: "homesync/device_states/uid/home/light-1"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// Path returns the topic for a store path.
func (t Topics) Path(path string) string {
	return t.prefix() + "/" + strings.Trim(path, "/")
}

// PathOf returns the store path for a topic, or false if the topic is outside
// the prefix.
func (t Topics) PathOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// Status returns the presence topic for a client.
//
// Example: homesync/.info/status/homesync-host1
func (t Topics) Status(clientID string) string {
	return t.Path(infoSegment + "/status/" + clientID)
}

// OnDisconnect returns the topic holding a client's pending on-disconnect
// writes.
//
// Example: homesync/.info/ondisconnect/homesync-host1
func (t Topics) OnDisconnect(clientID string) string {
	return t.Path(infoSegment + "/ondisconnect/" + clientID)
}

// AllStatus returns a pattern matching every client's presence topic.
//
// Pattern: homesync/.info/status/+
func (t Topics) AllStatus() string {
	return t.Path(infoSegment + "/status/+")
}
