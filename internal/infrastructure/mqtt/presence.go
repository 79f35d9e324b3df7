package mqtt

import (
	"encoding/json"
	"time"
)

// Presence statuses published on a client's status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons attached to offline presence.
const (
	ReasonShutdown = "graceful_shutdown"
	ReasonLost     = "unexpected_disconnect"
)

// Presence is the retained payload of a status topic. The broker publishes
// the offline form as the client's Last Will when the link drops.
type Presence struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Offline reports whether the presence announces a departed client.
func (p Presence) Offline() bool {
	return p.Status == StatusOffline
}

func (p Presence) encode() []byte {
	b, _ := json.Marshal(p) //nolint:errcheck // plain struct, cannot fail
	return b
}

func presenceOf(clientID, status, reason string) []byte {
	return Presence{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}.encode()
}

// ParsePresence decodes a status payload. Empty or malformed payloads report
// false.
func ParsePresence(payload []byte) (Presence, bool) {
	var p Presence
	if len(payload) == 0 || json.Unmarshal(payload, &p) != nil || p.Status == "" {
		return Presence{}, false
	}
	return p, true
}
