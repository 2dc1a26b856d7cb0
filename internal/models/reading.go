package models

import "time"

// Reading is the most recent telemetry payload seen on the soil topic.
// Version grows by one for every message accepted by the cache, so two
// readings with the same payload are still told apart.
type Reading struct {
	Payload    string    `json:"payload"`
	Version    uint64    `json:"version"`
	ObservedAt time.Time `json:"observed_at"`
}

// Empty reports whether no message has arrived yet.
func (r Reading) Empty() bool {
	return r.Version == 0
}

// Command is a user action forwarded verbatim to the device.
type Command struct {
	Action string `json:"action"`
}

func (c Command) Valid() bool {
	return c.Action != ""
}
