package mqttclient

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Publish when the link has no live session.
// The call never waits for a reconnect.
var ErrNotConnected = errors.New("mqtt: not connected")

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: timed out waiting for broker")

// ConnectionError reports a failed connect or subscribe, or a dropped
// connection. The link recovers from it by reconnecting.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError reports a publish that did not reach the broker.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("mqtt publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
