// Package coreerrors defines the sentinel and typed errors linkcore
// surfaces to callers. Transport faults are never represented here —
// they drive the link FSM directly and are never returned to the
// application (see pkg/linkfsm).
package coreerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageFull is returned by the journal when its backing store
	// has no room for another Event.
	ErrStorageFull = errors.New("coreerrors: journal storage full")

	// ErrStorageIO is returned by the journal on a failed durable write.
	// SendEvent surfaces this to its caller; the event is not accepted.
	ErrStorageIO = errors.New("coreerrors: journal storage I/O error")

	// ErrStorageCorruption is returned when a persisted journal event or
	// audit record cannot be decoded. core.New reads every journaled
	// event once before building a Core, so a corrupt journal is fatal
	// there.
	ErrStorageCorruption = errors.New("coreerrors: persisted state is corrupted")

	// ErrConfiguration is returned by config.Load and core.New, before
	// any link is started, e.g. for a link configured with an empty
	// ingress topic set.
	ErrConfiguration = errors.New("coreerrors: invalid configuration")

	// ErrAlreadyStarted is a programmer error: Start called twice.
	ErrAlreadyStarted = errors.New("coreerrors: core already started")

	// ErrNotStarted is a programmer error: a façade call made before
	// Start or after Stop has completed.
	ErrNotStarted = errors.New("coreerrors: core not started")

	// ErrUnknownLink is a programmer error: a façade call named a link
	// absent from configuration.
	ErrUnknownLink = errors.New("coreerrors: unknown link")

	// ErrDispatcherBusy is returned when a façade call could not be
	// enqueued within the configured enqueue timeout.
	ErrDispatcherBusy = errors.New("coreerrors: dispatcher ingress queue is full")
)

// ConfigError wraps ErrConfiguration with the offending field, so
// Core.Start can report exactly what was wrong without a generic
// "invalid configuration" message.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("coreerrors: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// UnknownLinkError names the link a caller referenced that does not
// appear in configuration.
type UnknownLinkError struct {
	Link string
}

func (e *UnknownLinkError) Error() string {
	return fmt.Sprintf("coreerrors: unknown link %q", e.Link)
}

func (e *UnknownLinkError) Unwrap() error { return ErrUnknownLink }
