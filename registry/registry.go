// Package registry lets served endpoints advertise themselves under a service name and
// lets callers discover them.
package registry

import (
	"context"

	"github.com/nuclio/errors"
)

// ErrNoInstances is returned when a service has no registered instance.
var ErrNoInstances = errors.New("No instances available")

// Instance is one served endpoint of a service.
type Instance struct {
	URL     string `json:"url"`               // websocket URL callers dial
	Weight  int    `json:"weight,omitempty"`  // relative share for weighted balancing
	Version string `json:"version,omitempty"` // free-form, informational
}

// Registry is a service phonebook.
type Registry interface {
	// Register advertises instance under service. Entries expire ttl seconds after the
	// registering process stops renewing them.
	Register(ctx context.Context, service string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, service string, url string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the full instance list of service every time it changes, until ctx is done.
	Watch(ctx context.Context, service string) (<-chan []Instance, error)
	Close() error
}
