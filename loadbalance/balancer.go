// Package loadbalance picks one instance out of the instances a service has registered.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  instances of different capacity, weighted by Instance.Weight
//   - ConsistentHash:  the same key always reaches the same instance while the set is stable
package loadbalance

import (
	"fmt"

	"wsrpc/registry"
)

// Balancer selects an instance. Implementations are safe for concurrent use.
type Balancer interface {
	// Pick selects one of instances. key is only meaningful to key-affine strategies.
	Pick(instances []registry.Instance, key string) (registry.Instance, error)
	Name() string
}

const (
	NameRoundRobin     = "round_robin"
	NameWeightedRandom = "weighted_random"
	NameConsistentHash = "consistent_hash"
)

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case NameRoundRobin, "":
		return &RoundRobin{}, nil
	case NameWeightedRandom:
		return &WeightedRandom{}, nil
	case NameConsistentHash:
		return NewConsistentHash(), nil
	default:
		return nil, fmt.Errorf("unknown balancer %q", name)
	}
}
