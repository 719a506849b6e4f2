package loadbalance

import (
	"sync/atomic"

	"wsrpc/registry"
)

// RoundRobin cycles through the instances with a lock-free counter.
type RoundRobin struct {
	counter atomic.Uint64
}

func (b *RoundRobin) Pick(instances []registry.Instance, _ string) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, registry.ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return instances[index], nil
}

func (b *RoundRobin) Name() string {
	return NameRoundRobin
}
