package loadbalance

import (
	"math/rand"

	"wsrpc/registry"
)

// WeightedRandom picks instance i with probability Weight[i]/sum(Weight). Instances with
// a non-positive weight are never picked, unless no instance has a weight, in which case
// the pick is uniform.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(instances []registry.Instance, _ string) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, registry.ErrNoInstances
	}

	total := 0
	for _, instance := range instances {
		if instance.Weight > 0 {
			total += instance.Weight
		}
	}
	if total == 0 {
		return instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(total)
	for _, instance := range instances {
		if instance.Weight <= 0 {
			continue
		}
		r -= instance.Weight
		if r < 0 {
			return instance, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandom) Name() string {
	return NameWeightedRandom
}
