package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"wsrpc/registry"
)

const defaultReplicas = 100

// ConsistentHash maps keys onto a hash ring of instances. Each instance owns replicas
// virtual nodes, hashed from "{url}#{i}", so that a handful of instances still spread
// evenly over the ring.
//
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to the nearest node → A)
//	         C ●               ● A'
//	                ╲   ╱
//
// The ring is rebuilt whenever Pick sees a different instance set.
type ConsistentHash struct {
	replicas int

	mu        sync.Mutex
	signature string
	ring      []uint32
	nodes     map[uint32]registry.Instance
}

func NewConsistentHash() *ConsistentHash {
	return &ConsistentHash{replicas: defaultReplicas}
}

func (b *ConsistentHash) Pick(instances []registry.Instance, key string) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, registry.ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ensureRing(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	index := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if index == len(b.ring) {
		index = 0
	}
	return b.nodes[b.ring[index]], nil
}

func (b *ConsistentHash) Name() string {
	return NameConsistentHash
}

// ensureRing rebuilds the ring if the instance set changed; callers hold mu.
func (b *ConsistentHash) ensureRing(instances []registry.Instance) {
	urls := make([]string, len(instances))
	for i, instance := range instances {
		urls[i] = instance.URL
	}
	sort.Strings(urls)
	signature := strings.Join(urls, "\n")
	if signature == b.signature && b.ring != nil {
		return
	}

	b.signature = signature
	b.ring = make([]uint32, 0, len(instances)*b.replicas)
	b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
	for _, instance := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.URL, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = instance
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}
