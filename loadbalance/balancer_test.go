package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsrpc/registry"
)

var testInstances = []registry.Instance{
	{URL: "ws://10.0.0.1:3498/", Weight: 10, Version: "1.0"},
	{URL: "ws://10.0.0.2:3498/", Weight: 5, Version: "1.0"},
	{URL: "ws://10.0.0.3:3498/", Weight: 10, Version: "1.0"},
}

func TestNew(t *testing.T) {
	for _, name := range []string{NameRoundRobin, NameWeightedRandom, NameConsistentHash} {
		balancer, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, balancer.Name())
	}
	_, err := New("fastest")
	assert.Error(t, err)
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobin{}

	for i := 0; i < 2*len(testInstances); i++ {
		instance, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		assert.Equal(t, testInstances[i%len(testInstances)].URL, instance.URL)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobin{}, &WeightedRandom{}, NewConsistentHash()} {
		_, err := b.Pick(nil, "key")
		assert.ErrorIs(t, err, registry.ErrNoInstances, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandom{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		instance, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		counts[instance.URL]++
	}

	// weights are 10:5:10
	ratio := float64(counts[testInstances[0].URL]) / float64(counts[testInstances[1].URL])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomWithoutWeights(t *testing.T) {
	b := &WeightedRandom{}
	unweighted := []registry.Instance{{URL: "a"}, {URL: "b"}}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		instance, err := b.Pick(unweighted, "")
		require.NoError(t, err)
		seen[instance.URL] = true
	}
	assert.Len(t, seen, 2)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHash()

	first, err := b.Pick(testInstances, "user-123")
	require.NoError(t, err)
	again, err := b.Pick(testInstances, "user-123")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		instance, _ := b.Pick(testInstances, fmt.Sprintf("key-%d", i))
		seen[instance.URL] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHash()

	for i := 0; i < 50; i++ {
		_, err := b.Pick(testInstances, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}

	remaining := testInstances[:1]
	for i := 0; i < 50; i++ {
		instance, err := b.Pick(remaining, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Equal(t, remaining[0].URL, instance.URL)
	}
}
