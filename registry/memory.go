package registry

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Registry. TTLs are not enforced.
type Memory struct {
	mu       sync.Mutex
	services map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

func NewMemory() *Memory {
	return &Memory{
		services: map[string]map[string]Instance{},
		watchers: map[string][]chan []Instance{},
	}
}

func (r *Memory) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.services[service] == nil {
		r.services[service] = map[string]Instance{}
	}
	r.services[service][instance.URL] = instance
	r.notify(service)
	return nil
}

func (r *Memory) Deregister(ctx context.Context, service string, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.services[service], url)
	r.notify(service)
	return nil
}

func (r *Memory) Discover(ctx context.Context, service string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(service), nil
}

func (r *Memory) Watch(ctx context.Context, service string) (<-chan []Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updates := make(chan []Instance, 1)
	r.watchers[service] = append(r.watchers[service], updates)

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removeWatcher(service, updates)
	}()
	return updates, nil
}

func (r *Memory) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for service, watchers := range r.watchers {
		for _, updates := range watchers {
			close(updates)
		}
		delete(r.watchers, service)
	}
	return nil
}

// list returns instances sorted by URL; callers hold mu.
func (r *Memory) list(service string) []Instance {
	instances := make([]Instance, 0, len(r.services[service]))
	for _, instance := range r.services[service] {
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].URL < instances[j].URL
	})
	return instances
}

// notify replaces any unread update with the latest list; callers hold mu.
func (r *Memory) notify(service string) {
	instances := r.list(service)
	for _, updates := range r.watchers[service] {
		select {
		case <-updates:
		default:
		}
		updates <- instances
	}
}

func (r *Memory) removeWatcher(service string, updates chan []Instance) {
	watchers := r.watchers[service]
	for i, candidate := range watchers {
		if candidate == updates {
			r.watchers[service] = append(watchers[:i], watchers[i+1:]...)
			close(updates)
			return
		}
	}
}
