package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nuclio/errors"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"wsrpc/logger"
)

const (
	DefaultPrefix      = "/wsrpc/"
	defaultDialTimeout = 5 * time.Second
)

// Etcd stores instances in etcd v3 under {prefix}{service}/{url}, each attached to a
// TTL lease that is kept alive while the registering process runs. When the process
// dies, the lease expires and the entry disappears on its own.
type Etcd struct {
	client *clientv3.Client
	prefix string
	logger zerolog.Logger

	mu       sync.Mutex
	renewals map[string]context.CancelFunc // key → stops the lease keep-alive
}

// NewEtcd connects to the given etcd endpoints. An empty prefix means DefaultPrefix.
func NewEtcd(endpoints []string, prefix string) (*Etcd, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("No etcd endpoints given")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultDialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create etcd client")
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Etcd{
		client:   client,
		prefix:   prefix,
		logger:   *logger.WithComponent("registry"),
		renewals: map[string]context.CancelFunc{},
	}, nil
}

func (r *Etcd) servicePrefix(service string) string {
	return r.prefix + service + "/"
}

func (r *Etcd) key(service string, url string) string {
	return r.servicePrefix(service) + url
}

// Register grants a lease, stores the instance under it and starts renewing the lease.
// The lease id stays local to the call so that one Etcd can register many instances.
func (r *Etcd) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "Failed to grant lease")
	}

	value, err := json.Marshal(instance)
	if err != nil {
		return errors.Wrap(err, "Failed to encode instance")
	}

	key := r.key(service, instance.URL)
	if _, err := r.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "Failed to put %s", key)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	keepAlive, err := r.client.KeepAlive(renewCtx, lease.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "Failed to start lease keep-alive")
	}

	r.mu.Lock()
	if previous, found := r.renewals[key]; found {
		previous()
	}
	r.renewals[key] = cancel
	r.mu.Unlock()

	// drain responses so the keep-alive channel never fills up
	go func() {
		for range keepAlive {
		}
		r.logger.Debug().Str("key", key).Msg("Lease keep-alive stopped")
	}()

	r.logger.Info().Str("service", service).Str("url", instance.URL).Int64("ttl", ttl).Msg("Registered")
	return nil
}

func (r *Etcd) Deregister(ctx context.Context, service string, url string) error {
	key := r.key(service, url)

	r.mu.Lock()
	if cancel, found := r.renewals[key]; found {
		cancel()
		delete(r.renewals, key)
	}
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "Failed to delete %s", key)
	}
	r.logger.Info().Str("service", service).Str("url", url).Msg("Deregistered")
	return nil
}

func (r *Etcd) Discover(ctx context.Context, service string) ([]Instance, error) {
	response, err := r.client.Get(ctx, r.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list instances of %s", service)
	}

	instances := make([]Instance, 0, len(response.Kvs))
	for _, kv := range response.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn().Err(err).Str("key", string(kv.Key)).Msg("Skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-lists the service on every change under its prefix; parsing the individual
// events is not worth it for instance counts this small.
func (r *Etcd) Watch(ctx context.Context, service string) (<-chan []Instance, error) {
	updates := make(chan []Instance, 1)
	events := r.client.Watch(ctx, r.servicePrefix(service), clientv3.WithPrefix())

	go func() {
		defer close(updates)
		for range events {
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn().Err(err).Str("service", service).Msg("Failed to refresh instances")
				continue
			}
			select {
			case updates <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, nil
}

// Close stops every lease renewal and closes the etcd client.
func (r *Etcd) Close() error {
	r.mu.Lock()
	for key, cancel := range r.renewals {
		cancel()
		delete(r.renewals, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
