package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"

	"wsrpc/message"
	"wsrpc/server"
)

// Metrics counts requests by method and outcome code (0 for success) and observes how
// long each took to settle.
func Metrics(registerer prometheus.Registerer) (Middleware, error) {
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsrpc_server_requests_total",
		Help: "Number of requests handled, by method and error code",
	}, []string{"method", "code"})

	if err := registerer.Register(requestsTotal); err != nil {
		return nil, errors.Wrap(err, "Failed to register requests counter")
	}

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wsrpc_server_request_duration_seconds",
		Help:    "Time from dispatch until the response settled",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	if err := registerer.Register(requestDuration); err != nil {
		return nil, errors.Wrap(err, "Failed to register request duration histogram")
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *server.Response {
			start := time.Now()
			return next(ctx, req).Then(func(reply *message.Message) *message.Message {
				requestsTotal.WithLabelValues(req.Method, strconv.Itoa(reply.ErrorCode)).Inc()
				requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
				return reply
			})
		}
	}, nil
}
