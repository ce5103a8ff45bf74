package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
)

// Metrics updates a request counter and latency histogram. Non-blocking and
// never transforms the request or response.
func Metrics(reg prometheus.Registerer) Middleware {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpkit",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method and outcome.",
	}, []string{"method", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcpkit",
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	reg.MustRegister(requests, latency)

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) jsonrpc.Response {
			start := time.Now()
			resp := next(ctx, req)

			code := "ok"
			if resp.Error != nil {
				code = strconv.Itoa(resp.Error.Code)
			}
			requests.WithLabelValues(req.Req.Method, code).Inc()
			latency.WithLabelValues(req.Req.Method).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
