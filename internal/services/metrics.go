package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/soaringjerry/surveyledger/internal/services")

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveyledger_response_transitions_total",
		Help: "Response status transitions by target status and result",
	}, []string{"target", "result"})

	bulkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveyledger_bulk_items_total",
		Help: "Items processed by bulk moderation by target status and result",
	}, []string{"target", "result"})

	economyOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveyledger_economy_operations_total",
		Help: "Incentive economy operations by operation and result",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surveyledger_operation_duration_seconds",
		Help:    "Latency of store-bound ledger operations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation"})
)

// resultLabel turns an operation outcome into a low-cardinality metric label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(CodeOf(err))
}

// startOp opens a span for a store-bound operation. The returned func records
// duration and span status and must be called with the final error.
func startOp(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(err error) {
		operationDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
