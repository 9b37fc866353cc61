package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hanko-field/orderdesk/internal/services"

type orderInstruments struct {
	created        metric.Int64Counter
	transitions    metric.Int64Counter
	stockConflicts metric.Int64Counter
}

func defaultTracer(tracer trace.Tracer) trace.Tracer {
	if tracer != nil {
		return tracer
	}
	return otel.Tracer(instrumentationName)
}

// newOrderInstruments registers the order counters. A counter that fails to register is
// left nil and silently skipped.
func newOrderInstruments(meter metric.Meter, logger func(context.Context, string, map[string]any)) orderInstruments {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	var inst orderInstruments
	var err error
	if inst.created, err = meter.Int64Counter("orders.created", metric.WithDescription("Orders created in PENDING state")); err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.created", "error": err.Error()})
	}
	if inst.transitions, err = meter.Int64Counter("orders.transitions", metric.WithDescription("Order lifecycle transitions by action")); err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.transitions", "error": err.Error()})
	}
	if inst.stockConflicts, err = meter.Int64Counter("orders.stock_conflicts", metric.WithDescription("Order creations refused for insufficient stock")); err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.stock_conflicts", "error": err.Error()})
	}
	return inst
}

func (i orderInstruments) recordCreated(ctx context.Context) {
	if i.created != nil {
		i.created.Add(ctx, 1)
	}
}

func (i orderInstruments) recordTransition(ctx context.Context, action OrderAction) {
	if i.transitions != nil {
		i.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
	}
}

func (i orderInstruments) recordStockConflict(ctx context.Context) {
	if i.stockConflicts != nil {
		i.stockConflicts.Add(ctx, 1)
	}
}
