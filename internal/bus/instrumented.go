package bus

import (
	"context"
	"time"
)

// MetricsRecorder records bus outcomes.
// This avoids import cycles with the telemetry package.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latency time.Duration, err error)
	RecordBusHandled(topic string, latency time.Duration, err error)
}

// InstrumentedBus records every publish and every subscriber invocation of
// the bus it wraps.
type InstrumentedBus struct {
	inner   Bus
	metrics MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder disables recording.
func NewInstrumentedBus(inner Bus, metrics MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{
		inner:   inner,
		metrics: metrics,
	}
}

// Publish publishes an event to a topic and records the outcome.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)

	if b.metrics != nil {
		b.metrics.RecordBusPublish(topic, time.Since(start), err)
	}

	return err
}

// Subscribe subscribes handler to topic, recording each invocation.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if b.metrics == nil {
		return b.inner.Subscribe(ctx, topic, handler)
	}
	return b.inner.Subscribe(ctx, topic, func(ctx context.Context, event Event) error {
		start := time.Now()
		err := handler(ctx, event)
		b.metrics.RecordBusHandled(topic, time.Since(start), err)
		return err
	})
}

// Close closes the underlying bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
