package websocket

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "eduetl.websocket"

// Metrics holds the hub instruments
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesSent       metric.Int64Counter
	messageBytes       metric.Int64Counter
	droppedClients     metric.Int64Counter
}

// NewMetrics registers the hub instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		connectionsTotal: counter("websocket_connections_total", "Total number of WebSocket connections"),
		messagesSent:     counter("websocket_messages_sent_total", "Messages delivered to WebSocket clients"),
		messageBytes:     counter("websocket_message_bytes_total", "Bytes delivered to WebSocket clients"),
		droppedClients:   counter("websocket_dropped_clients_total", "Clients disconnected because their buffer was full"),
	}

	active, err := meter.Int64UpDownCounter("websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"))
	errs = append(errs, err)
	m.connectionsActive = active

	duration, err := meter.Float64Histogram("websocket_connection_duration_seconds",
		metric.WithDescription("WebSocket connection lifetime"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.connectionDuration = duration

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// NoopMetrics returns instruments that record nothing
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func (m *Metrics) connected(ctx context.Context) {
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *Metrics) disconnected(ctx context.Context, lifetime time.Duration, reason string) {
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, lifetime.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)))
	if reason == "slow" {
		m.droppedClients.Add(ctx, 1)
	}
}

func (m *Metrics) sent(ctx context.Context, eventType string, size int) {
	attrs := metric.WithAttributes(attribute.String("type", eventType))
	m.messagesSent.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, int64(size), attrs)
}
