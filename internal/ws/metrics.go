package ws

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/quantfabric/paradise/internal/telemetry"
)

type sessionMetrics struct {
	stream string

	reconnects       metric.Int64Counter
	controlMessages  metric.Int64Counter
	messagesReceived metric.Int64Counter
	messageBytes     metric.Int64Histogram
	pings            metric.Int64Counter
}

func newSessionMetrics(stream string) *sessionMetrics {
	meter := otel.Meter("connector.ws")

	sm := &sessionMetrics{stream: stream}
	sm.reconnects, _ = meter.Int64Counter("paradise_ws_reconnects",
		metric.WithDescription("Stream reconnect attempts"),
		metric.WithUnit("{reconnect}"))
	sm.controlMessages, _ = meter.Int64Counter("paradise_ws_control_messages",
		metric.WithDescription("Control messages sent on stream sessions"),
		metric.WithUnit("{message}"))
	sm.messagesReceived, _ = meter.Int64Counter("paradise_ws_messages",
		metric.WithDescription("Stream messages received"),
		metric.WithUnit("{message}"))
	sm.messageBytes, _ = meter.Int64Histogram("paradise_ws_message_bytes",
		metric.WithDescription("Size of received stream messages"),
		metric.WithUnit("By"))
	sm.pings, _ = meter.Int64Counter("paradise_ws_pings",
		metric.WithDescription("Liveness probes sent after idle timeouts"),
		metric.WithUnit("{ping}"))
	return sm
}

func (sm *sessionMetrics) attrs() metric.MeasurementOption {
	return metric.WithAttributes(telemetry.AttrStream.String(sm.stream))
}

func (sm *sessionMetrics) recordReconnect(ctx context.Context) {
	if sm == nil || sm.reconnects == nil {
		return
	}
	sm.reconnects.Add(ctx, 1, sm.attrs())
}

func (sm *sessionMetrics) recordControl(ctx context.Context) {
	if sm == nil || sm.controlMessages == nil {
		return
	}
	sm.controlMessages.Add(ctx, 1, sm.attrs())
}

func (sm *sessionMetrics) recordMessage(ctx context.Context, bytes int) {
	if sm == nil || sm.messagesReceived == nil {
		return
	}
	sm.messagesReceived.Add(ctx, 1, sm.attrs())
	sm.messageBytes.Record(ctx, int64(bytes), sm.attrs())
}

func (sm *sessionMetrics) recordPing(ctx context.Context) {
	if sm == nil || sm.pings == nil {
		return
	}
	sm.pings.Add(ctx, 1, sm.attrs())
}
