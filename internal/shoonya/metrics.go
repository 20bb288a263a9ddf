package shoonya

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type transportMetrics struct {
	framesIn   metric.Int64Counter
	framesOut  metric.Int64Counter
	heartbeats metric.Int64Counter
	reconnects metric.Int64Counter
}

func newTransportMetrics() *transportMetrics {
	meter := otel.Meter("adapter.shoonya")

	tm := &transportMetrics{
		framesIn:   nil,
		framesOut:  nil,
		heartbeats: nil,
		reconnects: nil,
	}

	tm.framesIn, _ = meter.Int64Counter("shoonya_transport_frames_received",
		metric.WithDescription("Inbound frames read from the vendor feed"),
		metric.WithUnit("{frame}"))

	tm.framesOut, _ = meter.Int64Counter("shoonya_transport_frames_sent",
		metric.WithDescription("Outbound frames written to the vendor feed"),
		metric.WithUnit("{frame}"))

	tm.heartbeats, _ = meter.Int64Counter("shoonya_transport_heartbeats",
		metric.WithDescription("Heartbeat probes answered by the receive loop"),
		metric.WithUnit("{probe}"))

	tm.reconnects, _ = meter.Int64Counter("shoonya_transport_connects",
		metric.WithDescription("Successful connect handshakes, including reconnects"),
		metric.WithUnit("{connect}"))

	return tm
}

func (m *transportMetrics) frameReceived(ctx context.Context) {
	if m == nil || m.framesIn == nil {
		return
	}
	m.framesIn.Add(ctx, 1)
}

func (m *transportMetrics) framesSent(ctx context.Context) {
	if m == nil || m.framesOut == nil {
		return
	}
	m.framesOut.Add(ctx, 1)
}

func (m *transportMetrics) heartbeat(ctx context.Context) {
	if m == nil || m.heartbeats == nil {
		return
	}
	m.heartbeats.Add(ctx, 1)
}

func (m *transportMetrics) connected(ctx context.Context) {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}
