// Package metrics exposes bridge counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for CommandsDropped.
const (
	ReasonUnknown   = "unknown_command"
	ReasonInvalid   = "invalid_command"
	ReasonMalformed = "malformed_value"
)

// Metrics holds the bridge's counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	FramesRead       prometheus.Counter
	CommandsHandled  *prometheus.CounterVec
	CommandsDropped  *prometheus.CounterVec
	EngineFailures   *prometheus.CounterVec
	EventsRelayed    *prometheus.CounterVec
	FrameBytesOutput prometheus.Counter
}

// New registers a fresh set of counters on their own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlldb_frames_read_total",
			Help: "Inbound frames read from the editor",
		}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlldb_commands_handled_total",
			Help: "Commands passed to the engine, by type",
		}, []string{"type"}),
		CommandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlldb_commands_dropped_total",
			Help: "Inbound frames dropped without reaching the engine, by reason",
		}, []string{"reason"}),
		EngineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlldb_engine_failures_total",
			Help: "Engine operations that returned an error, by command type",
		}, []string{"type"}),
		EventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vlldb_events_relayed_total",
			Help: "Outbound event frames written, by event kind",
		}, []string{"kind"}),
		FrameBytesOutput: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vlldb_frame_bytes_written_total",
			Help: "Payload bytes written to the editor",
		}),
	}
	m.registry.MustRegister(m.FramesRead, m.CommandsHandled, m.CommandsDropped,
		m.EngineFailures, m.EventsRelayed, m.FrameBytesOutput)
	return m
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameRead() {
	if m != nil {
		m.FramesRead.Inc()
	}
}

func (m *Metrics) CommandHandled(typ string) {
	if m != nil {
		m.CommandsHandled.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) CommandDropped(reason string) {
	if m != nil {
		m.CommandsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) EngineFailure(typ string) {
	if m != nil {
		m.EngineFailures.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) EventRelayed(kind string, payloadBytes int) {
	if m != nil {
		m.EventsRelayed.WithLabelValues(kind).Inc()
		m.FrameBytesOutput.Add(float64(payloadBytes))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
