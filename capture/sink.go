package capture

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Sink receives emitted snapshots. Implementations deliver them to
// different consumers (websocket hub, message log, stdout).
type Sink interface {
	SendSnapshot(ctx context.Context, snap Snapshot) error
	Close() error
}

// CallbackFunc adapts a plain function into a Sink. This is the in-process
// path: the relay layer hands its broadcast function straight to the
// streamer with zero serialisation overhead.
type CallbackFunc func(ctx context.Context, snap Snapshot) error

func (f CallbackFunc) SendSnapshot(ctx context.Context, snap Snapshot) error {
	if f == nil {
		return nil
	}
	return f(ctx, snap)
}

func (f CallbackFunc) Close() error { return nil }

// Router fans one snapshot out to several sinks. A failing sink is logged
// and skipped; it never blocks delivery to the others.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out sink.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendSnapshot(ctx context.Context, snap Snapshot) error {
	for _, s := range r.sinks {
		if err := s.SendSnapshot(ctx, snap); err != nil {
			r.logger.Warn("capture: sink rejected snapshot", "error", err)
		}
	}
	return nil
}

func (r *Router) Close() error {
	for _, s := range r.sinks {
		s.Close()
	}
	return nil
}

// StdoutSink writes each snapshot as one JSON line. Debugging path; wire
// it next to the real consumer through a Router.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink creates a line-delimited JSON sink on w.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

func (s *StdoutSink) SendSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.NewEncoder(s.w).Encode(snap)
}

func (s *StdoutSink) Close() error { return nil }
