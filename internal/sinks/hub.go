// Package sinks implements the metrics/report sink implementations and the
// hub that fans attempt events out to them.
package sinks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
)

const (
	defaultBufferSize  = 4096
	defaultSinkTimeout = 10 * time.Second
)

// HubConfig controls buffering for the Hub.
type HubConfig struct {
	BufferSize  int
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub decouples workers from sink latency. Attempt never blocks the caller;
// events are delivered to every registered sink by a background goroutine.
// Reports are low volume and forwarded synchronously.
type Hub struct {
	cfg     HubConfig
	sinks   []engine.Sink
	events  chan engine.AttemptEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
}

// NewHub starts the fan-out goroutine over the provided sinks.
func NewHub(cfg HubConfig, ss ...engine.Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]engine.Sink(nil), ss...),
		events: make(chan engine.AttemptEvent, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Attempt enqueues an event without blocking. Events are dropped (and
// counted) under backpressure rather than slowing workers down.
func (h *Hub) Attempt(_ context.Context, evt engine.AttemptEvent) error {
	if h.closed.Load() {
		return nil
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Report forwards the final run report to every sink.
func (h *Hub) Report(ctx context.Context, rep engine.RunReport) error {
	for _, s := range h.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, h.cfg.SinkTimeout)
		err := s.Report(sinkCtx, rep)
		cancel()
		if err != nil {
			h.logger.Warn("report sink failed", zap.Error(err))
		}
	}
	return nil
}

// Close drains buffered events, closes the sinks, and waits for the
// background goroutine. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("hub close wait: %w", ctx.Err())
	}
	if n := h.dropped.Swap(0); n > 0 {
		h.logger.Warn("attempt events dropped due to backpressure", zap.Int64("dropped", n))
	}
	for _, s := range h.sinks {
		if err := s.Close(ctx); err != nil {
			h.logger.Warn("sink close failed", zap.Error(err))
		}
	}
	return nil
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
		case <-h.stopCh:
			for {
				select {
				case evt := <-h.events:
					h.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) deliver(evt engine.AttemptEvent) {
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := s.Attempt(ctx, evt); err != nil {
			h.logger.Warn("attempt sink failed", zap.Error(err))
		}
		cancel()
	}
}
