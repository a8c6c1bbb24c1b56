package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes how the Hub groups action events before handing them to sinks.
type Config struct {
	// BufferSize bounds the events waiting for delivery; Emit drops beyond it.
	BufferSize int `mapstructure:"buffer_size"`
	// MaxBatchEvents delivers as soon as this many events are pending.
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	// MaxBatchWait caps how long the first pending event waits for company.
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`

	BaseContext context.Context `mapstructure:"-"`
	Logger      *zap.Logger     `mapstructure:"-"`
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropNoticeInterval    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub carries action lifecycle events from the engine to the store,
// Prometheus and log sinks. Delivery happens on one goroutine, so a sink never
// sees concurrent Consume calls. Emit never blocks a render or extract.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped    atomic.Int64
	dropNotice rate.Sometimes
	closed     atomic.Bool
	closeOnce  sync.Once
	closeCtx   context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:        cfg,
		sinks:      append([]Sink(nil), sinks...),
		events:     make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     cfg.Logger,
		dropNotice: rate.Sometimes{Interval: dropNoticeInterval},
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded; when the buffer is full the
// event is counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid action event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropNotice.Do(func() {
			h.logger.Warn("action events dropped, progress buffer full",
				zap.Int64("dropped_total", total),
				zap.String("stage", string(evt.Stage)),
			)
		})
	}
}

// Close stops intake, delivers whatever is queued, closes the sinks and waits
// for the delivery goroutine or ctx, whichever ends first. Later calls only
// wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// Dropped is the number of events lost to a full buffer since start.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// loop delivers a batch when it reaches MaxBatchEvents or when its oldest
// event has waited MaxBatchWait.
func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		deadline = nil
	}
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents:
				disarm()
				pending = h.deliver(pending)
			case deadline == nil:
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			pending = h.deliver(pending)
		case <-h.stop:
			disarm()
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.deliver(pending)
			}
		default:
			h.deliver(pending)
			h.closeSinks()
			return
		}
	}
}

// deliver hands batch to every sink and returns it emptied for reuse. A
// failing sink is logged and does not affect the others.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(snapshot)), zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
