// Package scheduler implements the single-consumer task scheduler described
// in the concurrency model: order-book snapshots, trade ticks, PnL timer
// ticks and open requests are delivered as typed messages on one buffered
// channel, processed by exactly one goroutine, replacing the ad-hoc
// goroutine-writes-shared-map pattern app_signal_distributor.go used.
// Candle-feed ticks are not routed here: KindCandleTick is defined but no
// producer sends it.
package scheduler

import (
	"context"
	"log"

	"densityradar/internal/model"
)

// Kind discriminates the payload carried by a Message.
type Kind string

const (
	KindSnapshot     Kind = "snapshot"
	KindTrade        Kind = "trade"
	KindCandleTick   Kind = "candle_tick"
	KindPnlTick      Kind = "pnl_tick"
	KindOpenRequest  Kind = "open_request"
)

// Message is the single envelope type carried on the scheduler channel.
// Only the field matching Kind is populated.
type Message struct {
	Kind       Kind
	Snapshot   model.OrderBookSnapshot
	Trade      model.Trade
	LargeOrder model.LargeOrder
}

// Handler processes one dequeued message on the scheduler's goroutine.
type Handler func(ctx context.Context, msg Message)

// Scheduler drains a buffered channel of Messages with a single consumer
// goroutine, so every handler invocation is strictly serialized.
type Scheduler struct {
	queue  chan Message
	logger *log.Logger
}

// New creates a Scheduler with the given channel buffer size.
func New(bufferSize int, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Scheduler{queue: make(chan Message, bufferSize), logger: logger}
}

// Send enqueues msg. It blocks if the buffer is full, applying natural
// backpressure to producers rather than dropping events silently.
func (s *Scheduler) Send(msg Message) {
	s.queue <- msg
}

// TrySend enqueues msg without blocking; it reports false (and drops msg)
// if the buffer is full, for producers (e.g. the order-book stream
// callback) that would rather drop a message than stall.
func (s *Scheduler) TrySend(msg Message) bool {
	select {
	case s.queue <- msg:
		return true
	default:
		s.logger.Printf("⚠️ scheduler: queue full, dropping %s message", msg.Kind)
		return false
	}
}

// Run drains the queue on the calling goroutine until ctx is cancelled,
// invoking handle for each message strictly in arrival order.
func (s *Scheduler) Run(ctx context.Context, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			handle(ctx, msg)
		}
	}
}
