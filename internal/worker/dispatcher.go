// Package worker serializes turn processing: one global intake, strict FIFO
// per conversation, bounded concurrency across conversations.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/conversation"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/metrics"
)

// Processor executes one dequeued turn to completion, delivery included.
type Processor interface {
	Process(ctx context.Context, turn conversation.Turn) error
	NotifyFailure(ctx context.Context, turn conversation.Turn, cause error)
}

// Config contains dispatcher configuration.
type Config struct {
	WorkerCount   int
	QueueCapacity int // global ready-queue bound
	LaneDepth     int // max queued turns per conversation
}

// Dispatcher owns the intake queue and per-conversation lanes. For one
// conversation, turns run strictly in enqueue order and never overlap;
// different conversations proceed concurrently up to WorkerCount.
type Dispatcher struct {
	processor Processor
	cfg       Config
	log       zerolog.Logger

	mu    sync.Mutex
	lanes map[string]*lane
	ready chan *lane

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// lane is one conversation's FIFO queue. active means the lane is either in
// the ready channel or being drained by a worker, which is what keeps two
// turns for one conversation from ever running at once.
type lane struct {
	conversationID string
	turns          []conversation.Turn
	active         bool
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(processor Processor, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 3
	}
	return &Dispatcher{
		processor: processor,
		cfg:       cfg,
		log:       log.With().Str("component", "dispatcher").Logger(),
		lanes:     make(map[string]*lane),
		ready:     make(chan *lane, cfg.QueueCapacity),
		stopChan:  make(chan struct{}),
	}
}

// Enqueue queues a turn without blocking. Turns beyond the per-conversation
// depth cap, or beyond the global queue bound, are rejected so a message
// flood can neither grow memory without bound nor race the conversation's
// context.
func (d *Dispatcher) Enqueue(conversationID, text string) error {
	turn := conversation.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		EnqueuedAt:     time.Now(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[conversationID]
	if !ok {
		l = &lane{conversationID: conversationID}
		d.lanes[conversationID] = l
	}

	if len(l.turns) >= d.cfg.LaneDepth {
		return boterr.New(boterr.CodeQueueFull, "conversation queue is full", boterr.KindBusy)
	}

	l.turns = append(l.turns, turn)
	metrics.QueueDepth.Inc()

	if !l.active {
		select {
		case d.ready <- l:
			l.active = true
		default:
			l.turns = l.turns[:len(l.turns)-1]
			metrics.QueueDepth.Dec()
			if len(l.turns) == 0 {
				delete(d.lanes, conversationID)
			}
			return boterr.New(boterr.CodeQueueFull, "intake queue is full", boterr.KindBusy)
		}
	}
	return nil
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Int("worker_count", d.cfg.WorkerCount).Msg("starting dispatcher")
	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.run(ctx, id)
		}(i + 1)
	}
}

// Stop signals workers and waits for in-flight turns to finish.
func (d *Dispatcher) Stop() {
	d.log.Info().Msg("stopping dispatcher")
	close(d.stopChan)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		d.log.Warn().Msg("dispatcher shutdown timed out")
	}

	d.dropPending()
}

// dropPending discards turns still queued at shutdown and settles the depth
// gauge so a restarted process does not report phantom backlog.
func (d *Dispatcher) dropPending() {
	for {
		select {
		case <-d.ready:
			continue
		default:
		}
		break
	}

	d.mu.Lock()
	dropped := 0
	for id, l := range d.lanes {
		dropped += len(l.turns)
		delete(d.lanes, id)
	}
	d.mu.Unlock()

	if dropped > 0 {
		metrics.QueueDepth.Sub(float64(dropped))
		d.log.Warn().Int("dropped_turns", dropped).Msg("dropped queued turns at shutdown")
	}
}

func (d *Dispatcher) run(ctx context.Context, id int) {
	log := d.log.With().Int("worker_id", id).Logger()
	log.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped by context")
			return
		case <-d.stopChan:
			log.Info().Msg("worker stopped")
			return
		case l := <-d.ready:
			d.drainOne(ctx, l, log)
		}
	}
}

// drainOne processes exactly one turn from the lane, then re-queues the lane
// if more turns arrived meanwhile. Taking one turn at a time keeps long
// monologues from starving other conversations.
func (d *Dispatcher) drainOne(ctx context.Context, l *lane, log zerolog.Logger) {
	d.mu.Lock()
	if len(l.turns) == 0 {
		l.active = false
		delete(d.lanes, l.conversationID)
		d.mu.Unlock()
		return
	}
	turn := l.turns[0]
	l.turns = l.turns[1:]
	d.mu.Unlock()
	metrics.QueueDepth.Dec()

	d.process(ctx, turn, log)

	d.mu.Lock()
	if len(l.turns) > 0 {
		select {
		case d.ready <- l:
		default:
			// The ready queue is sized to the global bound, and this lane
			// held a slot; getting here means Stop is racing us. Drop the
			// queued turns and settle the depth gauge for them.
			metrics.QueueDepth.Sub(float64(len(l.turns)))
			l.turns = nil
			l.active = false
			delete(d.lanes, l.conversationID)
		}
	} else {
		l.active = false
		delete(d.lanes, l.conversationID)
	}
	d.mu.Unlock()
}

// process is the turn boundary: any error or panic is contained here, logged
// with full context, and never crashes the worker.
func (d *Dispatcher) process(ctx context.Context, turn conversation.Turn, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).
				Str("conversation_id", turn.ConversationID).
				Str("turn_id", turn.ID).
				Msg("panic while processing turn")
			metrics.TurnsTotal.WithLabelValues("panic").Inc()
			d.processor.NotifyFailure(ctx, turn, fmt.Errorf("panic: %v", r))
		}
	}()

	log.Info().
		Str("conversation_id", turn.ConversationID).
		Str("turn_id", turn.ID).
		Msg("processing turn")

	if err := d.processor.Process(ctx, turn); err != nil {
		log.Error().Err(err).
			Str("conversation_id", turn.ConversationID).
			Str("turn_id", turn.ID).
			Str("error_kind", string(boterr.KindOf(err))).
			Msg("turn failed")
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.TurnsTotal.WithLabelValues("completed").Inc()
}
