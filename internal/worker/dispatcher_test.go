package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/conversation"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/metrics"
	"github.com/chuchoprado/mi-telegram-bot/internal/worker"
)

// mockProcessor records processed turns and notified failures in order.
type mockProcessor struct {
	mu        sync.Mutex
	processed []conversation.Turn
	failures  []conversation.Turn
	processFn func(turn conversation.Turn) error
	done      chan conversation.Turn
}

func newMockProcessor(buffer int) *mockProcessor {
	return &mockProcessor{done: make(chan conversation.Turn, buffer)}
}

func (m *mockProcessor) Process(_ context.Context, turn conversation.Turn) error {
	var err error
	if m.processFn != nil {
		err = m.processFn(turn)
	}
	m.mu.Lock()
	m.processed = append(m.processed, turn)
	m.mu.Unlock()
	m.done <- turn
	return err
}

func (m *mockProcessor) NotifyFailure(_ context.Context, turn conversation.Turn, _ error) {
	m.mu.Lock()
	m.failures = append(m.failures, turn)
	m.mu.Unlock()
}

func (m *mockProcessor) texts(conversationID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, turn := range m.processed {
		if turn.ConversationID == conversationID {
			out = append(out, turn.Text)
		}
	}
	return out
}

func waitFor(t *testing.T, done <-chan conversation.Turn, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for turn %d of %d", i+1, n)
		}
	}
}

func TestDispatcher_PerConversationOrder(t *testing.T) {
	processor := newMockProcessor(16)
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   4,
		QueueCapacity: 16,
		LaneDepth:     10,
	}, zerolog.Nop())

	// Queue everything before starting the workers so all three turns sit in
	// the lane together; order must still hold.
	for _, text := range []string{"first", "second", "third"} {
		if err := dispatcher.Enqueue("42", text); err != nil {
			t.Fatalf("Enqueue(%q) error = %v", text, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	waitFor(t, processor.done, 3)

	got := processor.texts("42")
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("turn %d = %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestDispatcher_ConversationsDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	processor := newMockProcessor(16)
	processor.processFn = func(turn conversation.Turn) error {
		if turn.ConversationID == "slow" {
			<-release
		}
		return nil
	}
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   2,
		QueueCapacity: 16,
		LaneDepth:     10,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := dispatcher.Enqueue("slow", "blocked"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := dispatcher.Enqueue("fast", "quick"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// The fast conversation finishes while the slow one is still held.
	select {
	case turn := <-processor.done:
		if turn.ConversationID != "fast" {
			t.Fatalf("expected the fast conversation first, got %q", turn.ConversationID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fast conversation starved by a slow one")
	}

	close(release)
	waitFor(t, processor.done, 1)
}

func TestDispatcher_NoOverlapWithinConversation(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	processor := newMockProcessor(16)
	processor.processFn = func(conversation.Turn) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   4,
		QueueCapacity: 16,
		LaneDepth:     10,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	for i := 0; i < 5; i++ {
		if err := dispatcher.Enqueue("42", "turn"); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		// Spread enqueues so some land while a turn is mid-flight.
		time.Sleep(2 * time.Millisecond)
	}
	waitFor(t, processor.done, 5)

	if maxInFlight != 1 {
		t.Errorf("turns for one conversation overlapped: max in flight %d", maxInFlight)
	}
}

func TestDispatcher_LaneDepthRejectsFloods(t *testing.T) {
	processor := newMockProcessor(16)
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   1,
		QueueCapacity: 16,
		LaneDepth:     2,
	}, zerolog.Nop())
	// Workers not started, so everything stays queued.

	if err := dispatcher.Enqueue("42", "one"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := dispatcher.Enqueue("42", "two"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	err := dispatcher.Enqueue("42", "three")
	if boterr.KindOf(err) != boterr.KindBusy {
		t.Fatalf("expected busy rejection beyond the lane depth, got %v", err)
	}

	// Another conversation is unaffected by the full lane.
	if err := dispatcher.Enqueue("7", "hello"); err != nil {
		t.Errorf("Enqueue() for another conversation error = %v", err)
	}
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	processor := newMockProcessor(16)
	processor.processFn = func(turn conversation.Turn) error {
		if turn.Text == "explode" {
			panic("boom")
		}
		return nil
	}
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   1,
		QueueCapacity: 16,
		LaneDepth:     10,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := dispatcher.Enqueue("42", "explode"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := dispatcher.Enqueue("42", "survive"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// The panicking turn never reaches processor.done, so wait for the
	// survivor only.
	waitFor(t, processor.done, 1)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.failures) != 1 || processor.failures[0].Text != "explode" {
		t.Errorf("expected a failure notification for the panicking turn, got %v", processor.failures)
	}
	found := false
	for _, turn := range processor.processed {
		if turn.Text == "survive" {
			found = true
		}
	}
	if !found {
		t.Error("worker did not survive the panic")
	}
}

func TestDispatcher_FailedTurnDoesNotStopTheLane(t *testing.T) {
	processor := newMockProcessor(16)
	processor.processFn = func(turn conversation.Turn) error {
		if turn.Text == "bad" {
			return errors.New("engine exploded")
		}
		return nil
	}
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   1,
		QueueCapacity: 16,
		LaneDepth:     10,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := dispatcher.Enqueue("42", "bad"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := dispatcher.Enqueue("42", "good"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, processor.done, 2)

	got := processor.texts("42")
	if len(got) != 2 || got[1] != "good" {
		t.Errorf("expected the lane to continue after a failure, got %v", got)
	}
}

func TestDispatcher_IdleLanesAreEvicted(t *testing.T) {
	processor := newMockProcessor(16)
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   2,
		QueueCapacity: 16,
		LaneDepth:     5,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	for _, id := range []string{"1", "2", "3"} {
		if err := dispatcher.Enqueue(id, "hello"); err != nil {
			t.Fatalf("Enqueue(%q) error = %v", id, err)
		}
	}
	waitFor(t, processor.done, 3)

	// Lane bookkeeping settles just after the last turn is handed back.
	deadline := time.Now().Add(5 * time.Second)
	for dispatcher.LaneCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("lane entries remain after drain: %d", dispatcher.LaneCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_StopSettlesQueueDepth(t *testing.T) {
	processor := newMockProcessor(4)
	dispatcher := worker.NewDispatcher(processor, worker.Config{
		WorkerCount:   1,
		QueueCapacity: 4,
		LaneDepth:     3,
	}, zerolog.Nop())

	baseline := testutil.ToFloat64(metrics.QueueDepth)

	// The workers are never started, so the queued turns can only leave at
	// shutdown; the gauge must come back to where it was.
	for _, text := range []string{"one", "two", "three"} {
		if err := dispatcher.Enqueue("42", text); err != nil {
			t.Fatalf("Enqueue(%q) error = %v", text, err)
		}
	}
	if got := testutil.ToFloat64(metrics.QueueDepth); got != baseline+3 {
		t.Fatalf("queue depth = %v, want %v", got, baseline+3)
	}

	dispatcher.Stop()

	if got := testutil.ToFloat64(metrics.QueueDepth); got != baseline {
		t.Errorf("queue depth after Stop = %v, want baseline %v", got, baseline)
	}
	if got := dispatcher.LaneCount(); got != 0 {
		t.Errorf("lane entries after Stop = %d, want 0", got)
	}
}
