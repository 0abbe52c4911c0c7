package contexts_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/contexts"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/conversation"
)

type fakeContextRepo struct {
	mu      sync.Mutex
	handles map[string]string
	findErr error
}

func newFakeContextRepo() *fakeContextRepo {
	return &fakeContextRepo{handles: make(map[string]string)}
}

func (r *fakeContextRepo) Find(_ context.Context, conversationID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return "", r.findErr
	}
	handle, ok := r.handles[conversationID]
	if !ok {
		return "", conversation.ErrNotFound
	}
	return handle, nil
}

func (r *fakeContextRepo) Save(_ context.Context, conversationID, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[conversationID] = handle
	return nil
}

func (r *fakeContextRepo) Delete(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[conversationID]; !ok {
		return conversation.ErrNotFound
	}
	delete(r.handles, conversationID)
	return nil
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

type fakeCreator struct {
	calls atomic.Int64
	err   error
}

func (f *fakeCreator) CreateContext(context.Context) (string, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("thread-%d", n), nil
}

func TestStore_GetOrCreate_CreatesOnce(t *testing.T) {
	repo := newFakeContextRepo()
	creator := &fakeCreator{}
	store := contexts.NewStore(repo, newFakeCache(), creator, zerolog.Nop())

	first, err := store.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := store.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if first != second {
		t.Errorf("expected a stable handle, got %q then %q", first, second)
	}
	if got := creator.calls.Load(); got != 1 {
		t.Errorf("expected 1 remote creation, got %d", got)
	}
	if handle, _ := repo.Find(context.Background(), "42"); handle != first {
		t.Errorf("expected persisted handle %q, got %q", first, handle)
	}
}

func TestStore_GetOrCreate_ParallelCallsShareOneHandle(t *testing.T) {
	repo := newFakeContextRepo()
	creator := &fakeCreator{}
	store := contexts.NewStore(repo, newFakeCache(), creator, zerolog.Nop())

	const callers = 16
	handles := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := store.GetOrCreate(context.Background(), "42")
			if err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d saw handle %q, caller 0 saw %q", i, handles[i], handles[0])
		}
	}
	if got := creator.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 remote creation, got %d", got)
	}
}

func TestStore_GetOrCreate_SeparateConversationsGetSeparateHandles(t *testing.T) {
	store := contexts.NewStore(newFakeContextRepo(), newFakeCache(), &fakeCreator{}, zerolog.Nop())

	a, err := store.GetOrCreate(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b, err := store.GetOrCreate(context.Background(), "2")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if a == b {
		t.Errorf("conversations share handle %q", a)
	}
}

func TestStore_GetOrCreate_DurableHandleSurvivesCacheLoss(t *testing.T) {
	repo := newFakeContextRepo()
	creator := &fakeCreator{}
	store := contexts.NewStore(repo, newFakeCache(), creator, zerolog.Nop())

	first, err := store.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	// A fresh store with an empty cache models a process restart.
	restarted := contexts.NewStore(repo, newFakeCache(), creator, zerolog.Nop())
	second, err := restarted.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if second != first {
		t.Errorf("expected handle %q after restart, got %q", first, second)
	}
	if got := creator.calls.Load(); got != 1 {
		t.Errorf("expected no new remote creation after restart, got %d total", got)
	}
}

func TestStore_GetOrCreate_CreatorFailurePersistsNothing(t *testing.T) {
	repo := newFakeContextRepo()
	creator := &fakeCreator{err: errors.New("engine down")}
	store := contexts.NewStore(repo, newFakeCache(), creator, zerolog.Nop())

	if _, err := store.GetOrCreate(context.Background(), "42"); err == nil {
		t.Fatal("expected error when remote creation fails")
	}
	if _, err := repo.Find(context.Background(), "42"); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("expected no persisted handle, got err %v", err)
	}
}

func TestStore_Invalidate_NextCallCreatesFresh(t *testing.T) {
	repo := newFakeContextRepo()
	creator := &fakeCreator{}
	store := contexts.NewStore(repo, newFakeCache(), creator, zerolog.Nop())

	first, err := store.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if err := store.Invalidate(context.Background(), "42"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	second, err := store.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if second == first {
		t.Errorf("expected a fresh handle after invalidation, still %q", second)
	}
	if got := creator.calls.Load(); got != 2 {
		t.Errorf("expected 2 remote creations, got %d", got)
	}
}

func TestStore_Invalidate_UnknownConversationIsNoop(t *testing.T) {
	store := contexts.NewStore(newFakeContextRepo(), newFakeCache(), &fakeCreator{}, zerolog.Nop())

	if err := store.Invalidate(context.Background(), "missing"); err != nil {
		t.Errorf("Invalidate() error = %v, want nil for unknown conversation", err)
	}
}

func TestStore_LockEntriesAreReleasedAfterUse(t *testing.T) {
	repo := newFakeContextRepo()
	store := contexts.NewStore(repo, newFakeCache(), &fakeCreator{}, zerolog.Nop())

	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("conv-%d", i)
		if _, err := store.GetOrCreate(context.Background(), id); err != nil {
			t.Fatalf("GetOrCreate(%q) error = %v", id, err)
		}
		if err := store.Invalidate(context.Background(), id); err != nil {
			t.Fatalf("Invalidate(%q) error = %v", id, err)
		}
	}

	if got := store.LockCount(); got != 0 {
		t.Errorf("lock entries after the calls returned = %d, want 0", got)
	}
}

func TestStore_LockEntriesAreReleasedAfterContention(t *testing.T) {
	repo := newFakeContextRepo()
	store := contexts.NewStore(repo, newFakeCache(), &fakeCreator{}, zerolog.Nop())

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.GetOrCreate(context.Background(), "42"); err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.LockCount(); got != 0 {
		t.Errorf("lock entries after contention = %d, want 0", got)
	}
}
