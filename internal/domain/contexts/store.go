// Package contexts owns the mapping from a conversation to its remote
// context handle: lazily created, durably stored, read through a cache.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/conversation"
)

// HandleCreator creates a fresh context on the remote engine.
type HandleCreator interface {
	CreateContext(ctx context.Context) (string, error)
}

// Cache is the read-through layer in front of the durable repository.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store resolves and invalidates context handles. At most one handle exists
// per conversation; once created it is reused until explicitly invalidated.
type Store struct {
	repo    conversation.ContextRepository
	cache   Cache
	creator HandleCreator
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock is a per-conversation mutex with a waiter count, so the map entry
// can be dropped once the last caller releases it.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore wires the store.
func NewStore(repo conversation.ContextRepository, cache Cache, creator HandleCreator, log zerolog.Logger) *Store {
	return &Store{
		repo:    repo,
		cache:   cache,
		creator: creator,
		log:     log.With().Str("component", "context-store").Logger(),
		locks:   make(map[string]*convLock),
	}
}

func (s *Store) acquire(conversationID string) *convLock {
	s.mu.Lock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &convLock{}
		s.locks[conversationID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Store) release(conversationID string, l *convLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, conversationID)
	}
	s.mu.Unlock()
}

func cacheKey(conversationID string) string {
	return "ctx:" + conversationID
}

// GetOrCreate returns the conversation's handle, creating and persisting one
// on a genuine miss. Idempotent: parallel calls for the same conversation
// serialize on a per-conversation lock, so exactly one remote creation
// happens and every caller sees the same handle.
func (s *Store) GetOrCreate(ctx context.Context, conversationID string) (string, error) {
	if handle, ok, err := s.cache.Get(ctx, cacheKey(conversationID)); err == nil && ok {
		return handle, nil
	}

	lock := s.acquire(conversationID)
	defer s.release(conversationID, lock)

	// Another caller may have created the handle while we waited.
	if handle, ok, err := s.cache.Get(ctx, cacheKey(conversationID)); err == nil && ok {
		return handle, nil
	}

	handle, err := s.repo.Find(ctx, conversationID)
	switch {
	case err == nil:
		if err := s.cache.Set(ctx, cacheKey(conversationID), handle); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("cache handle")
		}
		return handle, nil
	case errors.Is(err, conversation.ErrNotFound):
		// fall through to remote creation
	default:
		return "", fmt.Errorf("find context handle: %w", err)
	}

	handle, err = s.creator.CreateContext(ctx)
	if err != nil {
		return "", fmt.Errorf("create remote context: %w", err)
	}

	if err := s.repo.Save(ctx, conversationID, handle); err != nil {
		// Nothing persisted; the orphaned remote context expires on its own.
		return "", fmt.Errorf("persist context handle: %w", err)
	}
	if err := s.cache.Set(ctx, cacheKey(conversationID), handle); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("cache handle")
	}

	s.log.Info().Str("conversation_id", conversationID).Msg("created context handle")
	return handle, nil
}

// Invalidate removes the in-memory and durable mapping. The next GetOrCreate
// starts a fresh context, resetting the dialogue history.
func (s *Store) Invalidate(ctx context.Context, conversationID string) error {
	lock := s.acquire(conversationID)
	defer s.release(conversationID, lock)

	if err := s.cache.Delete(ctx, cacheKey(conversationID)); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("evict cached handle")
	}
	if err := s.repo.Delete(ctx, conversationID); err != nil && !errors.Is(err, conversation.ErrNotFound) {
		return fmt.Errorf("delete context handle: %w", err)
	}

	s.log.Info().Str("conversation_id", conversationID).Msg("invalidated context handle")
	return nil
}
