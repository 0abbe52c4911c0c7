package conversation

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist. Callers treat it as
// "create lazily", never as a failure.
var ErrNotFound = errors.New("record not found")

// PreferenceRepository persists per-conversation settings.
type PreferenceRepository interface {
	Get(ctx context.Context, conversationID string) (*Preferences, error)
	Save(ctx context.Context, prefs *Preferences) error
}

// ContextRepository durably maps a conversation to its remote context handle.
type ContextRepository interface {
	Find(ctx context.Context, conversationID string) (string, error)
	Save(ctx context.Context, conversationID, handle string) error
	Delete(ctx context.Context, conversationID string) error
}

// TranscriptRepository appends and lists transcript rows.
type TranscriptRepository interface {
	Append(ctx context.Context, entries []Entry) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]Entry, error)
}
