// Package conversation persists context handles, preferences and transcript
// rows with GORM.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/chuchoprado/mi-telegram-bot/internal/domain/conversation"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/database/entities"
)

// ContextRepository persists conversation → handle rows.
type ContextRepository struct {
	db *gorm.DB
}

// NewContextRepository builds a context handle repository.
func NewContextRepository(db *gorm.DB) *ContextRepository {
	return &ContextRepository{db: db}
}

// Find returns the stored handle for the conversation.
func (r *ContextRepository) Find(ctx context.Context, conversationID string) (string, error) {
	var entity entities.ContextHandle
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("fetch context handle: %w", err)
	}
	return entity.Handle, nil
}

// Save upserts the handle for the conversation.
func (r *ContextRepository) Save(ctx context.Context, conversationID, handle string) error {
	entity := entities.ContextHandle{ConversationID: conversationID, Handle: handle}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"handle", "updated_at"}),
		}).
		Create(&entity).Error; err != nil {
		return fmt.Errorf("save context handle: %w", err)
	}
	return nil
}

// Delete removes the handle row for the conversation.
func (r *ContextRepository) Delete(ctx context.Context, conversationID string) error {
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&entities.ContextHandle{}).Error; err != nil {
		return fmt.Errorf("delete context handle: %w", err)
	}
	return nil
}

// PreferenceRepository persists per-conversation settings.
type PreferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository builds a preference repository.
func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored preferences for the conversation.
func (r *PreferenceRepository) Get(ctx context.Context, conversationID string) (*domain.Preferences, error) {
	var entity entities.Preference
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	return &domain.Preferences{
		ConversationID: entity.ConversationID,
		VoiceReplies:   entity.VoiceReplies,
		SpeechSpeed:    entity.SpeechSpeed,
		SpeechLanguage: entity.SpeechLanguage,
		SentVoice:      entity.SentVoice,
		UpdatedAt:      entity.UpdatedAt,
	}, nil
}

// Save upserts the preferences row.
func (r *PreferenceRepository) Save(ctx context.Context, prefs *domain.Preferences) error {
	entity := entities.Preference{
		ConversationID: prefs.ConversationID,
		VoiceReplies:   prefs.VoiceReplies,
		SpeechSpeed:    prefs.SpeechSpeed,
		SpeechLanguage: prefs.SpeechLanguage,
		SentVoice:      prefs.SentVoice,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"voice_replies", "speech_speed", "speech_language", "sent_voice", "updated_at",
			}),
		}).
		Create(&entity).Error; err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// TranscriptRepository appends and lists conversation log rows.
type TranscriptRepository struct {
	db *gorm.DB
}

// NewTranscriptRepository builds a transcript repository.
func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Append inserts transcript rows in order.
func (r *TranscriptRepository) Append(ctx context.Context, entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]entities.TranscriptEntry, len(entries))
	for i, e := range entries {
		rows[i] = entities.TranscriptEntry{
			ConversationID: e.ConversationID,
			Role:           string(e.Role),
			Content:        e.Content,
			CreatedAt:      e.CreatedAt,
		}
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// ListByConversation returns the most recent rows, oldest first.
func (r *TranscriptRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Entry, error) {
	query := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []entities.TranscriptEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}

	entries := make([]domain.Entry, len(rows))
	for i := range rows {
		row := rows[len(rows)-1-i] // restore chronological order
		entries[i] = domain.Entry{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Role:           domain.Role(row.Role),
			Content:        row.Content,
			CreatedAt:      row.CreatedAt,
		}
	}
	return entries, nil
}
