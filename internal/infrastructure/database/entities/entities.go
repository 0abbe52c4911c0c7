package entities

import "time"

// ContextHandle maps a conversation to its remote context handle. One row per
// conversation at most.
type ContextHandle struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Handle         string    `gorm:"type:varchar(128);not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ContextHandle.
func (ContextHandle) TableName() string {
	return "context_handles"
}

// Preference stores per-conversation settings.
type Preference struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	VoiceReplies   bool      `gorm:"not null;default:false"`
	SpeechSpeed    float64   `gorm:"not null;default:1.0"`
	SpeechLanguage string    `gorm:"type:varchar(16);not null;default:'es'"`
	SentVoice      bool      `gorm:"not null;default:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Preference.
func (Preference) TableName() string {
	return "preferences"
}

// TranscriptEntry is one append-only conversation log row.
type TranscriptEntry struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID string    `gorm:"type:varchar(64);index;not null"`
	Role           string    `gorm:"type:varchar(16);not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for TranscriptEntry.
func (TranscriptEntry) TableName() string {
	return "transcript_entries"
}
