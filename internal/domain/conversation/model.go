// Package conversation holds the domain model shared by the dispatcher,
// runner and transcript log.
package conversation

import "time"

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange unit: a single inbound message waiting for its reply.
// Turns are ephemeral; only the transcript rows written after completion
// persist.
type Turn struct {
	ID             string
	ConversationID string
	Text           string
	EnqueuedAt     time.Time
}

// Preferences are the durable per-conversation settings. SentVoice records
// whether the user has ever sent a voice note; after the first one, voice is
// the default reply modality.
type Preferences struct {
	ConversationID string
	VoiceReplies   bool
	SpeechSpeed    float64
	SpeechLanguage string
	SentVoice      bool
	UpdatedAt      time.Time
}

// DefaultPreferences returns the preferences for a conversation seen for the
// first time.
func DefaultPreferences(conversationID string) *Preferences {
	return &Preferences{
		ConversationID: conversationID,
		VoiceReplies:   false,
		SpeechSpeed:    1.0,
		SpeechLanguage: "es",
	}
}

// Entry is one transcript (audit log) row.
type Entry struct {
	ID             uint
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}
