// Package relay processes one turn end to end: run it against the engine,
// deliver the reply as text or voice, and write the transcript pair.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/conversation"
)

// TurnRunner executes one turn against the remote engine.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID, text string) (string, error)
}

// Synthesizer produces a cached audio artifact for reply text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string, speed float64) (string, error)
}

// Transport delivers replies back to the messaging platform.
type Transport interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendVoice(ctx context.Context, conversationID, audioPath string) error
	SendChatAction(ctx context.Context, conversationID, action string) error
}

// Service wires the turn pipeline.
type Service struct {
	runner     TurnRunner
	prefs      conversation.PreferenceRepository
	transcript conversation.TranscriptRepository
	synth      Synthesizer
	transport  Transport
	log        zerolog.Logger
}

// NewService wires dependencies.
func NewService(
	runner TurnRunner,
	prefs conversation.PreferenceRepository,
	transcript conversation.TranscriptRepository,
	synth Synthesizer,
	transport Transport,
	log zerolog.Logger,
) *Service {
	return &Service{
		runner:     runner,
		prefs:      prefs,
		transcript: transcript,
		synth:      synth,
		transport:  transport,
		log:        log.With().Str("component", "relay").Logger(),
	}
}

// Preferences returns the conversation's settings, falling back to defaults
// for conversations seen for the first time.
func (s *Service) Preferences(ctx context.Context, conversationID string) *conversation.Preferences {
	prefs, err := s.prefs.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("load preferences")
		}
		return conversation.DefaultPreferences(conversationID)
	}
	return prefs
}

// MarkVoiceSeen records that the user has sent a voice note, which makes
// voice the default reply modality from now on.
func (s *Service) MarkVoiceSeen(ctx context.Context, conversationID string) error {
	prefs := s.Preferences(ctx, conversationID)
	if prefs.SentVoice {
		return nil
	}
	prefs.SentVoice = true
	prefs.UpdatedAt = time.Now()
	return s.prefs.Save(ctx, prefs)
}

// Process executes one dequeued turn to completion and performs delivery.
// Every failure is converted into exactly one user-facing notice here; the
// returned error exists for the dispatcher's log only.
func (s *Service) Process(ctx context.Context, turn conversation.Turn) error {
	prefs := s.Preferences(ctx, turn.ConversationID)
	wantVoice := prefs.VoiceReplies || prefs.SentVoice

	action := "typing"
	if wantVoice {
		action = "record_voice"
	}
	if err := s.transport.SendChatAction(ctx, turn.ConversationID, action); err != nil {
		s.log.Debug().Err(err).Str("conversation_id", turn.ConversationID).Msg("chat action")
	}

	reply, err := s.runner.RunTurn(ctx, turn.ConversationID, turn.Text)
	if err != nil {
		s.NotifyFailure(ctx, turn, err)
		return fmt.Errorf("run turn: %w", err)
	}

	deliverErr := s.deliver(ctx, turn.ConversationID, reply, prefs, wantVoice)
	s.audit(ctx, turn, reply)
	if deliverErr != nil {
		return fmt.Errorf("deliver reply: %w", deliverErr)
	}
	return nil
}

// NotifyFailure sends the single user-facing notice for a failed turn and
// records the failure in the transcript with the notice in place of a reply.
func (s *Service) NotifyFailure(ctx context.Context, turn conversation.Turn, cause error) {
	notice := boterr.UserNotice(cause)
	if err := s.transport.SendText(ctx, turn.ConversationID, notice); err != nil {
		s.log.Error().Err(err).Str("conversation_id", turn.ConversationID).Msg("send failure notice")
	}
	s.audit(ctx, turn, fmt.Sprintf("[error: %v]", cause))
}

func (s *Service) deliver(ctx context.Context, conversationID, reply string, prefs *conversation.Preferences, wantVoice bool) error {
	if wantVoice {
		audioPath, err := s.synth.Synthesize(ctx, reply, prefs.SpeechLanguage, prefs.SpeechSpeed)
		if err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("synthesis failed, falling back to text")
		} else if err := s.transport.SendVoice(ctx, conversationID, audioPath); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("voice delivery failed, falling back to text")
		} else {
			return nil
		}
	}
	return s.transport.SendText(ctx, conversationID, reply)
}

// audit writes the user/assistant transcript pair. Per-conversation ordering
// holds because the dispatcher never runs two turns for one conversation
// concurrently.
func (s *Service) audit(ctx context.Context, turn conversation.Turn, reply string) {
	entries := []conversation.Entry{
		{ConversationID: turn.ConversationID, Role: conversation.RoleUser, Content: turn.Text, CreatedAt: turn.EnqueuedAt},
		{ConversationID: turn.ConversationID, Role: conversation.RoleAssistant, Content: reply, CreatedAt: time.Now()},
	}
	if err := s.transcript.Append(ctx, entries); err != nil {
		s.log.Error().Err(err).Str("conversation_id", turn.ConversationID).Msg("append transcript")
	}
}
