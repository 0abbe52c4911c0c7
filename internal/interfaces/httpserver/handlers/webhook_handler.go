package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/metrics"
	"github.com/chuchoprado/mi-telegram-bot/internal/interfaces/httpserver/dto"
)

// Enqueuer admits a turn into the processing queue.
type Enqueuer interface {
	Enqueue(conversationID, text string) error
}

// Resetter discards a conversation's remote context so the next turn starts
// fresh.
type Resetter interface {
	Invalidate(ctx context.Context, conversationID string) error
}

// VoiceIngester turns a raw voice note into text.
type VoiceIngester interface {
	Transcribe(ctx context.Context, blob []byte, inputExt, languageHint string) (string, error)
}

// VoiceDownloader fetches the raw voice payload from the platform.
type VoiceDownloader interface {
	DownloadVoice(ctx context.Context, fileID string) ([]byte, error)
}

// Notifier sends a direct text reply outside the turn pipeline, for admission
// failures that never reach a worker.
type Notifier interface {
	SendText(ctx context.Context, conversationID, text string) error
}

// VoiceMarker records that a conversation has used voice input.
type VoiceMarker interface {
	MarkVoiceSeen(ctx context.Context, conversationID string) error
}

// Authorizer gates which senders may use the bot.
type Authorizer interface {
	IsAuthorized(identity string) bool
}

// ExtensionSniffer guesses a file extension from the payload bytes.
type ExtensionSniffer func(blob []byte) string

// voiceIngestTimeout bounds one background download+transcode+transcription.
const voiceIngestTimeout = 2 * time.Minute

// WebhookHandler receives platform updates and admits them into the queue.
type WebhookHandler struct {
	pathToken  string
	queue      Enqueuer
	contexts   Resetter
	ingest     VoiceIngester
	downloader VoiceDownloader
	notifier   Notifier
	voiceMark  VoiceMarker
	allowlist  Authorizer
	sniff      ExtensionSniffer
	log        zerolog.Logger
}

// NewWebhookHandler constructs the handler.
func NewWebhookHandler(
	pathToken string,
	queue Enqueuer,
	contexts Resetter,
	ingest VoiceIngester,
	downloader VoiceDownloader,
	notifier Notifier,
	voiceMark VoiceMarker,
	allowlist Authorizer,
	sniff ExtensionSniffer,
	log zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		pathToken:  pathToken,
		queue:      queue,
		contexts:   contexts,
		ingest:     ingest,
		downloader: downloader,
		notifier:   notifier,
		voiceMark:  voiceMark,
		allowlist:  allowlist,
		sniff:      sniff,
		log:        log.With().Str("handler", "webhook").Logger(),
	}
}

// Receive handles POST /webhook/:token.
//
// The platform retries deliveries that do not return 2xx, so every parse or
// processing problem past the token check still acknowledges with 200; the
// only non-200 is the token mismatch, which is indistinguishable from a
// missing route on purpose.
func (h *WebhookHandler) Receive(c *gin.Context) {
	token := c.Param("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.pathToken)) != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	var update dto.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.log.Warn().Err(err).Msg("malformed update payload")
		metrics.WebhookUpdatesTotal.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	h.handle(c.Request.Context(), &update)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *WebhookHandler) handle(ctx context.Context, update *dto.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		metrics.WebhookUpdatesTotal.WithLabelValues("ignored").Inc()
		return
	}

	conversationID := strconv.FormatInt(msg.Chat.ID, 10)
	log := h.log.With().
		Str("conversation_id", conversationID).
		Int64("update_id", update.UpdateID).
		Logger()

	if !h.authorized(msg.From) {
		log.Warn().Str("username", msg.From.Username).Msg("sender not on allowlist")
		metrics.WebhookUpdatesTotal.WithLabelValues("unauthorized").Inc()
		return
	}

	switch {
	case msg.Voice != nil:
		metrics.WebhookUpdatesTotal.WithLabelValues("voice").Inc()
		// Download, transcode and transcription take seconds; the update is
		// acknowledged now and the note processed off the request thread on a
		// context the platform's request timeout cannot cancel.
		go h.handleVoice(context.WithoutCancel(ctx), conversationID, msg, log)
	case strings.TrimSpace(msg.Text) != "":
		metrics.WebhookUpdatesTotal.WithLabelValues("text").Inc()
		h.admit(ctx, conversationID, strings.TrimSpace(msg.Text), log)
	default:
		metrics.WebhookUpdatesTotal.WithLabelValues("ignored").Inc()
		h.notify(ctx, conversationID, "I can only handle text and voice messages for now.")
	}
}

// handleVoice runs the voice-ingest path in the background after the webhook
// has been acknowledged.
func (h *WebhookHandler) handleVoice(ctx context.Context, conversationID string, msg *dto.Message, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, voiceIngestTimeout)
	defer cancel()

	transcript, err := h.transcribeVoice(ctx, conversationID, msg)
	if err != nil {
		log.Warn().Err(err).Str("file_id", msg.Voice.FileID).Msg("voice ingest failed")
		h.notify(ctx, conversationID, boterr.UserNotice(err))
		return
	}
	h.admit(ctx, conversationID, transcript, log)
}

// admit runs the shared intake for a textual turn, whether typed or
// transcribed.
func (h *WebhookHandler) admit(ctx context.Context, conversationID, text string, log zerolog.Logger) {
	if h.isReset(text) {
		if err := h.contexts.Invalidate(ctx, conversationID); err != nil {
			log.Error().Err(err).Msg("reset conversation context")
			h.notify(ctx, conversationID, boterr.UserNotice(err))
			return
		}
		log.Info().Msg("conversation context reset")
		h.notify(ctx, conversationID, "Done. We're starting from a clean slate.")
		return
	}

	if err := h.queue.Enqueue(conversationID, text); err != nil {
		log.Warn().Err(err).Msg("turn rejected at intake")
		h.notify(ctx, conversationID, boterr.UserNotice(err))
		return
	}
	log.Debug().Msg("turn enqueued")
}

// authorized accepts a sender when either their username or numeric id is on
// the allowlist; the sheet holds a mix of both.
func (h *WebhookHandler) authorized(from *dto.User) bool {
	if from.Username != "" && h.allowlist.IsAuthorized(from.Username) {
		return true
	}
	return h.allowlist.IsAuthorized(strconv.FormatInt(from.ID, 10))
}

func (h *WebhookHandler) transcribeVoice(ctx context.Context, conversationID string, msg *dto.Message) (string, error) {
	blob, err := h.downloader.DownloadVoice(ctx, msg.Voice.FileID)
	if err != nil {
		return "", boterr.Wrap(err, boterr.CodeUnavailable, "download voice note", boterr.KindTransient)
	}

	if err := h.voiceMark.MarkVoiceSeen(ctx, conversationID); err != nil {
		h.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark voice seen")
	}

	hint := ""
	if msg.From != nil {
		hint = msg.From.LanguageCode
	}
	return h.ingest.Transcribe(ctx, blob, h.sniff(blob), hint)
}

func (h *WebhookHandler) isReset(text string) bool {
	switch strings.ToLower(text) {
	case "/reset", "reset":
		return true
	}
	return false
}

func (h *WebhookHandler) notify(ctx context.Context, conversationID, text string) {
	if err := h.notifier.SendText(ctx, conversationID, text); err != nil {
		h.log.Error().Err(err).Str("conversation_id", conversationID).Msg("send notice")
	}
}
