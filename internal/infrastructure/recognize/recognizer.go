// Package recognize adapts the OpenAI transcription endpoint to the voice
// recognizer contract.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/voice"
)

// Recognizer transcribes audio files with Whisper.
type Recognizer struct {
	api *openai.Client
}

// NewRecognizer builds the adapter.
func NewRecognizer(apiKey string) *Recognizer {
	return &Recognizer{api: openai.NewClient(apiKey)}
}

// Recognize transcribes the audio at path. An empty languageHint lets the
// model detect the language.
func (r *Recognizer) Recognize(ctx context.Context, audioPath, languageHint string) (string, error) {
	resp, err := r.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Language: languageHint,
	})
	if err != nil {
		return "", classify(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", voice.ErrUnintelligible
	}
	return text, nil
}

// classify keeps the two user-visible failure modes distinct: a 4xx means the
// audio itself was rejected, anything else means the service was unreachable.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
		return fmt.Errorf("%w: %v", voice.ErrUnintelligible, err)
	}
	return fmt.Errorf("%w: %v", voice.ErrUnavailable, err)
}
