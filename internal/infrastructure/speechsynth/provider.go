// Package speechsynth adapts the OpenAI speech endpoint to the synthesis
// provider contract.
package speechsynth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/speech"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/metrics"
)

// Provider synthesizes speech with the OpenAI TTS models.
type Provider struct {
	api   *openai.Client
	model openai.SpeechModel
	voice openai.SpeechVoice
}

// NewProvider builds the adapter.
func NewProvider(apiKey string) *Provider {
	return &Provider{
		api:   openai.NewClient(apiKey),
		model: openai.TTSModel1,
		voice: openai.VoiceNova,
	}
}

// Synthesize returns opus-encoded audio for the text. The voice model is
// multilingual, so language selects nothing upstream; it stays part of the
// contract because it is part of the cache key.
func (p *Provider) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	resp, err := p.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          p.voice,
		ResponseFormat: openai.SpeechResponseFormatOpus,
	})
	if err != nil {
		if isRateLimit(err) {
			metrics.SynthProviderCalls.WithLabelValues("rate_limited").Inc()
			return nil, fmt.Errorf("%w: %v", speech.ErrRateLimited, err)
		}
		metrics.SynthProviderCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		metrics.SynthProviderCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read speech response: %w", err)
	}

	metrics.SynthProviderCalls.WithLabelValues("ok").Inc()
	return audio, nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
