// Package voice turns an inbound voice note into text: transcode to the
// recognizer's format, then transcribe.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
)

// Recognizer errors. The two kinds stay distinct because the user's recovery
// action differs: re-record versus try again later.
var (
	ErrUnintelligible = errors.New("audio unintelligible")
	ErrUnavailable    = errors.New("transcription service unavailable")
)

// Recognizer transcribes prepared audio. languageHint may be empty for
// automatic detection.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath, languageHint string) (string, error)
}

// Transcoder converts the inbound container to the recognizer's format.
type Transcoder interface {
	Transcode(ctx context.Context, inPath, outPath string) error
}

// Ingest is the stateless adapter between raw platform voice notes and the
// dispatcher's text intake.
type Ingest struct {
	transcoder Transcoder
	recognizer Recognizer
	tmpDir     string
	log        zerolog.Logger
}

// NewIngest wires the adapter. tmpDir may be empty to use the system default.
func NewIngest(transcoder Transcoder, recognizer Recognizer, tmpDir string, log zerolog.Logger) *Ingest {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Ingest{
		transcoder: transcoder,
		recognizer: recognizer,
		tmpDir:     tmpDir,
		log:        log.With().Str("component", "voice-ingest").Logger(),
	}
}

// Transcribe converts the raw voice blob to text. All temporary artifacts are
// removed on every exit path.
func (i *Ingest) Transcribe(ctx context.Context, blob []byte, inputExt, languageHint string) (string, error) {
	if len(blob) == 0 {
		return "", boterr.New(boterr.CodeEmptyInput, "empty voice note", boterr.KindInput)
	}

	id := ulid.Make().String()
	if inputExt == "" {
		inputExt = ".ogg"
	}
	inPath := filepath.Join(i.tmpDir, "voice-"+id+inputExt)
	outPath := filepath.Join(i.tmpDir, "voice-"+id+".mp3")
	defer func() {
		os.Remove(inPath)
		os.Remove(outPath)
	}()

	if err := os.WriteFile(inPath, blob, 0o600); err != nil {
		return "", fmt.Errorf("write voice temp file: %w", err)
	}

	if err := i.transcoder.Transcode(ctx, inPath, outPath); err != nil {
		// A conversion failure is a hard stop; nothing partial continues.
		return "", boterr.Wrap(err, boterr.CodeTranscode, "transcode voice note", boterr.KindInternal)
	}

	text, err := i.recognizer.Recognize(ctx, outPath, languageHint)
	switch {
	case errors.Is(err, ErrUnintelligible):
		return "", boterr.Wrap(err, boterr.CodeUnintelligible, "voice note not understood", boterr.KindInput)
	case errors.Is(err, ErrUnavailable):
		return "", boterr.Wrap(err, boterr.CodeUnavailable, "recognizer unavailable", boterr.KindTransient)
	case err != nil:
		return "", fmt.Errorf("recognize voice note: %w", err)
	}

	if text == "" {
		return "", boterr.New(boterr.CodeUnintelligible, "empty transcription", boterr.KindInput)
	}

	i.log.Debug().Int("bytes", len(blob)).Msg("voice note transcribed")
	return text, nil
}
