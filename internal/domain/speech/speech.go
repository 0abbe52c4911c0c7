// Package speech turns reply text into cached audio artifacts.
package speech

import (
	"context"
	"errors"
)

// ErrRateLimited is returned by a Provider when the upstream throttles us.
// It is the only provider error the cache retries.
var ErrRateLimited = errors.New("synthesis provider rate limited")

// Provider synthesizes raw audio for text in a given language.
type Provider interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// SpeedAdjuster derives a speed-changed variant from a base artifact.
// Multipliers above 1.0 must preserve pitch; below 1.0 a pitch shift is
// accepted (resampling), which is a documented trade-off, not a bug.
type SpeedAdjuster interface {
	AdjustSpeed(ctx context.Context, inPath, outPath string, speed float64) error
}
