package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/retry"
)

// CacheConfig tunes the synthesis cache. Sleep and Now are injectable so the
// rate limiter and backoff are testable without wall-clock waits.
type CacheConfig struct {
	Dir         string
	MinInterval time.Duration
	RetryPolicy retry.Policy
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
}

// Cache is a content-addressed synthesis cache. The base artifact for
// (text, language) is produced once; speed variants are derived from it and
// cached separately. Artifacts are never mutated after creation, so
// concurrent readers are always safe; concurrent writers for one key coalesce
// onto a single producer.
type Cache struct {
	provider Provider
	adjuster SpeedAdjuster
	cfg      CacheConfig
	executor *retry.Executor
	log      zerolog.Logger

	limitMu  sync.Mutex
	nextCall time.Time

	flightMu sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done chan struct{}
	path string
	err  error
}

// NewCache creates the cache directory and wires the cache.
func NewCache(provider Provider, adjuster SpeedAdjuster, cfg CacheConfig, log zerolog.Logger) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("speech cache dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create speech cache dir: %w", err)
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	executor := retry.NewExecutor(cfg.RetryPolicy)
	executor.Sleep = cfg.Sleep
	executor.Retryable = func(err error) bool {
		// Only provider throttling is worth another attempt; anything else
		// fails fast and the caller falls back to text delivery.
		return isRateLimited(err)
	}

	return &Cache{
		provider: provider,
		adjuster: adjuster,
		cfg:      cfg,
		executor: executor,
		log:      log.With().Str("component", "speech-cache").Logger(),
		inflight: make(map[string]*flight),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Synthesize returns the path of the cached audio artifact for the given
// text, language and speed multiplier, producing whatever is missing.
func (c *Cache) Synthesize(ctx context.Context, text, language string, speed float64) (string, error) {
	normalized := normalize(text)
	if normalized == "" {
		return "", boterr.New(boterr.CodeEmptyInput, "nothing to synthesize", boterr.KindInput)
	}

	key := contentKey(normalized, language)
	basePath := filepath.Join(c.cfg.Dir, key+".ogg")

	base, err := c.ensure(ctx, basePath, func(ctx context.Context) error {
		return c.produceBase(ctx, normalized, language, basePath)
	})
	if err != nil {
		return "", err
	}
	if isBaseSpeed(speed) {
		return base, nil
	}

	variantPath := filepath.Join(c.cfg.Dir, fmt.Sprintf("%s_x%.2f.ogg", key, speed))
	return c.ensure(ctx, variantPath, func(ctx context.Context) error {
		return c.produceVariant(ctx, base, variantPath, speed)
	})
}

// produceVariant derives a speed-adjusted copy of the base artifact through a
// temporary name, so a crash mid-derivation never leaves a truncated file at
// the published path. The temporary keeps the .ogg suffix because the encoder
// picks its container from the extension.
func (c *Cache) produceVariant(ctx context.Context, base, path string, speed float64) error {
	tmp := strings.TrimSuffix(path, ".ogg") + ".tmp.ogg"
	if err := c.adjuster.AdjustSpeed(ctx, base, tmp, speed); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish variant: %w", err)
	}
	return nil
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func contentKey(normalized, language string) string {
	sum := sha256.Sum256([]byte(normalized + "\x00" + language))
	return hex.EncodeToString(sum[:])
}

func isBaseSpeed(speed float64) bool {
	return math.Abs(speed-1.0) < 0.01
}

// ensure returns path once the artifact exists, running produce at most once
// across concurrent callers for the same path.
func (c *Cache) ensure(ctx context.Context, path string, produce func(ctx context.Context) error) (string, error) {
	c.flightMu.Lock()
	if f, ok := c.inflight[path]; ok {
		c.flightMu.Unlock()
		select {
		case <-f.done:
			return f.path, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[path] = f
	c.flightMu.Unlock()

	defer func() {
		c.flightMu.Lock()
		delete(c.inflight, path)
		c.flightMu.Unlock()
		close(f.done)
	}()

	// The artifact may already be on disk from an earlier process run. It may
	// also vanish between this check and the caller's read (external
	// cleanup); callers simply re-request in that case.
	if fileExists(path) {
		f.path = path
		return path, nil
	}

	if err := produce(ctx); err != nil {
		f.err = err
		return "", err
	}

	f.path = path
	return path, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// produceBase calls the provider under the rate limiter with retry on
// throttling, then writes the artifact atomically.
func (c *Cache) produceBase(ctx context.Context, text, language, path string) error {
	audio, err := retry.ExecuteWithResult(ctx, c.executor, func(ctx context.Context, attempt int) ([]byte, error) {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}
		data, err := c.provider.Synthesize(ctx, text, language)
		if err != nil && isRateLimited(err) {
			c.log.Warn().Int("attempt", attempt+1).Msg("synthesis provider throttled")
		}
		return data, err
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, audio, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// waitTurn reserves a provider-call slot, waiting so that calls are at least
// MinInterval apart regardless of cache key. Callers wait, never error.
func (c *Cache) waitTurn(ctx context.Context) error {
	c.limitMu.Lock()
	now := c.cfg.Now()
	wait := c.nextCall.Sub(now)
	if wait < 0 {
		wait = 0
	}
	start := now.Add(wait)
	c.nextCall = start.Add(c.cfg.MinInterval)
	c.limitMu.Unlock()

	if wait > 0 {
		return c.cfg.Sleep(ctx, wait)
	}
	return nil
}
