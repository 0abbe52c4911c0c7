// Package sheets implements the authorization gate: an allowlist of platform
// identities read from a spreadsheet's values endpoint.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Config controls the allowlist source.
type Config struct {
	SpreadsheetID string
	APIKey        string
	Range         string
	Refresh       time.Duration
	Static        []string // fallback / supplement from configuration
	BaseURL       string   // empty means the Google Sheets API
}

// Allowlist answers IsAuthorized lookups from a periodically refreshed
// in-memory set. With no spreadsheet configured, only the static list
// applies; with an empty static list as well, everyone is allowed (the
// original deployment ran open until the sheet was configured).
type Allowlist struct {
	http *resty.Client
	cfg  Config
	log  zerolog.Logger

	mu         sync.RWMutex
	identities map[string]struct{}
	loaded     bool
}

type valuesResponse struct {
	Values [][]string `json:"values"`
}

// NewAllowlist builds the gate and seeds it with the static list.
func NewAllowlist(cfg Config, log zerolog.Logger) *Allowlist {
	if cfg.Range == "" {
		cfg.Range = "A1:A1000"
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Minute
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sheets.googleapis.com"
	}

	a := &Allowlist{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(15 * time.Second),
		cfg:        cfg,
		log:        log.With().Str("component", "allowlist").Logger(),
		identities: make(map[string]struct{}),
	}
	for _, id := range cfg.Static {
		id = strings.TrimSpace(id)
		if id != "" {
			a.identities[id] = struct{}{}
			a.loaded = true
		}
	}
	return a
}

// Start refreshes the allowlist in the background until ctx is done. Safe to
// skip when no spreadsheet is configured.
func (a *Allowlist) Start(ctx context.Context) {
	if a.cfg.SpreadsheetID == "" {
		a.log.Info().Msg("no spreadsheet configured, using static allowlist only")
		return
	}

	go func() {
		if err := a.refresh(ctx); err != nil {
			a.log.Error().Err(err).Msg("initial allowlist refresh failed")
		}
		ticker := time.NewTicker(a.cfg.Refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.refresh(ctx); err != nil {
					a.log.Error().Err(err).Msg("allowlist refresh failed")
				}
			}
		}
	}()
}

// IsAuthorized reports whether the identity may use the bot.
func (a *Allowlist) IsAuthorized(identity string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.loaded {
		// Nothing configured and nothing fetched yet: stay open rather than
		// lock every user out on a cold start.
		return true
	}
	_, ok := a.identities[strings.TrimSpace(identity)]
	return ok
}

func (a *Allowlist) refresh(ctx context.Context) error {
	var result valuesResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("key", a.cfg.APIKey).
		SetResult(&result).
		Get(fmt.Sprintf("/v4/spreadsheets/%s/values/%s", a.cfg.SpreadsheetID, a.cfg.Range))
	if err != nil {
		return fmt.Errorf("fetch allowlist: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch allowlist: status %d", resp.StatusCode())
	}

	next := make(map[string]struct{}, len(result.Values)+len(a.cfg.Static))
	for _, id := range a.cfg.Static {
		if id = strings.TrimSpace(id); id != "" {
			next[id] = struct{}{}
		}
	}
	for _, row := range result.Values {
		if len(row) == 0 {
			continue
		}
		if id := strings.TrimSpace(row[0]); id != "" {
			next[id] = struct{}{}
		}
	}

	a.mu.Lock()
	a.identities = next
	a.loaded = true
	a.mu.Unlock()

	a.log.Debug().Int("identities", len(next)).Msg("allowlist refreshed")
	return nil
}
