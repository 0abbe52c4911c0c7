package sheets_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/sheets"
)

func TestAllowlist_OpenUntilConfigured(t *testing.T) {
	allowlist := sheets.NewAllowlist(sheets.Config{}, zerolog.Nop())

	if !allowlist.IsAuthorized("anyone") {
		t.Error("an unconfigured allowlist must not lock users out")
	}
}

func TestAllowlist_StaticList(t *testing.T) {
	allowlist := sheets.NewAllowlist(sheets.Config{
		Static: []string{"ana", " 12345 ", ""},
	}, zerolog.Nop())

	tests := []struct {
		identity string
		want     bool
	}{
		{"ana", true},
		{"12345", true},
		{" ana ", true}, // lookups are trimmed like the list entries
		{"bob", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := allowlist.IsAuthorized(tt.identity); got != tt.want {
			t.Errorf("IsAuthorized(%q) = %v, want %v", tt.identity, got, tt.want)
		}
	}
}

func TestAllowlist_RefreshesFromSpreadsheet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"values": [][]string{{"ana"}, {" carlos "}, {}},
		})
	}))
	defer server.Close()

	allowlist := sheets.NewAllowlist(sheets.Config{
		SpreadsheetID: "sheet-1",
		APIKey:        "test-key",
		Refresh:       time.Hour,
		Static:        []string{"static-user"},
		BaseURL:       server.URL,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	allowlist.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for !allowlist.IsAuthorized("ana") {
		if time.Now().After(deadline) {
			t.Fatal("allowlist never picked up the spreadsheet rows")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !allowlist.IsAuthorized("carlos") {
		t.Error("expected trimmed spreadsheet entry to be authorized")
	}
	if !allowlist.IsAuthorized("static-user") {
		t.Error("static entries must survive a refresh")
	}
	if allowlist.IsAuthorized("bob") {
		t.Error("unknown identity authorized after refresh")
	}
}
