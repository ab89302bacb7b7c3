package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	pairedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	linkedAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	cfg := Default()
	cfg.Channels["telegram"] = ChannelEntry{
		Type:        ChannelTelegram,
		Credentials: Credentials{BotToken: "123:abc", BotUsername: "touchgrass_bot"},
		PairedUsers: []PairedUser{
			{UserID: "telegram:111", Username: "alice", PairedAt: pairedAt},
		},
		LinkedGroups: []LinkedGroup{
			{ChatID: "telegram:-100777", Title: "devs", LinkedAt: linkedAt},
		},
	}
	cfg.SetOutputMode("telegram:111", OutputModeVerbose)

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config perms = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	e := got.Channels["telegram"]
	if len(e.PairedUsers) != 1 || e.PairedUsers[0].UserID != "telegram:111" {
		t.Fatalf("paired users not preserved: %+v", e.PairedUsers)
	}
	if !e.PairedUsers[0].PairedAt.Equal(pairedAt) {
		t.Errorf("pairedAt = %v, want %v", e.PairedUsers[0].PairedAt, pairedAt)
	}
	if len(e.LinkedGroups) != 1 || !e.LinkedGroups[0].LinkedAt.Equal(linkedAt) {
		t.Errorf("linked groups not preserved: %+v", e.LinkedGroups)
	}
	if got.OutputMode("telegram:111") != OutputModeVerbose {
		t.Error("chat preference not preserved")
	}
}

func TestLoadJSON5Tolerance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		// hand-edited config
		channels: {
			telegram: { type: "telegram", credentials: { botToken: "123:abc" } },
		},
		settings: { maxSessions: 4, },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels["telegram"].Credentials.BotToken != "123:abc" {
		t.Error("token not parsed from json5")
	}
	if cfg.Settings.MaxSessions != 4 {
		t.Errorf("maxSessions = %d, want 4", cfg.Settings.MaxSessions)
	}
	// untouched settings keep defaults
	if cfg.Settings.OutputBatchMinMs == 0 {
		t.Error("defaults not applied")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error")
	}
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil || cfg == nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
}

func TestPairingAndLinking(t *testing.T) {
	cfg := Default()
	cfg.Channels["telegram"] = ChannelEntry{Type: ChannelTelegram}

	cfg.AddPairedUser("telegram", PairedUser{UserID: "telegram:42", PairedAt: time.Now()})
	if !cfg.IsPaired(ChannelTelegram, "telegram:42") {
		t.Error("user should be paired")
	}
	if cfg.IsPaired(ChannelSlack, "telegram:42") {
		t.Error("pairing is per channel type")
	}

	// re-pairing replaces, not duplicates
	cfg.AddPairedUser("telegram", PairedUser{UserID: "telegram:42", Username: "bob", PairedAt: time.Now()})
	if n := len(cfg.Channels["telegram"].PairedUsers); n != 1 {
		t.Errorf("paired users = %d, want 1", n)
	}

	cfg.LinkGroup("telegram", LinkedGroup{ChatID: "telegram:-9", LinkedAt: time.Now()})
	cfg.LinkGroup("telegram", LinkedGroup{ChatID: "telegram:-9", LinkedAt: time.Now()})
	if n := len(cfg.Channels["telegram"].LinkedGroups); n != 1 {
		t.Errorf("linked groups = %d, want 1", n)
	}
	if !cfg.IsLinkedGroup("telegram:-9") {
		t.Error("group should be linked")
	}
	if !cfg.UnlinkGroup("telegram:-9") {
		t.Error("unlink should report removal")
	}
	if cfg.IsLinkedGroup("telegram:-9") {
		t.Error("group should be unlinked")
	}
}
