package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Widget.PollIntervalMS = 5000
	cfg.Upload.AllowedExtensions = []string{"png", "pdf"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", loaded.PollInterval())
	}
	if len(loaded.Upload.AllowedExtensions) != 2 {
		t.Errorf("AllowedExtensions = %v, want [png pdf]", loaded.Upload.AllowedExtensions)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"main\"\n[widget]\nself_user_id = \"u_1\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Widget.SelfUserID != "u_1" {
		t.Errorf("SelfUserID = %q, want u_1", cfg.Widget.SelfUserID)
	}
	if cfg.Upload.MaxFilesPerMessage != 10 {
		t.Errorf("MaxFilesPerMessage = %d, want default 10", cfg.Upload.MaxFilesPerMessage)
	}
	if cfg.URLs.SendMessage != "/api/messages/send" {
		t.Errorf("SendMessage = %q, want default template", cfg.URLs.SendMessage)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil || cfg == nil {
		t.Fatalf("LoadOrDefault() = %v, %v; want defaults", cfg, err)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestClampPollInterval(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", 500 * time.Millisecond, 2 * time.Second},
		{"in range", 7 * time.Second, 7 * time.Second},
		{"above maximum", 5 * time.Minute, 60 * time.Second},
		{"zero falls back", 0, 10 * time.Second},
		{"negative falls back", -time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampPollInterval(tt.in); got != tt.want {
				t.Errorf("ClampPollInterval(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	cfg.Widget.DemoMode = false
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without base_url outside demo mode")
	}
	cfg.URLs.BaseURL = "https://chat.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestAllowedChannelsWhatsAppWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	all := model.Channels{SMS: true, WhatsApp: true, Email: true}

	open := Channels{SMS: true, WhatsApp: true, WhatsAppEnabledUntil: now.Add(time.Hour)}
	got := open.AllowedChannels(now, all)
	if !got.WhatsApp || !got.SMS || got.Email {
		t.Errorf("open window: got %+v, want sms+whatsapp", got)
	}

	expired := Channels{WhatsApp: true, WhatsAppEnabledUntil: now.Add(-time.Minute)}
	if expired.AllowedChannels(now, all).WhatsApp {
		t.Error("expired window should refuse whatsapp")
	}
}
