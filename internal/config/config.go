package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/chatsync/internal/model"
)

const (
	MinPollInterval = 2 * time.Second
	MaxPollInterval = 60 * time.Second
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	Widget         Widget   `toml:"widget"`
	Channels       Channels `toml:"channels"`
	Upload         Upload   `toml:"upload"`
	URLs           URLs     `toml:"urls"`
	Relay          Relay    `toml:"relay"`
	Ops            Ops      `toml:"ops"`
	Log            Log      `toml:"log"`
}

// Widget holds the sync and identity settings.
type Widget struct {
	SelfUserID                    string `toml:"self_user_id"`
	PollIntervalMS                int    `toml:"poll_interval_ms"`
	DemoMode                      bool   `toml:"demo_mode"`
	CanStartMultipleConversations bool   `toml:"can_start_multiple_conversations"`
	RequestTimeoutMS              int    `toml:"request_timeout_ms"`
}

// Channels lists the delivery channels offered by the composer.
type Channels struct {
	SMS                  bool      `toml:"sms"`
	WhatsApp             bool      `toml:"whatsapp"`
	WhatsAppEnabledUntil time.Time `toml:"whatsapp_enabled_until"`
	Email                bool      `toml:"email"`
}

// Upload bounds the attachments of one message.
type Upload struct {
	MaxFilesPerMessage int      `toml:"max_files_per_message"`
	MaxFileSize        int64    `toml:"max_file_size"`
	AllowedExtensions  []string `toml:"allowed_extensions"`
}

// URLs are the endpoint templates of the backend. Relative templates are
// resolved against BaseURL. Placeholders {timestamp}, {id}, {conversationId},
// {userId} and {query} are substituted URL-escaped; ids also travel in the
// request body.
type URLs struct {
	BaseURL           string `toml:"base_url"`
	ListChanges       string `toml:"list_changes"`
	SendMessage       string `toml:"send_message"`
	EditMessage       string `toml:"edit_message"`
	DeleteMessage     string `toml:"delete_message"`
	UploadFile        string `toml:"upload_file"`
	SaveDraft         string `toml:"save_draft"`
	GetDraft          string `toml:"get_draft"`
	StartConversation string `toml:"start_conversation"`
	AddParticipant    string `toml:"add_participant"`
	RemoveParticipant string `toml:"remove_participant"`
	MarkAsRead        string `toml:"mark_as_read"`
	SearchUsers       string `toml:"search_users"`
}

// Relay configures forwarding of widget events to NATS. Empty URL disables it.
type Relay struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Ops configures the local health and metrics endpoint. Empty Listen disables it.
type Ops struct {
	Listen string `toml:"listen"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// DefaultURLs mirrors the routes served by the reference backend.
func DefaultURLs() URLs {
	return URLs{
		ListChanges:       "/api/messages?since={timestamp}",
		SendMessage:       "/api/messages/send",
		EditMessage:       "/api/messages/edit",
		DeleteMessage:     "/api/messages/delete",
		UploadFile:        "/api/files/upload",
		SaveDraft:         "/api/messages/draft",
		GetDraft:          "/api/messages/draft?conversationId={conversationId}",
		StartConversation: "/api/conversations/start",
		AddParticipant:    "/api/conversations/addParticipant",
		RemoveParticipant: "/api/conversations/removeParticipant",
		MarkAsRead:        "/api/messages/markAsRead",
		SearchUsers:       "/api/users/search?q={query}",
	}
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Widget: Widget{
			SelfUserID:                    "me",
			PollIntervalMS:                10000,
			DemoMode:                      true,
			CanStartMultipleConversations: true,
			RequestTimeoutMS:              15000,
		},
		Channels: Channels{SMS: true, WhatsApp: true, Email: true},
		Upload: Upload{
			MaxFilesPerMessage: 10,
			MaxFileSize:        10_000_000,
		},
		URLs:  DefaultURLs(),
		Relay: Relay{SubjectPrefix: "chatsync"},
		Log:   Log{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate reports settings the widget cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Widget.SelfUserID) == "" {
		return errors.New("widget.self_user_id is required")
	}
	if !c.Widget.DemoMode && strings.TrimSpace(c.URLs.BaseURL) == "" {
		return errors.New("urls.base_url is required outside demo mode")
	}
	if c.Upload.MaxFilesPerMessage < 0 || c.Upload.MaxFileSize < 0 {
		return errors.New("upload limits must not be negative")
	}
	return nil
}

// PollInterval returns the configured interval clamped to [2s, 60s]. A zero
// or negative value falls back to 10s before clamping.
func (c *Config) PollInterval() time.Duration {
	return ClampPollInterval(time.Duration(c.Widget.PollIntervalMS) * time.Millisecond)
}

// RequestTimeout returns the per-request timeout of the HTTP client.
func (c *Config) RequestTimeout() time.Duration {
	if c.Widget.RequestTimeoutMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Widget.RequestTimeoutMS) * time.Millisecond
}

// ClampPollInterval bounds a polling interval to [MinPollInterval, MaxPollInterval].
func ClampPollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		d = 10 * time.Second
	}
	return min(max(d, MinPollInterval), MaxPollInterval)
}

// AllowedChannels filters requested channels by what the composer offers at
// now. WhatsApp is refused once its contact window has expired.
func (c Channels) AllowedChannels(now time.Time, requested model.Channels) model.Channels {
	return model.Channels{
		SMS:      c.SMS && requested.SMS,
		WhatsApp: c.WhatsApp && requested.WhatsApp && c.WhatsAppOpen(now),
		Email:    c.Email && requested.Email,
	}
}

// WhatsAppOpen reports whether the WhatsApp contact window is still open.
func (c Channels) WhatsAppOpen(now time.Time) bool {
	return c.WhatsAppEnabledUntil.IsZero() || !now.After(c.WhatsAppEnabledUntil)
}
