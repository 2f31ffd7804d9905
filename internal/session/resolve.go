package session

import "github.com/matheus3301/chatsync/internal/config"

const DefaultSessionName = "main"

// Resolve picks the session name. The --session flag wins, then
// default_session from config.toml, then a name derived from
// widget.self_user_id, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return DefaultSessionName
	}
	if cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	if name := NameForUser(cfg.Widget.SelfUserID); name != "" {
		return name
	}
	return DefaultSessionName
}
