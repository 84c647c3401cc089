package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// RemindersConfig controls reminder delivery behavior.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_sends: 3
//   - resend_interval: "30s"
//   - poll_interval: "15s"
type RemindersConfig struct {
	MaxSends       int    `json:"max_sends,omitempty"`
	ResendInterval string `json:"resend_interval,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
}
