// Package config loads, validates, and hot-reloads the bot configuration.
// YAML and JSON are both accepted; YAML is coerced to JSON so one strict
// decoder covers both.
package config

import (
	"errors"
	"fmt"
)

type Config struct {
	Mezon      MezonConfig      `json:"mezon"`
	Timesheet  TimesheetConfig  `json:"timesheet"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Escalation EscalationConfig `json:"escalation"`
	Engage     EngageConfig     `json:"engage,omitempty"`
	Storage    StorageConfig    `json:"storage"`
}

type MezonConfig struct {
	Token      string `json:"token"`
	BaseURL    string `json:"base_url"`
	GatewayURL string `json:"gateway_url"`
	ClanID     string `json:"clan_id"`
	BotUserID  string `json:"bot_user_id"`
}

type TimesheetConfig struct {
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	EmailDomain string `json:"email_domain,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Channel LoggingChannel `json:"channel"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChannel mirrors warnings and errors into a chat channel so the
// operators see failures where they already are.
type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the cadence trigger. All recurrences are 5-field
// cron expressions evaluated in Timezone.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// DefaultTimeout is a Go duration string; "0s" disables the global
	// per-tick timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`

	Reminder    CadenceConfig `json:"reminder"`
	BroadQuiz   CadenceConfig `json:"broad_quiz"`
	PunishCheck CadenceConfig `json:"punish_check"`
}

// CadenceConfig is one recurring tick. Bands are optional "HH:MM-HH:MM"
// windows refining the cron spec below hour granularity; empty means the
// spec alone decides.
type CadenceConfig struct {
	Spec    string   `json:"spec"`
	Bands   []string `json:"bands,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

type DispatchConfig struct {
	ChannelID string `json:"channel_id"`
	IsPublic  bool   `json:"is_public,omitempty"`
	// SendInterval spaces consecutive outbound sends (Go duration string).
	SendInterval string `json:"send_interval,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
}

type EscalationConfig struct {
	// ResponseWindow is how long a member has to answer a ping.
	ResponseWindow  string `json:"response_window,omitempty"`
	NoticeChannelID string `json:"notice_channel_id"`
	NoticeIsPublic  bool   `json:"notice_is_public,omitempty"`
}

type EngageConfig struct {
	ReminderFreshness string `json:"reminder_freshness,omitempty"`
	QuizFreshness     string `json:"quiz_freshness,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// Validate checks the fields that cannot default sensibly. Duration and
// cron-spec syntax is validated where it is consumed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Mezon.Token == "" {
		return errors.New("mezon.token is required")
	}
	if c.Mezon.ClanID == "" {
		return errors.New("mezon.clan_id is required")
	}
	if c.Timesheet.BaseURL == "" {
		return errors.New("timesheet.base_url is required")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Dispatch.ChannelID == "" {
		return errors.New("dispatch.channel_id is required")
	}
	for name, cad := range map[string]CadenceConfig{
		"scheduler.reminder":     c.Scheduler.Reminder,
		"scheduler.broad_quiz":   c.Scheduler.BroadQuiz,
		"scheduler.punish_check": c.Scheduler.PunishCheck,
	} {
		if c.Scheduler.Enabled && cad.Spec == "" {
			return fmt.Errorf("%s.spec is required when the scheduler is enabled", name)
		}
	}
	return nil
}
