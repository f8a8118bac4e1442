package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

const validYAML = `
mezon:
  token: tok-123
  base_url: https://api.mezon.example
  gateway_url: wss://gw.mezon.example/ws
  clan_id: clan-1
  bot_user_id: bot-1
timesheet:
  base_url: https://timesheet.example
  api_key: secret
  email_domain: "@ncc.asia"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  channel:
    enabled: false
    channel_id: ""
    min_level: warn
    rate_per_sec: 1
scheduler:
  enabled: true
  timezone: Asia/Ho_Chi_Minh
  reminder:
    spec: "*/5 9-10,13-16 * * 1-5"
  broad_quiz:
    spec: "0 9,11,14,16 * * 1-5"
  punish_check:
    spec: "*/1 9-11,13-17 * * 1-5"
    bands:
      - "09:00-11:30"
      - "13:00-17:00"
dispatch:
  channel_id: chan-1
  send_interval: 200ms
escalation:
  response_window: 30m
  notice_channel_id: notice-1
storage:
  path: ./data/komu.db
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "komu.yaml", validYAML), logx.Nop())

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mezon.Token != "tok-123" || cfg.Mezon.ClanID != "clan-1" {
		t.Fatalf("mezon section wrong: %+v", cfg.Mezon)
	}
	if cfg.Scheduler.Timezone != "Asia/Ho_Chi_Minh" {
		t.Fatalf("timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.Reminder.Spec != "*/5 9-10,13-16 * * 1-5" {
		t.Fatalf("reminder spec = %q", cfg.Scheduler.Reminder.Spec)
	}
	if len(cfg.Scheduler.PunishCheck.Bands) != 2 {
		t.Fatalf("punish bands = %v", cfg.Scheduler.PunishCheck.Bands)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, "dispatch:", "dispach_typo: {}\ndispatch:", 1)
	m := NewManager(writeConfig(t, "komu.yaml", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestMissingRequiredFieldRejected(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, "token: tok-123", `token: ""`, 1)
	m := NewManager(writeConfig(t, "komu.yaml", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("empty mezon.token must be rejected")
	}
}

func TestValidateMissingCadenceSpec(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, `spec: "0 9,11,14,16 * * 1-5"`, `spec: ""`, 1)
	m := NewManager(writeConfig(t, "komu.yaml", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("enabled scheduler without a cadence spec must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "30m"); err != nil || d != 30*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty must be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("junk duration must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "komu.yaml", validYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(validYAML, "clan_id: clan-1", "clan_id: clan-2", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Mezon.ClanID != "clan-2" {
			t.Fatalf("reloaded clan_id = %q", cfg.Mezon.ClanID)
		}
	case <-ctx.Done():
		t.Fatal("reload was not published")
	}
}
