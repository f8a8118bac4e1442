// Package escalate runs the punish-check tick: members still awaiting a
// check-in response past the window get a punishment record and their
// supervisor channel is notified.
package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/huynguyenanh1/mezon-komu/internal/mezon"
	"github.com/huynguyenanh1/mezon-komu/internal/storage"
	"github.com/huynguyenanh1/mezon-komu/internal/timesheet"
	"github.com/huynguyenanh1/mezon-komu/internal/workday"
	"github.com/huynguyenanh1/mezon-komu/pkg/keymutex"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type Config struct {
	ClanID string

	// ResponseWindow is how long a member has to answer a ping. Defaults
	// to 30 minutes.
	ResponseWindow time.Duration

	// NoticeChannelID receives the escalation notices.
	NoticeChannelID string
	NoticeIsPublic  bool
}

type Directory interface {
	FindMembers(ctx context.Context, q storage.Query) ([]storage.Member, error)
	ClearAwaiting(ctx context.Context, userID string) (bool, error)
	InsertPunishment(ctx context.Context, rec storage.PunishmentRecord) error
}

type Attendance interface {
	ListWorkFromHome(ctx context.Context, date time.Time) ([]timesheet.WFHEntry, error)
}

// Notifier posts escalation notices; dispatch.Queue satisfies it.
type Notifier interface {
	Enqueue(msg mezon.ReplyMessage) bool
}

// Tracker finds overdue pings and performs the one-shot punish transition.
type Tracker struct {
	cfg    Config
	dir    Directory
	att    Attendance
	notify Notifier
	locks  *keymutex.KeyMutex
	hours  *workday.Hours
	log    logx.Logger
}

func NewTracker(cfg Config, dir Directory, att Attendance, notify Notifier, locks *keymutex.KeyMutex, hours *workday.Hours, log logx.Logger) *Tracker {
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = 30 * time.Minute
	}
	if locks == nil {
		locks = keymutex.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{cfg: cfg, dir: dir, att: att, notify: notify, locks: locks, hours: hours, log: log}
}

// Run executes one punish-check tick. Escalation only applies to the WFH
// population for the active day-part; an on-site member ignoring a stray
// ping is a non-event.
func (t *Tracker) Run(ctx context.Context, now time.Time) error {
	wfhEmails, err := t.workFromHomeEmails(ctx, now)
	if err != nil {
		return err
	}
	if len(wfhEmails) == 0 {
		return nil
	}

	dayStart, _ := t.hours.WorkdayBounds(now)
	overdueBefore := now.Add(-t.cfg.ResponseWindow)
	if overdueBefore.Before(dayStart) {
		// Too early in the day for any ping to be overdue.
		return nil
	}

	// Pings from before today's workday are stale leftovers, not offenses.
	overdue, err := t.dir.FindMembers(ctx, storage.NewQuery(
		storage.EqBool(storage.ColAwaiting, true),
		storage.EqBool(storage.ColDeactivated, false),
		storage.Eq(storage.ColUserType, storage.UserTypeMezon),
		storage.In(storage.ColEmail, wfhEmails),
		storage.Between(storage.ColPingCreatedAt, dayStart.UnixMilli(), overdueBefore.UnixMilli()),
	).WithPingJoin(storage.PingJoinInner))
	if err != nil {
		return fmt.Errorf("overdue query: %w", err)
	}

	for _, m := range overdue {
		t.escalate(ctx, m, now)
	}
	return nil
}

// escalate performs the punish transition for one member. The conditional
// awaiting-flag clear is the idempotency gate: whoever flips it (this tick,
// a concurrent tick, or an inbound response) owns the transition, so at most
// one punishment per ping can exist.
func (t *Tracker) escalate(ctx context.Context, m storage.Member, now time.Time) {
	t.locks.Do(m.UserID, func() {
		won, err := t.dir.ClearAwaiting(ctx, m.UserID)
		if err != nil {
			t.log.Error("awaiting clear failed", logx.String("user_id", m.UserID), logx.Err(err))
			return
		}
		if !won {
			// Answered (or already punished) since the query ran.
			return
		}

		name := m.DisplayName
		if name == "" {
			name = m.Username
		}
		pingAt := time.UnixMilli(m.PingCreatedAt).In(t.hours.Location())
		rec := storage.PunishmentRecord{
			ID:        uuid.NewString(),
			UserID:    m.UserID,
			Message:   fmt.Sprintf("%s did not respond to the %s check-in within %s", name, pingAt.Format("15:04"), t.cfg.ResponseWindow),
			Status:    storage.PunishStatusActive,
			Type:      storage.PunishTypeWFH,
			CreatedAt: now.UnixMilli(),
		}
		if err := t.dir.InsertPunishment(ctx, rec); err != nil {
			// The flag is already cleared; losing the record beats
			// double-punishing on a retry.
			t.log.Error("punishment insert failed", logx.String("user_id", m.UserID), logx.Err(err))
			return
		}

		t.log.Info("member escalated",
			logx.String("user_id", m.UserID),
			logx.String("username", m.Username),
			logx.Time("ping_at", pingAt))
		t.postNotice(m, pingAt)
	})
}

func (t *Tracker) postNotice(m storage.Member, pingAt time.Time) {
	if t.notify == nil || t.cfg.NoticeChannelID == "" {
		return
	}
	text := fmt.Sprintf("@%s did not answer the %s check-in", m.Username, pingAt.Format("15:04"))
	t.notify.Enqueue(mezon.ReplyMessage{
		ClanID:    t.cfg.ClanID,
		ChannelID: t.cfg.NoticeChannelID,
		Mode:      mezon.ModeChannelMessage,
		IsPublic:  t.cfg.NoticeIsPublic,
		Msg:       mezon.MessageContent{T: text},
		Mentions:  []mezon.Mention{{UserID: m.UserID, S: 0, E: len(m.Username) + 1}},
	})
}

func (t *Tracker) workFromHomeEmails(ctx context.Context, now time.Time) ([]string, error) {
	entries, err := t.att.ListWorkFromHome(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("wfh signal: %w", err)
	}
	parts := t.hours.ActiveParts(now)
	emails := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Email == "" {
			continue
		}
		for _, p := range parts {
			if string(p) == e.DayPart {
				emails = append(emails, e.Email)
				break
			}
		}
	}
	return emails, nil
}
