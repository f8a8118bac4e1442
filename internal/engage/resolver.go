// Package engage decides who receives a check-in on each tick. The
// resolver is a pure pipeline over the directory and the external
// attendance/presence signals; it keeps no state of its own.
package engage

import (
	"context"
	"fmt"
	"time"

	"github.com/huynguyenanh1/mezon-komu/internal/storage"
	"github.com/huynguyenanh1/mezon-komu/internal/timesheet"
	"github.com/huynguyenanh1/mezon-komu/internal/workday"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

// TickKind names the cadences that resolve eligibility.
type TickKind string

const (
	TickReminder  TickKind = "reminder-ping"
	TickBroadQuiz TickKind = "broad-quiz-ping"
)

type Directory interface {
	FindMembers(ctx context.Context, q storage.Query) ([]storage.Member, error)
}

type Attendance interface {
	ListWorkFromHome(ctx context.Context, date time.Time) ([]timesheet.WFHEntry, error)
	ListOffWork(ctx context.Context, date time.Time) ([]string, error)
}

type Presence interface {
	ListVoiceParticipants(ctx context.Context, clanID, channelFilter string) ([]string, error)
}

type Config struct {
	ClanID string

	// ReminderFreshness is how old a member's outstanding ping (and last
	// activity) must be before reminder-ping targets them again.
	ReminderFreshness time.Duration
	// QuizFreshness is the same threshold for broad-quiz-ping.
	QuizFreshness time.Duration
}

type Resolver struct {
	cfg   Config
	dir   Directory
	att   Attendance
	pres  Presence
	hours *workday.Hours
	log   logx.Logger
}

func NewResolver(cfg Config, dir Directory, att Attendance, pres Presence, hours *workday.Hours, log logx.Logger) *Resolver {
	if cfg.ReminderFreshness <= 0 {
		cfg.ReminderFreshness = 30 * time.Minute
	}
	if cfg.QuizFreshness <= 0 {
		cfg.QuizFreshness = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{cfg: cfg, dir: dir, att: att, pres: pres, hours: hours, log: log}
}

// Resolve computes the ordered, deduplicated eligible set for one tick.
// Any signal failure aborts the whole computation; the tick is retried on
// its next fire.
func (r *Resolver) Resolve(ctx context.Context, kind TickKind, now time.Time) ([]storage.Member, error) {
	wfhEmails, err := r.workFromHomeEmails(ctx, kind, now)
	if err != nil {
		return nil, err
	}
	// The reminder targets remote workers only; nobody registered WFH for
	// this day-part means nobody to remind.
	if kind == TickReminder && len(wfhEmails) == 0 {
		return nil, nil
	}

	offWork, err := r.att.ListOffWork(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("off-work signal: %w", err)
	}

	inVoice, err := r.membersInVoice(ctx)
	if err != nil {
		return nil, err
	}

	freshness := r.cfg.ReminderFreshness
	if kind == TickBroadQuiz {
		freshness = r.cfg.QuizFreshness
	}
	cutoff := now.Add(-freshness).UnixMilli()

	// First pass: the base population, minus off-work, minus anyone already
	// present in voice, keeping only members whose outstanding ping (if
	// any) is stale enough to re-issue.
	candidates, err := r.dir.FindMembers(ctx, storage.NewQuery(
		storage.NotIn(storage.ColUsername, offWork),
		storage.NotIn(storage.ColUserID, inVoice),
		storage.Eq(storage.ColUserType, storage.UserTypeMezon),
		storage.EqBool(storage.ColDeactivated, false),
		storage.NotNull(storage.ColLastMessageID),
		storage.OlderOrNull(storage.ColPingCreatedAt, cutoff),
	).WithPingJoin(storage.PingJoinLeft))
	if err != nil {
		return nil, fmt.Errorf("candidate query: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(candidates))
	for _, m := range candidates {
		ids = append(ids, m.UserID)
	}

	// Second pass: kind-specific attendance semantics plus activity
	// recency. The reminder includes only the WFH population; the quiz
	// excludes it entirely.
	preds := []storage.Pred{
		storage.In(storage.ColUserID, ids),
		storage.Eq(storage.ColUserType, storage.UserTypeMezon),
		storage.OlderOrNull(storage.ColLastMessageTime, cutoff),
	}
	switch kind {
	case TickReminder:
		preds = append(preds, storage.In(storage.ColEmail, wfhEmails))
	case TickBroadQuiz:
		preds = append(preds, storage.NotIn(storage.ColEmail, wfhEmails))
	default:
		return nil, fmt.Errorf("unknown tick kind %q", kind)
	}

	eligible, err := r.dir.FindMembers(ctx, storage.NewQuery(preds...))
	if err != nil {
		return nil, fmt.Errorf("eligibility query: %w", err)
	}
	return dedupe(eligible), nil
}

// workFromHomeEmails returns the WFH emails relevant to the tick: the
// reminder cares only about the active day-part (plus Fullday), the quiz
// excludes every WFH registration for the day.
func (r *Resolver) workFromHomeEmails(ctx context.Context, kind TickKind, now time.Time) ([]string, error) {
	entries, err := r.att.ListWorkFromHome(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("wfh signal: %w", err)
	}

	var parts []workday.DayPart
	if kind == TickReminder {
		parts = r.hours.ActiveParts(now)
	}

	emails := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(parts) > 0 && !dayPartMatches(parts, e.DayPart) {
			continue
		}
		if e.Email != "" {
			emails = append(emails, e.Email)
		}
	}
	return emails, nil
}

// membersInVoice maps live voice participants (display names) to member
// ids. Already-present members have no check-in to answer.
func (r *Resolver) membersInVoice(ctx context.Context) ([]string, error) {
	names, err := r.pres.ListVoiceParticipants(ctx, r.cfg.ClanID, "")
	if err != nil {
		return nil, fmt.Errorf("presence signal: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	members, err := r.dir.FindMembers(ctx, storage.NewQuery(
		storage.In(storage.ColDisplayName, names),
	))
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func dayPartMatches(parts []workday.DayPart, s string) bool {
	for _, p := range parts {
		if string(p) == s {
			return true
		}
	}
	return false
}

// dedupe keeps the first occurrence of each member id, preserving order.
func dedupe(ms []storage.Member) []storage.Member {
	seen := make(map[string]bool, len(ms))
	out := ms[:0]
	for _, m := range ms {
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m)
	}
	return out
}
