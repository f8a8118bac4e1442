package engage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huynguyenanh1/mezon-komu/internal/storage"
	"github.com/huynguyenanh1/mezon-komu/internal/timesheet"
	"github.com/huynguyenanh1/mezon-komu/internal/workday"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type fakeDirectory struct {
	members []storage.Member
	err     error
}

func (f *fakeDirectory) FindMembers(ctx context.Context, q storage.Query) ([]storage.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []storage.Member
	seen := map[string]bool{}
	for _, m := range f.members {
		if !q.Match(m) || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m)
	}
	return out, nil
}

type fakeAttendance struct {
	wfh    []timesheet.WFHEntry
	off    []string
	wfhErr error
	offErr error
}

func (f *fakeAttendance) ListWorkFromHome(ctx context.Context, date time.Time) ([]timesheet.WFHEntry, error) {
	return f.wfh, f.wfhErr
}

func (f *fakeAttendance) ListOffWork(ctx context.Context, date time.Time) ([]string, error) {
	return f.off, f.offErr
}

type fakePresence struct {
	names []string
	err   error
}

func (f *fakePresence) ListVoiceParticipants(ctx context.Context, clanID, channelFilter string) ([]string, error) {
	return f.names, f.err
}

func icLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return loc
}

// mondayMorning is 2026-08-31 09:00 local, a weekday inside the morning part.
func mondayMorning(t *testing.T) time.Time {
	return time.Date(2026, 8, 31, 9, 0, 0, 0, icLoc(t))
}

func activeMember(id, username, email string) storage.Member {
	return storage.Member{
		UserID:        id,
		Username:      username,
		Email:         email,
		DisplayName:   username,
		UserType:      storage.UserTypeMezon,
		LastMessageID: "seen-once",
	}
}

func newResolver(t *testing.T, dir *fakeDirectory, att *fakeAttendance, pres *fakePresence) *Resolver {
	t.Helper()
	return NewResolver(
		Config{ClanID: "clan-1", ReminderFreshness: 30 * time.Minute, QuizFreshness: time.Minute},
		dir, att, pres, workday.NewHours(icLoc(t)), logx.Nop(),
	)
}

func ids(ms []storage.Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.UserID
	}
	return out
}

func TestReminderIncludesOnlyWFHForActiveDayPart(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{
		activeMember("u1", "alice", "alice@ncc.asia"),
		activeMember("u2", "bob", "bob@ncc.asia"),
	}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{
		{Email: "alice@ncc.asia", DayPart: "Morning"},
	}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("eligible = %v, want [u1]", ids(got))
	}
}

func TestReminderIgnoresWrongDayPartButKeepsFullday(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{
		activeMember("u1", "alice", "alice@ncc.asia"),
		activeMember("u2", "bob", "bob@ncc.asia"),
	}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{
		{Email: "alice@ncc.asia", DayPart: "Afternoon"}, // not active in the morning
		{Email: "bob@ncc.asia", DayPart: "Fullday"},
	}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("eligible = %v, want [u2]", ids(got))
	}
}

func TestReminderEmptyWFHMeansNobody(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{activeMember("u1", "alice", "alice@ncc.asia")}}
	r := newResolver(t, dir, &fakeAttendance{}, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("eligible = %v, want empty", ids(got))
	}
}

func TestBroadQuizExcludesWFHEntirely(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{
		activeMember("u1", "alice", "alice@ncc.asia"),
		activeMember("u2", "bob", "bob@ncc.asia"),
	}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{
		// Day-part is irrelevant for the quiz: any WFH registration excludes.
		{Email: "alice@ncc.asia", DayPart: "Afternoon"},
	}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickBroadQuiz, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("eligible = %v, want [u2]", ids(got))
	}
}

func TestOffWorkNeverEligible(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{
		activeMember("u1", "alice", "alice@ncc.asia"),
		activeMember("u2", "bob", "bob@ncc.asia"),
	}}
	att := &fakeAttendance{
		wfh: []timesheet.WFHEntry{
			{Email: "alice@ncc.asia", DayPart: "Fullday"},
			{Email: "bob@ncc.asia", DayPart: "Fullday"},
		},
		off: []string{"alice"},
	}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("off-work member leaked: %v", ids(got))
	}
}

func TestVoicePresenceExcludes(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{
		activeMember("u1", "alice", "alice@ncc.asia"),
		activeMember("u2", "bob", "bob@ncc.asia"),
	}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{
		{Email: "alice@ncc.asia", DayPart: "Fullday"},
		{Email: "bob@ncc.asia", DayPart: "Fullday"},
	}}
	pres := &fakePresence{names: []string{"alice"}}
	r := newResolver(t, dir, att, pres)

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("present member leaked: %v", ids(got))
	}
}

func TestFreshPingSuppressesStalePingReadmits(t *testing.T) {
	t.Parallel()
	now := mondayMorning(t)

	fresh := activeMember("u1", "alice", "alice@ncc.asia")
	fresh.AwaitingResponse = true
	fresh.LastPingMessageID = "m1"
	fresh.PingCreatedAt = now.Add(-5 * time.Minute).UnixMilli()

	stale := activeMember("u2", "bob", "bob@ncc.asia")
	stale.AwaitingResponse = true
	stale.LastPingMessageID = "m2"
	stale.PingCreatedAt = now.Add(-45 * time.Minute).UnixMilli()

	dir := &fakeDirectory{members: []storage.Member{fresh, stale}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{
		{Email: "alice@ncc.asia", DayPart: "Fullday"},
		{Email: "bob@ncc.asia", DayPart: "Fullday"},
	}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("eligible = %v, want [u2]", ids(got))
	}
}

func TestRecentActivitySuppresses(t *testing.T) {
	t.Parallel()
	now := mondayMorning(t)

	chatty := activeMember("u1", "alice", "alice@ncc.asia")
	chatty.LastMessageTime = now.Add(-2 * time.Minute).UnixMilli()

	quiet := activeMember("u2", "bob", "bob@ncc.asia")
	quiet.LastMessageTime = now.Add(-2 * time.Hour).UnixMilli()

	dir := &fakeDirectory{members: []storage.Member{chatty, quiet}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{
		{Email: "alice@ncc.asia", DayPart: "Fullday"},
		{Email: "bob@ncc.asia", DayPart: "Fullday"},
	}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("actively chatting member leaked: %v", ids(got))
	}
}

func TestNeverInteractedExcluded(t *testing.T) {
	t.Parallel()
	silent := storage.Member{
		UserID: "u1", Username: "alice", Email: "alice@ncc.asia",
		UserType: storage.UserTypeMezon,
	}
	dir := &fakeDirectory{members: []storage.Member{silent}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{{Email: "alice@ncc.asia", DayPart: "Fullday"}}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("member without inbound history leaked: %v", ids(got))
	}
}

func TestNoDuplicateIDs(t *testing.T) {
	t.Parallel()
	m := activeMember("u1", "alice", "alice@ncc.asia")
	dir := &fakeDirectory{members: []storage.Member{m, m, m}}
	att := &fakeAttendance{wfh: []timesheet.WFHEntry{{Email: "alice@ncc.asia", DayPart: "Fullday"}}}
	r := newResolver(t, dir, att, &fakePresence{})

	got, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicates in eligible set: %v", ids(got))
	}
}

func TestSignalFailureAbortsResolution(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{members: []storage.Member{activeMember("u1", "alice", "alice@ncc.asia")}}

	att := &fakeAttendance{wfhErr: errors.New("timesheet down")}
	r := newResolver(t, dir, att, &fakePresence{})
	if _, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t)); err == nil {
		t.Fatal("expected error when the WFH signal fails")
	}

	att = &fakeAttendance{
		wfh:    []timesheet.WFHEntry{{Email: "alice@ncc.asia", DayPart: "Fullday"}},
		offErr: errors.New("timesheet down"),
	}
	r = newResolver(t, dir, att, &fakePresence{})
	if _, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t)); err == nil {
		t.Fatal("expected error when the off-work signal fails")
	}

	pres := &fakePresence{err: errors.New("gateway down")}
	r = newResolver(t, dir, att, pres)
	if _, err := r.Resolve(context.Background(), TickReminder, mondayMorning(t)); err == nil {
		t.Fatal("expected error when the presence signal fails")
	}
}
