package storage

import (
	"testing"
)

func TestPredSQL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		pred     Pred
		wantSQL  string
		wantArgs int
	}{
		{name: "eq", pred: Eq(ColUserType, UserTypeMezon), wantSQL: "u.user_type = ?", wantArgs: 1},
		{name: "eq bool true", pred: EqBool(ColAwaiting, true), wantSQL: "u.awaiting_response = 1"},
		{name: "eq bool false", pred: EqBool(ColDeactivated, false), wantSQL: "u.deactivated = 0"},
		{name: "in", pred: In(ColUsername, []string{"a", "b"}), wantSQL: "u.username IN (?,?)", wantArgs: 2},
		{name: "in empty is unrestricted", pred: In(ColUsername, nil), wantSQL: "1=1"},
		{name: "not in empty is unrestricted", pred: NotIn(ColUserID, nil), wantSQL: "1=1"},
		{name: "not null", pred: NotNull(ColLastMessageID), wantSQL: "u.last_message_id IS NOT NULL"},
		{name: "older or null", pred: OlderOrNull(ColLastMessageTime, 42), wantSQL: "(u.last_message_time <= ? OR u.last_message_time IS NULL)", wantArgs: 1},
		{name: "between", pred: Between(ColPingCreatedAt, 1, 2), wantSQL: "(p.created_at >= ? AND p.created_at <= ?)", wantArgs: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.pred.toSQL()
			if sql != tt.wantSQL {
				t.Fatalf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Fatalf("args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestQuerySQLConjunction(t *testing.T) {
	t.Parallel()
	q := NewQuery(
		Eq(ColUserType, UserTypeMezon),
		EqBool(ColDeactivated, false),
		NotIn(ColUsername, []string{"off1"}),
	)
	sql, args := q.toSQL()
	want := "u.user_type = ? AND u.deactivated = 0 AND u.username NOT IN (?)"
	if sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if len(args) != 2 {
		t.Fatalf("args = %d, want 2", len(args))
	}

	sql, args = NewQuery().toSQL()
	if sql != "1=1" || len(args) != 0 {
		t.Fatalf("empty query rendered %q with %d args", sql, len(args))
	}
}

func TestQueryMatch(t *testing.T) {
	t.Parallel()
	m := Member{
		UserID:          "u1",
		Username:        "alice",
		Email:           "alice@ncc.asia",
		UserType:        UserTypeMezon,
		LastMessageID:   "m9",
		LastMessageTime: 1_000,
		PingCreatedAt:   500,
	}

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{name: "full base filter", q: NewQuery(
			Eq(ColUserType, UserTypeMezon),
			EqBool(ColDeactivated, false),
			NotNull(ColLastMessageID),
		), want: true},
		{name: "off-work exclusion hits", q: NewQuery(NotIn(ColUsername, []string{"alice"})), want: false},
		{name: "off-work exclusion misses", q: NewQuery(NotIn(ColUsername, []string{"bob"})), want: true},
		{name: "empty in matches", q: NewQuery(In(ColEmail, nil)), want: true},
		{name: "older-or-null too recent", q: NewQuery(OlderOrNull(ColLastMessageTime, 999)), want: false},
		{name: "older-or-null old enough", q: NewQuery(OlderOrNull(ColLastMessageTime, 1_000)), want: true},
		{name: "between on ping", q: NewQuery(Between(ColPingCreatedAt, 100, 600)), want: true},
		{name: "inner join requires ping", q: NewQuery().WithPingJoin(PingJoinInner), want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Match(m); got != tt.want {
				t.Fatalf("Match = %v, want %v", got, tt.want)
			}
		})
	}

	noPing := m
	noPing.PingCreatedAt = 0
	if NewQuery().WithPingJoin(PingJoinInner).Match(noPing) {
		t.Fatal("inner ping join must reject members without a live ping")
	}
	if !NewQuery(OlderOrNull(ColPingCreatedAt, 1)).Match(noPing) {
		t.Fatal("older-or-null must accept a missing ping")
	}

	never := Member{UserID: "u2", Username: "bob", UserType: UserTypeMezon}
	if NewQuery(NotNull(ColLastMessageID)).Match(never) {
		t.Fatal("never-interacted member must fail NotNull(last_message_id)")
	}
}
