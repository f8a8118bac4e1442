package storage

import (
	"strings"
)

// Column names the queryable member attributes. ColPingCreatedAt refers to
// the joined latest ping record rather than the member row itself.
type Column string

const (
	ColUserID          Column = "user_id"
	ColUsername        Column = "username"
	ColEmail           Column = "email"
	ColDisplayName     Column = "display_name"
	ColUserType        Column = "user_type"
	ColDeactivated     Column = "deactivated"
	ColLastMessageID   Column = "last_message_id"
	ColLastMessageTime Column = "last_message_time"
	ColLastPingID      Column = "last_ping_message_id"
	ColAwaiting        Column = "awaiting_response"
	ColPingCreatedAt   Column = "ping_created_at"
)

type predOp int

const (
	opEq predOp = iota
	opEqBool
	opIn
	opNotIn
	opNotNull
	opIsNull
	opOlderOrNull
	opBetween
)

// Pred is one named filter. Predicates only combine by conjunction; the
// resolver builds its pipeline as a list of them.
type Pred struct {
	col    Column
	op     predOp
	str    string
	strs   []string
	b      bool
	lo, hi int64
	cutoff int64
}

// Eq matches rows whose column equals v.
func Eq(col Column, v string) Pred { return Pred{col: col, op: opEq, str: v} }

// EqBool matches rows whose boolean column equals v.
func EqBool(col Column, v bool) Pred { return Pred{col: col, op: opEqBool, b: v} }

// In matches rows whose column is in vs. An empty set matches everything,
// mirroring the "no signal, no restriction" behavior of the filters this
// replaces.
func In(col Column, vs []string) Pred { return Pred{col: col, op: opIn, strs: vs} }

// NotIn matches rows whose column is not in vs. An empty set matches
// everything.
func NotIn(col Column, vs []string) Pred { return Pred{col: col, op: opNotIn, strs: vs} }

// NotNull matches rows where the column is set.
func NotNull(col Column) Pred { return Pred{col: col, op: opNotNull} }

// IsNull matches rows where the column is absent.
func IsNull(col Column) Pred { return Pred{col: col, op: opIsNull} }

// OlderOrNull matches rows whose timestamp column is absent or at most
// cutoff (unix ms). This is the ping-freshness / activity-recency shape:
// "never happened, or long enough ago".
func OlderOrNull(col Column, cutoff int64) Pred {
	return Pred{col: col, op: opOlderOrNull, cutoff: cutoff}
}

// Between matches rows whose timestamp column is set and inside [lo, hi].
func Between(col Column, lo, hi int64) Pred {
	return Pred{col: col, op: opBetween, lo: lo, hi: hi}
}

// PingJoin selects how the latest ping record joins into the member query.
type PingJoin int

const (
	PingJoinNone PingJoin = iota
	// PingJoinLeft keeps members without a live ping (PingCreatedAt = 0).
	PingJoinLeft
	// PingJoinInner keeps only members with a live ping record.
	PingJoinInner
)

// Query is a conjunction of predicates plus the ping-join mode.
type Query struct {
	Preds    []Pred
	JoinPing PingJoin
}

func NewQuery(preds ...Pred) Query { return Query{Preds: preds} }

func (q Query) WithPingJoin(j PingJoin) Query {
	q.JoinPing = j
	return q
}

// Match evaluates the query against a member in memory. The sqlite store
// never calls this; it exists so resolver tests can run against a slice
// of members instead of a database.
func (q Query) Match(m Member) bool {
	if q.JoinPing == PingJoinInner && m.PingCreatedAt == 0 {
		return false
	}
	for _, p := range q.Preds {
		if !p.match(m) {
			return false
		}
	}
	return true
}

func (p Pred) match(m Member) bool {
	switch p.op {
	case opEq:
		s, _ := memberString(m, p.col)
		return s == p.str
	case opEqBool:
		return memberBool(m, p.col) == p.b
	case opIn:
		if len(p.strs) == 0 {
			return true
		}
		s, _ := memberString(m, p.col)
		return contains(p.strs, s)
	case opNotIn:
		if len(p.strs) == 0 {
			return true
		}
		s, _ := memberString(m, p.col)
		return !contains(p.strs, s)
	case opNotNull:
		return memberPresent(m, p.col)
	case opIsNull:
		return !memberPresent(m, p.col)
	case opOlderOrNull:
		v, ok := memberTime(m, p.col)
		return !ok || v <= p.cutoff
	case opBetween:
		v, ok := memberTime(m, p.col)
		return ok && v >= p.lo && v <= p.hi
	default:
		return false
	}
}

func memberString(m Member, c Column) (string, bool) {
	switch c {
	case ColUserID:
		return m.UserID, m.UserID != ""
	case ColUsername:
		return m.Username, m.Username != ""
	case ColEmail:
		return m.Email, m.Email != ""
	case ColDisplayName:
		return m.DisplayName, m.DisplayName != ""
	case ColUserType:
		return m.UserType, m.UserType != ""
	case ColLastMessageID:
		return m.LastMessageID, m.LastMessageID != ""
	case ColLastPingID:
		return m.LastPingMessageID, m.LastPingMessageID != ""
	default:
		return "", false
	}
}

func memberBool(m Member, c Column) bool {
	switch c {
	case ColDeactivated:
		return m.Deactivated
	case ColAwaiting:
		return m.AwaitingResponse
	default:
		return false
	}
}

func memberTime(m Member, c Column) (int64, bool) {
	switch c {
	case ColLastMessageTime:
		return m.LastMessageTime, m.LastMessageTime != 0
	case ColPingCreatedAt:
		return m.PingCreatedAt, m.PingCreatedAt != 0
	default:
		return 0, false
	}
}

func memberPresent(m Member, c Column) bool {
	if _, ok := memberTime(m, c); ok {
		return true
	}
	switch c {
	case ColLastMessageTime, ColPingCreatedAt:
		return false
	}
	_, ok := memberString(m, c)
	return ok
}

func contains(vs []string, s string) bool {
	for _, v := range vs {
		if v == s {
			return true
		}
	}
	return false
}

// sqlColumn maps a query column to its SQL expression.
func sqlColumn(c Column) string {
	if c == ColPingCreatedAt {
		return "p.created_at"
	}
	return "u." + string(c)
}

// toSQL renders the conjunction as a WHERE clause body plus args.
func (q Query) toSQL() (string, []any) {
	clauses := make([]string, 0, len(q.Preds))
	args := make([]any, 0, len(q.Preds))
	for _, p := range q.Preds {
		c, a := p.toSQL()
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if len(clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(clauses, " AND "), args
}

func (p Pred) toSQL() (string, []any) {
	col := sqlColumn(p.col)
	switch p.op {
	case opEq:
		return col + " = ?", []any{p.str}
	case opEqBool:
		if p.b {
			return col + " = 1", nil
		}
		return col + " = 0", nil
	case opIn:
		if len(p.strs) == 0 {
			return "1=1", nil
		}
		return col + " IN (" + placeholders(len(p.strs)) + ")", strArgs(p.strs)
	case opNotIn:
		if len(p.strs) == 0 {
			return "1=1", nil
		}
		return col + " NOT IN (" + placeholders(len(p.strs)) + ")", strArgs(p.strs)
	case opNotNull:
		return col + " IS NOT NULL", nil
	case opIsNull:
		return col + " IS NULL", nil
	case opOlderOrNull:
		return "(" + col + " <= ? OR " + col + " IS NULL)", []any{p.cutoff}
	case opBetween:
		return "(" + col + " >= ? AND " + col + " <= ?)", []any{p.lo, p.hi}
	default:
		return "1=1", nil
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func strArgs(vs []string) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
