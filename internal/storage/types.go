package storage

import "time"

const (
	// UserTypeMezon marks directory entries belonging to the monitored
	// chat-platform population.
	UserTypeMezon = "MEZON"

	PunishStatusActive = "ACTIVE"
	PunishTypeWFH      = "wfh"
)

// Config configures the sqlite directory store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Member is one directory entry.
//
// Nullable columns use zero values as absence: an empty LastMessageID means
// the member has never interacted, a zero LastMessageTime means no inbound
// activity recorded, an empty LastPingMessageID means no ping ever sent.
// Timestamps are unix milliseconds.
type Member struct {
	UserID      string
	Username    string
	Email       string
	DisplayName string
	UserType    string
	Deactivated bool

	LastMessageID   string
	LastMessageTime int64

	LastPingMessageID string
	AwaitingResponse  bool

	// PingCreatedAt is populated when the query joins the latest ping
	// record (JoinPing != PingJoinNone). Zero means no live ping.
	PingCreatedAt int64
}

// PingRecord is one outstanding automated check-in. Created by the
// dispatcher, read by the escalation tracker, never mutated; it is
// superseded when a newer ping is sent or the member responds.
type PingRecord struct {
	ID        string
	UserID    string
	MessageID string
	CreatedAt int64
}

// PunishmentRecord is the append-only escalation written when a member
// fails to answer a ping inside the response window.
type PunishmentRecord struct {
	ID        string
	UserID    string
	Message   string
	Status    string
	Type      string
	CreatedAt int64
}
