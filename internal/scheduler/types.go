package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the cadence trigger.
type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "Asia/Ho_Chi_Minh"
	DefaultTimeout time.Duration
	HistorySize    int
}

// Guard is a pre-flight check evaluated when a cadence fires. Returning
// ok=false skips the tick (a deliberate no-op, not an error). A non-nil
// error abandons the tick fail-closed; it will be retried on the next
// natural fire.
type Guard func(ctx context.Context, now time.Time) (ok bool, reason string, err error)

// Job is one tick handler. It runs to completion before the next tick of
// the same kind is dispatched.
type Job func(ctx context.Context, now time.Time) error

// Definition binds a tick kind to its recurrence, guards, and handler.
type Definition struct {
	Kind    string
	Spec    string // 5-field cron expression, evaluated in the service zone
	Guards  []Guard
	Timeout time.Duration // 0 means the service default
	Job     Job
}

// cadence is a registered definition plus its runtime state. runMu
// serializes ticks of the same kind; different kinds interleave freely.
type cadence struct {
	def     Definition
	timeout time.Duration
	runMu   sync.Mutex
	entryID cron.EntryID
}

// RunRecord is one completed (or skipped) tick in the bounded history.
type RunRecord struct {
	Kind     string
	Started  time.Time
	Duration time.Duration
	Skipped  string // guard reason, empty when the job ran
	Error    string
}
