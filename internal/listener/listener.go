// Package listener consumes inbound channel messages from the gateway and
// turns them into directory activity: any message from a monitored member
// refreshes their recency and settles an outstanding check-in.
package listener

import (
	"context"

	"github.com/huynguyenanh1/mezon-komu/internal/mezon"
	"github.com/huynguyenanh1/mezon-komu/internal/workday"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

// Activity is the directory surface the listener writes through.
type Activity interface {
	RecordActivity(ctx context.Context, userID, messageID string, atMS int64) (answered bool, err error)
}

type Config struct {
	// BotUserID filters out the bot's own outbound traffic.
	BotUserID string
}

type Listener struct {
	cfg   Config
	act   Activity
	hours *workday.Hours
	clock workday.Clock
	log   logx.Logger
}

func New(cfg Config, act Activity, hours *workday.Hours, clock workday.Clock, log logx.Logger) *Listener {
	if clock == nil {
		clock = workday.SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{cfg: cfg, act: act, hours: hours, clock: clock, log: log}
}

// HandleChannelMessage implements mezon.MessageHandler. Direct messages and
// the bot's own traffic are ignored; everything else counts as activity, in
// or out of the mention window.
func (l *Listener) HandleChannelMessage(ctx context.Context, msg mezon.ChannelMessage) {
	if msg.SenderID == "" || msg.SenderID == l.cfg.BotUserID {
		return
	}
	if msg.Mode == mezon.ModeDirectMessage {
		return
	}

	now := l.clock.Now()
	answered, err := l.act.RecordActivity(ctx, msg.SenderID, msg.MessageID, now.UnixMilli())
	if err != nil {
		l.log.Error("activity record failed",
			logx.String("user_id", msg.SenderID),
			logx.String("message_id", msg.MessageID),
			logx.Err(err))
		return
	}
	if answered {
		l.log.Info("check-in answered",
			logx.String("user_id", msg.SenderID),
			logx.String("message_id", msg.MessageID),
			logx.Bool("in_window", l.hours.InMentionWindow(now)))
	}
}
