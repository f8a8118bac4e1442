// Package dispatch delivers outbound check-ins: a rate-limited sequential
// loop for ping batches, and a buffered queue for one-off notifications.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/huynguyenanh1/mezon-komu/internal/mezon"
	"github.com/huynguyenanh1/mezon-komu/internal/storage"
	"github.com/huynguyenanh1/mezon-komu/pkg/keymutex"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type Config struct {
	ClanID    string
	ChannelID string
	IsPublic  bool

	// SendInterval spaces consecutive sends of a batch. Defaults to 200ms.
	SendInterval time.Duration
}

// Recorder persists the ping bookkeeping after a successful send.
type Recorder interface {
	MarkPinged(ctx context.Context, rec PingWrite) error
}

// PingWrite is what the dispatcher asks the recorder to persist.
type PingWrite = storage.PingRecord

// BuildFunc renders the message for one member.
type BuildFunc func(m storage.Member) (text string, mentions []mezon.Mention)

// MentionText prefixes body with the member's handle and returns the
// matching mention span.
func MentionText(m storage.Member, body string) (string, []mezon.Mention) {
	text := "@" + m.Username + " " + body
	return text, []mezon.Mention{{UserID: m.UserID, S: 0, E: len(m.Username) + 1}}
}

// Result summarizes one batch.
type Result struct {
	Sent   int
	Failed int
}

// Dispatcher sends ping batches one member at a time. One failed send skips
// that member only; the batch keeps going.
type Dispatcher struct {
	cfg     Config
	client  mezon.Client
	rec     Recorder
	locks   *keymutex.KeyMutex
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, client mezon.Client, rec Recorder, locks *keymutex.KeyMutex, log logx.Logger) *Dispatcher {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 200 * time.Millisecond
	}
	if locks == nil {
		locks = keymutex.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		client:  client,
		rec:     rec,
		locks:   locks,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), 1),
		log:     log,
	}
}

// SendPings walks the batch in order, awaiting each send before starting the
// next. When requiresResponse is set, every delivered ping is recorded under
// the member's lock so the awaiting flag and its ping record move together.
// Returns early only on context cancellation.
func (d *Dispatcher) SendPings(ctx context.Context, members []storage.Member, build BuildFunc, requiresResponse bool) (Result, error) {
	var res Result
	for _, m := range members {
		if err := d.limiter.Wait(ctx); err != nil {
			return res, err
		}

		text, mentions := build(m)
		msg := mezon.ReplyMessage{
			ClanID:    d.cfg.ClanID,
			ChannelID: d.cfg.ChannelID,
			Mode:      mezon.ModeChannelMessage,
			IsPublic:  d.cfg.IsPublic,
			Msg:       mezon.MessageContent{T: text},
			Mentions:  mentions,
		}
		// The platform echoes no message id on this surface, so the ping
		// record carries a client-generated one.
		messageID := uuid.NewString()

		if err := d.client.SendMessage(ctx, msg); err != nil {
			res.Failed++
			d.log.Warn("ping send failed",
				logx.String("user_id", m.UserID),
				logx.String("username", m.Username),
				logx.Err(err))
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		res.Sent++

		if !requiresResponse || d.rec == nil {
			continue
		}
		var recErr error
		d.locks.Do(m.UserID, func() {
			recErr = d.rec.MarkPinged(ctx, PingWrite{
				ID:        uuid.NewString(),
				UserID:    m.UserID,
				MessageID: messageID,
				CreatedAt: time.Now().UnixMilli(),
			})
		})
		if recErr != nil {
			// The member was pinged but won't be tracked; the next tick
			// picks them up again.
			d.log.Error("ping bookkeeping failed",
				logx.String("user_id", m.UserID),
				logx.Err(recErr))
		}
	}
	return res, nil
}
