package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/huynguyenanh1/mezon-komu/internal/mezon"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

// Queue is the fire-and-forget outbound path for one-off notifications
// (escalation notices, operator announcements). A single worker drains it so
// side-channel traffic shares the same pacing as everything else outbound.
type Queue struct {
	client  mezon.Client
	log     logx.Logger
	ch      chan mezon.ReplyMessage
	limiter *rate.Limiter

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewQueue(client mezon.Client, size int, interval time.Duration, log logx.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		client:  client,
		log:     log,
		ch:      make(chan mezon.ReplyMessage, size),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.run(ctx)
	})
}

// Enqueue offers a message to the queue. A full queue drops the message and
// returns false; notifications are best-effort by contract.
func (q *Queue) Enqueue(msg mezon.ReplyMessage) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		q.log.Warn("outbound queue full, dropping message",
			logx.String("channel_id", msg.ChannelID))
		return false
	}
}

// Stop drains nothing; queued but unsent messages are dropped. Waits for the
// worker to exit or the context to expire.
func (q *Queue) Stop(ctx context.Context) {
	q.stopOnce.Do(func() { close(q.stop) })
	select {
	case <-q.done:
	case <-ctx.Done():
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("outbound worker panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := q.client.SendMessage(sendCtx, msg)
			cancel()
			if err != nil {
				q.log.Warn("outbound send failed",
					logx.String("channel_id", msg.ChannelID),
					logx.Err(err))
			}
		}
	}
}
