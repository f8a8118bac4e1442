// Package supervisor manages the bot's long-running goroutines: named
// starts, panic recovery, restart-with-backoff for loops that should
// self-heal, and a context-aware wait on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	active int64

	wg       sync.WaitGroup
	errOnce  sync.Once
	firstErr atomic.Value
	doneOnce sync.Once
	doneCh   chan struct{}
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		doneCh: make(chan struct{}),
	}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }

// Err returns the first error any goroutine reported.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Go runs fn once. A panic is captured and reported as the goroutine's
// error; it never takes the process down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		err, pan, stack := runSafe(s.ctx, fn)
		if pan != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", pan),
				logx.String("stack", stack))
			s.setErr(fmt.Errorf("panic in %s: %v", name, pan))
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.setErr(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// RestartPolicy bounds the backoff between restarts of a self-healing loop.
type RestartPolicy struct {
	MinBackoff time.Duration // default 250ms
	MaxBackoff time.Duration // default 30s
}

// GoRestart runs fn and restarts it on error or panic until the supervisor
// context is canceled. A clean (nil) exit stops the loop. Backoff doubles
// per consecutive failure with 20% jitter, and resets after a run that
// survived 30 seconds.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, pol RestartPolicy) {
	if fn == nil {
		return
	}
	if pol.MinBackoff <= 0 {
		pol.MinBackoff = 250 * time.Millisecond
	}
	if pol.MaxBackoff < pol.MinBackoff {
		pol.MaxBackoff = 30 * time.Second
	}

	s.Go(name+".loop", func(ctx context.Context) error {
		backoff := pol.MinBackoff
		for {
			if ctx.Err() != nil {
				return nil
			}
			startedAt := time.Now()

			err, pan, stack := runSafe(ctx, fn)
			if pan != nil {
				s.log.Error("goroutine panicked, restarting",
					logx.String("name", name),
					logx.Any("panic", pan),
					logx.String("stack", stack))
				err = fmt.Errorf("panic: %v", pan)
			}

			// Shutdown in progress: any exit is a clean stop.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil {
				return nil
			}

			if time.Since(startedAt) >= 30*time.Second {
				backoff = pol.MinBackoff
			}
			wait := backoff + jitter(backoff)
			s.log.Warn("goroutine restarting",
				logx.String("name", name),
				logx.Duration("backoff", wait),
				logx.Err(err))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > pol.MaxBackoff {
				backoff = pol.MaxBackoff
			}
		}
	})
}

// Stop cancels the shared context and waits for every goroutine to exit, or
// for ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

func runSafe(ctx context.Context, fn func(ctx context.Context) error) (err error, pan any, stack string) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			stack = string(debug.Stack())
		}
	}()
	err = fn(ctx)
	return
}

func jitter(d time.Duration) time.Duration {
	j := int64(d) / 5
	if j <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % (j + 1))
}
