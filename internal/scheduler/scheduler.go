// Package scheduler is the cadence trigger: named cron-style schedules
// bound to one configured time zone, each firing tick events through a
// guard chain (holiday, minute-band) before the handler runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*cadence

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	hmu     sync.Mutex
	history []RunRecord
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", tz, err)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		loc:    loc,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

func (s *Service) Location() *time.Location { return s.loc }

// Register adds a cadence. Must be called before Start.
func (s *Service) Register(def Definition) error {
	if def.Kind == "" {
		return errors.New("scheduler: cadence kind is required")
	}
	if def.Job == nil {
		return errors.New("scheduler: cadence job is required")
	}
	if _, err := s.parser.Parse(def.Spec); err != nil {
		return fmt.Errorf("scheduler: invalid spec for %s: %w", def.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler: already started")
	}
	for _, cd := range s.defs {
		if cd.def.Kind == def.Kind {
			return fmt.Errorf("scheduler: duplicate cadence %s", def.Kind)
		}
	}
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.defs = append(s.defs, &cadence{def: def, timeout: timeout})
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled by config")
		return nil
	}
	if s.c != nil {
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	for _, cd := range s.defs {
		cd := cd
		id, err := s.c.AddFunc(cd.def.Spec, func() {
			s.wg.Add(1)
			defer s.wg.Done()
			s.fire(s.runCtx, cd)
		})
		if err != nil {
			return fmt.Errorf("scheduler: add %s: %w", cd.def.Kind, err)
		}
		cd.entryID = id
	}

	s.c.Start()
	s.log.Info("scheduler started", logx.Int("cadences", len(s.defs)), logx.String("tz", s.loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// fire runs one tick of a cadence. The per-cadence mutex means a slow tick
// delays, rather than overlaps, the next tick of the same kind.
func (s *Service) fire(ctx context.Context, cd *cadence) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	cd.runMu.Lock()
	defer cd.runMu.Unlock()

	now := time.Now().In(s.loc)
	start := now
	kind := cd.def.Kind

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked",
				logx.String("kind", kind),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			s.record(RunRecord{Kind: kind, Started: start, Duration: time.Since(start), Error: fmt.Sprint("panic: ", r)})
		}
	}()

	for _, g := range cd.def.Guards {
		ok, reason, err := g(ctx, now)
		if err != nil {
			// Fail closed: no partial tick, retry on the next fire.
			s.log.Warn("tick guard failed; abandoning tick", logx.String("kind", kind), logx.Err(err))
			s.record(RunRecord{Kind: kind, Started: start, Duration: time.Since(start), Error: err.Error()})
			return
		}
		if !ok {
			s.log.Debug("tick skipped", logx.String("kind", kind), logx.String("reason", reason))
			s.record(RunRecord{Kind: kind, Started: start, Skipped: reason})
			return
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cd.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cd.timeout)
		defer cancel()
	}

	err := cd.def.Job(runCtx, now)
	rec := RunRecord{Kind: kind, Started: start, Duration: time.Since(start)}
	if err != nil {
		rec.Error = err.Error()
		s.log.Warn("tick failed", logx.String("kind", kind), logx.Duration("dur", rec.Duration), logx.Err(err))
	} else {
		s.log.Debug("tick completed", logx.String("kind", kind), logx.Duration("dur", rec.Duration))
	}
	s.record(rec)
}

func (s *Service) record(rec RunRecord) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, rec)
	size := s.cfg.HistorySize
	if size <= 0 {
		size = 200
	}
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}

// History returns a copy of the bounded run history, oldest first.
func (s *Service) History() []RunRecord {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]RunRecord, len(s.history))
	copy(out, s.history)
	return out
}
