// Package app assembles the bot: config, logging, storage, the Mezon
// gateway, and the three cadences (reminder-ping, broad-quiz-ping,
// punish-check) wired through the scheduler.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/huynguyenanh1/mezon-komu/internal/config"
	"github.com/huynguyenanh1/mezon-komu/internal/dispatch"
	"github.com/huynguyenanh1/mezon-komu/internal/engage"
	"github.com/huynguyenanh1/mezon-komu/internal/escalate"
	"github.com/huynguyenanh1/mezon-komu/internal/listener"
	"github.com/huynguyenanh1/mezon-komu/internal/mezon"
	"github.com/huynguyenanh1/mezon-komu/internal/runtime/supervisor"
	"github.com/huynguyenanh1/mezon-komu/internal/scheduler"
	"github.com/huynguyenanh1/mezon-komu/internal/storage"
	"github.com/huynguyenanh1/mezon-komu/internal/timesheet"
	"github.com/huynguyenanh1/mezon-komu/internal/workday"
	"github.com/huynguyenanh1/mezon-komu/pkg/keymutex"
	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

const (
	kindPunishCheck = "punish-check"

	reminderBody = "daily check-in: what are you working on? reply in this channel"
	quizBody     = "quick engagement check: drop a short status update when you see this"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	sup *supervisor.Supervisor

	gw      *mezon.Gateway
	store   *storage.Store
	sched   *scheduler.Service
	queue   *dispatch.Queue
	disp    *dispatch.Dispatcher
	res     *engage.Resolver
	tracker *escalate.Tracker

	cfgCh chan *config.Config
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")

	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	gw := mezon.NewGateway(mezon.Config{
		BaseURL:    cfg.Mezon.BaseURL,
		GatewayURL: cfg.Mezon.GatewayURL,
		Token:      cfg.Mezon.Token,
		ClanID:     cfg.Mezon.ClanID,
	}, bootLog.With(logx.String("comp", "mezon")))

	// Bring logging up with the channel sink disabled, then Apply the real
	// config once the sender exists; otherwise the first Apply warns about
	// a target nobody set yet.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Channel.Enabled = false
	logSvc, log := logx.New(bootCfg, gw)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log,
		gw:    gw,
		cfgCh: cfgm.Subscribe(1),
	}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build constructs every service from the committed config. Cadence specs
// and storage settings are fixed for the process lifetime; only logging
// follows hot reloads.
func (a *App) build(cfg *config.Config) error {
	log := a.log

	tsTimeout, err := config.ParseDurationField("timesheet.timeout", cfg.Timesheet.Timeout)
	if err != nil {
		return err
	}
	ts := timesheet.NewClient(timesheet.Config{
		BaseURL:     cfg.Timesheet.BaseURL,
		APIKey:      cfg.Timesheet.APIKey,
		EmailDomain: cfg.Timesheet.EmailDomain,
		Timeout:     tsTimeout,
	}, log.With(logx.String("comp", "timesheet")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	defTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, time.Minute)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       cfg.Scheduler.Timezone,
		DefaultTimeout: defTimeout,
		HistorySize:    cfg.Scheduler.HistorySize,
	}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return err
	}
	a.sched = sched
	hours := workday.NewHours(sched.Location())

	sendInterval, err := config.ParseDurationOrDefault("dispatch.send_interval", cfg.Dispatch.SendInterval, 200*time.Millisecond)
	if err != nil {
		return err
	}
	locks := keymutex.New()
	a.queue = dispatch.NewQueue(a.gw, cfg.Dispatch.QueueSize, sendInterval, log.With(logx.String("comp", "outqueue")))
	a.disp = dispatch.New(dispatch.Config{
		ClanID:       cfg.Mezon.ClanID,
		ChannelID:    cfg.Dispatch.ChannelID,
		IsPublic:     cfg.Dispatch.IsPublic,
		SendInterval: sendInterval,
	}, a.gw, store, locks, log.With(logx.String("comp", "dispatch")))

	remFresh, err := config.ParseDurationField("engage.reminder_freshness", cfg.Engage.ReminderFreshness)
	if err != nil {
		return err
	}
	quizFresh, err := config.ParseDurationField("engage.quiz_freshness", cfg.Engage.QuizFreshness)
	if err != nil {
		return err
	}
	a.res = engage.NewResolver(engage.Config{
		ClanID:            cfg.Mezon.ClanID,
		ReminderFreshness: remFresh,
		QuizFreshness:     quizFresh,
	}, store, ts, a.gw, hours, log.With(logx.String("comp", "engage")))

	respWindow, err := config.ParseDurationField("escalation.response_window", cfg.Escalation.ResponseWindow)
	if err != nil {
		return err
	}
	a.tracker = escalate.NewTracker(escalate.Config{
		ClanID:          cfg.Mezon.ClanID,
		ResponseWindow:  respWindow,
		NoticeChannelID: cfg.Escalation.NoticeChannelID,
		NoticeIsPublic:  cfg.Escalation.NoticeIsPublic,
	}, store, ts, a.queue, locks, hours, log.With(logx.String("comp", "escalate")))

	a.gw.SetHandler(listener.New(listener.Config{
		BotUserID: cfg.Mezon.BotUserID,
	}, store, hours, workday.SystemClock(), log.With(logx.String("comp", "listener"))))

	return a.registerCadences(cfg, ts, hours)
}

func (a *App) registerCadences(cfg *config.Config, ts *timesheet.Client, hours *workday.Hours) error {
	type cadenceDef struct {
		kind string
		cc   config.CadenceConfig
		job  scheduler.Job
	}
	defs := []cadenceDef{
		{string(engage.TickReminder), cfg.Scheduler.Reminder, a.pingJob(engage.TickReminder, reminderBody, true)},
		{string(engage.TickBroadQuiz), cfg.Scheduler.BroadQuiz, a.pingJob(engage.TickBroadQuiz, quizBody, false)},
		{kindPunishCheck, cfg.Scheduler.PunishCheck, a.tracker.Run},
	}

	for _, d := range defs {
		bands, err := workday.ParseBands(d.cc.Bands)
		if err != nil {
			return fmt.Errorf("scheduler.%s: %w", d.kind, err)
		}
		timeout, err := config.ParseDurationField("scheduler."+d.kind+".timeout", d.cc.Timeout)
		if err != nil {
			return err
		}
		err = a.sched.Register(scheduler.Definition{
			Kind:    d.kind,
			Spec:    d.cc.Spec,
			Guards:  []scheduler.Guard{holidayGuard(ts), bandGuard(hours, bands)},
			Timeout: timeout,
			Job:     d.job,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// pingJob resolves the eligible set for one tick kind and dispatches to it.
func (a *App) pingJob(kind engage.TickKind, body string, requiresResponse bool) scheduler.Job {
	return func(ctx context.Context, now time.Time) error {
		members, err := a.res.Resolve(ctx, kind, now)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		res, err := a.disp.SendPings(ctx, members, func(m storage.Member) (string, []mezon.Mention) {
			return dispatch.MentionText(m, body)
		}, requiresResponse)
		if err != nil {
			return err
		}
		a.log.Info("tick dispatched",
			logx.String("kind", string(kind)),
			logx.Int("eligible", len(members)),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed))
		return nil
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log.With(logx.String("comp", "supervisor")))
	runCtx := a.sup.Context()

	a.queue.Start(runCtx)
	a.sup.GoRestart("gateway", a.gw.Run, supervisor.RestartPolicy{
		MinBackoff: time.Second,
		MaxBackoff: time.Minute,
	})
	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go("config-apply", a.applyReloads)

	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	a.log.Info("bot started")
	return nil
}

// applyReloads consumes config updates. Only the logging section follows a
// live reload; everything else needs a restart and says so.
func (a *App) applyReloads(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return nil
			}
			a.logs.Apply(mapLogConfig(cfg))
			a.log.Info("logging config applied; cadence and storage changes take effect on restart")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop(ctx)
	a.queue.Stop(ctx)
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	_ = a.logs.Close()
	return err
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    cfg.Logging.Channel.Enabled,
			ChannelID:  cfg.Logging.Channel.ChannelID,
			MinLevel:   cfg.Logging.Channel.MinLevel,
			RatePerSec: cfg.Logging.Channel.RatePerSec,
		},
	}
}

func holidayGuard(ts *timesheet.Client) scheduler.Guard {
	return func(ctx context.Context, now time.Time) (bool, string, error) {
		holiday, err := ts.IsHoliday(ctx, now)
		if err != nil {
			return false, "", fmt.Errorf("holiday check: %w", err)
		}
		if holiday {
			return false, "holiday", nil
		}
		return true, "", nil
	}
}

func bandGuard(hours *workday.Hours, bands []workday.Band) scheduler.Guard {
	return func(ctx context.Context, now time.Time) (bool, string, error) {
		if !hours.InBands(now, bands) {
			return false, "outside time band", nil
		}
		return true, "", nil
	}
}
