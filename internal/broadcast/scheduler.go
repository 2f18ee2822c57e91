package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler periodically promotes due scheduled broadcasts into the send
// path and runs the drift-correction sweep. A tick that outlives the
// interval is not overlapped: the next one is skipped, not queued.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	cron     *cron.Cron
	log      zerolog.Logger
}

func NewScheduler(svc *Service, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		svc:      svc,
		interval: interval,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl))),
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick); err != nil {
		return fmt.Errorf("register scheduler tick: %w", err)
	}
	s.cron.Start()
	s.log.Info().Dur("interval", s.interval).Msg("broadcast scheduler started")
	return nil
}

// Stop halts the cron loop; the returned context is done once any running
// tick has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// tick failures are logged and swallowed; the loop must survive to the next
// interval no matter what.
func (s *Scheduler) tick() {
	if err := s.svc.DispatchDue(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("dispatch due broadcasts")
	}
	if err := s.svc.SweepRecent(); err != nil {
		s.log.Error().Err(err).Msg("stats sweep")
	}
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
