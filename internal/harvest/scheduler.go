package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Retriever is the part of Service the scheduler drives
type Retriever interface {
	RetrieveCases(ctx context.Context, req Request) (Summary, error)
}

// Scheduler retrieves the trailing look-back window on a cron spec. A run
// still in progress when the next one is due makes the next one skip.
type Scheduler struct {
	cron      *cron.Cron
	retriever Retriever
	courts    []string
	lookback  int
	logger    *logger.Logger
	now       func() time.Time
}

func NewScheduler(cfg *config.Config, retriever Retriever, log *logger.Logger) (*Scheduler, error) {
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		retriever: retriever,
		courts:    cfg.ScheduleCourts,
		lookback:  cfg.LookbackDays,
		logger:    log,
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.ScheduleCron, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.ScheduleCron, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "next_run", s.cron.Entries()[0].Next)
}

// Stop stops scheduling and waits for a running retrieval or ctx
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Window is the date range a run covers: the look-back days through today
func (s *Scheduler) Window() (time.Time, time.Time) {
	to := s.now().UTC().Truncate(24 * time.Hour)
	return to.AddDate(0, 0, -s.lookback), to
}

func (s *Scheduler) RunOnce() {
	from, to := s.Window()
	s.logger.Info("Scheduled retrieval", "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))

	summary, err := s.retriever.RetrieveCases(context.Background(), Request{From: from, To: to, Courts: s.courts})
	if err != nil {
		s.logger.Error("Scheduled retrieval rejected", "error", err)
		return
	}
	if !summary.Success {
		s.logger.Warn("Scheduled retrieval finished with failures", "message", summary.Message)
		return
	}
	s.logger.Info("Scheduled retrieval finished", "message", summary.Message)
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
