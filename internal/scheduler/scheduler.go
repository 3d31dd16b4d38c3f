// Package scheduler runs periodic maintenance jobs — reservation expiry
// and dirty-cell JSONL export — the way the teacher's cron package runs
// due schedules: the cron library's background runner, started with
// Start and stopped with Stop, logging failures instead of propagating
// them.
package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/coordkernel/internal/cells"
	"github.com/basket/coordkernel/internal/replay"
	"github.com/basket/coordkernel/internal/reservations"
)

// Config holds the scheduler's dependencies and cron expressions.
// ExpireCronSpec and ExportCronSpec default to "@every 30s" and
// "@every 1m" respectively when empty.
type Config struct {
	Reservations *reservations.Reservations
	Cells        *cells.Cells
	ProjectKeys  func() []string
	ExportDir    func(projectKey string) string
	Logger       *slog.Logger

	ExpireCronSpec string
	ExportCronSpec string
}

// Scheduler owns a robfig/cron/v3 job runner registered with the
// reservation-expiry and JSONL-export ticks.
type Scheduler struct {
	cron   *cronlib.Cron
	logger *slog.Logger
}

// New builds a Scheduler and registers its jobs, but does not start it.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expireSpec := cfg.ExpireCronSpec
	if expireSpec == "" {
		expireSpec = "@every 30s"
	}
	exportSpec := cfg.ExportCronSpec
	if exportSpec == "" {
		exportSpec = "@every 1m"
	}

	c := cronlib.New(cronlib.WithParser(cronlib.NewParser(
		cronlib.Second | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
	)))

	s := &Scheduler{cron: c, logger: logger}

	if _, err := c.AddFunc(expireSpec, s.expireReservations(cfg)); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(exportSpec, s.exportDirtyCells(cfg)); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running registered jobs in the cron library's own
// goroutine. Callers should call Stop on shutdown.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels the job runner and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) expireReservations(cfg Config) func() {
	return func() {
		if cfg.Reservations == nil {
			return
		}
		n, err := cfg.Reservations.ExpireTick(context.Background(), time.Now().UnixMilli())
		if err != nil {
			s.logger.Error("scheduler: reservation expiry failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("scheduler: expired reservations", "count", n)
		}
	}
}

func (s *Scheduler) exportDirtyCells(cfg Config) func() {
	return func() {
		if cfg.Cells == nil || cfg.ProjectKeys == nil || cfg.ExportDir == nil {
			return
		}
		ctx := context.Background()
		for _, projectKey := range cfg.ProjectKeys() {
			path := filepath.Join(cfg.ExportDir(projectKey), "issues.jsonl")
			n, err := replay.ExportJSONL(ctx, cfg.Cells, projectKey, path)
			if err != nil {
				s.logger.Error("scheduler: jsonl export failed", "project_key", projectKey, "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("scheduler: exported dirty cells", "project_key", projectKey, "count", n)
			}
		}
	}
}
