package leaderboards

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/forgeline/gamekernel/internal/project"
)

// Scheduler drives periodic board resets across every loaded project. Only
// projects currently in memory are ticked; an evicted project's boards are
// caught up on its next load by the same ResetIfDue check.
type Scheduler struct {
	cron     *cron.Cron
	projects *project.Manager
	log      zerolog.Logger
}

func NewScheduler(projects *project.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		projects: projects,
		log:      log.With().Str("component", "leaderboards-scheduler").Logger(),
	}
}

// Start begins the minutely tick. Errors inside a tick are logged and never
// stop the schedule.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Msg("reset scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	<-done
	s.log.Info().Msg("reset scheduler stopped")
}

func (s *Scheduler) tick() {
	now := time.Now().UTC()
	for _, host := range s.projects.ActiveHosts("leaderboards") {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := NewService(host).ResetDueBoards(ctx, now); err != nil {
			s.log.Error().Err(err).Str("project", host.ProjectID).Msg("reset sweep failed")
		}
		cancel()
	}
}
