// Package scheduler runs cron-style jobs. Job bodies are supplied by the
// caller so scheduled work flows through the same per-conversation queue as
// live traffic.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/wardenlabs/warden/internal/logging"
)

// Scheduler wraps a cron runner with named jobs.
type Scheduler struct {
	cron *cron.Cron
	log  logging.ComponentLogger
}

// New creates a stopped scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  logging.For("Scheduler"),
	}
}

// Add registers fn under a cron expression. The job name is only used for
// logging.
func (s *Scheduler) Add(name, schedule string, fn func()) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Infof("running job %q", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", schedule, name, err)
	}
	return nil
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler. Running jobs are allowed to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
