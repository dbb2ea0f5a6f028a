package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor periodically stops watched builds nobody has asked for lately.
type Janitor struct {
	cron    *cron.Cron
	service *Service
	idle    time.Duration
}

// NewJanitor schedules idle eviction on a cron spec such as "@every 1m".
func NewJanitor(service *Service, schedule string, idle time.Duration) (*Janitor, error) {
	j := &Janitor{
		cron:    cron.New(),
		service: service,
		idle:    idle,
	}

	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) sweep() {
	if n := j.service.EvictIdle(j.idle); n > 0 {
		log.Info().Int("evicted", n).Int("active", j.service.ActiveWatchers()).Msg("Janitor evicted idle watchers")
	}
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	log.Info().Dur("idle_timeout", j.idle).Msg("Watcher janitor started")
}

// Stop halts the schedule; the returned context is done once a running sweep finishes.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}
