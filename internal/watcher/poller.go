package watcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CycleFunc runs one watcher pass. It must be safe to call again after an
// error; the poller never stops on a failed cycle.
type CycleFunc func(ctx context.Context) (CycleResult, error)

// Poller drives a CycleFunc on a fixed interval until the context is
// cancelled. The first cycle runs immediately.
type Poller struct {
	name     string
	interval time.Duration
	cycle    CycleFunc
}

func NewPoller(name string, interval time.Duration, cycle CycleFunc) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		cycle:    cycle,
	}
}

func (p *Poller) Run(ctx context.Context) {
	log.Info().Str("watcher", p.name).Dur("interval", p.interval).
		Msg("[Poller] [Run] starting watcher loop")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("watcher", p.name).Msg("[Poller] [Run] watcher loop stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	cycleId := uuid.NewString()
	started := time.Now()
	result, err := p.cycle(ctx)
	result.Duration = time.Since(started)
	if err != nil {
		log.Error().Err(err).Str("watcher", p.name).Str("cycleId", cycleId).
			Dur("duration", result.Duration).
			Msg("[Poller] [RunCycle] watcher cycle failed")
		return
	}
	log.Debug().Str("watcher", p.name).Str("cycleId", cycleId).
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("[Poller] [RunCycle] watcher cycle completed")
}
