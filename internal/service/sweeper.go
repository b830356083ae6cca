package service

import (
	"context"
	"log"
	"time"
)

// Sweeper runs Circulation.Sweep on a fixed interval until stopped.
type Sweeper struct {
	engine   *Circulation
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper builds a sweeper that fires every interval.  Intervals
// below one minute are clamped to one minute.
func NewSweeper(engine *Circulation, interval time.Duration) *Sweeper {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop in its own goroutine.  One pass runs
// immediately so a restart does not wait a full interval to catch up.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		s.runOnce()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight pass.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := s.engine.Sweep(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("sweeper: pass failed: %v", err)
		return
	}
	if res.LoansMarkedOverdue > 0 || res.HoldsExpired > 0 {
		log.Printf("sweeper: %d loans marked overdue, %d holds expired, %d promoted",
			res.LoansMarkedOverdue, res.HoldsExpired, res.HoldsPromoted)
	}
}
