package manager

import (
	"context"
	"sync"
	"time"
)

// Maintenance is the running sweep schedule.
type Maintenance struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (m *Manager) schedule(interval time.Duration) *Maintenance {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	mt := &Maintenance{cancel: cancel, done: make(chan struct{})}

	ticker := m.clock.Ticker(interval)
	go func() {
		defer close(mt.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
	return mt
}

// Stop cancels the schedule and waits for an in-flight sweep to finish.
// It is safe to call more than once, and on a nil handle.
func (mt *Maintenance) Stop() {
	if mt == nil {
		return
	}
	mt.once.Do(mt.cancel)
	<-mt.done
}
