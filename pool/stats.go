// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"time"

	"github.com/ik5/audwave/cache"
)

type counters struct {
	completed  uint64
	failed     uint64
	cancelled  uint64
	crashed    uint64
	decodes    uint64
	decodeTime time.Duration
}

// Stats is a snapshot of pool activity.
type Stats struct {
	// ActiveWorkers is the number of busy worker units.
	ActiveWorkers int `json:"activeWorkers"`
	IdleWorkers   int `json:"idleWorkers"`
	TotalWorkers  int `json:"totalWorkers"`
	// QueuedTasks counts tasks whose decode has not reached a worker.
	QueuedTasks int `json:"queuedTasks"`
	// CompletedTasks counts resolved handles, cache hits included.
	CompletedTasks uint64 `json:"completedTasks"`
	// FailedTasks includes CrashedTasks.
	FailedTasks    uint64 `json:"failedTasks"`
	CancelledTasks uint64 `json:"cancelledTasks"`
	CrashedTasks   uint64 `json:"crashedTasks"`
	// Decodes counts successful decodes run by worker units.
	Decodes uint64 `json:"decodes"`
	// AvgProcessingTime is the mean dispatch-to-result time of Decodes.
	AvgProcessingTime time.Duration `json:"avgProcessingTime"`
	Cache             cache.Stats   `json:"cacheStats"`
}

// Statistics returns a snapshot. After Dispose it returns the state at
// disposal.
func (p *Pool) Statistics() Stats {
	var s Stats
	if !p.do(func() { s = p.snapshot() }) {
		return p.final
	}
	return s
}

func (p *Pool) snapshot() Stats {
	s := Stats{
		TotalWorkers:   len(p.units),
		CompletedTasks: p.counts.completed,
		FailedTasks:    p.counts.failed,
		CancelledTasks: p.counts.cancelled,
		CrashedTasks:   p.counts.crashed,
		Decodes:        p.counts.decodes,
	}
	for _, u := range p.units {
		switch u.state {
		case Busy:
			s.ActiveWorkers++
		case Idle:
			s.IdleWorkers++
		}
	}
	for _, t := range p.tasks {
		if t.j != nil && t.j.state != jobRunning {
			s.QueuedTasks++
		}
	}
	if p.counts.decodes > 0 {
		s.AvgProcessingTime = p.counts.decodeTime / time.Duration(p.counts.decodes)
	}
	if p.cache != nil {
		s.Cache = p.cache.Statistics()
	}
	return s
}

// Workers lists the state of every live worker unit, by id.
func (p *Pool) Workers() map[int]WorkerState {
	out := make(map[int]WorkerState)
	p.do(func() {
		for id, u := range p.units {
			out[id] = u.state
		}
	})
	return out
}
