package app

import (
	"sync/atomic"
	"time"

	"icomet/internal/scheduler"
	"icomet/pkg/icomet"
)

type feedStats struct {
	sessions atomic.Uint64
	events   atomic.Uint64
	failures atomic.Uint64
}

// Status is the /statz snapshot.
type Status struct {
	Dispatcher icomet.Stats     `json:"dispatcher"`
	Feed       FeedStatus       `json:"feed"`
	Schedules  []ScheduleStatus `json:"schedules"`
	BusDropped uint64           `json:"bus_dropped"`
}

type FeedStatus struct {
	Sessions uint64 `json:"sessions"`
	Events   uint64 `json:"events"`
	Failures uint64 `json:"failures"`
}

type ScheduleStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitzero"`
	Prev time.Time `json:"prev,omitzero"`
}

func (a *App) status() any {
	return a.Status()
}

// Status snapshots the daemon counters.
func (a *App) Status() Status {
	entries := a.sched.Entries()
	scheds := make([]ScheduleStatus, 0, len(entries))
	for _, e := range entries {
		scheds = append(scheds, scheduleStatus(e))
	}
	return Status{
		Dispatcher: a.client.Stats(),
		Feed: FeedStatus{
			Sessions: a.feed.sessions.Load(),
			Events:   a.feed.events.Load(),
			Failures: a.feed.failures.Load(),
		},
		Schedules:  scheds,
		BusDropped: a.bus.Dropped(),
	}
}

func scheduleStatus(e scheduler.Info) ScheduleStatus {
	return ScheduleStatus{Name: e.Name, Spec: e.Spec, Next: e.Next, Prev: e.Prev}
}
