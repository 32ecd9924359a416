package vox

import (
	"sync/atomic"
	"time"
)

// Status is the published view of the monitor.
type Status struct {
	Monitoring bool
	Recording  bool
	State      State
	Level      float64
	DB         float64
	LastError  string
	UpdatedAt  time.Time
}

// StatusPublisher holds the latest Status. Each Publish replaces the whole
// value, so readers never see a mix of two ticks. It is safe for concurrent use.
type StatusPublisher struct {
	current atomic.Pointer[Status]
}

// NewStatusPublisher returns a publisher holding an idle, stopped status.
func NewStatusPublisher() *StatusPublisher {
	p := &StatusPublisher{}
	p.Publish(Status{State: StateIdle, UpdatedAt: time.Now()})
	return p
}

// Publish replaces the current status.
func (p *StatusPublisher) Publish(s Status) {
	p.current.Store(&s)
}

// Load returns a copy of the current status.
func (p *StatusPublisher) Load() Status {
	return *p.current.Load()
}
