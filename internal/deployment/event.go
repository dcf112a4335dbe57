package deployment

import (
	"context"
	"time"
)

// Action is what a job does to a container.
type Action string

const (
	ActionDeploy   Action = "deploy"
	ActionTeardown Action = "teardown"
)

// Status is the lifecycle point an Event reports.
type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Event is emitted by the Deployer at the start and end of every job.
type Event struct {
	ID       string
	Action   Action
	Status   Status
	Stage    Stage
	Info     Info
	Image    string
	Err      error
	Duration time.Duration
	Time     time.Time
}

// Notifier receives deployment events. Implementations must not block for long;
// errors are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Notifiers fans an event out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
