// Package queue holds the master-side coordination logic: lease
// assignment, liveness reclaim, and result aggregation. All three are
// stateless layers over the store; the store's compare-and-set is the
// only synchronization point.
package queue

import "github.com/scribeflow/api/internal/model"

// Events receives state-change notifications. Implementations must not
// block; publication never gates a state transition.
type Events interface {
	Publish(model.Event)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) Publish(model.Event) {}
