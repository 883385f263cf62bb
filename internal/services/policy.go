// Package services implements the business logic of the activity feed
// platform. This file defines the runtime-mutable fanout policy.
package services

import "sync/atomic"

// DefaultFanoutThreshold is the follower cardinality above which an actor is
// classified high-fanout (fanout-on-read).
const DefaultFanoutThreshold = 10_000

// FanoutPolicy holds the actor classification threshold. It is injected
// configuration, not a compile-time constant: operators may retune it at
// runtime, and the router re-reads it on every routing decision so no
// decision uses a stale value. No event is retroactively re-routed.
type FanoutPolicy struct {
	threshold atomic.Int64
}

// NewFanoutPolicy constructs a policy. Non-positive thresholds fall back to
// DefaultFanoutThreshold.
func NewFanoutPolicy(threshold int64) *FanoutPolicy {
	p := &FanoutPolicy{}
	if threshold <= 0 {
		threshold = DefaultFanoutThreshold
	}
	p.threshold.Store(threshold)
	return p
}

// Threshold returns the current classification threshold.
func (p *FanoutPolicy) Threshold() int64 { return p.threshold.Load() }

// SetThreshold replaces the threshold; takes effect on the next routing
// decision.
func (p *FanoutPolicy) SetThreshold(n int64) {
	if n > 0 {
		p.threshold.Store(n)
	}
}

// HighFanout classifies an actor given its audience cardinality.
func (p *FanoutPolicy) HighFanout(cardinality int64) bool {
	return cardinality > p.Threshold()
}
