// Package health aggregates observer cursor lag, store reachability, and
// push-hub subscriber count into a single status snapshot, the way the
// teacher's daemon reports peer count and uptime on a status ticker.
package health

import (
	"context"
	"time"
)

// Pinger is the slice of *storage.Storage health needs.
type Pinger interface {
	Ping() error
}

// SubscriberCounter reports the push hub's live session count.
type SubscriberCounter interface {
	SubscriberCount() int
}

// CursorSource reports an observer's last-seen chain position, for lag
// reporting against the chain's current tip.
type CursorSource interface {
	CursorOf(source string) (position uint64, ok bool, err error)
}

// ChainTip reports a chain client's current tip, for lag computation.
type ChainTip interface {
	Tip(ctx context.Context) (uint64, error)
}

// Status is a point-in-time health snapshot.
type Status struct {
	Healthy         bool          `json:"healthy"`
	StoreReachable  bool          `json:"store_reachable"`
	Subscribers     int           `json:"subscribers"`
	EVMCursor       uint64        `json:"evm_cursor"`
	EVMTip          uint64        `json:"evm_tip"`
	EVMLag          uint64        `json:"evm_lag"`
	MoveCursor      uint64        `json:"move_cursor"`
	MoveTip         uint64        `json:"move_tip"`
	MoveLag         uint64        `json:"move_lag"`
	Uptime          time.Duration `json:"uptime"`
}

// Reporter computes Status on demand from its wired dependencies. Every
// field degrades independently: a chain tip lookup failure zeroes that
// chain's lag rather than failing the whole report, since an RPC hiccup on
// one side shouldn't hide the store or the other chain's health.
type Reporter struct {
	store       Pinger
	hub         SubscriberCounter
	cursors     CursorSource
	evmTip      ChainTip
	moveTip     ChainTip
	startedAt   time.Time
}

// New constructs a Reporter. hub, evmTip, and moveTip may be nil if that
// component isn't wired in a given deployment (e.g. a one-sided relayer).
func New(store Pinger, hub SubscriberCounter, cursors CursorSource, evmTip, moveTip ChainTip) *Reporter {
	return &Reporter{
		store:     store,
		hub:       hub,
		cursors:   cursors,
		evmTip:    evmTip,
		moveTip:   moveTip,
		startedAt: time.Now(),
	}
}

// Report computes the current Status.
func (r *Reporter) Report(ctx context.Context) Status {
	st := Status{
		Healthy: true,
		Uptime:  time.Since(r.startedAt),
	}

	if r.store != nil {
		st.StoreReachable = r.store.Ping() == nil
		if !st.StoreReachable {
			st.Healthy = false
		}
	}

	if r.hub != nil {
		st.Subscribers = r.hub.SubscriberCount()
	}

	if r.cursors != nil {
		if pos, ok, err := r.cursors.CursorOf("evm"); err == nil && ok {
			st.EVMCursor = pos
		}
		if pos, ok, err := r.cursors.CursorOf("move"); err == nil && ok {
			st.MoveCursor = pos
		}
	}

	if r.evmTip != nil {
		if tip, err := r.evmTip.Tip(ctx); err == nil {
			st.EVMTip = tip
			st.EVMLag = lagOf(tip, st.EVMCursor)
		}
	}
	if r.moveTip != nil {
		if tip, err := r.moveTip.Tip(ctx); err == nil {
			st.MoveTip = tip
			st.MoveLag = lagOf(tip, st.MoveCursor)
		}
	}

	return st
}

func lagOf(tip, cursor uint64) uint64 {
	if tip <= cursor {
		return 0
	}
	return tip - cursor
}
