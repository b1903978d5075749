package node

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/jabolina/dnet/pkg/dnet/definition"
)

// Reconnect is the auxiliary thread spec §4.4 names: it scans a set of
// addresses recorded by PeerState.Reset (only when the peer had published
// route entries as JoinedServer, per the original's join-state gate) and
// attempts to re-establish them at a fixed interval. It never retries on
// the peer's own goroutine, matching the Non-goal that the core does not
// reconnect broken peers on its own thread.
type Reconnect struct {
	pending  mapset.Set[string]
	interval time.Duration
	dial     func(addr string) error
	log      definition.Logger
}

// NewReconnect builds a reconnect loop. dial is the node's Dial callback,
// invoked with the textual address recorded at reset time.
func NewReconnect(interval time.Duration, dial func(addr string) error, log definition.Logger) *Reconnect {
	return &Reconnect{
		pending:  mapset.NewSet[string](),
		interval: interval,
		dial:     dial,
		log:      log,
	}
}

// Add schedules addr for the next reconnect tick. Duplicate adds before
// the address is retried are coalesced by the underlying set.
func (r *Reconnect) Add(addr string) {
	r.pending.Add(addr)
}

// Run ticks at the configured interval, attempting every pending address;
// addresses that fail stay pending for the next tick, successes are
// removed.
func (r *Reconnect) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reconnect) tick() {
	for _, addr := range r.pending.ToSlice() {
		if err := r.dial(addr); err != nil {
			r.log.Debugf("reconnect to %s still failing: %v", addr, err)
			continue
		}
		r.pending.Remove(addr)
	}
}
