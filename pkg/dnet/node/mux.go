package node

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/definition"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// sweepTick is how often the timer goroutine wakes when it has no known
// earliest deadline to sleep to directly; a real deadline insertion nudges
// it sooner via the nudge channel.
const sweepTick = 50 * time.Millisecond

// Multiplexer is the node-wide half of spec §4.3: transaction id
// allocation and forwarding live here since they span peers, while the
// per-peer index (trans_by_id/trans_by_deadline) and MORE-flag matching
// live on core.PeerState itself.
type Multiplexer struct {
	nextID atomic.Uint64

	nudge   chan struct{}
	metrics *Metrics
	log     definition.Logger

	// seenForwards records recently forwarded transaction ids so the
	// forwards metric is counted at most once per id. Every Forward call
	// allocates a fresh id, so a request forwarded twice is counted twice.
	seenForwards *lru.Cache[uint64, struct{}]
}

// NewMultiplexer builds a multiplexer. startID lets tests pin a
// deterministic starting point; production callers pass 1.
func NewMultiplexer(startID uint64, metrics *Metrics, log definition.Logger) *Multiplexer {
	cache, _ := lru.New[uint64, struct{}](4096)
	m := &Multiplexer{
		nudge:        make(chan struct{}, 1),
		metrics:      metrics,
		log:          log,
		seenForwards: cache,
	}
	m.nextID.Store(startID)
	return m
}

// NextID allocates the next monotonically increasing transaction id.
func (m *Multiplexer) NextID() uint64 {
	return m.nextID.Add(1)
}

// Nudge wakes the sweep loop early when a nearer deadline is inserted,
// the Go analogue of dnet_trans_insert_timer_nolock's timer-tree
// reinsertion waking the timer thread.
func (m *Multiplexer) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// RunSweepLoop sweeps every peer's expired transactions until ctx is
// cancelled. peersFn is called on each tick to get the current peer set,
// since peers come and go as connections are made and reset.
func (m *Multiplexer) RunSweepLoop(ctx context.Context, peersFn func() []*core.PeerState) {
	timer := time.NewTimer(sweepTick)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.nudge:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(time.Millisecond)
		case <-timer.C:
			now := time.Now()
			peers := peersFn()
			earliest := m.sweepAll(peers, now)
			wait := sweepTick
			if !earliest.IsZero() {
				if d := earliest.Sub(now); d > 0 && d < wait {
					wait = d
				}
			}
			timer.Reset(wait)
		}
	}
}

func (m *Multiplexer) sweepAll(peers []*core.PeerState, now time.Time) time.Time {
	var earliest time.Time
	outstanding := 0
	for _, p := range peers {
		before := countOutstanding(p)
		p.SweepExpired(now)
		after := countOutstanding(p)
		outstanding += after
		if m.metrics != nil && after < before {
			m.metrics.Timeouts.Add(float64(before - after))
		}
		if d, ok := p.EarliestDeadline(); ok {
			if earliest.IsZero() || d.Before(earliest) {
				earliest = d
			}
		}
	}
	if m.metrics != nil {
		m.metrics.Outstanding.Set(float64(outstanding))
	}
	return earliest
}

func countOutstanding(p *core.PeerState) int { return p.OutstandingCount() }

// forwardState is the closure state kept alive for the lifetime of a
// forwarded transaction: the original peer and transaction id it must
// rewrite the eventual reply back to.
type forwardState struct {
	originPeer *core.PeerState
	originID   uint64
	onComplete func(hdr *wire.CommandHeader, body []byte, err error)
}

// Forward allocates a sub-transaction on target whose callback repackages
// the eventual reply with the original transaction id and invokes
// onComplete, exactly as spec §4.3's forwarding algorithm describes.
func (m *Multiplexer) Forward(origin *core.PeerState, originalID uint64, target *core.PeerState, hdr *wire.CommandHeader, req *core.IoReq, wait time.Duration, onComplete func(*wire.CommandHeader, []byte, error)) error {
	fwdID := m.NextID()
	fs := &forwardState{originPeer: origin, originID: originalID, onComplete: onComplete}

	rewritten := *hdr
	rewritten.TransactionID = fwdID
	req.Header = rewritten.Bytes()

	trans := &core.Transaction{
		ID:     fwdID,
		Opcode: hdr.Opcode,
		Wait:   wait,
		Callback: func(r core.Reply) {
			if r.Err != nil {
				fs.onComplete(nil, nil, r.Err)
				return
			}
			reply := *r.Header
			reply.TransactionID = fs.originID
			fs.onComplete(&reply, r.Body, nil)
		},
	}

	if m.metrics != nil {
		if _, seen := m.seenForwards.Get(fwdID); !seen {
			m.seenForwards.Add(fwdID, struct{}{})
			m.metrics.Forwards.Inc()
		}
	}

	if err := target.SendRequest(trans, req); err != nil {
		m.log.Warnf("forward to %s failed: %v", target.Primary, err)
		return err
	}
	m.Nudge()
	return nil
}
