package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/definition"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// ErrNoRoute is returned locally, and surfaced to the client as the
// reply's nonzero status, when no peer owns the request's target key
// (spec §7's NoRoute error kind).
var ErrNoRoute = errors.New("dnet: no peer owns the target key")

const (
	statusOK      wire.Status = 0
	statusNoRoute wire.Status = 1
	statusBackend wire.Status = 2
)

// frame is one fully-framed inbound message handed from a reactor reader
// goroutine to the I/O worker pool.
type frame struct {
	peer *core.PeerState
	msg  *wire.Message
}

// Dispatcher is the IOThreadNum-worker pool of spec §4.4: it consumes
// framed messages from a shared bounded queue and, per request, decides
// whether it is a reply (matchReply), a local backend call, or a forward.
type Dispatcher struct {
	queue   chan frame
	workers int
	bp      *Backpressure

	backend     BackendDispatcher
	routes      RouteTable
	mux         *Multiplexer
	metrics     *Metrics
	log         definition.Logger
	waitTimeout time.Duration

	// selfPeer is the handle RouteTable.Lookup returns for locally-owned
	// keys (node.NewNode wires it via SetSelfPeer at construction time);
	// requests destined for it are handled by backend directly instead of
	// being forwarded to themselves.
	selfPeer *core.PeerState

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the given worker count and
// backpressure limiter.
func NewDispatcher(workers int, bp *Backpressure, backend BackendDispatcher, routes RouteTable, mux *Multiplexer, metrics *Metrics, log definition.Logger, waitTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		queue:       make(chan frame, 1024),
		workers:     workers,
		bp:          bp,
		backend:     backend,
		routes:      routes,
		mux:         mux,
		metrics:     metrics,
		log:         log,
		waitTimeout: waitTimeout,
	}
}

// SetSelfPeer records the peer handle representing this node, used to
// short-circuit forwarding for locally-owned keys.
func (d *Dispatcher) SetSelfPeer(p *core.PeerState) { d.selfPeer = p }

// Start launches the worker pool and returns immediately. Workers exit
// when ctx is cancelled, leaving any frames still queued unprocessed; use
// Wait to block until they have exited.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until every worker goroutine has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(f.peer, f.msg)
		}
	}
}

// Submit reserves backpressure for msg's size and enqueues it for a
// worker. It blocks if the soft limit is exceeded, per spec §4.4 — this
// is the one blocking point a reactor reader goroutine accepts, since it
// is itself the "I/O queue producer" the design calls out.
func (d *Dispatcher) Submit(peer *core.PeerState, msg *wire.Message) {
	size := int64(wire.HeaderSize) + int64(len(msg.Body))
	d.bp.Reserve(size)
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(d.bp.Used()))
	}
	d.queue <- frame{peer: peer, msg: msg}
}

func (d *Dispatcher) handle(peer *core.PeerState, msg *wire.Message) {
	size := int64(wire.HeaderSize) + int64(len(msg.Body))
	defer func() {
		d.bp.Release(size)
		if d.metrics != nil {
			d.metrics.QueueDepth.Set(float64(d.bp.Used()))
		}
	}()
	if d.metrics != nil {
		d.metrics.BytesRecv.Add(float64(size))
	}

	if msg.Header.Flags.Has(wire.FlagReply) {
		if !peer.MatchReply(msg) && d.metrics != nil {
			d.metrics.LateReplies.Inc()
		}
		return
	}

	if msg.Header.Opcode == wire.OpUpdateIDs {
		d.handleUpdateIDs(peer, msg)
		return
	}

	ctx := NewRequestContext(msg.Header)
	defer ctx.Release()

	if !msg.Header.Flags.Has(wire.FlagDirect) && d.routes != nil {
		owner, ok := d.routes.Lookup(msg.Header.KeyID)
		if !ok {
			d.reply(peer, msg.Header, nil, ErrNoRoute)
			return
		}
		if owner != nil && owner != d.selfPeer {
			d.forwardRequest(peer, msg, owner)
			return
		}
	}

	body, err := d.backend.Handle(ctx, msg.Header, msg.Body)
	d.reply(peer, msg.Header, body, err)
}

// handleUpdateIDs decodes an UPDATE_IDS payload and publishes the sending
// peer's backend ranges into the route table (spec.md:175), then
// acknowledges with a zero-status reply.
func (d *Dispatcher) handleUpdateIDs(peer *core.PeerState, msg *wire.Message) {
	ranges, err := DecodeRanges(msg.Body)
	if err != nil {
		d.reply(peer, msg.Header, nil, err)
		return
	}
	if d.routes != nil {
		d.routes.Publish(peer, ranges)
	}
	d.reply(peer, msg.Header, nil, nil)
}

func (d *Dispatcher) forwardRequest(origin *core.PeerState, msg *wire.Message, owner *core.PeerState) {
	req := &core.IoReq{Data: msg.Body}
	originalID := msg.Header.TransactionID
	err := d.mux.Forward(origin, originalID, owner, msg.Header, req, d.waitTimeout, func(hdr *wire.CommandHeader, body []byte, err error) {
		if err != nil {
			d.reply(origin, &wire.CommandHeader{TransactionID: originalID, Opcode: msg.Header.Opcode}, nil, err)
			return
		}
		d.reply(origin, hdr, body, nil)
	})
	if err != nil {
		d.reply(origin, msg.Header, nil, err)
	}
}

// reply builds a REPLY-flagged header for hdr's transaction and enqueues
// it on origin. A non-nil err produces an empty body and a nonzero
// status, mirroring the original's errno-in-status convention.
func (d *Dispatcher) reply(origin *core.PeerState, hdr *wire.CommandHeader, body []byte, err error) {
	status := statusOK
	if err != nil {
		body = nil
		switch {
		case errors.Is(err, ErrNoRoute):
			status = statusNoRoute
		default:
			status = statusBackend
		}
	}

	replyHdr := &wire.CommandHeader{
		KeyID:         hdr.KeyID,
		TransactionID: hdr.TransactionID,
		Flags:         wire.FlagReply,
		Opcode:        hdr.Opcode,
		Status:        status,
		TraceID:       hdr.TraceID,
		PayloadSize:   uint64(len(body)),
	}
	req := &core.IoReq{Header: replyHdr.Bytes(), Data: body}
	if enqErr := origin.Enqueue(req); enqErr != nil {
		d.log.Warnf("failed replying to transaction %d: %v", hdr.TransactionID, enqErr)
		return
	}
	if d.metrics != nil {
		d.metrics.BytesSent.Add(float64(len(req.Header) + len(body)))
	}
}
