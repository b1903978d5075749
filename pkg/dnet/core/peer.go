package core

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// JoinState records how a peer came to be known, driving whether it is
// eligible for reconnect after a reset (spec §4.2 connection lifecycle,
// supplemented by original_source's join-state reconnect gate).
type JoinState int

const (
	Detached JoinState = iota
	Client
	JoinedServer
)

func (s JoinState) String() string {
	switch s {
	case Client:
		return "client"
	case JoinedServer:
		return "joined-server"
	default:
		return "detached"
	}
}

// ConnState is the per-peer connection lifecycle state from spec §4.2.
type ConnState int

const (
	Connecting ConnState = iota
	HandshakeOut
	HandshakeWait
	Established
	Resetting
	Terminal
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case HandshakeOut:
		return "handshake-out"
	case HandshakeWait:
		return "handshake-wait"
	case Established:
		return "established"
	case Resetting:
		return "resetting"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Errors surfaced by PeerState operations, per spec §7's error taxonomy.
var (
	ErrClosed       = errors.New("dnet: peer is closed")
	ErrDuplicate    = errors.New("dnet: duplicate transaction id")
	ErrNotFound     = errors.New("dnet: transaction not found")
	ErrTimeout      = errors.New("dnet: transaction deadline elapsed")
	ErrConnReset    = errors.New("dnet: connection reset by peer")
)

// Logger is the minimal logging surface PeerState needs; definition.Logger
// satisfies it.
type Logger interface {
	Debugf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// PeerState is one connected remote address: the read/write sides, the
// pending send queue, and the two transaction indexes. One instance exists
// per connected peer, per spec §3.
type PeerState struct {
	Primary   wire.Address
	Addresses []wire.Address

	conn net.Conn
	log  Logger

	joinState JoinState
	connState ConnState
	stateMu   sync.Mutex

	sendMu    sync.Mutex
	sendCond  *sync.Cond
	sendQueue []*IoReq
	needExit  error

	transMu   sync.Mutex
	transByID map[uint64]*Transaction
	deadline  deadlineHeap

	// DropMask is consulted by SendRequest for fault-injection tests:
	// when it reports true for an opcode, the transaction is silently
	// dropped instead of sent, per spec §4.2.
	DropMask func(wire.Opcode) bool

	// onReset is invoked once, with the terminal error, when the peer
	// transitions to Resetting. Node wires this to evict the peer from
	// the route table and the reactor's peer set.
	onReset func(*PeerState, error)

	cork     bool
	nodelay  bool
	sockopts SocketOptions
}

// SocketOptions mirrors the node-config-driven socket options from
// spec §4.2.
type SocketOptions struct {
	KeepCount    int
	KeepIdle     time.Duration
	KeepInterval time.Duration
	Linger       time.Duration

	// ClientPriority and ServerPriority are the IP_TOS values applied
	// depending on connection role: dialing connections get
	// ClientPriority, accepted connections get ServerPriority (spec
	// §4.2).
	ClientPriority int
	ServerPriority int
}

// NewPeerState wraps an already-connected net.Conn. Role determines the
// starting ConnState: dialing peers start Connecting, accepted peers start
// HandshakeWait with roles reversed (spec §4.2).
func NewPeerState(addr wire.Address, conn net.Conn, accepted bool, opts SocketOptions, log Logger) *PeerState {
	p := &PeerState{
		Primary:   addr,
		Addresses: []wire.Address{addr},
		conn:      conn,
		log:       log,
		transByID: make(map[uint64]*Transaction),
		sockopts:  opts,
	}
	p.sendCond = sync.NewCond(&p.sendMu)
	if accepted {
		p.connState = HandshakeWait
	} else {
		p.connState = Connecting
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = applySocketOptions(tcpConn, opts, accepted)
	}
	return p
}

// NewLocalPeerState builds the sentinel PeerState a node uses to represent
// itself: RouteTable.Lookup returns it for locally-owned keys so the
// dispatcher can recognize "this is mine" (spec §3/§4.4's local-serve
// path) without a real socket. It carries no connection and must never
// have Start, Enqueue, or SendRequest called on it.
func NewLocalPeerState(addr wire.Address) *PeerState {
	p := &PeerState{
		Primary:   addr,
		Addresses: []wire.Address{addr},
		transByID: make(map[uint64]*Transaction),
	}
	p.sendCond = sync.NewCond(&p.sendMu)
	p.connState = Established
	return p
}

// SetOnReset registers the callback the peer invokes exactly once when it
// transitions into Resetting.
func (p *PeerState) SetOnReset(fn func(*PeerState, error)) {
	p.stateMu.Lock()
	p.onReset = fn
	p.stateMu.Unlock()
}

// State returns the current connection lifecycle state.
func (p *PeerState) State() ConnState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.connState
}

func (p *PeerState) setState(s ConnState) {
	p.stateMu.Lock()
	p.connState = s
	p.stateMu.Unlock()
}

// MarkEstablished transitions the peer to Established once its handshake
// completes successfully; node/reactor.go drives this after the AUTH
// exchange resolves with status 0.
func (p *PeerState) MarkEstablished() {
	p.setState(Established)
}

// SetJoinState records whether this peer joined as a bare client or
// published route entries as a server; reconnect eligibility on reset
// depends on it.
func (p *PeerState) SetJoinState(s JoinState) {
	p.stateMu.Lock()
	p.joinState = s
	p.stateMu.Unlock()
}

// GetJoinState returns the peer's current join state.
func (p *PeerState) GetJoinState() JoinState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.joinState
}

// HasAddress reports whether addr matches the peer's primary address or
// any of its advertised alternate addresses — peers may have multiple
// interfaces, and all are recorded for equality checks (spec §3).
func (p *PeerState) HasAddress(addr wire.Address) bool {
	for _, a := range p.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Enqueue appends req to the send queue and wakes the writer goroutine.
// It fails with ErrClosed once the peer has entered need_exit state.
func (p *PeerState) Enqueue(req *IoReq) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.needExit != nil {
		return ErrClosed
	}
	p.sendQueue = append(p.sendQueue, req)
	p.sendCond.Signal()
	return nil
}

// SendRequest atomically inserts t into both transaction indexes, updates
// its deadline, then enqueues req. On enqueue failure the transaction is
// removed before returning, per spec §4.2.
func (p *PeerState) SendRequest(t *Transaction, req *IoReq) error {
	t.Peer = p
	t.Start = time.Now()
	t.touch(t.Start)

	p.transMu.Lock()
	if _, dup := p.transByID[t.ID]; dup {
		p.transMu.Unlock()
		return ErrDuplicate
	}
	p.transByID[t.ID] = t
	heap.Push(&p.deadline, t)
	p.transMu.Unlock()

	if p.DropMask != nil && p.DropMask(t.Opcode) {
		// Fault-injection: pretend the send happened but never deliver,
		// leaving the transaction to expire via the timeout sweep.
		return nil
	}

	if err := p.Enqueue(req); err != nil {
		p.removeTransaction(t.ID)
		return err
	}
	return nil
}

func (p *PeerState) removeTransaction(id uint64) *Transaction {
	p.transMu.Lock()
	defer p.transMu.Unlock()
	t, ok := p.transByID[id]
	if !ok {
		return nil
	}
	delete(p.transByID, id)
	if t.heapIndex >= 0 && t.heapIndex < len(p.deadline) && p.deadline[t.heapIndex] == t {
		heap.Remove(&p.deadline, t.heapIndex)
	}
	return t
}

// earliestDeadline peeks the head of the deadline heap, used by the
// multiplexer's timer thread to find the earliest deadline across peers.
func (p *PeerState) earliestDeadline() (time.Time, bool) {
	p.transMu.Lock()
	defer p.transMu.Unlock()
	if len(p.deadline) == 0 {
		return time.Time{}, false
	}
	return p.deadline[0].Deadline, true
}

// OutstandingCount returns the number of transactions currently registered
// on this peer, for metrics and tests.
func (p *PeerState) OutstandingCount() int {
	p.transMu.Lock()
	defer p.transMu.Unlock()
	return len(p.transByID)
}

// EarliestDeadline exposes earliestDeadline to callers outside the
// package, for the node-level timer loop that sweeps across every peer.
func (p *PeerState) EarliestDeadline() (time.Time, bool) {
	return p.earliestDeadline()
}

// SweepExpired exposes sweepExpired to callers outside the package.
func (p *PeerState) SweepExpired(now time.Time) {
	p.sweepExpired(now)
}

// sweepExpired removes and completes, with ErrTimeout, every transaction
// whose deadline has elapsed as of now. A transaction whose callback is
// currently running is skipped, per spec §4.3.
func (p *PeerState) sweepExpired(now time.Time) {
	var expired []*Transaction
	p.transMu.Lock()
	for len(p.deadline) > 0 {
		head := p.deadline[0]
		if head.running || head.Deadline.After(now) {
			break
		}
		heap.Pop(&p.deadline)
		delete(p.transByID, head.ID)
		expired = append(expired, head)
	}
	p.transMu.Unlock()

	for _, t := range expired {
		t.Callback(Reply{Err: ErrTimeout})
	}
}

// MatchReply looks up the reply's transaction id and invokes its callback.
// An id with no outstanding transaction is a late reply after timeout and
// is logged and discarded. Returns true if a transaction was matched.
func (p *PeerState) MatchReply(msg *wire.Message) bool {
	id := msg.Header.TransactionID
	more := msg.Header.Flags.Has(wire.FlagMore)

	p.transMu.Lock()
	t, ok := p.transByID[id]
	if !ok {
		p.transMu.Unlock()
		p.log.Warnf("late reply for unknown transaction %d, discarding", id)
		return false
	}
	if !more {
		delete(p.transByID, id)
		if t.heapIndex >= 0 && t.heapIndex < len(p.deadline) && p.deadline[t.heapIndex] == t {
			heap.Remove(&p.deadline, t.heapIndex)
		}
	} else {
		if t.heapIndex >= 0 && t.heapIndex < len(p.deadline) && p.deadline[t.heapIndex] == t {
			heap.Remove(&p.deadline, t.heapIndex)
		}
	}
	t.running = true
	t.Stats.Replies++
	p.transMu.Unlock()

	t.Callback(Reply{Header: msg.Header, Body: msg.Body})

	p.transMu.Lock()
	t.running = false
	if more {
		t.touch(time.Now())
		heap.Push(&p.deadline, t)
	}
	p.transMu.Unlock()
	return true
}

// ReceiveOne frames one message off the connection. It returns io.EOF when
// the peer has drained cleanly, or a transport error on reset/malformed
// frame — callers should Reset the peer on any non-EOF error.
func (p *PeerState) ReceiveOne(minAttr wire.MinAttrSizer) (*wire.Message, error) {
	return wire.ReadMessage(p.conn, minAttr)
}

// Reset transitions the peer into failing state: marks need_exit, closes
// the connection, and drains every outstanding transaction to be completed
// with err on the calling goroutine after locks are released (spec §5
// cancellation).
func (p *PeerState) Reset(err error) {
	if err == nil {
		err = ErrConnReset
	}

	p.sendMu.Lock()
	alreadyExiting := p.needExit != nil
	if !alreadyExiting {
		p.needExit = err
	}
	queue := p.sendQueue
	p.sendQueue = nil
	p.sendCond.Broadcast()
	p.sendMu.Unlock()

	if alreadyExiting {
		return
	}

	p.setState(Resetting)
	_ = p.conn.Close()

	for _, req := range queue {
		req.free()
	}

	p.transMu.Lock()
	drained := make([]*Transaction, 0, len(p.transByID))
	for _, t := range p.transByID {
		drained = append(drained, t)
	}
	p.transByID = make(map[uint64]*Transaction)
	p.deadline = nil
	p.transMu.Unlock()

	for _, t := range drained {
		if !t.running {
			t.Callback(Reply{Err: err})
		}
	}

	p.setState(Terminal)
	if p.onReset != nil {
		p.onReset(p, err)
	}
}

// NeedExit reports the sentinel error recorded by Reset, or nil if the
// peer is healthy.
func (p *PeerState) NeedExit() error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.needExit
}

// sendLoop drains the send queue onto the wire until the peer resets. It
// is run by the one writer goroutine each PeerState owns, the Go-native
// analogue of the reactor's writability-driven send path in spec §4.2.
func (p *PeerState) sendLoop() {
	for {
		p.sendMu.Lock()
		for len(p.sendQueue) == 0 && p.needExit == nil {
			p.sendCond.Wait()
		}
		if p.needExit != nil {
			p.sendMu.Unlock()
			return
		}
		req := p.sendQueue[0]
		p.sendQueue = p.sendQueue[1:]
		p.sendMu.Unlock()

		if err := p.writeOne(req); err != nil {
			req.free()
			p.Reset(err)
			return
		}
		req.free()
	}
}

// writeOne writes a single IoReq's three regions in order, toggling
// TCP_CORK/TCP_NODELAY around a multi-region write as spec §4.2 describes.
func (p *PeerState) writeOne(req *IoReq) error {
	multiRegion := req.TotalSize() > int64(len(req.Header))
	if multiRegion {
		p.setCork(true)
	}

	if err := p.writeAll(req.Header); err != nil {
		return err
	}
	if err := p.writeAll(req.Data); err != nil {
		return err
	}
	if req.File != nil {
		if err := p.sendFile(req.File); err != nil {
			return err
		}
	}

	if multiRegion {
		p.setCork(false)
	}
	p.setNoDelay(true)
	return nil
}

func (p *PeerState) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := p.conn.Write(buf)
		if n == 0 && err == nil {
			return fmt.Errorf("%w: zero-length write", ErrConnReset)
		}
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// sendFile streams region.Length bytes from region.File via io.Copy, the
// portable stand-in for the sendfile(2) fast path: on Linux, net.TCPConn's
// ReadFrom implementation dispatches to sendfile when the source is an
// *os.File (optionally wrapped in an io.LimitedReader), preserving the
// zero-copy behaviour spec §9 calls out as required. The file is seeked to
// region.Offset first, so its position is moved by the transfer.
func (p *PeerState) sendFile(region *FileRegion) error {
	if _, err := region.File.Seek(region.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("dnet: sendfile: %w", err)
	}
	n, err := io.Copy(p.conn, io.LimitReader(region.File, region.Length))
	if err != nil {
		return fmt.Errorf("dnet: sendfile: %w", err)
	}
	if n != region.Length {
		return fmt.Errorf("dnet: sendfile: truncated file, wrote %d want %d", n, region.Length)
	}
	return nil
}

func (p *PeerState) setCork(on bool) {
	if p.cork == on {
		return
	}
	p.cork = on
	setTCPCork(p.conn, on)
}

func (p *PeerState) setNoDelay(on bool) {
	if p.nodelay == on {
		return
	}
	p.nodelay = on
	if tcpConn, ok := p.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(on)
	}
}

// Start launches the peer's writer goroutine. Callers separately drive
// ReceiveOne from a reader goroutine (see node/reactor.go).
func (p *PeerState) Start() {
	go p.sendLoop()
}
