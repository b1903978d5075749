package node

import (
	"time"

	"github.com/google/uuid"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// RequestContext replaces the original's process-wide logger-with-trace-ids
// design note: it is threaded explicitly through the dispatcher instead of
// being recovered from thread-local state, carrying the trace id, arrival
// timestamp, and opcode for the lifetime of one request/reply cycle.
type RequestContext struct {
	TraceID  uuid.UUID
	Opcode   wire.Opcode
	Arrived  time.Time
	released bool
}

// NewRequestContext builds a context for an inbound message, pulling the
// trace id out of the header only when TRACE_BIT is set.
func NewRequestContext(hdr *wire.CommandHeader) *RequestContext {
	ctx := &RequestContext{Opcode: hdr.Opcode, Arrived: time.Now()}
	if hdr.Flags.Has(wire.FlagTraceBit) {
		ctx.TraceID = hdr.TraceID
	}
	return ctx
}

// Elapsed is the time since the request arrived.
func (c *RequestContext) Elapsed() time.Duration {
	return time.Since(c.Arrived)
}

// Release marks the context as done. It is deferred at the point a reply
// IoReq is enqueued; calling it twice is a bug and panics, matching the
// original's double-release hazard turned into a cheap programmer error
// instead of a use-after-free.
func (c *RequestContext) Release() {
	if c.released {
		panic("dnet: request context released twice")
	}
	c.released = true
}
