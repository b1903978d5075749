// Package core implements the per-peer connection state machine and the
// transaction multiplexer: PeerState, IoReq, and Transaction.
package core

import (
	"os"

	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// FileDisposition controls what happens to a FileRegion's descriptor once
// it has been fully transmitted.
type FileDisposition int

const (
	// Retain leaves the descriptor open and owned by the caller.
	Retain FileDisposition = iota
	// Close closes the descriptor once transmission finishes.
	Close
	// DropCache passes the transmitted range to dropPageCache (the
	// POSIX_FADV_DONTNEED step of the original), then closes the
	// descriptor. dropPageCache is a no-op, so no advice reaches the
	// kernel and DropCache behaves like Close.
	DropCache
)

// FileRegion describes a zero-copy file-backed transmission: Length bytes
// of File starting at Offset are streamed without a userspace buffer.
type FileRegion struct {
	File   *os.File
	Offset int64
	Length int64
}

// IoReq is a single unit of outbound transmission, carrying its three
// regions in the fixed transmission order: Header, then Data, then File.
type IoReq struct {
	Header []byte
	Data   []byte
	File   *FileRegion
	OnExit FileDisposition

	// sent is the byte count Remaining subtracts from TotalSize. The send
	// path (PeerState.writeOne) writes each region to completion and does
	// not advance it, so Remaining always equals TotalSize.
	sent int64
}

// TotalSize is the number of bytes this request will put on the wire.
func (r *IoReq) TotalSize() int64 {
	total := int64(len(r.Header)) + int64(len(r.Data))
	if r.File != nil {
		total += r.File.Length
	}
	return total
}

// Remaining is TotalSize minus bytes already written.
func (r *IoReq) Remaining() int64 { return r.TotalSize() - r.sent }

// free releases the file descriptor per OnExit, once the request has been
// fully written or abandoned.
func (r *IoReq) free() {
	if r.File == nil || r.File.File == nil {
		return
	}
	switch r.OnExit {
	case Close, DropCache:
		dropPageCache(r.File)
		_ = r.File.File.Close()
	case Retain:
	}
}

// dropPageCache advises the kernel to evict a transmitted file range from
// the page cache. There is no portable Go equivalent of POSIX_FADV_DONTNEED
// across the platforms this module targets, so it is a documented no-op.
var dropPageCache = func(f *FileRegion) {}

// HeaderFromMessage builds the Header region for a reply or forwarded
// request from a wire.CommandHeader.
func HeaderFromMessage(h *wire.CommandHeader) []byte {
	return h.Bytes()
}
