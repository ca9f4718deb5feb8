package osdc

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/congxueyang/osdclient/pkg/layout"
	"github.com/congxueyang/osdclient/pkg/wireproto"
)

// Vino identifies an inode plus the snapshot it is read through.
type Vino struct {
	Ino  uint64
	Snap uint64
}

const NoSnap uint64 = ^uint64(0)

// SnapContext is the client-side snapshot descriptor attached to
// writes. It is an immutable value here rather than a ref-counted
// pointer: Go's GC keeps it alive exactly as long as any request
// referencing it, which is the only externally observable guarantee
// the original's put_snap_context collaborator offered (see DESIGN.md).
type SnapContext struct {
	Seq   uint64
	Snaps []uint64
}

// Opcode is the request's primary operation.
type Opcode uint16

const (
	OpRead  Opcode = Opcode(wireproto.OpRead)
	OpWrite Opcode = Opcode(wireproto.OpWrite)
)

// Request is a single in-flight (file,offset,length) operation
// translated onto one object. See the invariants in spec §3: it lives
// in the tid index iff registered, is attached to at most one OSD
// session, and got_reply only ever transitions 0 -> 1.
type Request struct {
	// pageMu is the per-message page_mutex of the concurrency model:
	// it guards requestMsg/replyMsg page-vector revocation so abort
	// and a concurrent retry or reply agree on ordering.
	pageMu sync.Mutex

	tid uint64
	oid string

	vino       Vino
	fileLayout layout.FileLayout
	pool       uint32
	pgCount    uint32
	off        uint64
	plen       uint64 // the (possibly shortened) extent length
	opcode     Opcode
	flags      uint32
	snapCtx    SnapContext
	truncSeq   uint32
	truncSize  uint64
	mtime      time.Time
	doSync     bool
	nofail     bool
	fromPool   bool

	pages    [][]byte
	ownPages bool

	requestMsg []byte
	replyMsg   []byte // parked inbound reply, cleared once consumed

	osd *session // back-reference; nil between placements

	lastReassertVersion wireproto.ReassertVersion
	timeoutStamp        time.Time

	gotReply      bool
	aborted       atomic.Bool
	resend        bool
	preparedPages bool

	result int64

	completion     chan struct{}
	safeCompletion chan struct{}
	completionOnce sync.Once
	safeOnce       sync.Once

	refCount int32

	callback     func(r *Request)
	safeCallback func(r *Request)

	logger *log.Entry
}

func newRequestShell() *Request {
	return &Request{
		completion:     make(chan struct{}),
		safeCompletion: make(chan struct{}),
	}
}

func resetRequestShell(r *Request) {
	*r = Request{
		completion:     make(chan struct{}),
		safeCompletion: make(chan struct{}),
	}
}

// get increments the reference count. Returns the new count.
func (r *Request) get() int32 {
	return atomic.AddInt32(&r.refCount, 1)
}

// put decrements the reference count; the caller must stop touching r
// once it reaches zero, matching spec §3's "freed only when ref_count
// reaches zero".
func (r *Request) put() int32 {
	return atomic.AddInt32(&r.refCount, -1)
}

// Result returns the final return code: bytes transferred on success,
// or a negative error code. Safe to call once <-r.completion has
// fired, which happens-before any caller observes this value.
func (r *Request) Result() int64 {
	return r.result
}

// signalCompletion is safe to call more than once; only the first
// call closes the channel.
func (r *Request) signalCompletion() {
	r.completionOnce.Do(func() { close(r.completion) })
}

func (r *Request) signalSafeCompletion() {
	r.safeOnce.Do(func() { close(r.safeCompletion) })
}
