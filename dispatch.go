package osdc

import (
	"context"
	"fmt"
	"time"

	"github.com/congxueyang/osdclient/pkg/crush"
	"github.com/congxueyang/osdclient/pkg/layout"
	"github.com/congxueyang/osdclient/pkg/wireproto"
)

// NewRequestArgs bundles new_request's many inputs (spec §4.1).
type NewRequestArgs struct {
	FileLayout   layout.FileLayout
	Pool         uint32 // which placement pool the object belongs to
	PGCount      uint32
	Vino         Vino
	Off          uint64
	Len          uint64 // NewRequest returns the length shortened to the object boundary
	Opcode       Opcode
	Flags        uint32
	SnapCtx      SnapContext
	DoSync       bool
	TruncSeq     uint32
	TruncSize    uint64
	Mtime        time.Time
	UsePool      bool
	Ticket       []byte
	Pages        [][]byte // borrowed page buffers backing the payload
	OwnPages     bool
}

// NewRequest builds an unregistered, unattached request with
// ref_count 1 (spec §4.1).
// allocRequestShell is the general allocator path new_request uses
// when use_pool is false (spec §4.1 step 1). It is a package variable
// so tests can simulate an allocation failure: Go's runtime allocator
// gives no equivalent to the original's kzalloc returning NULL, so
// this hook substitutes for that failure mode.
var allocRequestShell = newRequestShell

func (c *Client) NewRequest(args NewRequestArgs) (*Request, uint64, error) {
	var r *Request
	if args.UsePool {
		// The bounded pool exists precisely so a writeback caller
		// asking for it is guaranteed not to fail under memory
		// pressure (spec §5); GetWait blocks rather than failing.
		r = c.pool.GetWait()
		r.fromPool = true
	} else {
		r = allocRequestShell()
		if r == nil {
			return nil, 0, ErrOutOfMemory
		}
	}

	bno, objOff, objLen, err := layout.FileExtentToObject(args.FileLayout, args.Off, args.Len)
	if err != nil {
		c.releaseShell(r)
		return nil, 0, err
	}

	oid := fmt.Sprintf("%x.%08x", args.Vino.Ino, bno)

	numOps := 1
	doTrunc := args.TruncSeq != 0 && args.Off+objLen > args.TruncSize
	if doTrunc {
		numOps++
	}
	if args.DoSync {
		numOps++
	}

	ops := make([]wireproto.OpRecord, 0, numOps)
	mainOp := wireproto.OpRecord{Offset: objOff, Length: objLen}
	switch args.Opcode {
	case OpRead:
		mainOp.Op = wireproto.OpRead
	case OpWrite:
		mainOp.Op = wireproto.OpWrite
		mainOp.PayloadLen = uint32(objLen)
	}
	ops = append(ops, mainOp)

	if doTrunc {
		// The truncation point is object-local: the file-level size
		// less the file offset of the object's start, floored at 0.
		truncPoint := uint64(0)
		if base := args.Off - objOff; args.TruncSize > base {
			truncPoint = args.TruncSize - base
		}
		truncOp := wireproto.OpRecord{TruncateSeq: args.TruncSeq, TruncateSize: truncPoint}
		if args.Opcode == OpRead {
			truncOp.Op = wireproto.OpMaskTrunc
		} else {
			truncOp.Op = wireproto.OpSetTrunc
		}
		ops = append(ops, truncOp)
	}
	if args.DoSync {
		ops = append(ops, wireproto.OpRecord{Op: wireproto.OpStartSync})
	}

	flags := args.Flags
	switch args.Opcode {
	case OpRead:
		flags |= wireproto.FlagRead
	case OpWrite:
		flags |= wireproto.FlagWrite
	}

	h := wireproto.RequestHeader{
		ClientInc: c.cfg.ClientInc,
		Flags:     flags,
		NumOps:    uint16(numOps),
		ObjectLen: uint32(len(oid)),
		TicketLen: uint32(len(args.Ticket)),
		SnapSeq:   args.SnapCtx.Seq,
		NumSnaps:  uint32(len(args.SnapCtx.Snaps)),
		Layout:    wireproto.PGLocator{Pool: args.Pool, Hash: crush.ObjectLayout(oid, crush.FileLayout{Pool: args.Pool, PGCount: args.PGCount}).Seed},
	}
	if !args.Mtime.IsZero() {
		h.MtimeSec = uint32(args.Mtime.Unix())
		h.MtimeNsec = uint32(args.Mtime.Nanosecond())
	}

	msg, err := wireproto.EncodeRequest(h, ops, []byte(oid), args.Ticket, args.SnapCtx.Snaps)
	if err != nil {
		c.releaseShell(r)
		return nil, 0, err
	}

	r.oid = oid
	r.vino = args.Vino
	r.fileLayout = args.FileLayout
	r.pool = args.Pool
	r.pgCount = args.PGCount
	r.off = args.Off
	r.plen = objLen
	r.opcode = args.Opcode
	r.flags = flags
	r.snapCtx = args.SnapCtx
	r.truncSeq = args.TruncSeq
	r.truncSize = args.TruncSize
	r.mtime = args.Mtime
	r.doSync = args.DoSync
	r.pages = args.Pages
	r.ownPages = args.OwnPages
	r.requestMsg = msg
	r.refCount = 1
	r.logger = c.logger.WithField("oid", oid)

	return r, objLen, nil
}

func (c *Client) releaseShell(r *Request) {
	if r.fromPool {
		c.pool.Put(r)
	}
}

// placeResult mirrors map_osds's UNCHANGED/CHANGED outcome.
type placeResult int

const (
	placeUnchanged placeResult = iota
	placeChanged
)

// mapOsdsLocked computes placement for r and attaches it to the right
// session, detaching from any prior one (spec §4.2). Caller holds
// mapMu (read) and reqMu.
func (c *Client) mapOsdsLocked(r *Request) (placeResult, error) {
	pg := crush.ObjectLayout(r.oid, crush.FileLayout{Pool: r.pool, PGCount: r.pgCount})
	osdID, ok := crush.PGPrimary(c.osdmap, crush.PGID{Pool: r.pool, Seed: pg.Seed})
	if !ok {
		osdID = crush.NoOSD
	}

	if r.osd != nil && r.osd.id == osdID && osdID != crush.NoOSD {
		return placeUnchanged, nil
	}

	if r.osd != nil {
		old := r.osd
		old.detach(r)
		if old.empty() {
			delete(c.osds, old.id)
		}
	}

	if osdID == crush.NoOSD {
		return placeChanged, nil
	}

	s, ok := c.osds[osdID]
	if !ok {
		addr, _ := c.osdmap.Addr(osdID)
		s = newSession(osdID, addr)
		c.osds[osdID] = s
	}
	s.attach(r)
	return placeChanged, nil
}

// sendRequestLocked runs placement and, if a primary is available,
// hands the message to the messenger (spec §4.3). The request-index
// lock is dropped across the Send call itself and reacquired before
// returning, per the never-hold-across rule of spec §5.
func (c *Client) sendRequestLocked(ctx context.Context, r *Request) error {
	if _, err := c.mapOsdsLocked(r); err != nil {
		return err
	}

	if r.osd == nil {
		r.logger.Debugf("[OSDC][TX][x%x] NO PRIMARY | pool %d requesting newer map", r.tid, r.pool)
		c.mon.RequestOSDMap(c.osdmap.Epoch + 1)
		return nil
	}

	if err := wireproto.PatchHeaderFields(r.requestMsg, c.osdmap.Epoch, r.flags, r.lastReassertVersion); err != nil {
		return err
	}

	r.timeoutStamp = time.Now().Add(c.cfg.OSDTimeout)

	addr := r.osd.addr
	msg := r.requestMsg
	retry := r.flags&wireproto.FlagRetry != 0

	c.reqMu.Unlock()
	err := c.msgr.Send(ctx, addr, msg)
	c.reqMu.Lock()

	if err != nil {
		r.logger.WithError(err).Warnf("[OSDC][TX][x%x] SEND FAILED | osd %s retry=%v", r.tid, addr, retry)
	} else {
		r.logger.Debugf("[OSDC][TX][x%x] SEND | osd %s retry=%v %d bytes", r.tid, addr, retry, len(msg))
	}
	return err
}

