package osdc

import (
	"context"
	"time"

	"github.com/congxueyang/osdclient/pkg/layout"
	"github.com/congxueyang/osdclient/pkg/wireproto"
)

// AbortRequest implements spec §4.11. It sets aborted before revoking
// page pointers, under the per-message lock, so a concurrent retry
// either observes the not-yet-revoked vector and sends safely, or
// observes aborted and does not send at all.
func (c *Client) AbortRequest(r *Request) {
	r.aborted.Store(true)

	r.pageMu.Lock()
	r.pages = nil
	r.replyMsg = nil
	r.pageMu.Unlock()

	c.reqMu.Lock()
	c.unregisterLocked(r)
	c.reqMu.Unlock()

	r.signalCompletion()
	r.signalSafeCompletion()
}

// WaitRequest blocks until r's first reply arrives, or ctx is
// cancelled. For a write that reply need not be the on-disk ack; Sync
// waits for that. On cancellation the caller must call
// AbortRequest, per spec §5's cancellation rule.
func (c *Client) WaitRequest(ctx context.Context, r *Request) (int64, error) {
	select {
	case <-r.completion:
		return r.result, nil
	case <-ctx.Done():
		return 0, ErrInterrupted
	}
}

// PutRequest releases the caller's reference, returning the shell to
// the pool if it came from one.
func (c *Client) PutRequest(r *Request) {
	if r.put() == 0 {
		c.releaseShell(r)
	}
}

// Sync implements spec §4.12: captures last_tid at entry, then waits
// on the safe_completion of every write registered strictly before
// the call. The index lock is released across each wait.
func (c *Client) Sync(ctx context.Context) error {
	c.reqMu.Lock()
	captured := c.lastTid
	tids := c.sortedTidsLocked()
	waiters := make([]*Request, 0, len(tids))
	for _, tid := range tids {
		if tid > captured {
			break
		}
		r := c.requests[tid]
		if r.flags&wireproto.FlagWrite == 0 {
			continue
		}
		r.get()
		waiters = append(waiters, r)
	}
	c.reqMu.Unlock()

	for i, r := range waiters {
		select {
		case <-r.safeCompletion:
		case <-ctx.Done():
			for _, w := range waiters[i:] {
				w.put()
			}
			return ErrInterrupted
		}
		r.put()
	}
	return nil
}

// ReadPages implements spec §4.13: a thin loop over
// NewRequest -> StartRequest -> WaitRequest -> PutRequest. len is
// shortened to an object boundary by NewRequest; the caller loops for
// a full extent.
func (c *Client) ReadPages(ctx context.Context, vino Vino, fl layout.FileLayout, pool, pgCount uint32, off, length uint64, truncSeq uint32, truncSize uint64, pages [][]byte, ticket []byte) (int64, error) {
	r, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: fl, Pool: pool, PGCount: pgCount, Vino: vino,
		Off: off, Len: length, Opcode: OpRead,
		TruncSeq: truncSeq, TruncSize: truncSize, Ticket: ticket,
		Pages: pages,
	})
	if err != nil {
		return 0, err
	}
	if err := c.StartRequest(ctx, r); err != nil {
		c.PutRequest(r)
		return 0, err
	}
	n, err := c.WaitRequest(ctx, r)
	c.PutRequest(r)
	return n, err
}

// WritePages implements spec §4.13. vino.Snap must be NoSnap; writing through an actual snapshot is a caller
// error, not a retryable condition.
func (c *Client) WritePages(ctx context.Context, vino Vino, fl layout.FileLayout, pool, pgCount uint32, snapc SnapContext, off, length uint64, truncSeq uint32, truncSize uint64, mtime time.Time, pages [][]byte, ticket []byte, onDisk bool, doSync bool, nofail bool) (int64, error) {
	if vino.Snap != NoSnap {
		return 0, ErrBadSnapshot
	}

	flags := uint32(0)
	if onDisk {
		flags |= wireproto.FlagOnDisk
	}

	r, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: fl, Pool: pool, PGCount: pgCount, Vino: vino,
		Off: off, Len: length, Opcode: OpWrite, Flags: flags,
		SnapCtx: snapc, DoSync: doSync, TruncSeq: truncSeq,
		TruncSize: truncSize, Mtime: mtime, Ticket: ticket,
		Pages: pages,
	})
	if err != nil {
		return 0, err
	}
	r.nofail = nofail

	if err := c.StartRequest(ctx, r); err != nil {
		c.PutRequest(r)
		return 0, err
	}
	n, err := c.WaitRequest(ctx, r)
	c.PutRequest(r)
	return n, err
}
