package osdc

import (
	"context"
	"time"

	"github.com/congxueyang/osdclient/pkg/wireproto"
)

// StartRequest registers r under a fresh tid and submits it (spec
// §4.4). On send failure: if r is marked nofail, it is latched for a
// later retry by the timer instead of returning an error.
func (c *Client) StartRequest(ctx context.Context, r *Request) error {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	c.reqMu.Lock()
	if c.stopped {
		c.reqMu.Unlock()
		return ErrClientStopped
	}

	c.lastTid++
	r.tid = c.lastTid
	if err := wireproto.StampTid(r.requestMsg, r.tid); err != nil {
		c.reqMu.Unlock()
		return err
	}

	c.requests[r.tid] = r
	r.get()
	c.numRequests++
	r.timeoutStamp = time.Now().Add(c.cfg.OSDTimeout)
	c.rearmTimerLocked()

	err := c.sendRequestLocked(ctx, r)

	if err != nil {
		if r.nofail {
			r.resend = true
			c.reqMu.Unlock()
			return nil
		}
		c.unregisterLocked(r)
		c.reqMu.Unlock()
		return err
	}
	c.reqMu.Unlock()
	return nil
}

// unregisterLocked removes r from the tid index and, if it was
// attached, from its osd session; releases the index's reference.
// Caller holds reqMu.
func (c *Client) unregisterLocked(r *Request) {
	if _, ok := c.requests[r.tid]; !ok {
		return
	}
	delete(c.requests, r.tid)
	c.numRequests--
	if r.osd != nil {
		s := r.osd
		s.detach(r)
		if s.empty() {
			delete(c.osds, s.id)
		}
	}
	c.rearmTimerLocked()
	r.put()
}
