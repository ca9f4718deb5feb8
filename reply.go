package osdc

import (
	"github.com/congxueyang/osdclient/pkg/wireproto"
)

// onMessengerReply is installed as the messenger's reply callback; it
// decodes the wire reply and calls HandleReply, matching spec §4.5's
// front-length precondition: a malformed message is dropped before
// any request is touched.
func (c *Client) onMessengerReply(front []byte) {
	h, _, err := wireproto.DecodeReply(front)
	if err != nil {
		c.logger.WithError(err).Warn("[OSDC][RX] corrupt osd_op_reply, dropping")
		return
	}
	c.HandleReply(h)
}

// ReplyInfo is the decoded subset of a reply handle_reply needs.
type ReplyInfo struct {
	Tid             uint64
	OnDisk          bool
	Result          int32
	DataLen         uint32
	ReassertVersion wireproto.ReassertVersion
}

func replyInfo(h wireproto.ReplyHeader) ReplyInfo {
	return ReplyInfo{
		Tid:             h.Tid,
		OnDisk:          h.Flags&wireproto.FlagOnDisk != 0,
		Result:          h.Result,
		DataLen:         h.ObjectLen,
		ReassertVersion: h.ReassertVersion,
	}
}

// HandleReply implements spec §4.5's state machine. It never holds
// reqMu across the callback/signal step.
func (c *Client) HandleReply(h wireproto.ReplyHeader) {
	info := replyInfo(h)

	c.reqMu.Lock()
	r, ok := c.requests[info.Tid]
	if !ok {
		c.reqMu.Unlock()
		c.logger.Debugf("[OSDC][RX][x%x] REPLY FOR UNKNOWN TID | ondisk=%v result=%d", info.Tid, info.OnDisk, info.Result)
		return // already completed and unregistered; duplicates are normal
	}
	r.get()
	r.logger.Debugf("[OSDC][RX][x%x] REPLY | ondisk=%v result=%d len=%d", info.Tid, info.OnDisk, info.Result, info.DataLen)

	r.pageMu.Lock()
	if r.replyMsg != nil {
		r.replyMsg = nil // no longer needed once the message fully arrived
	}
	r.pageMu.Unlock()

	if r.aborted.Load() {
		c.reqMu.Unlock()
		r.put()
		return
	}

	isDuplicateAck := false
	if !r.gotReply {
		if info.Result == 0 {
			r.result = int64(info.DataLen)
		} else {
			r.result = int64(info.Result)
		}
		r.lastReassertVersion = info.ReassertVersion
		r.gotReply = true
	} else if !info.OnDisk {
		isDuplicateAck = true
	}

	done := info.OnDisk || r.opcode == OpRead
	if !isDuplicateAck && done {
		c.unregisterLocked(r)
	}
	c.reqMu.Unlock()

	if isDuplicateAck {
		r.put()
		return
	}

	if r.callback != nil {
		r.callback(r)
	} else {
		r.signalCompletion()
	}
	if info.OnDisk {
		if r.safeCallback != nil {
			r.safeCallback(r)
		}
		r.signalSafeCompletion()
	}
	r.put()
}

// PreparePages is the pre-receive check of spec §4.6: it reports
// whether the request with this tid can take a zero-copy receive of
// wantPages pages (registered, not aborted, not already prepared, and
// holding enough pages). On success it marks the request prepared and
// parks replyFront so AbortRequest can drop it before the reply
// completes. It does not hand r's pages to any message. Returns false if the messenger should fall back
// to an internal buffer.
func (c *Client) PreparePages(tid uint64, wantPages int, replyFront []byte) bool {
	c.reqMu.Lock()
	r, ok := c.requests[tid]
	if ok {
		r.get()
	}
	c.reqMu.Unlock()
	if !ok {
		return false
	}
	defer r.put()

	r.pageMu.Lock()
	defer r.pageMu.Unlock()

	if r.aborted.Load() || r.preparedPages || len(r.pages) < wantPages {
		return false
	}
	r.replyMsg = replyFront
	r.preparedPages = true
	return true
}
