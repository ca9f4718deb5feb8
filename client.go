// Package osdc is the client-side request dispatch engine for a
// distributed object-storage cluster: it turns (file, offset, length)
// read/write calls into per-object OSD_OP requests, places them on
// the correct OSD via the cluster map, tracks them by tid through
// reply, on-disk commit and timeout, and resubmits them transparently
// when the topology changes or a connection resets.
package osdc

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/congxueyang/osdclient/internal/reqpool"
	"github.com/congxueyang/osdclient/pkg/crush"
	"github.com/congxueyang/osdclient/pkg/messenger"
	"github.com/congxueyang/osdclient/pkg/monclient"
)

// Client is the osd client's process-wide state (spec §3's "Client
// state"). The lock order is map lock (shared) -> request-index lock
// -> per-message page lock; never invert, and never hold the request
// lock across a messenger send or a completion signal.
type Client struct {
	logger *log.Entry
	cfg    *Config

	msgr messenger.Messenger
	mon  monclient.Client

	mapMu  sync.RWMutex
	osdmap *crush.Map

	reqMu       sync.Mutex
	requests    map[uint64]*Request
	osds        map[crush.OSDID]*session
	lastTid     uint64
	numRequests int

	timeoutTid uint64
	timer      *time.Timer

	pool *reqpool.Pool[*Request]

	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewClient wires a Client around a concrete messenger and monitor
// client. cfg.Fsid seeds the empty osdmap the client starts with; the
// first handle_map call installs real placement data.
func NewClient(cfg *Config, msgr messenger.Messenger, mon monclient.Client) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if mon == nil {
		mon = monclient.NewLoggingClient()
	}

	c := &Client{
		logger:   log.WithField("component", "osdc"),
		cfg:      cfg,
		msgr:     msgr,
		mon:      mon,
		osdmap:   crush.NewMap(cfg.Fsid),
		requests: make(map[uint64]*Request),
		osds:     make(map[crush.OSDID]*session),
		stopCh:   make(chan struct{}),
	}
	c.pool = reqpool.New(cfg.ReqPoolSize, newRequestShell, resetRequestShell)
	msgr.SetCallbacks(c.onMessengerReply, c.onMessengerReset)
	return c
}

// Init matches spec §6's init(client) entry point: NewClient already
// performs the work, Init exists so callers following the
// language-neutral surface have an explicit verb.
func (c *Client) Init() (*Client, error) { return c, nil }

// Stop cancels the timer, drains the pool and marks the client
// stopped. In-flight requests are left registered; callers are
// expected to have aborted or waited on them first.
func (c *Client) Stop() {
	c.reqMu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.reqMu.Unlock()
	for {
		if _, ok := c.pool.Get(); !ok {
			break
		}
	}
	close(c.stopCh)
	_ = c.msgr.Close()
}

// InstallDemoMap bootstraps a trivial single-OSD topology: every PG in
// [0, pgCount) of the given pool is given an up set of exactly [osd]. It exists
// for cmd/osdc and tests that need a placement-ready map without a
// real monitor session, which is out of scope per spec §1; production
// callers install maps via HandleMap instead.
func (c *Client) InstallDemoMap(osd crush.OSDID, addr string, pool, pgCount uint32) {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	c.osdmap.SetAddr(osd, addr)
	for seed := uint32(0); seed < pgCount; seed++ {
		c.osdmap.SetUpSet(crush.PGID{Pool: pool, Seed: seed}, []crush.OSDID{osd})
	}
}

// sortedTidsLocked returns the currently registered tids in ascending
// order. Several operations (sync, kick_requests, handle_timeout)
// must walk the tid index in order; the caller must hold reqMu.
func (c *Client) sortedTidsLocked() []uint64 {
	tids := make([]uint64, 0, len(c.requests))
	for tid := range c.requests {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// rearmTimerLocked enforces the "at most one timer" invariant of
// spec §9: it is armed for whichever request has the earliest
// deadline, or disarmed if none remain. Caller holds reqMu.
func (c *Client) rearmTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.requests) == 0 {
		c.timeoutTid = 0
		return
	}

	var earliestTid uint64
	var earliest time.Time
	first := true
	for tid, r := range c.requests {
		if first || r.timeoutStamp.Before(earliest) {
			earliest = r.timeoutStamp
			earliestTid = tid
			first = false
		}
	}
	c.timeoutTid = earliestTid
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	c.timer = time.AfterFunc(d, c.handleTimeoutTick)
}
