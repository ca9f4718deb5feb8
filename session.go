package osdc

import "github.com/congxueyang/osdclient/pkg/crush"

// session is the OSD session of spec §3/§4.2-4.3: a handle bundling
// an osd id, the transport address, and the requests currently
// attached to it. Ownership lives in the client's osd index; a
// request's osd field is a non-owning back-reference that becomes
// invalid once the request detaches and the list empties (spec §9's
// first design note).
type session struct {
	id    crush.OSDID
	addr  string
	reqs  map[uint64]*Request
}

func newSession(id crush.OSDID, addr string) *session {
	return &session{id: id, addr: addr, reqs: make(map[uint64]*Request)}
}

func (s *session) attach(r *Request) {
	s.reqs[r.tid] = r
	r.osd = s
}

func (s *session) detach(r *Request) {
	delete(s.reqs, r.tid)
	if r.osd == s {
		r.osd = nil
	}
}

func (s *session) empty() bool { return len(s.reqs) == 0 }
