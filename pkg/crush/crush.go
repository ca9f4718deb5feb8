// Package crush is a minimal stand-in for the osdmap data structure
// and placement function the osd client treats as an external
// collaborator. Placement of a PG onto a primary OSD is done by
// rendezvous (highest random weight) hashing over the PG's recorded
// up set, the way aistore's cluster map picks a target via
// smap.HrwName2T rather than a fixed modulo.
package crush

import (
	"hash/fnv"
	"sync"
)

// PGID identifies a placement group within a pool.
type PGID struct {
	Pool uint32
	Seed uint32
}

// FileLayout is the subset of striping parameters the placement
// function needs: how many PGs the pool is split into.
type FileLayout struct {
	Pool    uint32
	PGCount uint32
}

// OSDID identifies an OSD daemon. -1 denotes "no primary".
type OSDID int32

const NoOSD OSDID = -1

// Map is the cluster topology snapshot: for each PG, the set of OSDs
// currently up and holding it, and for each OSD its network address.
type Map struct {
	mu      sync.RWMutex
	Epoch   uint32
	Fsid    [16]byte
	upSets  map[PGID][]OSDID
	addrs   map[OSDID]string
}

func NewMap(fsid [16]byte) *Map {
	return &Map{
		Fsid:   fsid,
		upSets: make(map[PGID][]OSDID),
		addrs:  make(map[OSDID]string),
	}
}

// SetUpSet installs (or replaces) the up set of a PG. Exposed for
// tests and for seeding a map directly; ApplyIncremental and
// DecodeFull write the up sets themselves.
func (m *Map) SetUpSet(pg PGID, up []OSDID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upSets[pg] = append([]OSDID(nil), up...)
}

// SetAddr records the network address of an OSD.
func (m *Map) SetAddr(id OSDID, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[id] = addr
}

// Addr looks up an OSD's network address.
func (m *Map) Addr(id OSDID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.addrs[id]
	return a, ok
}

// ObjectLayout hashes oid into one of the pool's placement groups.
func ObjectLayout(oid string, layout FileLayout) PGID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(oid))
	seed := h.Sum32()
	if layout.PGCount > 0 {
		seed = seed % layout.PGCount
	}
	return PGID{Pool: layout.Pool, Seed: seed}
}

// PGPrimary rendezvous-hashes pg's up set and returns the OSD with the
// highest weight, i.e. the primary. Returns (NoOSD, false) if the up
// set is empty or unknown to the map: the "no primary" case, on which
// the dispatcher requests a newer map and leaves the request registered.
func PGPrimary(m *Map, pg PGID) (OSDID, bool) {
	m.mu.RLock()
	up := m.upSets[pg]
	m.mu.RUnlock()
	if len(up) == 0 {
		return NoOSD, false
	}

	var best OSDID
	var bestWeight uint64
	for i, id := range up {
		w := rendezvousWeight(pg, id)
		if i == 0 || w > bestWeight {
			bestWeight = w
			best = id
		}
	}
	return best, true
}

func rendezvousWeight(pg PGID, id OSDID) uint64 {
	h := fnv.New64a()
	var b [12]byte
	b[0] = byte(pg.Pool)
	b[1] = byte(pg.Pool >> 8)
	b[2] = byte(pg.Pool >> 16)
	b[3] = byte(pg.Pool >> 24)
	b[4] = byte(pg.Seed)
	b[5] = byte(pg.Seed >> 8)
	b[6] = byte(pg.Seed >> 16)
	b[7] = byte(pg.Seed >> 24)
	b[8] = byte(id)
	b[9] = byte(id >> 8)
	b[10] = byte(id >> 16)
	b[11] = byte(id >> 24)
	_, _ = h.Write(b[:])
	return h.Sum64()
}

// ApplyIncremental applies an incremental update to the map in place.
// Format: u32 count of (pg encoded as pool|seed, up-set length, up-set
// osd ids), matching what handle_map decodes for each incremental
// sub-map payload.
func (m *Map) ApplyIncremental(payload []byte) error {
	decoded, err := decodeDelta(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for pg, up := range decoded {
		m.upSets[pg] = up
	}
	return nil
}

// DecodeFull decodes a full map replacement payload into a new Map
// sharing the same fsid.
func DecodeFull(fsid [16]byte, payload []byte) (*Map, error) {
	decoded, err := decodeDelta(payload)
	if err != nil {
		return nil, err
	}
	m := NewMap(fsid)
	for pg, up := range decoded {
		m.upSets[pg] = up
	}
	return m, nil
}
