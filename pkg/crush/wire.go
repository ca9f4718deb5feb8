package crush

import (
	"encoding/binary"
	"fmt"
)

// Delta is a PG -> up-set payload, the unit both incremental and full
// map sub-maps carry (decode_full is "apply a delta onto an empty
// map" in this stand-in, same as the real osdmap's relationship
// between incrementals and fulls).
type Delta map[PGID][]OSDID

func decodeDelta(payload []byte) (Delta, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("crush: delta payload too short")
	}
	off := 0
	n := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	out := make(Delta, n)
	for i := uint32(0); i < n; i++ {
		if len(payload) < off+12 {
			return nil, fmt.Errorf("crush: delta payload truncated at entry %d", i)
		}
		pool := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		seed := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		upLen := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		if len(payload) < off+int(upLen)*4 {
			return nil, fmt.Errorf("crush: delta payload truncated reading up set of entry %d", i)
		}
		up := make([]OSDID, upLen)
		for j := uint32(0); j < upLen; j++ {
			up[j] = OSDID(int32(binary.LittleEndian.Uint32(payload[off:])))
			off += 4
		}
		out[PGID{Pool: pool, Seed: seed}] = up
	}
	return out, nil
}

// EncodeDelta is provided for tests that synthesize map payloads.
func EncodeDelta(d Delta) []byte {
	size := 4
	for _, up := range d {
		size += 12 + len(up)*4
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(d)))
	off += 4
	for pg, up := range d {
		binary.LittleEndian.PutUint32(buf[off:], pg.Pool)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], pg.Seed)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(up)))
		off += 4
		for _, id := range up {
			binary.LittleEndian.PutUint32(buf[off:], uint32(int32(id)))
			off += 4
		}
	}
	return buf
}
