// Package wireproto implements the little-endian OSD_OP / OSD_OPREPLY /
// OSDMAP wire formats. All integers are encoded host-independent via
// encoding/binary, mirroring the way the teacher's SDO client packs
// CANopen segments with binary.LittleEndian rather than reflection.
package wireproto

import (
	"encoding/binary"
	"fmt"
)

// ProtocolError reports a malformed wire message: a decode boundary
// check failed. The message carrying it is dropped and no registered
// request is touched. Want/Got are measured in bytes unless Reason
// says otherwise (e.g. a count field).
type ProtocolError struct {
	Reason string
	Want   int
	Got    int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wireproto: %s (want %d, got %d)", e.Reason, e.Want, e.Got)
}

// Op codes carried in an op record.
const (
	OpRead  uint16 = 1
	OpWrite uint16 = 2

	OpMaskTrunc uint16 = 3 // read-side truncation op
	OpSetTrunc  uint16 = 4 // write-side truncation op
	OpStartSync uint16 = 5
)

// Request flags.
const (
	FlagRead   uint32 = 1 << 0
	FlagWrite  uint32 = 1 << 1
	FlagOnDisk uint32 = 1 << 2
	FlagRetry  uint32 = 1 << 3
)

// ReassertVersion is the opaque server-echoed token used to dedupe a
// replayed write.
type ReassertVersion struct {
	Epoch   uint64
	Version uint64
}

func (v ReassertVersion) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], v.Epoch)
	binary.LittleEndian.PutUint64(b[8:16], v.Version)
}

func decodeReassertVersion(b []byte) ReassertVersion {
	return ReassertVersion{
		Epoch:   binary.LittleEndian.Uint64(b[0:8]),
		Version: binary.LittleEndian.Uint64(b[8:16]),
	}
}

const reassertVersionLen = 16

// PGLocator is the placement-group locator carried in the request
// header (pool id + hash, in the form a placement function consumes).
type PGLocator struct {
	Pool uint32
	Hash uint32
}

func (p PGLocator) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.Pool)
	binary.LittleEndian.PutUint32(b[4:8], p.Hash)
}

func decodePGLocator(b []byte) PGLocator {
	return PGLocator{
		Pool: binary.LittleEndian.Uint32(b[0:4]),
		Hash: binary.LittleEndian.Uint32(b[4:8]),
	}
}

const pgLocatorLen = 8

// OpRecord is one operation attached to a request.
type OpRecord struct {
	Op           uint16
	Offset       uint64
	Length       uint64
	TruncateSeq  uint32
	TruncateSize uint64
	PayloadLen   uint32
}

const opRecordLen = 2 + 8 + 8 + 4 + 8 + 4

func (o OpRecord) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], o.Op)
	binary.LittleEndian.PutUint64(b[2:10], o.Offset)
	binary.LittleEndian.PutUint64(b[10:18], o.Length)
	binary.LittleEndian.PutUint32(b[18:22], o.TruncateSeq)
	binary.LittleEndian.PutUint64(b[22:30], o.TruncateSize)
	binary.LittleEndian.PutUint32(b[30:34], o.PayloadLen)
}

func decodeOpRecord(b []byte) OpRecord {
	return OpRecord{
		Op:           binary.LittleEndian.Uint16(b[0:2]),
		Offset:       binary.LittleEndian.Uint64(b[2:10]),
		Length:       binary.LittleEndian.Uint64(b[10:18]),
		TruncateSeq:  binary.LittleEndian.Uint32(b[18:22]),
		TruncateSize: binary.LittleEndian.Uint64(b[22:30]),
		PayloadLen:   binary.LittleEndian.Uint32(b[30:34]),
	}
}

// RequestHeader is the OSD_OP request header of spec §6.
type RequestHeader struct {
	ClientInc       uint32
	OSDMapEpoch     uint32
	Flags           uint32
	MtimeSec        uint32
	MtimeNsec       uint32
	ReassertVersion ReassertVersion
	Layout          PGLocator
	SnapID          uint64
	SnapSeq         uint64
	NumSnaps        uint32
	ObjectLen       uint32
	TicketLen       uint32
	NumOps          uint16
	Tid             uint64
}

// fixed header length, not counting op records / oid / ticket / snaps.
const RequestHeaderLen = 4 + 4 + 4 + 4 + 4 + reassertVersionLen + pgLocatorLen + 8 + 8 + 4 + 4 + 4 + 2 + 8

// EncodeRequest packs the header, op records, oid, ticket and (for
// writes with a snapshot context) the snapshot id list into one
// contiguous wire buffer, the way new_request's step 5 describes.
func EncodeRequest(h RequestHeader, ops []OpRecord, oid, ticket []byte, snaps []uint64) ([]byte, error) {
	if int(h.NumOps) != len(ops) {
		return nil, fmt.Errorf("wireproto: NumOps %d does not match %d op records", h.NumOps, len(ops))
	}
	if int(h.ObjectLen) != len(oid) {
		return nil, fmt.Errorf("wireproto: ObjectLen %d does not match oid length %d", h.ObjectLen, len(oid))
	}
	if int(h.TicketLen) != len(ticket) {
		return nil, fmt.Errorf("wireproto: TicketLen %d does not match ticket length %d", h.TicketLen, len(ticket))
	}
	if int(h.NumSnaps) != len(snaps) {
		return nil, fmt.Errorf("wireproto: NumSnaps %d does not match %d snapshot ids", h.NumSnaps, len(snaps))
	}

	total := RequestHeaderLen + len(ops)*opRecordLen + len(oid) + len(ticket) + len(snaps)*8
	buf := make([]byte, total)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], h.ClientInc)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.OSDMapEpoch)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.Flags)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.MtimeSec)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.MtimeNsec)
	off += 4
	h.ReassertVersion.encode(buf[off:])
	off += reassertVersionLen
	h.Layout.encode(buf[off:])
	off += pgLocatorLen
	binary.LittleEndian.PutUint64(buf[off:], h.SnapID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.SnapSeq)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], h.NumSnaps)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.ObjectLen)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.TicketLen)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], h.NumOps)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], h.Tid)
	off += 8

	for _, op := range ops {
		op.encode(buf[off:])
		off += opRecordLen
	}
	off += copy(buf[off:], oid)
	off += copy(buf[off:], ticket)
	for _, s := range snaps {
		binary.LittleEndian.PutUint64(buf[off:], s)
		off += 8
	}
	return buf, nil
}

// DecodeRequestHeader decodes just the fixed header of an encoded
// request, leaving op records, oid, ticket and snapshots unread.
func DecodeRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) < RequestHeaderLen {
		return RequestHeader{}, &ProtocolError{Reason: "request shorter than fixed header", Want: RequestHeaderLen, Got: len(buf)}
	}
	return decodeRequestHeader(buf), nil
}

func decodeRequestHeader(buf []byte) RequestHeader {
	var h RequestHeader
	off := 0
	h.ClientInc = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.OSDMapEpoch = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.Flags = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.MtimeSec = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.MtimeNsec = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ReassertVersion = decodeReassertVersion(buf[off:])
	off += reassertVersionLen
	h.Layout = decodePGLocator(buf[off:])
	off += pgLocatorLen
	h.SnapID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.SnapSeq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.NumSnaps = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ObjectLen = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.TicketLen = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.NumOps = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	h.Tid = binary.LittleEndian.Uint64(buf[off:])
	return h
}

// PatchHeaderFields rewrites the osdmap_epoch, flags and
// reassert_version fields of an already-encoded request buffer in
// place, without touching op records, oid, ticket or the snapshot
// list. send_request needs this on every (re)send: the epoch and
// RETRY flag and reassert_version can change across retries but the
// rest of the message is immutable.
func PatchHeaderFields(buf []byte, epoch uint32, flags uint32, rv ReassertVersion) error {
	if len(buf) < RequestHeaderLen {
		return &ProtocolError{Reason: "buffer too short to patch header fields", Want: RequestHeaderLen, Got: len(buf)}
	}
	binary.LittleEndian.PutUint32(buf[4:8], epoch)
	binary.LittleEndian.PutUint32(buf[8:12], flags)
	rv.encode(buf[20 : 20+reassertVersionLen])
	return nil
}

// StampTid rewrites the tid field of an already-encoded request
// buffer in place, since start_request only learns the tid after
// new_request has built the message.
func StampTid(buf []byte, tid uint64) error {
	if len(buf) < RequestHeaderLen {
		return &ProtocolError{Reason: "buffer too short to hold a request header", Want: RequestHeaderLen, Got: len(buf)}
	}
	binary.LittleEndian.PutUint64(buf[RequestHeaderLen-8:RequestHeaderLen], tid)
	return nil
}

// ReplyHeader is the OSD_OPREPLY header of spec §6.
type ReplyHeader struct {
	Tid             uint64
	Flags           uint32
	Result          int32
	ReassertVersion ReassertVersion
	NumOps          uint32
	ObjectLen       uint32
}

const ReplyHeaderLen = 8 + 4 + 4 + reassertVersionLen + 4 + 4

// DecodeReply validates that front matches
// header + object_len + num_ops*op_size and decodes the header. A
// mismatch yields a *ProtocolError-shaped error and touches nothing;
// the caller must drop the message without looking up any request.
func DecodeReply(front []byte) (ReplyHeader, []byte, error) {
	if len(front) < ReplyHeaderLen {
		return ReplyHeader{}, nil, &ProtocolError{Reason: "reply shorter than fixed header", Want: ReplyHeaderLen, Got: len(front)}
	}
	off := 0
	var h ReplyHeader
	h.Tid = binary.LittleEndian.Uint64(front[off:])
	off += 8
	h.Flags = binary.LittleEndian.Uint32(front[off:])
	off += 4
	h.Result = int32(binary.LittleEndian.Uint32(front[off:]))
	off += 4
	h.ReassertVersion = decodeReassertVersion(front[off:])
	off += reassertVersionLen
	h.NumOps = binary.LittleEndian.Uint32(front[off:])
	off += 4
	h.ObjectLen = binary.LittleEndian.Uint32(front[off:])
	off += 4

	want := ReplyHeaderLen + int(h.ObjectLen) + int(h.NumOps)*opRecordLen
	if want != len(front) {
		return ReplyHeader{}, nil, &ProtocolError{Reason: "corrupt osd_op_reply: front length mismatch", Want: want, Got: len(front)}
	}
	return h, front[off:], nil
}

// EncodeReply is provided for tests that play the OSD side of the
// protocol.
func EncodeReply(h ReplyHeader, oid []byte, trailers []OpRecord) []byte {
	h.ObjectLen = uint32(len(oid))
	h.NumOps = uint32(len(trailers))
	total := ReplyHeaderLen + len(oid) + len(trailers)*opRecordLen
	buf := make([]byte, total)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], h.Tid)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], h.Flags)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.Result))
	off += 4
	h.ReassertVersion.encode(buf[off:])
	off += reassertVersionLen
	binary.LittleEndian.PutUint32(buf[off:], h.NumOps)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.ObjectLen)
	off += 4
	off += copy(buf[off:], oid)
	for _, t := range trailers {
		t.encode(buf[off:])
		off += opRecordLen
	}
	return buf
}

// FsidLen is the length of the fsid that opens an OSDMAP update.
const FsidLen = 16

// SubMap is one (epoch, payload) entry of an incremental or full map
// list, per spec §6.
type SubMap struct {
	Epoch   uint32
	Payload []byte
}

// DecodeMapUpdate splits an OSDMAP update buffer into its fsid,
// incremental sub-maps and full sub-maps, in wire order.
func DecodeMapUpdate(buf []byte) (fsid [FsidLen]byte, incremental, full []SubMap, err error) {
	if len(buf) < FsidLen+4 {
		return fsid, nil, nil, &ProtocolError{Reason: "map update too short", Want: FsidLen + 4, Got: len(buf)}
	}
	copy(fsid[:], buf[:FsidLen])
	off := FsidLen

	readList := func() ([]SubMap, error) {
		if len(buf) < off+4 {
			return nil, &ProtocolError{Reason: "map update truncated reading count", Want: off + 4, Got: len(buf)}
		}
		n := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		subs := make([]SubMap, 0, n)
		for i := uint32(0); i < n; i++ {
			if len(buf) < off+8 {
				return nil, &ProtocolError{Reason: fmt.Sprintf("map update truncated reading submap %d header", i), Want: off + 8, Got: len(buf)}
			}
			epoch := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			length := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			if len(buf) < off+int(length) {
				return nil, &ProtocolError{Reason: fmt.Sprintf("map update truncated reading submap %d payload", i), Want: off + int(length), Got: len(buf)}
			}
			subs = append(subs, SubMap{Epoch: epoch, Payload: buf[off : off+int(length)]})
			off += int(length)
		}
		return subs, nil
	}

	incremental, err = readList()
	if err != nil {
		return fsid, nil, nil, err
	}
	full, err = readList()
	if err != nil {
		return fsid, nil, nil, err
	}
	return fsid, incremental, full, nil
}

// EncodeMapUpdate is the inverse, used by tests to synthesize map
// update buffers.
func EncodeMapUpdate(fsid [FsidLen]byte, incremental, full []SubMap) []byte {
	size := FsidLen + 4 + 4
	for _, s := range incremental {
		size += 8 + len(s.Payload)
	}
	for _, s := range full {
		size += 8 + len(s.Payload)
	}
	buf := make([]byte, size)
	off := copy(buf, fsid[:])

	write := func(subs []SubMap) {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(subs)))
		off += 4
		for _, s := range subs {
			binary.LittleEndian.PutUint32(buf[off:], s.Epoch)
			off += 4
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Payload)))
			off += 4
			off += copy(buf[off:], s.Payload)
		}
	}
	write(incremental)
	write(full)
	return buf
}

// DecodeOps splits a trailer buffer (such as the op trailers after a
// reply's oid) into num op records.
func DecodeOps(buf []byte, num int) ([]OpRecord, error) {
	if len(buf) < num*opRecordLen {
		return nil, &ProtocolError{Reason: fmt.Sprintf("op trailer too short for %d ops", num), Want: num * opRecordLen, Got: len(buf)}
	}
	ops := make([]OpRecord, num)
	for i := 0; i < num; i++ {
		ops[i] = decodeOpRecord(buf[i*opRecordLen:])
	}
	return ops, nil
}
