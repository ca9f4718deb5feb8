package wireproto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	h := RequestHeader{
		ClientInc:       1,
		OSDMapEpoch:     42,
		Flags:           FlagWrite | FlagOnDisk,
		MtimeSec:        100,
		MtimeNsec:       200,
		ReassertVersion: ReassertVersion{Epoch: 7, Version: 3},
		Layout:          PGLocator{Pool: 1, Hash: 0xabc},
		SnapID:          0,
		SnapSeq:         5,
		NumSnaps:        2,
		ObjectLen:       uint32(len("123.00000000")),
		TicketLen:       4,
		NumOps:          1,
		Tid:             9,
	}
	ops := []OpRecord{{Op: OpWrite, Offset: 4096, Length: 4096, PayloadLen: 4096}}
	oid := []byte("123.00000000")
	ticket := []byte("tckt")
	snaps := []uint64{11, 22}

	buf, err := EncodeRequest(h, ops, oid, ticket, snaps)
	require.NoError(t, err)

	got, err := DecodeRequestHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h.Tid, got.Tid)
	require.Equal(t, h.ReassertVersion, got.ReassertVersion)
	require.Equal(t, h.NumOps, got.NumOps)

	require.NoError(t, StampTid(buf, 99))
	got2, err := DecodeRequestHeader(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(99), got2.Tid)
}

func TestDecodeReplyRejectsShortFront(t *testing.T) {
	h := ReplyHeader{Tid: 5, Result: 8192, NumOps: 1}
	front := EncodeReply(h, []byte("123.00000000"), []OpRecord{{Op: OpWrite}})

	_, _, err := DecodeReply(front[:len(front)-1])
	require.Error(t, err)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "DecodeReply must report a *ProtocolError on malformed input")
	require.Equal(t, len(front), perr.Want)
	require.Equal(t, len(front)-1, perr.Got)

	got, trailer, err := DecodeReply(front)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Tid)
	require.NotEmpty(t, trailer)
}

func TestDecodeRequestHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeRequestHeader(make([]byte, RequestHeaderLen-1))
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "DecodeRequestHeader must report a *ProtocolError on malformed input")
	require.Equal(t, RequestHeaderLen, perr.Want)
	require.Equal(t, RequestHeaderLen-1, perr.Got)
}

func TestDecodeMapUpdateRoundTrip(t *testing.T) {
	var fsid [FsidLen]byte
	fsid[0] = 0xaa
	buf := EncodeMapUpdate(fsid, []SubMap{{Epoch: 2, Payload: []byte("inc")}}, nil)

	gotFsid, inc, full, err := DecodeMapUpdate(buf)
	require.NoError(t, err)
	require.Equal(t, fsid, gotFsid)
	require.Len(t, inc, 1)
	require.Empty(t, full)
	require.Equal(t, uint32(2), inc[0].Epoch)
	require.Equal(t, []byte("inc"), inc[0].Payload)
}
