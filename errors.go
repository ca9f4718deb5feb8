package osdc

import (
	"errors"

	"github.com/congxueyang/osdclient/pkg/wireproto"
)

var (
	ErrOutOfMemory   = errors.New("osdc: out of memory")
	ErrIllegalArg    = errors.New("osdc: illegal argument")
	ErrNotRegistered = errors.New("osdc: request is not registered")
	ErrAborted       = errors.New("osdc: request was aborted")
	ErrNoPrimary     = errors.New("osdc: no primary osd for placement group")
	ErrBadSnapshot   = errors.New("osdc: writepages requires NOSNAP")
	ErrClientStopped = errors.New("osdc: client has been stopped")
	ErrInterrupted   = errors.New("osdc: wait_request interrupted")
)

// ProtocolError reports a malformed wire message. The message carrying
// it is dropped; no registered request is touched. It is wireproto's
// decode error, aliased here since that's the package that actually
// observes the malformed bytes.
type ProtocolError = wireproto.ProtocolError
