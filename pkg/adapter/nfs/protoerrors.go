package nfs

import (
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/shared"
)

// NFSv3 status codes (RFC 1813 §2.6).
const (
	NFS3OK           uint32 = 0
	NFS3ErrPerm      uint32 = 1
	NFS3ErrNoEnt     uint32 = 2
	NFS3ErrIO        uint32 = 5
	NFS3ErrAccess    uint32 = 13
	NFS3ErrExist     uint32 = 17
	NFS3ErrNotDir    uint32 = 20
	NFS3ErrIsDir     uint32 = 21
	NFS3ErrInval     uint32 = 22
	NFS3ErrNoSpc     uint32 = 28
	NFS3ErrRofs      uint32 = 30
	NFS3ErrNameLong  uint32 = 63
	NFS3ErrNotEmpty  uint32 = 66
	NFS3ErrStale     uint32 = 70
	NFS3ErrBadHandle uint32 = 10001
	NFS3ErrNotSupp   uint32 = 10004
	NFS3ErrJukebox   uint32 = 10008
)

type protocolError struct {
	code uint32
	msg  string
	err  error
}

func (e *protocolError) Code() uint32    { return e.code }
func (e *protocolError) Message() string { return e.msg }
func (e *protocolError) Unwrap() error   { return e.err }
func (e *protocolError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// MapError translates a shared.EngineError (or any error) into the NFS3
// status code the dispatcher's processor should report, per the design's
// error-kind-to-protocol-code table.
func MapError(err error) adapter.ProtocolError {
	if err == nil {
		return nil
	}
	ee := shared.AsEngineError(err)
	code, msg := mapKind(ee.Kind)
	return &protocolError{code: code, msg: msg, err: ee.Err}
}

func mapKind(k shared.ErrorKind) (uint32, string) {
	switch k {
	case shared.KindInvalidArgument:
		return NFS3ErrInval, "invalid argument"
	case shared.KindNotLoggedOn:
		return NFS3ErrAccess, "authentication required"
	case shared.KindAccessDenied:
		return NFS3ErrAccess, "access denied"
	case shared.KindNotFound:
		return NFS3ErrNoEnt, "no such file or directory"
	case shared.KindAlreadyExists:
		return NFS3ErrExist, "already exists"
	case shared.KindDiskFull:
		return NFS3ErrNoSpc, "no space left on device"
	case shared.KindProtocolViolation:
		return NFS3ErrInval, "garbage arguments"
	default:
		return NFS3ErrIO, "I/O error"
	}
}
