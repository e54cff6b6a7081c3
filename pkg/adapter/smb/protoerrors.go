package smb

import (
	"github.com/marmos91/dittofs/internal/protocol/smb/types"
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/shared"
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

// MapError translates a shared.EngineError (or any error) into the
// NT_STATUS code the dispatcher's response builder should report.
func MapError(err error) adapter.ProtocolError {
	if err == nil {
		return nil
	}
	ee := shared.AsEngineError(err)
	status, msg := mapKind(ee.Kind)
	return &protocolError{code: uint32(status), msg: msg, err: ee.Err}
}

func mapKind(k shared.ErrorKind) (types.Status, string) {
	switch k {
	case shared.KindInvalidArgument:
		return types.StatusInvalidParameter, "invalid parameter"
	case shared.KindNotLoggedOn:
		return types.StatusLogonFailure, "authentication required"
	case shared.KindAccessDenied:
		return types.StatusAccessDenied, "access denied"
	case shared.KindNotFound:
		return types.StatusObjectNameNotFound, "object name not found"
	case shared.KindAlreadyExists:
		return types.StatusObjectNameCollision, "object name collision"
	case shared.KindDiskFull:
		return types.StatusInsufficientResources, "insufficient resources"
	case shared.KindProtocolViolation:
		return types.StatusInvalidParameter, "invalid parameter"
	case shared.KindSessionLimit:
		return types.StatusRequestNotAccepted, "request not accepted"
	default:
		return types.StatusInternalError, "internal error"
	}
}
