package ftp

import (
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/shared"
)

// protocolError implements adapter.ProtocolError for FTP reply codes.
type protocolError struct {
	code uint32
	msg  string
	err  error
}

func (e *protocolError) Code() uint32   { return e.code }
func (e *protocolError) Message() string { return e.msg }
func (e *protocolError) Unwrap() error  { return e.err }
func (e *protocolError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// MapError translates an engine error into an FTP reply code using the
// engine's error-kind-to-code table.
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
		return 501, "Syntax error in parameters or arguments"
	case shared.KindNotLoggedOn:
		return 530, "Not logged in"
	case shared.KindAccessDenied:
		return 550, "Permission denied"
	case shared.KindNotFound:
		return 550, "No such file or directory"
	case shared.KindAlreadyExists:
		return 550, "File already exists"
	case shared.KindDiskFull:
		return 451, "Requested action aborted: insufficient storage"
	case shared.KindTransferAborted:
		return 426, "Connection closed; transfer aborted"
	case shared.KindDataChannelUnavailable:
		return 425, "Can't open data connection"
	case shared.KindSocketTimeout:
		return 426, "Connection timed out; transfer aborted"
	case shared.KindSocketClosed:
		return 426, "Connection closed"
	case shared.KindProtocolViolation:
		return 500, "Syntax error, command unrecognized"
	default:
		return 451, "Requested action aborted: local error in processing"
	}
}
