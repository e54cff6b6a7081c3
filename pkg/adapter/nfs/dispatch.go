package nfs

import (
	"net"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/internal/protocol/nfs/rpc"
)

// NFSProgram is the ONC-RPC program number for NFS (RFC 1813).
const NFSProgram uint32 = 100003

// Processor handles one RPC's procedure-specific arguments for a single
// NFS version and returns the XDR-encoded result body. Per-version
// processors (NFS3 request/reply codecs and the store-backed procedure
// implementations) are an external collaborator the dispatcher only
// invokes through this seam.
type Processor interface {
	// Handle executes one NFS procedure call and returns its XDR-encoded
	// result body plus the RPC accept status to report (usually
	// rpc.RPCSuccess; a processor may report rpc.RPCGarbageArgs itself).
	Handle(sess *Session, procedure uint32, args []byte) (result []byte, acceptStat uint32, err error)
}

// ProcessorFactory supplies a Processor for a given NFS version. When it
// cannot supply one, the dispatcher replies SERVER_FAULT.
type ProcessorFactory func(version uint32) (Processor, bool)

// Dispatcher is the NFS Dispatcher: validates program/version,
// resolves the calling session, and hands off to the version's processor.
type Dispatcher struct {
	Sessions  *SessionTable
	Factory   ProcessorFactory
	VersionLo uint32
	VersionHi uint32
}

// DispatchResult wraps framed reply bytes. HandleMessage itself returns the
// bare []byte: the reply to send back, or nil when the request warrants no
// reply (RFC 1813 silently drops certain malformed requests).
type DispatchResult struct {
	Reply []byte
}

// HandleMessage implements the dispatch pipeline for one decoded RPC
// call, regardless of transport (the caller strips/re-adds TCP record
// marking; framed is always produced via the rpc package so both
// transports share one reply encoder).
func (d *Dispatcher) HandleMessage(data []byte, remoteAddr net.Addr, proto string) []byte {
	call, err := rpc.DecodeCallMessage(data)
	if err != nil {
		logger.Debug("nfs dispatcher: malformed call", "error", err, "client", remoteAddr)
		return nil
	}

	if call.Program != NFSProgram {
		reply, _ := rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
		return reply
	}

	if call.Version < d.VersionLo || call.Version > d.VersionHi {
		reply, _ := rpc.MakeProgMismatchReply(call.XID, d.VersionLo, d.VersionHi)
		return reply
	}

	// NULL (procedure 0) is always answered, even without a valid session,
	// so clients can probe liveness pre-auth.
	sess, sessErr := d.Sessions.FindOrCreate(call.Cred.Flavor, call.Cred.Body, remoteAddr, proto)
	if sessErr != nil {
		if call.Procedure == 0 {
			reply, _ := rpc.MakeSuccessReply(call.XID, nil)
			return reply
		}
		reply, _ := rpc.MakeAuthErrorReply(call.XID, rpc.AuthBadCred)
		return reply
	}

	proc, ok := d.Factory(call.Version)
	if !ok {
		reply, _ := rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
		return reply
	}

	result, acceptStat, procErr := proc.Handle(sess, call.Procedure, call.Args)
	if procErr != nil {
		logger.Warn("nfs dispatcher: procedure error", "procedure", call.Procedure, "error", procErr)
	}
	if acceptStat == rpc.RPCProcUnavail || acceptStat == rpc.RPCGarbageArgs || acceptStat == rpc.RPCSystemErr {
		reply, _ := rpc.MakeErrorReply(call.XID, acceptStat)
		return reply
	}

	reply, _ := rpc.MakeSuccessReply(call.XID, result)
	return reply
}
