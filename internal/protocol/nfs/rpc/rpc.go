// Package rpc implements the ONC-RPC (RFC 5531) call/reply envelope the
// NFS dispatcher demultiplexes on: message parsing, AUTH_NULL/AUTH_UNIX
// credential decoding, and reply encoding (including the TCP record-mark
// fragment header, which this package always prefixes so the dispatcher
// can use the same encoder for UDP and TCP framing).
package rpc

import (
	"encoding/binary"
	"fmt"
)

// Message types (RFC 5531 §8).
const (
	RPCCall  uint32 = 0
	RPCReply uint32 = 1
)

// Reply states.
const (
	RPCMsgAccepted uint32 = 0
	RPCMsgDenied   uint32 = 1
)

// Accept statuses.
const (
	RPCSuccess      uint32 = 0
	RPCProgUnavail  uint32 = 1
	RPCProgMismatch uint32 = 2
	RPCProcUnavail  uint32 = 3
	RPCGarbageArgs  uint32 = 4
	RPCSystemErr    uint32 = 5
)

// Reject statuses (RPC_MSG_DENIED).
const (
	RPCMismatch uint32 = 0
	RPCAuthErr  uint32 = 1
)

// Auth error sub-codes.
const (
	AuthBadCred uint32 = 1
)

// Auth flavors (RFC 5531 §9).
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

const maxGids = 16
const maxMachineNameLen = 255

// OpaqueAuth is the (flavor, body) pair carried as credential and
// verifier in every call/reply.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// CallMessage is a decoded RPC call header plus its still-opaque
// procedure-specific argument bytes.
type CallMessage struct {
	XID        uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
	Args       []byte
}

// UnixAuth is a decoded AUTH_UNIX credential body (RFC 5531 §9.2).
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s, uid=%d, gid=%d, gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

// ParseUnixAuth decodes an AUTH_UNIX credential body per RFC 5531 §9.2:
// stamp(4) | machinename (opaque, 4-byte length + padded) | uid(4) | gid(4) | gids (array).
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("rpc: empty AUTH_UNIX body")
	}

	r := &byteReader{buf: body}

	stamp, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read stamp: %w", err)
	}

	nameLen, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read machine name length: %w", err)
	}
	if nameLen > maxMachineNameLen {
		return nil, fmt.Errorf("rpc: machine name too long: %d", nameLen)
	}
	name, err := r.opaqueFixed(int(nameLen))
	if err != nil {
		return nil, fmt.Errorf("rpc: read machine name: %w", err)
	}

	uid, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read uid: %w", err)
	}
	gid, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read gid: %w", err)
	}

	gidCount, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read gid count: %w", err)
	}
	if gidCount > maxGids {
		return nil, fmt.Errorf("rpc: too many gids: %d", gidCount)
	}

	gids := make([]uint32, gidCount)
	for i := range gids {
		g, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("rpc: read gid[%d]: %w", i, err)
		}
		gids[i] = g
	}

	return &UnixAuth{Stamp: stamp, MachineName: string(name), UID: uid, GID: gid, GIDs: gids}, nil
}

// byteReader is a tiny big-endian XDR-style cursor over a byte slice,
// local to this package to avoid a dependency on the shared xdr decoder
// for the handful of fixed fields AUTH_UNIX needs.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("unexpected end of data")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// opaqueFixed reads n raw bytes, then skips XDR padding to the next 4-byte
// boundary.
func (r *byteReader) opaqueFixed(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of data")
	}
	data := r.buf[r.pos : r.pos+n]
	r.pos += n

	pad := (4 - (n % 4)) % 4
	if r.pos+pad > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of padding")
	}
	r.pos += pad

	return data, nil
}

// DecodeCallMessage parses a complete RPC call message (no record-mark
// prefix; the dispatcher strips that for TCP before calling this).
func DecodeCallMessage(data []byte) (*CallMessage, error) {
	r := &byteReader{buf: data}

	xid, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read xid: %w", err)
	}
	msgType, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read msg type: %w", err)
	}
	if msgType != RPCCall {
		return nil, fmt.Errorf("rpc: not a call message: type=%d", msgType)
	}

	rpcVersion, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read rpc version: %w", err)
	}
	program, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read program: %w", err)
	}
	version, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read version: %w", err)
	}
	procedure, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read procedure: %w", err)
	}

	cred, err := r.readOpaqueAuth()
	if err != nil {
		return nil, fmt.Errorf("rpc: read credential: %w", err)
	}
	verf, err := r.readOpaqueAuth()
	if err != nil {
		return nil, fmt.Errorf("rpc: read verifier: %w", err)
	}

	return &CallMessage{
		XID: xid, RPCVersion: rpcVersion, Program: program, Version: version, Procedure: procedure,
		Cred: cred, Verf: verf, Args: r.buf[r.pos:],
	}, nil
}

func (r *byteReader) readOpaqueAuth() (OpaqueAuth, error) {
	flavor, err := r.uint32()
	if err != nil {
		return OpaqueAuth{}, err
	}
	length, err := r.uint32()
	if err != nil {
		return OpaqueAuth{}, err
	}
	body, err := r.opaqueFixed(int(length))
	if err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: flavor, Body: body}, nil
}

// --- reply encoding ---
//
// Every Make*Reply below prefixes the standard RFC 1057 record-mark
// fragment header (last-fragment bit set, 31-bit length) so the same
// encoder serves both transports: the TCP dispatcher writes the bytes
// as-is, the UDP dispatcher strips the first 4 bytes before sending the
// datagram.

func withFragmentHeader(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, 0x80000000|uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func replyHeader(xid uint32) []byte {
	buf := make([]byte, 0, 24)
	buf = appendUint32(buf, xid)
	buf = appendUint32(buf, RPCReply)
	buf = appendUint32(buf, RPCMsgAccepted)
	// Verifier: AUTH_NULL, zero length.
	buf = appendUint32(buf, AuthNull)
	buf = appendUint32(buf, 0)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// MakeSuccessReply wraps an already-encoded NFS3 result in a successful
// RPC reply envelope.
func MakeSuccessReply(xid uint32, body []byte) ([]byte, error) {
	payload := replyHeader(xid)
	payload = appendUint32(payload, RPCSuccess)
	payload = append(payload, body...)
	return withFragmentHeader(payload), nil
}

// MakeErrorReply builds an RPC_MSG_ACCEPTED reply carrying an error
// accept-status that needs no extra payload (PROG_UNAVAIL, PROC_UNAVAIL,
// GARBAGE_ARGS, SYSTEM_ERR). Use MakeProgMismatchReply for PROG_MISMATCH.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	if acceptStat == RPCProgMismatch {
		return nil, fmt.Errorf("rpc: use MakeProgMismatchReply for PROG_MISMATCH")
	}
	payload := replyHeader(xid)
	payload = appendUint32(payload, acceptStat)
	return withFragmentHeader(payload), nil
}

// MakeProgMismatchReply builds an RPC_MSG_ACCEPTED / PROG_MISMATCH reply
// carrying the server's supported version range.
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	if low > high {
		return nil, fmt.Errorf("rpc: invalid version range: low (%d) > high (%d)", low, high)
	}
	payload := replyHeader(xid)
	payload = appendUint32(payload, RPCProgMismatch)
	payload = appendUint32(payload, low)
	payload = appendUint32(payload, high)
	return withFragmentHeader(payload), nil
}

// MakeAuthErrorReply builds an RPC_MSG_DENIED / AUTH_ERROR reply, used
// when the dispatcher's session lookup rejects a credential.
func MakeAuthErrorReply(xid uint32, why uint32) ([]byte, error) {
	payload := make([]byte, 0, 16)
	payload = appendUint32(payload, xid)
	payload = appendUint32(payload, RPCReply)
	payload = appendUint32(payload, RPCMsgDenied)
	payload = appendUint32(payload, RPCAuthErr)
	payload = appendUint32(payload, why)
	return withFragmentHeader(payload), nil
}

// StripFragmentHeader removes the 4-byte record-mark prefix Make*Reply
// always includes, for transports (UDP) that don't use TCP record marking.
func StripFragmentHeader(framed []byte) []byte {
	if len(framed) < 4 {
		return framed
	}
	return framed[4:]
}
