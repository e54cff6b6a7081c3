package smb

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/internal/protocol/smb/header"
	"github.com/marmos91/dittofs/internal/protocol/smb/notify"
	"github.com/marmos91/dittofs/internal/protocol/smb/types"
	"github.com/marmos91/dittofs/pkg/bufpool"
	"github.com/marmos91/dittofs/pkg/shared"
)

// netbiosHeaderSize is the 4-byte NetBIOS session-message framing header
// (1 byte message type + 3-byte big-endian length) that prefixes every
// SMB2 message on the wire. [MS-SMB2] 2.1.
const netbiosHeaderSize = 4

// netbiosSessionMessage is the NetBIOS session service message type used
// for SMB2 traffic (as opposed to session-request/session-keepalive).
const netbiosSessionMessage = 0x00

// maxSMBMessage bounds a single NetBIOS-framed SMB2 message.
const maxSMBMessage = 16 << 20 // 16 MiB

// SMBConnection is one TCP client of the SMB adapter: it owns the NetBIOS
// framing loop, SMB2 header parsing, session-lifecycle tracking for the
// Virtual Circuit this connection represents, and compound-command
// splitting. File operations (CREATE/READ/WRITE/...) are out of scope;
// the dispatcher reports STATUS_NOT_SUPPORTED for them.
type SMBConnection struct {
	adapter *SMBAdapter
	conn    net.Conn
	reader  *bufio.Reader

	// sessions tracks the SessionIDs established on this Virtual Circuit,
	// so they can all be torn down when the TCP connection closes.
	sessionsMu sync.Mutex
	sessions   map[uint64]struct{}

	negotiated bool
	dialect    types.Dialect

	// treeMu guards the per-VC tree-connection table (component I) and the
	// per-SessionID tree-connection caches that back it.
	treeMu            sync.Mutex
	nextTreeID        uint32
	trees             map[uint32]*treeEntry
	sessionTreeCaches map[uint64]*shared.TreeConnectionCache

	// writeMu serializes every write to conn: the main Serve loop's
	// synchronous responses and the async CHANGE_NOTIFY completions
	// (component L) that a background event can trigger concurrently.
	writeMu sync.Mutex

	// asyncMu guards asyncQueue, the FIFO of async responses held back
	// because the client still has more of the current pipeline's request
	// bytes in flight (component L). Drained once the Serve loop finishes
	// writing the current synchronous response.
	asyncMu    sync.Mutex
	asyncQueue []asyncFrame

	asyncIDCounter atomic.Uint64
}

// treeEntry is one entry in a Virtual Circuit's tree-connection table
// (component I): the TreeConnectionCache's own TreeConnection plus the
// SessionID it was connected under, needed to scope cleanup at LOGOFF.
type treeEntry struct {
	tc        *shared.TreeConnection
	sessionID uint64
}

// asyncFrame is one response queued by sendAsync until the connection's
// read pipeline drains.
type asyncFrame struct {
	hdr  *header.SMB2Header
	body []byte
}

// NewSMBConnection creates a connection handler bound to an accepted TCP
// socket.
func NewSMBConnection(a *SMBAdapter, conn net.Conn) *SMBConnection {
	return &SMBConnection{
		adapter:           a,
		conn:              conn,
		reader:            bufio.NewReader(conn),
		sessions:          make(map[uint64]struct{}),
		trees:             make(map[uint32]*treeEntry),
		sessionTreeCaches: make(map[uint64]*shared.TreeConnectionCache),
	}
}

// Serve implements adapter.ConnectionHandler. It reads NetBIOS-framed SMB2
// messages until the connection closes or ctx is cancelled, dispatching
// each compound command chain and writing back the framed response.
func (c *SMBConnection) Serve(ctx context.Context) {
	defer c.handleConnectionClose()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	for {
		if c.adapter.config.Timeouts.Idle > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.adapter.config.Timeouts.Idle))
		}

		frame, err := c.readNetBIOSFrame()
		if err != nil {
			if err != io.EOF {
				logger.Debug("smb: read error", "client", c.conn.RemoteAddr(), "error", err)
			}
			return
		}

		if !header.IsSMB2Message(frame) {
			if isSMB1Negotiate(frame) {
				if err := c.handleSMB1Negotiate(); err != nil {
					logger.Debug("smb: SMB1 upgrade response failed", "error", err)
					return
				}
				continue
			}
			logger.Debug("smb: non-SMB2 message, closing", "client", c.conn.RemoteAddr())
			return
		}

		if err := c.processCompoundRequest(frame); err != nil {
			logger.Debug("smb: request processing failed", "client", c.conn.RemoteAddr(), "error", err)
			return
		}

		// The synchronous response for this request is on the wire; any
		// CHANGE_NOTIFY completions that queued because the client still
		// had more pipelined requests buffered can go out now.
		c.flushAsyncQueue()
	}
}

// readNetBIOSFrame reads one 4-byte-prefixed NetBIOS session message and
// returns its payload (the raw SMB2 message bytes). Reads go through a
// bufio.Reader rather than directly against conn so sendAsync can consult
// Buffered() to tell a pipelined client (more request bytes already read
// off the wire) from one that's idle, per component L.
func (c *SMBConnection) readNetBIOSFrame() ([]byte, error) {
	var hdr [netbiosHeaderSize]byte
	if _, err := io.ReadFull(c.reader, hdr[:]); err != nil {
		return nil, err
	}

	length := uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	if length == 0 {
		return []byte{}, nil
	}
	if length > maxSMBMessage {
		return nil, io.ErrShortBuffer
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeNetBIOSFrame prefixes payload with the 4-byte NetBIOS session
// message header and writes it to the connection. Serializes against
// concurrent async writes (component L) with writeMu.
func (c *SMBConnection) writeNetBIOSFrame(payload []byte) error {
	frame := bufpool.Get(netbiosHeaderSize + len(payload))
	defer bufpool.Put(frame)

	length := uint32(len(payload))
	frame[0] = netbiosSessionMessage
	frame[1] = byte(length >> 16)
	frame[2] = byte(length >> 8)
	frame[3] = byte(length)
	copy(frame[netbiosHeaderSize:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.adapter.config.Timeouts.Write > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.adapter.config.Timeouts.Write))
	}
	_, err := c.conn.Write(frame)
	return err
}

// sendAsync delivers a CHANGE_NOTIFY completion (or any other
// asynchronously-generated response) to the client. If the read pipeline
// still has buffered bytes, the client hasn't caught up on prior
// responses yet, so the frame queues and waits for the Serve loop to
// drain it after the current synchronous response goes out; otherwise it
// writes immediately. This is the async response queue of component L.
func (c *SMBConnection) sendAsync(hdr *header.SMB2Header, body []byte) {
	c.asyncMu.Lock()
	if c.reader.Buffered() > 0 {
		c.asyncQueue = append(c.asyncQueue, asyncFrame{hdr: hdr, body: body})
		c.asyncMu.Unlock()
		return
	}
	c.asyncMu.Unlock()

	if err := c.writeNetBIOSFrame(encodeResponse(hdr, body)); err != nil {
		logger.Debug("smb: async response write failed", "client", c.conn.RemoteAddr(), "error", err)
	}
}

// flushAsyncQueue writes out every response sendAsync queued while the
// pipeline was busy.
func (c *SMBConnection) flushAsyncQueue() {
	c.asyncMu.Lock()
	queued := c.asyncQueue
	c.asyncQueue = nil
	c.asyncMu.Unlock()

	for _, a := range queued {
		if err := c.writeNetBIOSFrame(encodeResponse(a.hdr, a.body)); err != nil {
			logger.Debug("smb: queued async response write failed", "client", c.conn.RemoteAddr(), "error", err)
			return
		}
	}
}

func isSMB1Negotiate(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == types.SMB1ProtocolID
}

// handleSMB1Negotiate answers a legacy SMB1 NEGOTIATE with an SMB2
// NEGOTIATE response carrying the SMB2 protocol ID, which is how clients
// that probe with SMB1 first are steered onto SMB2. [MS-SMB2] 3.3.5.2.
func (c *SMBConnection) handleSMB1Negotiate() error {
	resp := make([]byte, header.HeaderSize)
	binary.LittleEndian.PutUint32(resp[0:4], types.SMB2ProtocolID)
	binary.LittleEndian.PutUint16(resp[4:6], header.HeaderSize)
	binary.LittleEndian.PutUint16(resp[12:14], uint16(types.CommandNegotiate))
	binary.LittleEndian.PutUint32(resp[16:20], uint32(types.FlagResponse))
	binary.LittleEndian.PutUint32(resp[8:12], uint32(types.StatusNotSupported))
	return c.writeNetBIOSFrame(resp)
}

// parseCompoundCommand parses one SMB2 command from a (possibly compound)
// message: the command's header, its body (everything up to NextCommand,
// or to the end of data if this is the last command), and the remaining
// bytes holding any further chained commands.
func parseCompoundCommand(data []byte) (hdr *header.SMB2Header, body []byte, remaining []byte, err error) {
	hdr, err = header.Parse(data)
	if err != nil {
		return nil, nil, nil, err
	}

	if hdr.NextCommand == 0 {
		return hdr, data[header.HeaderSize:], nil, nil
	}

	next := int(hdr.NextCommand)
	if next < header.HeaderSize || next > len(data) {
		return nil, nil, nil, header.ErrMessageTooShort
	}
	return hdr, data[header.HeaderSize:next], data[next:], nil
}

// processCompoundRequest walks a chain of compound commands, dispatching
// each in turn and concatenating the responses into a single NetBIOS
// frame, mirroring the request's chaining per [MS-SMB2] 3.3.5.2.7.
func (c *SMBConnection) processCompoundRequest(data []byte) error {
	var reply []byte
	remaining := data

	var relatedFileID [16]byte
	var haveRelatedFileID bool

	for len(remaining) > 0 {
		hdr, body, next, err := parseCompoundCommand(remaining)
		if err != nil {
			return err
		}

		if hdr.IsRelated() && haveRelatedFileID {
			body = injectFileID(hdr.Command, body, relatedFileID)
		}

		respHdr, respBody := c.dispatchCommand(hdr, body)

		if fileID, ok := extractCreateFileID(hdr.Command, respBody); ok {
			relatedFileID = fileID
			haveRelatedFileID = true
		}

		frame := encodeResponse(respHdr, respBody)
		if frame != nil {
			if next != nil {
				// Non-final compound responses also chain via
				// NextCommand, 8-byte aligned per [MS-SMB2] 3.3.4.1.4.
				padded := (len(frame) + 7) &^ 7
				if padded > len(frame) {
					frame = append(frame, make([]byte, padded-len(frame))...)
				}
				binary.LittleEndian.PutUint32(frame[20:24], uint32(padded))
			}
			reply = append(reply, frame...)
		}

		remaining = next
	}

	return c.writeNetBIOSFrame(reply)
}

// dispatchCommand executes one SMB2 command and returns its response
// header and body. Only the protocol-state-machine commands in this
// module's scope are implemented; everything else reports
// STATUS_NOT_SUPPORTED so a client sees a well-formed response rather
// than a dropped connection.
func (c *SMBConnection) dispatchCommand(req *header.SMB2Header, body []byte) (*header.SMB2Header, []byte) {
	switch req.Command {
	case types.CommandNegotiate:
		return c.handleNegotiate(req, body)
	case types.CommandSessionSetup:
		return c.handleSessionSetup(req, body)
	case types.CommandLogoff:
		return c.handleLogoff(req, body)
	case types.CommandTreeConnect:
		return c.handleTreeConnect(req, body)
	case types.CommandTreeDisconnect:
		return c.handleTreeDisconnect(req, body)
	case types.CommandChangeNotify:
		return c.handleChangeNotify(req, body)
	case types.CommandEcho:
		return c.handleEcho(req, body)
	case types.CommandCancel:
		// CANCEL never gets a response of its own [MS-SMB2] 3.3.5.18.
		return nil, nil
	default:
		return c.errorResponse(req, types.StatusNotSupported), makeErrorBody()
	}
}

func (c *SMBConnection) handleNegotiate(req *header.SMB2Header, _ []byte) (*header.SMB2Header, []byte) {
	c.negotiated = true
	c.dialect = types.Dialect0311

	body := make([]byte, 65)
	binary.LittleEndian.PutUint16(body[0:2], 65)
	binary.LittleEndian.PutUint16(body[4:6], uint16(c.dialect))
	if *c.adapter.config.Signing.Enabled {
		flags := uint16(0x0001)
		if c.adapter.config.Signing.Required {
			flags |= 0x0002
		}
		binary.LittleEndian.PutUint16(body[2:4], flags)
	}
	return c.successResponse(req), body
}

// handleSessionSetup resolves the client identity via the configured
// SMBAuthenticator (the NTLM/SPNEGO byte exchange itself is out of this
// module's scope, so every session is established as guest) and
// allocates or reuses the session.
func (c *SMBConnection) handleSessionSetup(req *header.SMB2Header, _ []byte) (*header.SMB2Header, []byte) {
	info := shared.ClientInfo{IsGuest: true}
	var authErr error
	if c.adapter.authenticator != nil {
		authErr = c.adapter.authenticator.SetCurrentUser(info)
	}

	status := types.StatusSuccess
	if authErr != nil {
		status = types.StatusLogonFailure
	}

	sessionID := req.SessionID
	if status == types.StatusSuccess && sessionID == 0 {
		sess := c.adapter.sessionManager.CreateSession(c.conn.RemoteAddr().String(), info.IsGuest, info.Username, info.Domain)
		sessionID = sess.SessionID
	}

	c.trackSessionLifecycle(types.CommandSessionSetup, req.SessionID, sessionID, status)

	respHdr := c.statusResponse(req, status)
	respHdr.SessionID = sessionID

	body := make([]byte, 9)
	binary.LittleEndian.PutUint16(body[0:2], 9)
	return respHdr, body
}

func (c *SMBConnection) handleLogoff(req *header.SMB2Header, _ []byte) (*header.SMB2Header, []byte) {
	c.trackSessionLifecycle(types.CommandLogoff, req.SessionID, 0, types.StatusSuccess)
	c.adapter.sessionManager.DeleteSession(req.SessionID)
	c.closeSessionTrees(req.SessionID)

	body := make([]byte, 4)
	binary.LittleEndian.PutUint16(body[0:2], 4)
	return c.successResponse(req), body
}

// genericReadAccessMask and genericWriteAccessMask are the MaximalAccess
// bitmasks [MS-SMB2] 2.2.9 a TREE_CONNECT response reports for a
// read-only versus a read-write share.
const (
	genericReadAccessMask = uint32(types.FileReadData | types.FileReadEA | types.FileReadAttributes | types.ReadControl | types.Synchronize)
	genericWriteAccessMask = genericReadAccessMask |
		uint32(types.FileWriteData|types.FileAppendData|types.FileWriteEA|types.FileWriteAttributes)
)

// handleTreeConnect resolves the share named in the request's UNC path
// against the adapter's Registry (component B), consults the session's
// TreeConnectionCache and AccessControlGate (component C) for the
// permission to grant, and records the resulting TreeConnection under a
// freshly allocated TreeID in this Virtual Circuit's tree table
// (component I).
func (c *SMBConnection) handleTreeConnect(req *header.SMB2Header, body []byte) (*header.SMB2Header, []byte) {
	if len(body) < 8 {
		return c.errorResponse(req, types.StatusInvalidParameter), makeErrorBody()
	}

	pathOffset := binary.LittleEndian.Uint16(body[4:6])
	pathLength := binary.LittleEndian.Uint16(body[6:8])

	// pathOffset is relative to the start of the SMB2 header; body here
	// already has the header stripped, so rebase against it. A client
	// reporting an offset inside the 8-byte fixed part is treated as
	// pointing at the path that immediately follows it.
	bodyOffset := int(pathOffset) - header.HeaderSize
	if bodyOffset < 8 {
		bodyOffset = 8
	}
	if pathLength == 0 || bodyOffset+int(pathLength) > len(body) {
		return c.errorResponse(req, types.StatusInvalidParameter), makeErrorBody()
	}

	sharePath := notify.DecodeUTF16LEPath(body[bodyOffset : bodyOffset+int(pathLength)])
	shareName := parseSharePath(sharePath)

	share, ok := c.adapter.Registry.Share(shareName)
	if !ok {
		return c.errorResponse(req, types.StatusBadNetworkName), makeErrorBody()
	}

	cache := c.treeCacheForSession(req.SessionID)
	tc := cache.GetTreeConnection(share)
	if !tc.HasReadAccess() {
		return c.errorResponse(req, types.StatusAccessDenied), makeErrorBody()
	}

	treeID := c.registerTree(tc, req.SessionID)

	respHdr := c.successResponse(req)
	respHdr.TreeID = treeID

	access := genericReadAccessMask
	if tc.HasWriteAccess() {
		access = genericWriteAccessMask
	}

	body = make([]byte, 16)
	binary.LittleEndian.PutUint16(body[0:2], 16)
	body[2] = byte(share.Type)
	binary.LittleEndian.PutUint32(body[12:16], access)
	return respHdr, body
}

func (c *SMBConnection) handleTreeDisconnect(req *header.SMB2Header, _ []byte) (*header.SMB2Header, []byte) {
	c.closeTree(req.TreeID)

	body := make([]byte, 4)
	binary.LittleEndian.PutUint16(body[0:2], 4)
	return c.successResponse(req), body
}

// handleChangeNotify implements CHANGE_NOTIFY (component K): it arms a
// watch on the share the request's TreeID is connected to and either
// returns the events (or overflow marker) already waiting, or answers
// STATUS_PENDING and hands the request an async Dispatcher that delivers
// the eventual completion through the async response queue (component L).
//
// This module doesn't implement CREATE, so there's no FileID-to-path
// table to resolve the request's directory handle against; every watch on
// a tree is treated as rooted at that share's top level, with WatchTree
// deciding whether it's recursive.
func (c *SMBConnection) handleChangeNotify(req *header.SMB2Header, body []byte) (*header.SMB2Header, []byte) {
	parsed, err := notify.DecodeRequest(body)
	if err != nil {
		return c.errorResponse(req, types.StatusInvalidParameter), makeErrorBody()
	}

	entry := c.lookupTree(req.TreeID)
	if entry == nil {
		return c.errorResponse(req, types.StatusNetworkNameDeleted), makeErrorBody()
	}

	const watchRoot = `\`
	handler := c.adapter.notifyHandlerFor(entry.tc.Share.Name)
	asyncID := c.asyncIDCounter.Add(1)

	var key notify.Key
	copy(key[:], parsed.FileID[:])

	nreq := &notify.Request{
		Key:       key,
		SessionID: req.SessionID,
		TreeID:    req.TreeID,
		WatchPath: watchRoot,
		WatchTree: parsed.WatchTree,
		Filter:    parsed.CompletionFilter,
		Dispatcher: &notifyDispatcher{
			conn:      c,
			sessionID: req.SessionID,
			messageID: req.MessageID,
			asyncID:   asyncID,
			watchRoot: watchRoot,
		},
	}

	res := handler.Arm(nreq)
	if res.Ready {
		return c.successResponse(req), changeNotifyResponseBody(res.Events, res.EnumDir, watchRoot)
	}

	respHdr := c.statusResponse(req, types.StatusPending)
	respHdr.Flags |= types.FlagAsync
	respHdr.Reserved = uint32(asyncID)
	respHdr.TreeID = uint32(asyncID >> 32)
	return respHdr, nil
}

func changeNotifyResponseBody(events []notify.Event, enumDir bool, watchRoot string) []byte {
	if enumDir {
		return notify.EncodeResponse(nil, watchRoot)
	}
	return notify.EncodeResponse(events, watchRoot)
}

// notifyDispatcher bridges a share's notify.Handler back to this
// connection's async response queue, building the async-final-response
// header [MS-SMB2] 2.2.1 (FlagAsync set, AsyncId split across Reserved
// and TreeID) from the fields captured when the request was armed.
type notifyDispatcher struct {
	conn      *SMBConnection
	sessionID uint64
	messageID uint64
	asyncID   uint64
	watchRoot string
}

func (d *notifyDispatcher) DeliverNotify(_ *notify.Request, events []notify.Event, enumDir bool) {
	status := types.StatusSuccess
	if enumDir {
		status = types.StatusNotifyEnumDir
	}

	hdr := &header.SMB2Header{
		StructureSize: header.HeaderSize,
		Status:        status,
		Command:       types.CommandChangeNotify,
		Credits:       1,
		Flags:         types.HeaderFlags(types.SMB2FlagsServerToRedir) | types.FlagAsync,
		MessageID:     d.messageID,
		SessionID:     d.sessionID,
		Reserved:      uint32(d.asyncID),
		TreeID:        uint32(d.asyncID >> 32),
	}
	d.conn.sendAsync(hdr, changeNotifyResponseBody(events, enumDir, d.watchRoot))
}

// parseSharePath extracts the share name from a UNC path like
// \\server\share, returning "share". Falls back to the path with leading
// separators stripped if it doesn't look like a UNC path.
func parseSharePath(path string) string {
	trimmed := strings.TrimPrefix(path, `\\`)
	parts := strings.SplitN(trimmed, `\`, 2)
	if len(parts) < 2 {
		return strings.TrimPrefix(trimmed, `\`)
	}
	return parts[1]
}

// treeCacheForSession returns the session's TreeConnectionCache, creating
// one on first TREE_CONNECT.
func (c *SMBConnection) treeCacheForSession(sessionID uint64) *shared.TreeConnectionCache {
	c.treeMu.Lock()
	defer c.treeMu.Unlock()

	cache, ok := c.sessionTreeCaches[sessionID]
	if !ok {
		cache = shared.NewTreeConnectionCache(smbSessionIdentity(sessionID), c.adapter.gate)
		c.sessionTreeCaches[sessionID] = cache
	}
	return cache
}

// registerTree allocates a TreeID for tc and records it in this Virtual
// Circuit's tree table.
func (c *SMBConnection) registerTree(tc *shared.TreeConnection, sessionID uint64) uint32 {
	c.treeMu.Lock()
	defer c.treeMu.Unlock()

	c.nextTreeID++
	treeID := c.nextTreeID
	c.trees[treeID] = &treeEntry{tc: tc, sessionID: sessionID}
	return treeID
}

func (c *SMBConnection) lookupTree(treeID uint32) *treeEntry {
	c.treeMu.Lock()
	defer c.treeMu.Unlock()
	return c.trees[treeID]
}

// closeTree drops a single tree connection (TREE_DISCONNECT) and any
// CHANGE_NOTIFY requests armed under its TreeID.
func (c *SMBConnection) closeTree(treeID uint32) {
	c.treeMu.Lock()
	entry, ok := c.trees[treeID]
	if ok {
		delete(c.trees, treeID)
	}
	c.treeMu.Unlock()

	if !ok {
		return
	}
	c.adapter.notifyHandlerFor(entry.tc.Share.Name).RemoveByTree(treeID)
}

// closeSessionTrees drops every tree connection and TreeConnectionCache
// belonging to sessionID (LOGOFF) along with any CHANGE_NOTIFY requests
// armed under them.
func (c *SMBConnection) closeSessionTrees(sessionID uint64) {
	c.treeMu.Lock()
	var shareNames []string
	for id, entry := range c.trees {
		if entry.sessionID != sessionID {
			continue
		}
		shareNames = append(shareNames, entry.tc.Share.Name)
		delete(c.trees, id)
	}
	delete(c.sessionTreeCaches, sessionID)
	c.treeMu.Unlock()

	for _, name := range shareNames {
		c.adapter.notifyHandlerFor(name).RemoveBySession(sessionID)
	}
}

// smbSessionIdentity satisfies shared.SessionIdentity for a bare
// SessionID; SMB2 authentication is out of this module's scope (every
// session is established as guest), so the SessionID is the only stable
// identity a TreeConnectionCache/AccessControlGate can key on.
type smbSessionIdentity uint64

func (id smbSessionIdentity) Identity() string {
	return fmt.Sprintf("session-%d", uint64(id))
}

func (c *SMBConnection) handleEcho(req *header.SMB2Header, _ []byte) (*header.SMB2Header, []byte) {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint16(body[0:2], 4)
	return c.successResponse(req), body
}

func (c *SMBConnection) successResponse(req *header.SMB2Header) *header.SMB2Header {
	return c.statusResponse(req, types.StatusSuccess)
}

func (c *SMBConnection) statusResponse(req *header.SMB2Header, status types.Status) *header.SMB2Header {
	grant := c.adapter.sessionManager.GrantCredits(req.SessionID, req.Credits, req.CreditCharge)
	return header.NewResponseHeaderWithCredits(req, status, grant)
}

func (c *SMBConnection) errorResponse(req *header.SMB2Header, status types.Status) *header.SMB2Header {
	return c.statusResponse(req, status)
}

func encodeResponse(hdr *header.SMB2Header, body []byte) []byte {
	if hdr == nil {
		return nil
	}
	buf := hdr.Encode()
	return append(buf, body...)
}

// makeErrorBody builds the fixed 9-byte SMB2 ERROR response body
// [MS-SMB2] 2.2.2: StructureSize(2)=9, ErrorContextCount(1), Reserved(1),
// ByteCount(4)=0.
func makeErrorBody() []byte {
	body := make([]byte, 9)
	binary.LittleEndian.PutUint16(body[0:2], 9)
	return body
}

// TrackSession records a SessionID as belonging to this Virtual Circuit.
func (c *SMBConnection) TrackSession(sessionID uint64) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.sessions[sessionID] = struct{}{}
}

// UntrackSession removes a SessionID from this Virtual Circuit's set.
func (c *SMBConnection) UntrackSession(sessionID uint64) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	delete(c.sessions, sessionID)
}

// trackSessionLifecycle updates this connection's session set in response
// to a SESSION_SETUP or LOGOFF outcome.
//
// SESSION_SETUP tracks the session only once it fully succeeds (not while
// STATUS_MORE_PROCESSING_REQUIRED is still cycling an NTLM handshake),
// keyed by ctxSessionID (the session the exchange is establishing or
// resuming) falling back to reqSessionID when no session exists yet.
//
// LOGOFF always untracks by reqSessionID: the request carries the
// SessionID the client asked to close, and that's the one that matters
// regardless of what a handler's own session context holds.
func (c *SMBConnection) trackSessionLifecycle(cmd types.Command, reqSessionID, ctxSessionID uint64, status types.Status) {
	if status != types.StatusSuccess {
		return
	}

	switch cmd {
	case types.CommandSessionSetup:
		id := ctxSessionID
		if id == 0 {
			id = reqSessionID
		}
		c.TrackSession(id)
	case types.CommandLogoff:
		c.UntrackSession(reqSessionID)
	}
}

// handleConnectionClose tears down every session this Virtual Circuit
// created and closes the socket.
func (c *SMBConnection) handleConnectionClose() {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("smb: panic in connection handler", "error", r, "client", c.conn.RemoteAddr())
		}
	}()

	c.sessionsMu.Lock()
	ids := make([]uint64, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessionsMu.Unlock()

	for _, id := range ids {
		c.adapter.sessionManager.DeleteSession(id)
		c.closeSessionTrees(id)
	}

	_ = c.conn.Close()
}

// fileIDOffsets gives the command-relative FileID offset used for
// compound-chaining injection, per each command's fixed request layout
// in [MS-SMB2]. Only commands whose FileID a related compound operation
// can inherit are listed.
var fileIDOffsets = map[types.Command]int{
	types.CommandClose:          8,
	types.CommandQueryDirectory: 8,
	types.CommandRead:           16,
	types.CommandWrite:          16,
	types.CommandSetInfo:        16,
	types.CommandQueryInfo:      24,
}

// injectFileID copies fileID into body at the command's FileID offset for
// a related compound operation, returning a new slice so the original
// body (which may still be read elsewhere) is left untouched. Commands
// with no listed offset, or a body too short to hold the FileID at that
// offset, are returned unchanged.
func injectFileID(cmd types.Command, body []byte, fileID [16]byte) []byte {
	offset, ok := fileIDOffsets[cmd]
	if !ok || len(body) < offset+16 {
		return body
	}

	out := make([]byte, len(body))
	copy(out, body)
	copy(out[offset:offset+16], fileID[:])
	return out
}

// injectFileID is also exposed as a method for callers that already hold
// a *SMBConnection; it delegates to the package-level helper.
func (c *SMBConnection) injectFileID(cmd types.Command, body []byte, fileID [16]byte) []byte {
	return injectFileID(cmd, body, fileID)
}

// createResponseFileIDOffset is the FileID offset within a CREATE
// response body [MS-SMB2] 2.2.14.
const createResponseFileIDOffset = 64

// extractCreateFileID returns the FileID a CREATE response carries, so a
// subsequent related compound command can inherit it.
func extractCreateFileID(cmd types.Command, body []byte) ([16]byte, bool) {
	var fileID [16]byte
	if cmd != types.CommandCreate || len(body) < createResponseFileIDOffset+16 {
		return fileID, false
	}
	copy(fileID[:], body[createResponseFileIDOffset:createResponseFileIDOffset+16])
	return fileID, true
}
