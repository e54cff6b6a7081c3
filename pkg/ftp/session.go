package ftp

import (
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittofs/pkg/shared"
)

// LoginState is the FTP authentication state machine:
// Unauth --USER--> UserPending --PASS(ok)--> Authed
// UserPending --PASS(fail)--> Unauth
type LoginState int

const (
	LoginUnauth LoginState = iota
	LoginUserPending
	LoginAuthed
)

// verbsAllowedUnauthenticated lists the verbs permitted before LoginAuthed.
var verbsAllowedUnauthenticated = map[string]bool{
	"USER": true, "PASS": true, "QUIT": true, "FEAT": true,
	"AUTH": true, "PBSZ": true, "PROT": true, "NOOP": true, "SYST": true,
}

// FactMask selects which MLST/MLSD facts a session reports: size, modify,
// create, type, unique, perm, media-type.
type FactMask uint8

const (
	FactSize FactMask = 1 << iota
	FactModify
	FactCreate
	FactType
	FactUnique
	FactPerm
	FactMediaType
)

// DefaultFactMask has all facts on by default ("*" marked in MLST output).
const DefaultFactMask = FactSize | FactModify | FactCreate | FactType | FactUnique | FactPerm | FactMediaType

// Session owns everything described in the spec's FTP Session entity: the
// control socket, growable command buffer, login state, CWD, transfer
// mode, restart offset, pending rename, visible-share list, tree
// connection cache, and at most one data session.
type Session struct {
	mu sync.Mutex

	conn       net.Conn
	remoteAddr net.Addr

	login    LoginState
	pendingUser string
	clientInfo  shared.ClientInfo

	cwd Path

	binaryMode bool // false => ASCII
	utf8       bool
	factMask   FactMask

	restartPos int64
	renameFrom string // empty => no RNFR pending

	visibleShares []*shared.SharedDevice
	treeConns     *shared.TreeConnectionCache

	data   *DataSession
	dcm    *DataChannelManager

	// protectionLevel is the PROT argument ('C' is the only one accepted
	// for plaintext data); pbszSet records whether PBSZ preceded it.
	pbszSet         bool
	protectionLevel byte

	tls *tlsEngine // nil until AUTH TLS/SSL succeeds

	// abortRequested is polled by in-flight transfers between blocks.
	abortRequested bool

	closed bool
}

func (s *Session) Identity() string {
	if s.clientInfo.Username != "" {
		return s.clientInfo.Username
	}
	return "anonymous"
}

func NewSession(conn net.Conn, dcm *DataChannelManager, gate shared.AccessControlGate) *Session {
	s := &Session{
		conn:       conn,
		remoteAddr: conn.RemoteAddr(),
		login:      LoginUnauth,
		binaryMode: true,
		factMask:   DefaultFactMask,
		cwd:        RootPath(),
		dcm:        dcm,
	}
	s.treeConns = shared.NewTreeConnectionCache(s, gate)
	return s
}

// VerbAllowed reports whether verb may run given the current login state.
func (s *Session) VerbAllowed(verb string) bool {
	if s.login == LoginAuthed {
		return true
	}
	return verbsAllowedUnauthenticated[verb]
}

// ReplaceDataSession releases any existing data session before installing
// a new one, enforcing "at most one data channel per session".
func (s *Session) ReplaceDataSession(ds *DataSession) {
	s.mu.Lock()
	old := s.data
	s.data = ds
	s.mu.Unlock()

	if old != nil {
		s.dcm.Release(old)
	}
}

func (s *Session) CurrentDataSession() *DataSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Session) ReleaseDataSession() {
	s.mu.Lock()
	ds := s.data
	s.data = nil
	s.mu.Unlock()
	if ds != nil {
		s.dcm.Release(ds)
	}
}

func (s *Session) SetAbort() {
	s.mu.Lock()
	s.abortRequested = true
	s.mu.Unlock()
	if ds := s.CurrentDataSession(); ds != nil {
		ds.SetAbort()
	}
}

func (s *Session) ConsumeAbort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.abortRequested
	s.abortRequested = false
	return v
}

// Close releases the data channel and tree-connection cache. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ReleaseDataSession()
	s.treeConns.Clear()
	_ = s.conn.Close()
}

// ioReader/ioWriter indirect through the active TLS engine, if any,
// otherwise read/write the raw control socket. Used by the command loop
// and by response writers so that "AUTH TLS" transparently upgrades all
// subsequent control-channel traffic.
func (s *Session) ioReader() netReader {
	if s.tls != nil {
		return s.tls
	}
	return s.conn
}

func (s *Session) ioWriter() netWriter {
	if s.tls != nil {
		return s.tls
	}
	return s.conn
}

type netReader interface {
	Read(p []byte) (int, error)
}

type netWriter interface {
	Write(p []byte) (int, error)
}

// idleDeadline sets the next read deadline on the raw control socket (TLS
// reads still go through the underlying conn's deadlines).
func (s *Session) idleDeadline(d time.Duration) {
	if d > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(d))
	}
}
