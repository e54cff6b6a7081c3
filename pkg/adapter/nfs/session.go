package nfs

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittofs/pkg/shared"
)

// SessionKey identifies an NFS session the way the session table indexes
// it: by the RPC auth flavor and the identifier the authenticator derived
// from the credential body (RFC 1813's AUTH_NULL/AUTH_UNIX carry no
// session concept of their own, so the server invents one).
type SessionKey struct {
	AuthType   uint32
	Identifier string
}

// Session is an interned NFS client identity: its open-file cache,
// per-session tree-connection cache, and active search-handle table.
type Session struct {
	Key        SessionKey
	RemoteAddr net.Addr
	Protocol   string // "tcp" or "udp"
	ClientInfo shared.ClientInfo

	Files     *FileCache
	TreeConns *shared.TreeConnectionCache

	mu            sync.Mutex
	lastAccess    time.Time
	fileIDCache   map[uint32]string // fileId -> relative path, resolves opaque handles
	searchHandles map[uint32]shared.SearchHandle
	nextSearchID  uint32
	searchLimit   int
}

func newSession(key SessionKey, info shared.ClientInfo, remoteAddr net.Addr, proto string, gate shared.AccessControlGate, cfg SessionConfig, authenticator shared.NFSAuthenticator) *Session {
	s := &Session{
		Key:           key,
		RemoteAddr:    remoteAddr,
		Protocol:      proto,
		ClientInfo:    info,
		lastAccess:    time.Now(),
		fileIDCache:   make(map[uint32]string),
		searchHandles: make(map[uint32]shared.SearchHandle),
		searchLimit:   cfg.SearchHandlesDefault,
	}
	s.TreeConns = shared.NewTreeConnectionCache(s, gate)
	s.Files = newFileCache(cfg.IOTimer, cfg.CloseTimer, authenticator, info)
	s.Files.Start()
	return s
}

// Identity implements shared.SessionIdentity.
func (s *Session) Identity() string { return s.Key.Identifier }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// RememberPath interns a fileId -> relative path mapping so a later
// request carrying the corresponding handle resolves without a tree walk.
func (s *Session) RememberPath(fileID uint32, relPath string) {
	s.mu.Lock()
	s.fileIDCache[fileID] = relPath
	s.mu.Unlock()
}

// ResolvePath looks up a previously-remembered fileId.
func (s *Session) ResolvePath(fileID uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.fileIDCache[fileID]
	return p, ok
}

// AllocateSearchHandle interns a directory-listing cursor, growing the
// slot table (doubling, capped at maxSearchHandles) when exhausted.
func (s *Session) AllocateSearchHandle(h shared.SearchHandle, maxSearchHandles int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.searchHandles) >= s.searchLimit {
		if s.searchLimit >= maxSearchHandles {
			return 0, shared.NewEngineError(shared.KindInvalidArgument, "allocate search handle", fmt.Errorf("search handle table exhausted"))
		}
		s.searchLimit *= 2
		if s.searchLimit > maxSearchHandles {
			s.searchLimit = maxSearchHandles
		}
	}

	s.nextSearchID++
	id := s.nextSearchID
	s.searchHandles[id] = h
	return id, nil
}

func (s *Session) SearchHandle(id uint32) (shared.SearchHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.searchHandles[id]
	return h, ok
}

func (s *Session) ReleaseSearchHandle(id uint32) {
	s.mu.Lock()
	h, ok := s.searchHandles[id]
	delete(s.searchHandles, id)
	s.mu.Unlock()
	if ok {
		_ = h.Close()
	}
}

// Close releases everything this session owns: open files, tree
// connections, and outstanding search handles.
func (s *Session) Close() {
	s.mu.Lock()
	handles := s.searchHandles
	s.searchHandles = make(map[uint32]shared.SearchHandle)
	s.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
	s.Files.CloseAll()
	s.TreeConns.Clear()
}

// SessionTable is the NFS Session Table: sessions keyed by (authType,
// authIdentifier), with a secondary index by remote address so a TCP
// disconnect can remove every session that connection interned.
type SessionTable struct {
	mu            sync.Mutex
	byKey         map[SessionKey]*Session
	byAddr        map[string][]*Session
	authenticator shared.NFSAuthenticator
	gate          shared.AccessControlGate
	cfg           SessionConfig
}

func NewSessionTable(authenticator shared.NFSAuthenticator, gate shared.AccessControlGate, cfg SessionConfig) *SessionTable {
	return &SessionTable{
		byKey:         make(map[SessionKey]*Session),
		byAddr:        make(map[string][]*Session),
		authenticator: authenticator,
		gate:          gate,
		cfg:           cfg,
	}
}

// FindOrCreate resolves an RPC credential to its session, authenticating
// and interning a new session on first contact.
func (t *SessionTable) FindOrCreate(authFlavor uint32, rawCred []byte, remoteAddr net.Addr, proto string) (*Session, error) {
	identifier, err := t.authenticator.AuthenticateRPCClient(authFlavor, rawCred)
	if err != nil {
		return nil, shared.NewEngineError(shared.KindNotLoggedOn, "authenticate rpc client", err)
	}
	key := SessionKey{AuthType: authFlavor, Identifier: identifier}

	t.mu.Lock()
	if sess, ok := t.byKey[key]; ok {
		t.mu.Unlock()
		sess.touch()
		return sess, nil
	}
	t.mu.Unlock()

	info, err := t.authenticator.GetRPCClientInformation(identifier, rawCred)
	if err != nil {
		return nil, shared.NewEngineError(shared.KindNotLoggedOn, "get rpc client information", err)
	}

	sess := newSession(key, info, remoteAddr, proto, t.gate, t.cfg, t.authenticator)

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byKey[key]; ok {
		return existing, nil
	}
	t.byKey[key] = sess
	if remoteAddr != nil {
		addrStr := remoteAddr.String()
		t.byAddr[addrStr] = append(t.byAddr[addrStr], sess)
	}
	return sess, nil
}

// RemoveByAddr drops and closes every session associated with a remote
// socket address, used on TCP disconnect.
func (t *SessionTable) RemoveByAddr(addr net.Addr) {
	if addr == nil {
		return
	}
	addrStr := addr.String()

	t.mu.Lock()
	sessions := t.byAddr[addrStr]
	delete(t.byAddr, addrStr)
	for _, sess := range sessions {
		delete(t.byKey, sess.Key)
	}
	t.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// RemoveByIdentifier drops and closes a single session by key, used on
// an explicit logoff/shutdown request.
func (t *SessionTable) RemoveByIdentifier(key SessionKey) {
	t.mu.Lock()
	sess, ok := t.byKey[key]
	if ok {
		delete(t.byKey, key)
		if sess.RemoteAddr != nil {
			addrStr := sess.RemoteAddr.String()
			remaining := t.byAddr[addrStr][:0]
			for _, s := range t.byAddr[addrStr] {
				if s != sess {
					remaining = append(remaining, s)
				}
			}
			t.byAddr[addrStr] = remaining
		}
	}
	t.mu.Unlock()

	if ok {
		sess.Close()
	}
}
