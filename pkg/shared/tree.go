package shared

import (
	"hash/fnv"
	"sync"
)

// Permission is the access level a session holds on a share, as decided by
// the AccessControlGate when the TreeConnection is created.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionReadOnly
	PermissionWriteable
)

func (p Permission) HasReadAccess() bool {
	return p == PermissionReadOnly || p == PermissionWriteable
}

func (p Permission) HasWriteAccess() bool {
	return p == PermissionWriteable
}

// TreeConnection is a session's attached, permission-annotated view of a
// share. Created lazily on first access and cached for the session's
// lifetime; destroyed when the session closes or the share is removed.
type TreeConnection struct {
	Session    SessionIdentity
	Share      *SharedDevice
	Permission Permission
}

func (t *TreeConnection) HasReadAccess() bool  { return t.Permission.HasReadAccess() }
func (t *TreeConnection) HasWriteAccess() bool { return t.Permission.HasWriteAccess() }

// SessionIdentity is the minimal view of a protocol session the
// access-control gate needs to make a decision. Each engine's concrete
// session type satisfies this trivially.
type SessionIdentity interface {
	Identity() string
}

// ShareNameHash is the stable hash used to key per-session tree-connection
// caches and to derive the NFS file handle's shareId component. Stable
// across restarts: it is a pure function of the share name.
func ShareNameHash(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// TreeConnectionCache is the per-session map of share-name-hash to
// TreeConnection. Every protocol session embeds one.
type TreeConnectionCache struct {
	mu    sync.Mutex
	gate  AccessControlGate
	owner SessionIdentity
	conns map[uint32]*TreeConnection
}

func NewTreeConnectionCache(owner SessionIdentity, gate AccessControlGate) *TreeConnectionCache {
	return &TreeConnectionCache{
		gate:  gate,
		owner: owner,
		conns: make(map[uint32]*TreeConnection),
	}
}

// GetTreeConnection returns the cached TreeConnection for share, creating
// one (and consulting the access-control gate) on first access. If no gate
// is configured the permission defaults to Writeable.
func (c *TreeConnectionCache) GetTreeConnection(share *SharedDevice) *TreeConnection {
	key := ShareNameHash(share.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if tc, ok := c.conns[key]; ok {
		return tc
	}

	perm := PermissionWriteable
	if c.gate != nil {
		perm = c.gate.Permission(c.owner, share)
	}

	tc := &TreeConnection{Session: c.owner, Share: share, Permission: perm}
	c.conns[key] = tc
	return tc
}

// Remove drops a single tree connection, e.g. on explicit share removal.
func (c *TreeConnectionCache) Remove(share *SharedDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, ShareNameHash(share.Name))
}

// Clear destroys every cached tree connection. Called at session close.
func (c *TreeConnectionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = make(map[uint32]*TreeConnection)
}
