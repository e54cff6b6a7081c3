package nfs

import (
	"sync"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/shared"
)

type entryState int

const (
	entryOpen entryState = iota
	entryClosed
)

// pendingIOFile is implemented by a shared.NetworkFile that can report an
// in-flight read/write, so the reaper doesn't close out from under a
// transfer that simply hasn't touched the cache recently.
type pendingIOFile interface {
	HasPendingIO() bool
}

type fileCacheEntry struct {
	fileID    uint32
	file      shared.NetworkFile
	tree      *shared.TreeConnection
	state     entryState
	expiresAt time.Time
}

// FileCache is the per-session open-file cache with an idle reaper:
// entries keyed by fileId, reaped in two passes (I/O-idle close,
// then retention-expired removal) by a background goroutine.
type FileCache struct {
	mu            sync.Mutex
	entries       map[uint32]*fileCacheEntry
	ioTimer       time.Duration
	closeTimer    time.Duration
	authenticator shared.NFSAuthenticator
	clientInfo    shared.ClientInfo

	stop     chan struct{}
	stopOnce sync.Once
}

func newFileCache(ioTimer, closeTimer time.Duration, authenticator shared.NFSAuthenticator, info shared.ClientInfo) *FileCache {
	return &FileCache{
		entries:       make(map[uint32]*fileCacheEntry),
		ioTimer:       ioTimer,
		closeTimer:    closeTimer,
		authenticator: authenticator,
		clientInfo:    info,
		stop:          make(chan struct{}),
	}
}

// Start launches the idle reaper. Safe to call once per cache.
func (c *FileCache) Start() {
	go c.reapLoop()
}

func (c *FileCache) reapLoop() {
	ticker := time.NewTicker(c.ioTimer / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.reapOnce()
		}
	}
}

// Open interns an open file under fileId, replacing any entry already
// cached for it, open or closed. Get does not return closed entries, so
// the cache never reopens a file the reaper has closed.
func (c *FileCache) Open(fileID uint32, tree *shared.TreeConnection, file shared.NetworkFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fileID] = &fileCacheEntry{
		fileID:    fileID,
		file:      file,
		tree:      tree,
		state:     entryOpen,
		expiresAt: time.Now().Add(c.ioTimer),
	}
}

// Get returns the cached file for fileId and refreshes its expiry,
// reporting whether it was found.
func (c *FileCache) Get(fileID uint32) (shared.NetworkFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fileID]
	if !ok || e.state != entryOpen {
		return nil, false
	}
	e.expiresAt = time.Now().Add(c.ioTimer)
	return e.file, true
}

// reapOnce runs one pass of the idle reaper over every entry.
func (c *FileCache) reapOnce() {
	c.mu.Lock()
	now := time.Now()
	var toClose, toRemove []*fileCacheEntry
	for _, e := range c.entries {
		if e.expiresAt.After(now) {
			continue
		}
		if e.state == entryOpen {
			if pf, ok := e.file.(pendingIOFile); ok && pf.HasPendingIO() {
				e.expiresAt = now.Add(c.ioTimer)
				continue
			}
			toClose = append(toClose, e)
		} else {
			toRemove = append(toRemove, e)
		}
	}
	c.mu.Unlock()

	for _, e := range toClose {
		c.closeEntry(e)
		c.mu.Lock()
		e.state = entryClosed
		e.expiresAt = time.Now().Add(c.closeTimer)
		c.mu.Unlock()
	}

	for _, e := range toRemove {
		c.mu.Lock()
		delete(c.entries, e.fileID)
		c.mu.Unlock()
	}
}

func (c *FileCache) closeEntry(e *fileCacheEntry) {
	if err := c.authenticator.SetCurrentUser(c.clientInfo); err != nil {
		logger.Warn("nfs file cache: set current user for reaper close failed", "error", err)
		return
	}
	if err := e.tree.Share.Driver.CloseFile(e.file); err != nil {
		logger.Warn("nfs file cache: reaper close failed", "fileId", e.fileID, "error", err)
	}
}

// CloseAll force-closes every cached file, used at session close.
func (c *FileCache) CloseAll() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	entries := make([]*fileCacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.state == entryOpen {
			entries = append(entries, e)
		}
	}
	c.entries = make(map[uint32]*fileCacheEntry)
	c.mu.Unlock()

	for _, e := range entries {
		c.closeEntry(e)
	}
}
