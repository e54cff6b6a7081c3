// Package notify implements the server-side state behind SMB2 CHANGE_NOTIFY
// [MS-SMB2] 2.2.35/2.2.36: the per-share table of armed watch requests, the
// event-to-request matching rules, and the completed/buffered/overflow
// dispatch algorithm that decides what a watching client sees and when.
//
// Grounded on the teacher's own (MVP) NotifyRegistry in
// internal/protocol/smb/v2/handlers/change_notify.go, which tracked pending
// watches and matched a CompletionFilter but stopped short of delivering
// anything — "For MVP, we don't send async responses - just complete on
// next matching event" and "For MVP, we log the potential notification for
// debugging." This package keeps that request/filter model and adds the
// delivery side via the Dispatcher interface, plus the buffering, overflow,
// and expiry behaviour a real CHANGE_NOTIFY implementation needs.
package notify

import (
	"strings"
	"sync"
	"time"
)

// CompletionFilter bits select which kinds of changes a watch cares about.
// [MS-FSCC] 2.7.1.
const (
	FilterFileName   uint32 = 0x00000001
	FilterDirName    uint32 = 0x00000002
	FilterAttributes uint32 = 0x00000004
	FilterSize       uint32 = 0x00000008
	FilterLastWrite  uint32 = 0x00000010
	FilterLastAccess uint32 = 0x00000020
	FilterCreation   uint32 = 0x00000040
	FilterSecurity   uint32 = 0x00000100
)

// Action identifies the kind of change a FileNotifyInformation entry
// reports. [MS-FSCC] 2.4.42.
type Action uint32

const (
	ActionAdded Action = iota + 1
	ActionRemoved
	ActionModified
	ActionRenamedOldName
	ActionRenamedNewName
)

// Event is one filesystem change an event-ingress function reports to a
// Handler.
type Event struct {
	// Path is the share-relative path of the changed item, backslash
	// separated (e.g. `\docs\report.txt`).
	Path   string
	IsDir  bool
	Filter uint32
	Action Action
}

// Key identifies an armed watch request by the FileID of the directory
// handle CHANGE_NOTIFY was issued against. FileIDs are unique per open
// handle, so this also uniquely identifies the watch.
type Key [16]byte

// Dispatcher delivers a request's outcome back to the protocol layer that
// owns the connection the request arrived on. Implemented by the SMB
// connection's async response queue (component L).
type Dispatcher interface {
	// DeliverNotify sends events (or, if enumDir is true, a
	// STATUS_NOTIFY_ENUM_DIR "re-enumerate yourself" completion) to the
	// client that armed r.
	DeliverNotify(r *Request, events []Event, enumDir bool)
}

// defaultMaxQueue bounds how many buffered events an armed-but-not-yet-
// rearmed request accumulates before the server gives up on precise
// reporting and tells the client to re-enumerate instead.
const defaultMaxQueue = 32

// notifyHoldDuration is how long a completed request is kept around
// waiting for the client to reissue CHANGE_NOTIFY (a "re-arm") before the
// server gives up and forgets it. [MS-SMB2] 3.3.5.19 doesn't mandate an
// exact value; 10s bounds the memory a client that vanished mid-watch can
// pin.
const notifyHoldDuration = 10 * time.Second

// Request is one client's armed watch over a directory. A Handler holds
// one Request per outstanding or recently-completed CHANGE_NOTIFY.
type Request struct {
	Key        Key
	SessionID  uint64
	TreeID     uint32
	WatchPath  string // share-relative, backslash separated
	WatchTree  bool
	Filter     uint32
	MaxQueue   int
	Dispatcher Dispatcher

	mu        sync.Mutex
	completed bool
	expiresAt time.Time
	buffered  []Event
	enumDir   bool
}

// ArmResult reports work that was already waiting for a request at Arm
// time, e.g. when Arm is really a client re-issuing CHANGE_NOTIFY on a
// directory that accumulated changes while unwatched.
type ArmResult struct {
	Events  []Event
	EnumDir bool
	Ready   bool
}

// Handler is the per-share table of armed CHANGE_NOTIFY requests. One
// Handler instance backs one shared.SharedDevice; SMBAdapter keeps a
// Handler per share name.
type Handler struct {
	mu         sync.Mutex
	requests   []*Request
	globalMask uint32
}

func NewHandler() *Handler {
	return &Handler{}
}

// Arm registers req, or, if a request for the same Key is already tracked
// (the client reissuing CHANGE_NOTIFY on a directory it watched before),
// re-arms it in place and returns whatever events or overflow marker
// accumulated since it last completed.
func (h *Handler) Arm(req *Request) ArmResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, existing := range h.requests {
		if existing.Key != req.Key {
			continue
		}

		existing.mu.Lock()
		var res ArmResult
		switch {
		case existing.enumDir:
			existing.enumDir = false
			res = ArmResult{EnumDir: true, Ready: true}
		case len(existing.buffered) > 0:
			res = ArmResult{Events: existing.buffered, Ready: true}
			existing.buffered = nil
		}
		existing.completed = false
		existing.WatchPath = req.WatchPath
		existing.WatchTree = req.WatchTree
		existing.Filter = req.Filter
		existing.MaxQueue = req.MaxQueue
		existing.Dispatcher = req.Dispatcher
		existing.mu.Unlock()

		h.recomputeMaskLocked()
		return res
	}

	h.requests = append(h.requests, req)
	h.recomputeMaskLocked()
	return ArmResult{}
}

// Remove drops the request identified by key, e.g. when its directory
// handle is closed or the request is cancelled.
func (h *Handler) Remove(key Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWhereLocked(func(r *Request) bool { return r.Key == key })
}

// RemoveBySession drops every request armed on sessionID, e.g. at LOGOFF
// or Virtual Circuit teardown.
func (h *Handler) RemoveBySession(sessionID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWhereLocked(func(r *Request) bool { return r.SessionID == sessionID })
}

// RemoveByTree drops every request armed on treeID, e.g. at TREE_DISCONNECT.
func (h *Handler) RemoveByTree(treeID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWhereLocked(func(r *Request) bool { return r.TreeID == treeID })
}

func (h *Handler) removeWhereLocked(match func(*Request) bool) {
	kept := h.requests[:0]
	for _, r := range h.requests {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	h.requests = kept
	h.recomputeMaskLocked()
}

// ExpireWalk drops requests that completed more than notifyHoldDuration
// ago and were never reissued. Intended to run periodically from a
// background reaper loop.
func (h *Handler) ExpireWalk(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWhereLocked(func(r *Request) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.completed && now.After(r.expiresAt)
	})
}

func (h *Handler) recomputeMaskLocked() {
	var mask uint32
	for _, r := range h.requests {
		mask |= r.Filter
	}
	h.globalMask = mask
}

// notify is the common path every event-ingress function funnels through:
// cheap early-exit against the handler's rolling filter mask, then a
// per-request match/dispatch pass.
func (h *Handler) notify(path string, isDir bool, filter uint32, action Action) {
	h.mu.Lock()
	if h.globalMask&filter == 0 {
		h.mu.Unlock()
		return
	}

	e := Event{Path: path, IsDir: isDir, Filter: filter, Action: action}
	var targets []*Request
	for _, r := range h.requests {
		if matches(r, e) {
			targets = append(targets, r)
		}
	}
	h.mu.Unlock()

	now := time.Now()
	for _, r := range targets {
		h.dispatch(r, e, now)
	}
}

// dispatch applies the completed/buffered/overflow rule to a single
// matching request. The first event after a request is armed (or rearmed)
// completes it immediately; subsequent events buffer until MaxQueue is
// reached, at which point the buffer is dropped in favor of a
// STATUS_NOTIFY_ENUM_DIR marker telling the client to re-enumerate.
func (h *Handler) dispatch(r *Request, e Event, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.completed {
		r.completed = true
		r.expiresAt = now.Add(notifyHoldDuration)
		if r.Dispatcher != nil {
			r.Dispatcher.DeliverNotify(r, []Event{e}, false)
		}
		return
	}

	if r.enumDir {
		return
	}

	maxQueue := r.MaxQueue
	if maxQueue <= 0 {
		maxQueue = defaultMaxQueue
	}

	r.buffered = append(r.buffered, e)
	if len(r.buffered) >= maxQueue {
		r.buffered = nil
		r.enumDir = true
	}
}

// matches implements the CHANGE_NOTIFY match rules: the filter bits must
// intersect, and the path must fall under the watch either because it *is*
// the watched directory, because WatchTree covers its subtree, or because
// its parent directory is exactly the watched directory (non-recursive
// watches only ever see their immediate children).
func matches(r *Request, e Event) bool {
	if r.Filter&e.Filter == 0 {
		return false
	}
	if e.IsDir && strings.EqualFold(e.Path, r.WatchPath) {
		return true
	}
	if r.WatchTree && pathUnder(e.Path, r.WatchPath) {
		return true
	}
	return strings.EqualFold(parentDir(e.Path), r.WatchPath)
}

func pathUnder(path, root string) bool {
	if root == "" || root == `\` {
		return true
	}
	p, r := strings.ToLower(path), strings.ToLower(root)
	if !strings.HasPrefix(p, r) {
		return false
	}
	return len(p) == len(r) || p[len(r)] == '\\'
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '\\')
	if idx < 0 {
		return ""
	}
	if idx == 0 {
		return `\`
	}
	return path[:idx]
}

// NotifyFileChanged reports a file or directory being created or removed.
func (h *Handler) NotifyFileChanged(path string, isDir bool, action Action) {
	filter := FilterFileName
	if isDir {
		filter = FilterDirName
	}
	h.notify(path, isDir, filter, action)
}

// NotifyRename reports a rename; newPath is watched against, matching the
// convention that only the destination needs to resolve to a watcher for
// the RenamedNewName half to be reported (the old-name half is the
// caller's responsibility to report separately via NotifyFileChanged-style
// bookkeeping if both halves need to be observed).
func (h *Handler) NotifyRename(newPath string, isDir bool) {
	filter := FilterFileName
	if isDir {
		filter = FilterDirName
	}
	h.notify(newPath, isDir, filter, ActionRenamedNewName)
}

func (h *Handler) NotifyAttributesChanged(path string, isDir bool) {
	h.notify(path, isDir, FilterAttributes, ActionModified)
}

func (h *Handler) NotifyFileSizeChanged(path string, isDir bool) {
	h.notify(path, isDir, FilterSize, ActionModified)
}

func (h *Handler) NotifyLastWriteTimeChanged(path string, isDir bool) {
	h.notify(path, isDir, FilterLastWrite, ActionModified)
}

func (h *Handler) NotifyLastAccessTimeChanged(path string, isDir bool) {
	h.notify(path, isDir, FilterLastAccess, ActionModified)
}

func (h *Handler) NotifyCreationTimeChanged(path string, isDir bool) {
	h.notify(path, isDir, FilterCreation, ActionModified)
}

func (h *Handler) NotifySecurityDescriptorChanged(path string, isDir bool) {
	h.notify(path, isDir, FilterSecurity, ActionModified)
}
