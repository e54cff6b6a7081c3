package notify

import (
	"sync"
	"testing"
	"time"
)

// recordingDispatcher captures every DeliverNotify call for assertions.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []delivery
}

type delivery struct {
	events  []Event
	enumDir bool
}

func (d *recordingDispatcher) DeliverNotify(_ *Request, events []Event, enumDir bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, delivery{events: events, enumDir: enumDir})
}

func (d *recordingDispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recordingDispatcher) last() delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func newArmedRequest(key byte, watchPath string, watchTree bool, filter uint32, maxQueue int, disp Dispatcher) *Request {
	var k Key
	k[0] = key
	return &Request{
		Key:        k,
		WatchPath:  watchPath,
		WatchTree:  watchTree,
		Filter:     filter,
		MaxQueue:   maxQueue,
		Dispatcher: disp,
	}
}

func TestHandler_FirstEventCompletesImmediately(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	h.Arm(newArmedRequest(1, `\docs`, false, FilterFileName, 0, disp))

	h.NotifyFileChanged(`\docs\a.txt`, false, ActionAdded)

	if disp.len() != 1 {
		t.Fatalf("expected 1 delivery, got %d", disp.len())
	}
	got := disp.last()
	if got.enumDir {
		t.Error("first event should not be an enum-dir completion")
	}
	if len(got.events) != 1 || got.events[0].Path != `\docs\a.txt` {
		t.Errorf("unexpected event payload: %+v", got.events)
	}
}

func TestHandler_NonRecursiveWatchIgnoresGrandchildren(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	h.Arm(newArmedRequest(1, `\docs`, false, FilterFileName, 0, disp))

	h.NotifyFileChanged(`\docs\sub\a.txt`, false, ActionAdded)

	if disp.len() != 0 {
		t.Fatalf("expected non-recursive watch to ignore grandchildren, got %d deliveries", disp.len())
	}
}

func TestHandler_RecursiveWatchSeesGrandchildren(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	h.Arm(newArmedRequest(1, `\docs`, true, FilterFileName, 0, disp))

	h.NotifyFileChanged(`\docs\sub\a.txt`, false, ActionAdded)

	if disp.len() != 1 {
		t.Fatalf("expected recursive watch to see grandchild change, got %d deliveries", disp.len())
	}
}

func TestHandler_FilterMismatchIsIgnored(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	h.Arm(newArmedRequest(1, `\docs`, false, FilterAttributes, 0, disp))

	h.NotifyFileChanged(`\docs\a.txt`, false, ActionAdded)

	if disp.len() != 0 {
		t.Fatalf("expected filter mismatch to suppress delivery, got %d deliveries", disp.len())
	}
}

func TestHandler_OverflowSetsEnumDir(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	req := newArmedRequest(1, `\docs`, false, FilterFileName, 4, disp)
	h.Arm(req)

	// Event 1 completes the request synchronously.
	h.NotifyFileChanged(`\docs\1.txt`, false, ActionAdded)
	// Events 2-4 buffer (lengths 1, 2, 3); none reach maxQueue yet.
	h.NotifyFileChanged(`\docs\2.txt`, false, ActionAdded)
	h.NotifyFileChanged(`\docs\3.txt`, false, ActionAdded)
	h.NotifyFileChanged(`\docs\4.txt`, false, ActionAdded)

	req.mu.Lock()
	bufLen := len(req.buffered)
	enumDir := req.enumDir
	req.mu.Unlock()
	if enumDir {
		t.Fatal("should not overflow before the 4th buffered event")
	}
	if bufLen != 3 {
		t.Fatalf("expected 3 buffered events, got %d", bufLen)
	}

	// Event 5 is the 4th buffered event, reaching maxQueue: buffer clears
	// and the request flips to the enum-dir overflow marker.
	h.NotifyFileChanged(`\docs\5.txt`, false, ActionAdded)

	req.mu.Lock()
	bufLen = len(req.buffered)
	enumDir = req.enumDir
	req.mu.Unlock()
	if !enumDir {
		t.Fatal("expected overflow to set enumDir")
	}
	if bufLen != 0 {
		t.Fatalf("expected buffer cleared on overflow, got %d entries", bufLen)
	}

	// Only the first event was ever delivered; the rest queued silently.
	if disp.len() != 1 {
		t.Fatalf("expected exactly 1 delivery before rearm, got %d", disp.len())
	}
}

func TestHandler_RearmFlushesBufferedEvents(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	req := newArmedRequest(1, `\docs`, false, FilterFileName, 10, disp)
	h.Arm(req)

	h.NotifyFileChanged(`\docs\1.txt`, false, ActionAdded) // completes
	h.NotifyFileChanged(`\docs\2.txt`, false, ActionAdded) // buffers
	h.NotifyFileChanged(`\docs\3.txt`, false, ActionAdded) // buffers

	res := h.Arm(newArmedRequest(1, `\docs`, false, FilterFileName, 10, disp))
	if !res.Ready {
		t.Fatal("expected rearm to report ready work")
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 buffered events flushed on rearm, got %d", len(res.Events))
	}
	if res.EnumDir {
		t.Error("rearm should not report enumDir when only events buffered")
	}
}

func TestHandler_RearmFlushesEnumDir(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	req := newArmedRequest(1, `\docs`, false, FilterFileName, 2, disp)
	h.Arm(req)

	h.NotifyFileChanged(`\docs\1.txt`, false, ActionAdded) // completes
	h.NotifyFileChanged(`\docs\2.txt`, false, ActionAdded) // buffers (len 1)
	h.NotifyFileChanged(`\docs\3.txt`, false, ActionAdded) // overflow at maxQueue=2

	res := h.Arm(newArmedRequest(1, `\docs`, false, FilterFileName, 2, disp))
	if !res.Ready || !res.EnumDir {
		t.Fatalf("expected rearm to report enum-dir overflow, got %+v", res)
	}
}

func TestHandler_RemoveDropsRequest(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	req := newArmedRequest(1, `\docs`, false, FilterFileName, 0, disp)
	h.Arm(req)
	h.Remove(req.Key)

	h.NotifyFileChanged(`\docs\a.txt`, false, ActionAdded)
	if disp.len() != 0 {
		t.Fatal("removed request should not receive further events")
	}
}

func TestHandler_RemoveBySessionAndTree(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	r1 := newArmedRequest(1, `\docs`, false, FilterFileName, 0, disp)
	r1.SessionID = 10
	r1.TreeID = 1
	r2 := newArmedRequest(2, `\docs`, false, FilterFileName, 0, disp)
	r2.SessionID = 20
	r2.TreeID = 1
	h.Arm(r1)
	h.Arm(r2)

	h.RemoveBySession(10)
	h.NotifyFileChanged(`\docs\a.txt`, false, ActionAdded)
	if disp.len() != 1 {
		t.Fatalf("expected only session 20's watch to remain, got %d deliveries", disp.len())
	}

	h.RemoveByTree(1)
	h.NotifyFileChanged(`\docs\b.txt`, false, ActionAdded)
	if disp.len() != 1 {
		t.Fatalf("expected RemoveByTree to drop the remaining watch, got %d deliveries", disp.len())
	}
}

func TestHandler_ExpireWalkDropsStaleCompletedRequests(t *testing.T) {
	h := NewHandler()
	disp := &recordingDispatcher{}
	req := newArmedRequest(1, `\docs`, false, FilterFileName, 0, disp)
	h.Arm(req)
	h.NotifyFileChanged(`\docs\a.txt`, false, ActionAdded) // completes, sets expiresAt

	h.ExpireWalk(time.Now())
	if len(h.requests) != 1 {
		t.Fatal("should not expire before notifyHoldDuration elapses")
	}

	h.ExpireWalk(time.Now().Add(notifyHoldDuration + time.Second))
	if len(h.requests) != 0 {
		t.Fatal("expected stale completed request to be dropped")
	}
}

func TestDecodeRequest(t *testing.T) {
	body := make([]byte, 32)
	body[2] = 0x01 // WatchTree flag, little-endian uint16 at [2:4]
	var fileID [16]byte
	for i := range fileID {
		fileID[i] = byte(i + 1)
	}
	copy(body[8:24], fileID[:])
	body[24] = byte(FilterFileName)

	req, err := DecodeRequest(body)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if !req.WatchTree {
		t.Error("expected WatchTree to be set")
	}
	if req.FileID != fileID {
		t.Errorf("FileID mismatch: got %v want %v", req.FileID, fileID)
	}
	if req.CompletionFilter != FilterFileName {
		t.Errorf("CompletionFilter = %#x, want %#x", req.CompletionFilter, FilterFileName)
	}
}

func TestDecodeRequest_TooShort(t *testing.T) {
	if _, err := DecodeRequest(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized request body")
	}
}

func TestEncodeResponse_EmptyEvents(t *testing.T) {
	buf := EncodeResponse(nil, `\docs`)
	if len(buf) != responseFixedSize {
		t.Fatalf("expected %d-byte fixed body for no events, got %d", responseFixedSize, len(buf))
	}
}

func TestEncodeResponse_SingleEvent(t *testing.T) {
	events := []Event{{Path: `\docs\a.txt`, Action: ActionAdded}}
	buf := EncodeResponse(events, `\docs`)
	if len(buf) <= responseFixedSize {
		t.Fatal("expected response buffer to carry FileNotifyInformation entries")
	}
}
