package smb

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/marmos91/dittofs/internal/protocol/smb/header"
	"github.com/marmos91/dittofs/internal/protocol/smb/types"
	"github.com/marmos91/dittofs/pkg/shared"
)

// denyGate grants PermissionNone to every share, for exercising
// handleTreeConnect's access-denied path.
type denyGate struct{}

func (denyGate) VisibleShares(_ shared.SessionIdentity, shares []*shared.SharedDevice) []*shared.SharedDevice {
	return nil
}

func (denyGate) Permission(_ shared.SessionIdentity, _ *shared.SharedDevice) shared.Permission {
	return shared.PermissionNone
}

// treeConnectBody builds a TREE_CONNECT request body [MS-SMB2] 2.2.9 for
// path, with PathOffset set as if the path immediately followed the
// 64-byte SMB2 header plus the 8-byte fixed body.
func treeConnectBody(path string) []byte {
	u16 := utf16.Encode([]rune(path))
	pathBytes := make([]byte, len(u16)*2)
	for i, u := range u16 {
		binary.LittleEndian.PutUint16(pathBytes[i*2:], u)
	}

	body := make([]byte, 8+len(pathBytes))
	binary.LittleEndian.PutUint16(body[0:2], 9)
	binary.LittleEndian.PutUint16(body[4:6], uint16(header.HeaderSize+8))
	binary.LittleEndian.PutUint16(body[6:8], uint16(len(pathBytes)))
	copy(body[8:], pathBytes)
	return body
}

func changeNotifyBody(watchTree bool, filter uint32) []byte {
	body := make([]byte, 32)
	if watchTree {
		binary.LittleEndian.PutUint16(body[2:4], 0x0001)
	}
	binary.LittleEndian.PutUint32(body[24:28], filter)
	return body
}

func TestHandleTreeConnect_Success(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newTestSMBConnection(server)
	reg := shared.NewRegistry()
	if err := reg.AddShare(&shared.SharedDevice{Name: "docs", Type: shared.ShareTypeDisk}); err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	c.adapter.SetRuntime(reg)

	req := &header.SMB2Header{Command: types.CommandTreeConnect, SessionID: 7}
	respHdr, body := c.handleTreeConnect(req, treeConnectBody(`\\server\docs`))

	if respHdr.Status != types.StatusSuccess {
		t.Fatalf("expected STATUS_SUCCESS, got %v", respHdr.Status)
	}
	if respHdr.TreeID == 0 {
		t.Error("expected a non-zero allocated TreeID")
	}
	if len(body) != 16 {
		t.Fatalf("expected 16-byte response body, got %d", len(body))
	}
	if shared.ShareType(body[2]) != shared.ShareTypeDisk {
		t.Errorf("expected ShareTypeDisk, got %d", body[2])
	}

	entry := c.lookupTree(respHdr.TreeID)
	if entry == nil {
		t.Fatal("expected the connected tree to be recorded")
	}
	if entry.tc.Share.Name != "docs" {
		t.Errorf("expected tree to reference share docs, got %s", entry.tc.Share.Name)
	}
}

func TestHandleTreeConnect_ShareNotFound(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newTestSMBConnection(server)
	c.adapter.SetRuntime(shared.NewRegistry())

	req := &header.SMB2Header{Command: types.CommandTreeConnect, SessionID: 7}
	respHdr, _ := c.handleTreeConnect(req, treeConnectBody(`\\server\missing`))

	if respHdr.Status != types.StatusBadNetworkName {
		t.Fatalf("expected STATUS_BAD_NETWORK_NAME, got %v", respHdr.Status)
	}
}

func TestHandleTreeConnect_AccessDenied(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	adapter := NewWithAuth(SMBConfig{}, nil, denyGate{})
	c := NewSMBConnection(adapter, server)
	reg := shared.NewRegistry()
	if err := reg.AddShare(&shared.SharedDevice{Name: "docs", Type: shared.ShareTypeDisk}); err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	c.adapter.SetRuntime(reg)

	req := &header.SMB2Header{Command: types.CommandTreeConnect, SessionID: 7}
	respHdr, _ := c.handleTreeConnect(req, treeConnectBody(`\\server\docs`))

	if respHdr.Status != types.StatusAccessDenied {
		t.Fatalf("expected STATUS_ACCESS_DENIED, got %v", respHdr.Status)
	}
}

func TestHandleChangeNotify_NoTreeConnected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newTestSMBConnection(server)
	req := &header.SMB2Header{Command: types.CommandChangeNotify, SessionID: 7, TreeID: 99}
	respHdr, _ := c.handleChangeNotify(req, changeNotifyBody(false, 0x1))

	if respHdr.Status != types.StatusNetworkNameDeleted {
		t.Fatalf("expected STATUS_NETWORK_NAME_DELETED, got %v", respHdr.Status)
	}
}

func TestHandleChangeNotify_PendsThenDeliversAsync(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newTestSMBConnection(server)
	reg := shared.NewRegistry()
	if err := reg.AddShare(&shared.SharedDevice{Name: "docs", Type: shared.ShareTypeDisk}); err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	c.adapter.SetRuntime(reg)

	connectReq := &header.SMB2Header{Command: types.CommandTreeConnect, SessionID: 7}
	connectResp, _ := c.handleTreeConnect(connectReq, treeConnectBody(`\\server\docs`))
	if connectResp.Status != types.StatusSuccess {
		t.Fatalf("tree connect failed: %v", connectResp.Status)
	}

	notifyReq := &header.SMB2Header{
		Command:   types.CommandChangeNotify,
		SessionID: 7,
		TreeID:    connectResp.TreeID,
		MessageID: 42,
	}
	respHdr, body := c.handleChangeNotify(notifyReq, changeNotifyBody(false, 0x1))
	if respHdr.Status != types.StatusPending {
		t.Fatalf("expected STATUS_PENDING, got %v", respHdr.Status)
	}
	if !respHdr.Flags.IsAsync() {
		t.Error("expected the interim response to carry FlagAsync")
	}
	if body != nil {
		t.Error("expected an empty interim response body")
	}

	done := make(chan []byte, 1)
	go func() {
		frame := make([]byte, 512)
		n, err := client.Read(frame)
		if err != nil {
			close(done)
			return
		}
		done <- frame[:n]
	}()

	c.adapter.notifyHandlerFor("docs").NotifyFileChanged(`\a.txt`, false, 1)

	select {
	case frame, ok := <-done:
		if !ok {
			t.Fatal("client read failed")
		}
		if len(frame) < netbiosHeaderSize+header.HeaderSize {
			t.Fatalf("frame too short: %d bytes", len(frame))
		}
		hdr, err := header.Parse(frame[netbiosHeaderSize:])
		if err != nil {
			t.Fatalf("header.Parse: %v", err)
		}
		if hdr.Status != types.StatusSuccess {
			t.Errorf("expected STATUS_SUCCESS completion, got %v", hdr.Status)
		}
		if !hdr.Flags.IsAsync() {
			t.Error("expected the async completion to carry FlagAsync")
		}
		if hdr.MessageID != 42 {
			t.Errorf("expected MessageID to match the original request, got %d", hdr.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async CHANGE_NOTIFY completion")
	}
}

func TestHandleTreeDisconnect_RemovesNotifyRequests(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newTestSMBConnection(server)
	reg := shared.NewRegistry()
	if err := reg.AddShare(&shared.SharedDevice{Name: "docs", Type: shared.ShareTypeDisk}); err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	c.adapter.SetRuntime(reg)

	connectResp, _ := c.handleTreeConnect(&header.SMB2Header{Command: types.CommandTreeConnect, SessionID: 7}, treeConnectBody(`\\server\docs`))
	treeID := connectResp.TreeID

	notifyReq := &header.SMB2Header{Command: types.CommandChangeNotify, SessionID: 7, TreeID: treeID}
	respHdr, _ := c.handleChangeNotify(notifyReq, changeNotifyBody(false, 0x1))
	if respHdr.Status != types.StatusPending {
		t.Fatalf("expected STATUS_PENDING, got %v", respHdr.Status)
	}

	c.handleTreeDisconnect(&header.SMB2Header{Command: types.CommandTreeDisconnect, SessionID: 7, TreeID: treeID}, nil)

	if entry := c.lookupTree(treeID); entry != nil {
		t.Error("expected the tree entry to be removed")
	}

	received := make(chan struct{}, 1)
	go func() {
		frame := make([]byte, 512)
		_ = client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		if _, err := client.Read(frame); err == nil {
			received <- struct{}{}
		}
	}()

	c.adapter.notifyHandlerFor("docs").NotifyFileChanged(`\a.txt`, false, 1)

	select {
	case <-received:
		t.Error("expected no delivery after TREE_DISCONNECT removed the watch")
	case <-time.After(500 * time.Millisecond):
	}
}
