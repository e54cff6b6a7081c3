package ftp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/shared"
)

// DataSession is the control channel's at-most-one data connection. It is
// either passive (server listens, client connects) or active (server
// connects out to a client-advertised address). Exactly one lives per FTP
// session at a time.
type DataSession struct {
	passive bool

	listener net.Listener // passive only
	conn     net.Conn     // active only, connected lazily

	localPort  int
	clientAddr *net.TCPAddr // active only

	transferInProgress atomic.Bool
	abort               atomic.Bool
	bytesTransferred    atomic.Int64
}

func (ds *DataSession) SetAbort()        { ds.abort.Store(true) }
func (ds *DataSession) Aborted() bool    { return ds.abort.Load() }
func (ds *DataSession) BytesMoved() int64 { return ds.bytesTransferred.Load() }

// DataChannelManager keeps a table of passive DataSessions by local port.
// Active-mode sessions are not entered in the table, and an FTP Session
// holds its current DataSession as a direct pointer rather than a port id.
type DataChannelManager struct {
	mu    sync.Mutex
	table map[int]*DataSession

	portLow, portHigh int // 0,0 => OS-assigned
	advertiseAddr     string
}

func NewDataChannelManager(portLow, portHigh int, advertiseAddr string) *DataChannelManager {
	return &DataChannelManager{
		table:         make(map[int]*DataSession),
		portLow:       portLow,
		portHigh:      portHigh,
		advertiseAddr: advertiseAddr,
	}
}

// AllocatePassive opens a listening socket (with the system's default
// backlog, not limited to one pending connection) on an ephemeral (or
// configured-range) port and records it in the port table, for a 227/229
// reply.
func (m *DataChannelManager) AllocatePassive(bindAddr string) (*DataSession, error) {
	ln, err := m.listenInRange(bindAddr)
	if err != nil {
		return nil, shared.NewEngineError(shared.KindDataChannelUnavailable, "ftp.pasv", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	ds := &DataSession{passive: true, listener: ln, localPort: port}

	m.mu.Lock()
	m.table[port] = ds
	m.mu.Unlock()

	return ds, nil
}

func (m *DataChannelManager) listenInRange(bindAddr string) (net.Listener, error) {
	if m.portLow == 0 || m.portHigh == 0 {
		return net.Listen("tcp", fmt.Sprintf("%s:0", bindAddr))
	}
	for p := m.portLow; p <= m.portHigh; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, p))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no free port in range %d-%d", m.portLow, m.portHigh)
}

// AllocateActive records the client-advertised target address; the actual
// connect is deferred to GetSocket (first use).
func (m *DataChannelManager) AllocateActive(clientAddr *net.TCPAddr) *DataSession {
	return &DataSession{passive: false, clientAddr: clientAddr, localPort: 0}
}

// GetSocket accepts (passive) or connects (active) and returns a ready
// socket with linger disabled.
func (m *DataChannelManager) GetSocket(ds *DataSession) (net.Conn, error) {
	var conn net.Conn
	var err error

	if ds.passive {
		conn, err = ds.listener.Accept()
	} else {
		conn, err = net.Dial("tcp", ds.clientAddr.String())
	}
	if err != nil {
		return nil, shared.NewEngineError(shared.KindDataChannelUnavailable, "ftp.datachannel", err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}

	ds.conn = conn
	return conn, nil
}

// Release closes the data socket (and, for passive sessions, the
// listener) and removes the session from the port table. Safe to call
// more than once.
func (m *DataChannelManager) Release(ds *DataSession) {
	if ds == nil {
		return
	}

	if ds.conn != nil {
		if err := ds.conn.Close(); err != nil {
			logger.Debug("ftp data channel close error", "error", err)
		}
		ds.conn = nil
	}
	if ds.listener != nil {
		if err := ds.listener.Close(); err != nil {
			logger.Debug("ftp data listener close error", "error", err)
		}
	}

	if ds.localPort != 0 {
		m.mu.Lock()
		delete(m.table, ds.localPort)
		m.mu.Unlock()
	}
}

// AdvertiseHost returns the address a client should use to reach the
// server's passive-mode listener: the configured advertise address if set,
// otherwise the listener's own bind address.
func (m *DataChannelManager) AdvertiseHost(local net.Addr) string {
	if m.advertiseAddr != "" {
		return m.advertiseAddr
	}
	if tcp, ok := local.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return ""
}
