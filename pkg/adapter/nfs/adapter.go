// Package nfs implements the NFSv3-over-ONC-RPC dispatcher: RPC program
// and version validation, the NFS Session Table and per-session open-file
// cache with idle reaper, and the opaque 32-byte file-handle codec
// described in the design's NFS Dispatcher and NFS Session components.
package nfs

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/shared"
)

// Adapter wires the NFS dispatcher onto adapter.BaseAdapter's TCP
// accept-loop/shutdown machinery, plus a UDP datagram loop the base
// adapter doesn't provide (NFS is explicitly dual-transport).
type Adapter struct {
	adapter.BaseAdapter

	config     Config
	dispatcher *Dispatcher
	udpConn    *net.UDPConn
	udpDone    chan struct{}
}

// New creates an NFS adapter. Config defaults are applied and validated;
// an invalid configuration panics, matching the other protocol adapters.
func New(cfg Config, authenticator shared.NFSAuthenticator, gate shared.AccessControlGate, factory ProcessorFactory) *Adapter {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid NFS config: %v", err))
	}
	if gate == nil {
		gate = shared.AllowAllGate{}
	}

	a := &Adapter{
		config: cfg,
		dispatcher: &Dispatcher{
			Sessions:  NewSessionTable(authenticator, gate, cfg.Session),
			Factory:   factory,
			VersionLo: cfg.VersionLow,
			VersionHi: cfg.VersionHigh,
		},
		udpDone: make(chan struct{}),
	}

	a.BaseAdapter = *adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:        cfg.BindAddress,
		Port:               cfg.Port,
		MaxConnections:     cfg.MaxConnections,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.MetricsLogInterval,
	}, "NFS")

	return a
}

// Serve starts both the TCP (record-marked) and UDP (datagram) listeners
// and blocks until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.config.BindAddress, a.config.Port)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("nfs: resolve udp address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("nfs: listen udp: %w", err)
	}
	a.udpConn = udpConn

	logger.Info("NFS adapter starting", "port", a.config.Port)
	go a.serveUDP(ctx)

	err = a.ServeWithFactory(ctx, a, nil, nil)
	_ = a.udpConn.Close()
	<-a.udpDone
	return err
}

func (a *Adapter) serveUDP(ctx context.Context) {
	defer close(a.udpDone)

	buf := make([]byte, 65535)
	for {
		n, remoteAddr, err := a.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])

		go func(data []byte, addr *net.UDPAddr) {
			reply := a.dispatcher.HandleMessage(data, addr, "udp")
			if reply == nil {
				return
			}
			if _, err := a.udpConn.WriteToUDP(rpc.StripFragmentHeader(reply), addr); err != nil {
				logger.Debug("nfs udp: write error", "client", addr, "error", err)
			}
		}(msg, remoteAddr)
	}
}

// NewConnection implements adapter.ConnectionFactory for the TCP path.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return NewConnection(conn, a.dispatcher)
}

func (a *Adapter) SetRuntime(rt *shared.Registry) {
	a.BaseAdapter.SetRuntime(rt)
}

func (a *Adapter) MapError(err error) adapter.ProtocolError {
	return MapError(err)
}
