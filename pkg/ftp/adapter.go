// Package ftp implements the FTP/FTPS control-and-data server: the command
// loop, login state machine, PORT/PASV/EPRT/EPSV data-channel lifecycle,
// and FTPS TLS upgrade described in the design's FTP Session Engine and
// FTP Data-Channel Manager components.
package ftp

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/shared"
)

// Adapter wires the FTP command engine onto adapter.BaseAdapter's shared
// TCP accept-loop/shutdown machinery, the same way the NFS and SMB
// adapters do.
type Adapter struct {
	adapter.BaseAdapter

	config Config
	engine *Engine
}

// New creates an FTP adapter. Config defaults are applied and validated;
// an invalid configuration panics, matching the other protocol adapters.
func New(cfg Config, authenticator shared.FTPAuthenticator, gate shared.AccessControlGate, siteHandler func(*Session, string) Reply) *Adapter {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid FTP config: %v", err))
	}

	if gate == nil {
		gate = shared.AllowAllGate{}
	}

	a := &Adapter{
		config: cfg,
		engine: &Engine{
			DCM:           NewDataChannelManager(cfg.PassivePortLow, cfg.PassivePortHigh, cfg.PassiveAdvertiseAddress),
			Authenticator: authenticator,
			Gate:          gate,
			SiteHandler:   siteHandler,
		},
	}
	if cfg.FTPSEnabled {
		a.engine.TLSConfig = &cfg
	}

	a.BaseAdapter = *adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:        cfg.BindAddress,
		Port:               cfg.Port,
		MaxConnections:     cfg.MaxConnections,
		ShutdownTimeout:    cfg.Timeouts.Shutdown,
		MetricsLogInterval: cfg.MetricsLogInterval,
	}, "FTP")

	return a
}

func (a *Adapter) SetRuntime(rt *shared.Registry) {
	a.BaseAdapter.SetRuntime(rt)
	a.engine.Registry = rt
}

func (a *Adapter) Serve(ctx context.Context) error {
	logger.Info("FTP adapter starting", "port", a.config.Port, "ftps", a.config.FTPSEnabled)
	return a.ServeWithFactory(ctx, a, nil, nil)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return NewConnection(conn, a.engine, a.config.Timeouts.Command)
}

func (a *Adapter) MapError(err error) adapter.ProtocolError {
	return MapError(err)
}
