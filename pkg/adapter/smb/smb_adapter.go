package smb

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/internal/protocol/smb/notify"
	"github.com/marmos91/dittofs/internal/protocol/smb/session"
	"github.com/marmos91/dittofs/pkg/adapter"
	"github.com/marmos91/dittofs/pkg/shared"
)

// notifyReapInterval is how often each share's CHANGE_NOTIFY handler walks
// its armed requests for expiry.
const notifyReapInterval = 5 * time.Second

// SMBAdapter implements adapter.Adapter for the SMB2 protocol core: dialect
// negotiation, session setup/logoff, tree connect/disconnect, message
// signing and credit-based flow control, and change-notification/async
// response plumbing. File operations (CREATE/READ/WRITE/...) are outside
// this module's scope; the dispatcher reports STATUS_NOT_SUPPORTED for them.
//
// SMBAdapter embeds adapter.BaseAdapter for the TCP accept loop and
// graceful-shutdown machinery shared with the other protocol adapters; it
// owns only what's specific to SMB: the session/credit manager and the
// authentication/access-control collaborators.
type SMBAdapter struct {
	adapter.BaseAdapter

	config SMBConfig

	// sessionManager provides unified session and credit management,
	// shared across every connection this adapter accepts.
	sessionManager *session.Manager

	authenticator shared.SMBAuthenticator
	gate          shared.AccessControlGate

	// notifyHandlers holds one CHANGE_NOTIFY Handler per share, created
	// lazily on first TREE_CONNECT. Each watches only its own share, so
	// requests never leak across shares.
	notifyMu       sync.Mutex
	notifyHandlers map[string]*notify.Handler
}

// New creates a new SMBAdapter with the specified configuration and no
// authenticator (until SetAuthenticator is called, every SESSION_SETUP
// succeeds as a guest session).
//
// Panics if config validation fails, matching the other protocol adapters.
func New(config SMBConfig) *SMBAdapter {
	return NewWithAuth(config, nil, nil)
}

// NewWithAuth creates a new SMBAdapter with an authenticator and
// access-control gate. A nil gate defaults to shared.AllowAllGate{}.
func NewWithAuth(config SMBConfig, authenticator shared.SMBAuthenticator, gate shared.AccessControlGate) *SMBAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid SMB config: %v", err))
	}
	if gate == nil {
		gate = shared.AllowAllGate{}
	}

	creditConfig := config.Credits.ToSessionConfig()
	creditStrategy := config.Credits.GetStrategy()
	sessionManager := session.NewManagerWithStrategy(creditStrategy, creditConfig)

	logger.Debug("SMB credit configuration",
		"strategy", config.Credits.Strategy,
		"min_grant", creditConfig.MinGrant,
		"max_grant", creditConfig.MaxGrant,
		"initial_grant", creditConfig.InitialGrant,
		"max_session_credits", creditConfig.MaxSessionCredits)

	a := &SMBAdapter{
		config:         config,
		sessionManager: sessionManager,
		authenticator:  authenticator,
		gate:           gate,
		notifyHandlers: make(map[string]*notify.Handler),
	}

	a.BaseAdapter = *adapter.NewBaseAdapter(adapter.BaseConfig{
		Port:               config.Port,
		MaxConnections:     config.MaxConnections,
		ShutdownTimeout:    config.Timeouts.Shutdown,
		MetricsLogInterval: config.MetricsLogInterval,
	}, "SMB")

	return a
}

// SetAuthenticator installs the SESSION_SETUP identity resolver. Must be
// called before Serve().
func (s *SMBAdapter) SetAuthenticator(authenticator shared.SMBAuthenticator) {
	s.authenticator = authenticator
}

// Serve starts the SMB server and blocks until the context is cancelled.
func (s *SMBAdapter) Serve(ctx context.Context) error {
	logger.Debug("SMB config", "max_connections", s.config.MaxConnections,
		"read_timeout", s.config.Timeouts.Read, "write_timeout", s.config.Timeouts.Write,
		"idle_timeout", s.config.Timeouts.Idle)
	go s.reapNotifyRequests(ctx)
	return s.ServeWithFactory(ctx, s, s.preAccept, nil)
}

// notifyHandlerFor returns the CHANGE_NOTIFY handler for shareName,
// creating one on first use.
func (s *SMBAdapter) notifyHandlerFor(shareName string) *notify.Handler {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	h, ok := s.notifyHandlers[shareName]
	if !ok {
		h = notify.NewHandler()
		s.notifyHandlers[shareName] = h
	}
	return h
}

// reapNotifyRequests periodically expires armed CHANGE_NOTIFY requests that
// completed and were never reissued by their client, bounding how long a
// vanished client's watch pins memory. Runs for the adapter's lifetime.
func (s *SMBAdapter) reapNotifyRequests(ctx context.Context) {
	ticker := time.NewTicker(notifyReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.notifyMu.Lock()
			handlers := make([]*notify.Handler, 0, len(s.notifyHandlers))
			for _, h := range s.notifyHandlers {
				handlers = append(handlers, h)
			}
			s.notifyMu.Unlock()

			for _, h := range handlers {
				h.ExpireWalk(now)
			}
		}
	}
}

// preAccept rejects new connections once the live connection count meets
// the configured MaxConnections, leaving existing connections untouched.
func (s *SMBAdapter) preAccept(conn net.Conn) bool {
	if s.config.MaxConnections <= 0 {
		return true
	}
	if int(s.ConnCount.Load()) >= s.config.MaxConnections {
		logger.Warn("SMB connection rejected: max_connections exceeded",
			"active", s.ConnCount.Load(), "max_connections", s.config.MaxConnections,
			"client", conn.RemoteAddr())
		return false
	}
	return true
}

// NewConnection implements adapter.ConnectionFactory.
func (s *SMBAdapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return NewSMBConnection(s, conn)
}

// MapError translates a shared.EngineError into an NT_STATUS ProtocolError.
func (s *SMBAdapter) MapError(err error) adapter.ProtocolError {
	return MapError(err)
}
