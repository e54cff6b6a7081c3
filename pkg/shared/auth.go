package shared

import "net"

// ClientInfo is the per-session identity an authenticator resolves a
// credential to. It is protocol-agnostic; protocol adapters extract the
// fields they need (NFS uses UID/GID, SMB uses Username/Domain).
type ClientInfo struct {
	Username string
	Domain   string
	UID      uint32
	GID      uint32
	GIDs     []uint32
	IsGuest  bool
}

// FTPAuthenticator validates USER/PASS credentials for the FTP engine.
type FTPAuthenticator interface {
	AuthenticateUser(clientInfo ClientInfo, remoteAddr net.Addr) bool
}

// NFSAuthenticator validates ONC-RPC credentials (AUTH_NULL/AUTH_UNIX) and
// supplies the per-call user context the open-file cache's idle reaper
// needs when it closes files outside of a request.
type NFSAuthenticator interface {
	// AuthenticateRPCClient resolves an RPC credential to a stable session
	// key (the NFS Session table's authIdentifier).
	AuthenticateRPCClient(authFlavor uint32, rawCred []byte) (sessionKey string, err error)

	// GetRPCClientInformation returns the ClientInfo associated with a
	// session key, fetched once when a session is interned.
	GetRPCClientInformation(sessionKey string, rawCred []byte) (ClientInfo, error)

	// SetCurrentUser establishes the per-call user context (e.g. for a
	// driver that makes setuid-style calls) for the duration of one RPC or
	// one idle-reaper close.
	SetCurrentUser(info ClientInfo) error
}

// SMBAuthenticator validates SESSION_SETUP exchanges. The SPNEGO/NTLM
// byte-level exchange itself is owned by the SMB parser (an external
// collaborator); this capability only receives the resolved identity.
type SMBAuthenticator interface {
	SetCurrentUser(info ClientInfo) error
}
