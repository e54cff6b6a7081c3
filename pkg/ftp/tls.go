package ftp

import (
	"crypto/tls"
	"net"
)

// tlsEngine wraps the control (or data) socket once AUTH TLS/SSL succeeds.
// The spec models the handshake as an explicit
// {NEED_UNWRAP, NEED_WRAP, NEED_TASK, NOT_HANDSHAKING, FINISHED} state
// machine; Go's crypto/tls already drives that loop internally behind
// net.Conn, so this engine's job is narrower: hold the *tls.Conn and make
// sure the handshake happens before the first protected read/write, while
// leaving the 234 pre-handshake reply to go out in cleartext (the caller
// writes that before calling Handshake).
type tlsEngine struct {
	conn *tls.Conn
}

func newTLSEngine(raw net.Conn, cfg *tls.Config) *tlsEngine {
	return &tlsEngine{conn: tls.Server(raw, cfg)}
}

// Handshake runs the TLS handshake to completion, looping over the
// library's internal NEED_WRAP/NEED_UNWRAP/NEED_TASK states.
func (e *tlsEngine) Handshake() error {
	return e.conn.Handshake()
}

func (e *tlsEngine) Read(p []byte) (int, error)  { return e.conn.Read(p) }
func (e *tlsEngine) Write(p []byte) (int, error) { return e.conn.Write(p) }
func (e *tlsEngine) Close() error                { return e.conn.Close() }

// loadTLSConfig builds the server-side TLS configuration from the
// configured certificate/key pair.
func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
