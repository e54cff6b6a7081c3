package ftp

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
)

const (
	initialCommandBuffer = 1024
	maxCommandBuffer     = 64 * 1024
)

// Connection is the FTP ConnectionHandler: one goroutine per accepted
// control socket runs Serve, the command-read/dispatch loop.
type Connection struct {
	conn    net.Conn
	engine  *Engine
	session *Session
	timeout time.Duration

	buf    []byte
	bufLen int
}

func NewConnection(conn net.Conn, engine *Engine, timeout time.Duration) *Connection {
	sess := NewSession(conn, engine.DCM, engine.Gate)
	return &Connection{
		conn:    conn,
		engine:  engine,
		session: sess,
		timeout: timeout,
		buf:     make([]byte, initialCommandBuffer),
	}
}

// Serve runs the command loop until the session quits, the socket errors,
// or ctx is cancelled.
func (c *Connection) Serve(ctx context.Context) {
	defer c.session.Close()

	if err := c.session.sendReply(NewReply(220, "DittoFS FTP server ready")); err != nil {
		return
	}

	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		line, ok := c.readLine()
		if !ok {
			return
		}

		verb, arg := splitCommand(line)
		if verb == "" {
			continue
		}

		reply, quit := c.dispatch(verb, arg)
		if err := c.session.sendReply(reply); err != nil {
			return
		}
		if quit {
			return
		}
	}
}

// readLine implements the growable command buffer: starts at 1 KB,
// doubles on partial reads up to 64 KB. Beyond that the engine drains
// the socket and silently drops the oversize command (no reply).
func (c *Connection) readLine() (string, bool) {
	c.session.idleDeadline(c.timeout)

	c.bufLen = 0
	for {
		if idx := indexCRLF(c.buf[:c.bufLen]); idx >= 0 {
			line := string(c.buf[:idx])
			remainder := c.bufLen - (idx + lenEOL(c.buf[idx:c.bufLen]))
			copy(c.buf, c.buf[c.bufLen-remainder:c.bufLen])
			c.bufLen = remainder
			return line, true
		}

		if c.bufLen == len(c.buf) {
			if len(c.buf) >= maxCommandBuffer {
				if !c.drainOversizeCommand() {
					return "", false
				}
				continue
			}
			grown := make([]byte, min(len(c.buf)*2, maxCommandBuffer))
			copy(grown, c.buf[:c.bufLen])
			c.buf = grown
		}

		n, err := c.session.ioReader().Read(c.buf[c.bufLen:])
		if err != nil {
			return "", false
		}
		c.bufLen += n
	}
}

// drainOversizeCommand reads and discards until a line terminator is seen,
// per the "beyond 64 KB the engine drains the socket and ignores the
// oversize command" rule; it issues no reply.
func (c *Connection) drainOversizeCommand() bool {
	logger.Warn("ftp: oversize command dropped", "remote", c.conn.RemoteAddr())
	scratch := make([]byte, 4096)
	for {
		n, err := c.session.ioReader().Read(scratch)
		if err != nil {
			return false
		}
		if idx := indexCRLF(scratch[:n]); idx >= 0 {
			c.bufLen = 0
			return true
		}
	}
}

// abortPollTimeout bounds how long pollAbort blocks peeking the control
// socket between blocks of an in-flight transfer.
const abortPollTimeout = 2 * time.Millisecond

// pollAbort gives RETR/STOR's transfer loop a chance to notice a pipelined
// ABOR. Serve's command loop doesn't get another turn until the transfer
// returns, so without this cmdABOR never runs concurrently with the
// transfer it's meant to interrupt; the transfer loop peeks for it instead.
//
// Any other command arriving mid-transfer is unexpected per RFC 959 (only
// ABOR/STAT/QUIT are meant to be pipelined) and is dropped silently.
func (c *Connection) pollAbort() {
	if c.bufLen >= len(c.buf) {
		c.bufLen = 0
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(abortPollTimeout))
	n, err := c.session.ioReader().Read(c.buf[c.bufLen:])
	if n > 0 {
		c.bufLen += n
	}
	_ = err

	for {
		idx := indexCRLF(c.buf[:c.bufLen])
		if idx < 0 {
			return
		}
		line := c.buf[:idx]
		remainder := c.bufLen - (idx + lenEOL(c.buf[idx:c.bufLen]))
		verb, _ := splitCommand(string(line))
		copy(c.buf, c.buf[c.bufLen-remainder:c.bufLen])
		c.bufLen = remainder

		if verb == "ABOR" {
			c.session.SetAbort()
		}
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			if i > 0 && b[i-1] == '\r' {
				return i - 1
			}
			return i
		}
	}
	return -1
}

func lenEOL(b []byte) int {
	if len(b) >= 2 && b[0] == '\r' && b[1] == '\n' {
		return 2
	}
	return 1
}

func splitCommand(line string) (verb, arg string) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return strings.ToUpper(line), ""
	}
	return strings.ToUpper(line[:idx]), strings.TrimSpace(line[idx+1:])
}
