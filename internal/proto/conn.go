package proto

import (
	"net"
	"time"
)

// idleConn pushes the connection deadline forward before every Read and
// Write, so a peer that stalls for longer than timeout fails the pending call
// while a slow but steady transfer never does.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

// withIdleTimeout returns conn unchanged when timeout is zero.
func withIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &idleConn{Conn: conn, timeout: timeout}
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
