package wire

import (
	"io"
	"time"
)

// StdioConn adapts a pair of io.Reader/io.Writer (such as os.Stdin and
// os.Stdout) to the Conn interface for transports that have no native
// per-call read/write deadline, such as the standalone guest binary's
// stdio pipe. SetReadDeadline/SetWriteDeadline are no-ops; the outer
// EffectiveDeadline check inside Demuxer.ReadMessage still bounds how long
// a caller waits.
type StdioConn struct {
	R io.Reader
	W io.Writer
}

func (c StdioConn) Read(p []byte) (int, error)  { return c.R.Read(p) }
func (c StdioConn) Write(p []byte) (int, error) { return c.W.Write(p) }

func (c StdioConn) SetReadDeadline(t time.Time) error  { return nil }
func (c StdioConn) SetWriteDeadline(t time.Time) error { return nil }
