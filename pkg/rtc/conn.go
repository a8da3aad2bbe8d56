package rtc

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/datachannel"
)

const (
	// Data channel messages are kept well below the SCTP message size limit
	maxWriteChunk = 16 << 10
	// Browsers send messages of up to 256KiB
	readBufferSize = 256 << 10
)

var errConnClosed = errors.New("data channel connection closed")

// dataConn exposes a detached data channel as a net.Conn. Messages are read into an internal
// buffer so callers can use buffers of any size. Writes block while the send buffer is above the
// threshold. Read deadlines are enforced by the SCTP stream, write deadlines while waiting for the
// send buffer to drain
type dataConn struct {
	peer *Peer
	rwc  datachannel.ReadWriteCloserDeadliner

	readMu  sync.Mutex
	readBuf []byte
	unread  []byte

	writeMu sync.Mutex

	mu            sync.Mutex
	writeDeadline time.Time
	// deadlineSet wakes a writer waiting for the send buffer when the write deadline changes
	deadlineSet chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

var _ net.Conn = (*dataConn)(nil)

func newDataConn(peer *Peer, rwc datachannel.ReadWriteCloserDeadliner) *dataConn {
	return &dataConn{
		peer:        peer,
		rwc:         rwc,
		readBuf:     make([]byte, readBufferSize),
		deadlineSet: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (c *dataConn) Read(buffer []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.unread) == 0 {
		n, err := c.rwc.Read(c.readBuf)
		if err != nil {
			return 0, mapErr(err)
		}
		c.unread = c.readBuf[:n]
	}

	n := copy(buffer, c.unread)
	c.unread = c.unread[n:]

	return n, nil
}

func (c *dataConn) Write(buffer []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(buffer) {
		if err := c.waitForBuffer(); err != nil {
			return written, err
		}

		end := min(written+maxWriteChunk, len(buffer))
		n, err := c.rwc.Write(buffer[written:end])
		written += n
		if err != nil {
			return written, mapErr(err)
		}
	}

	return written, nil
}

// waitForBuffer blocks while the data channel holds more unsent data than the threshold, until
// the write deadline passes
func (c *dataConn) waitForBuffer() error {
	for {
		c.mu.Lock()
		deadline := c.writeDeadline
		c.mu.Unlock()

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return os.ErrDeadlineExceeded
		}

		if c.peer.dc.BufferedAmount() <= c.peer.cfg.bufferThreshold {
			return nil
		}

		if err := c.waitForLow(deadline); err != nil {
			return err
		}
	}
}

// waitForLow waits for one wake up of a blocked writer
func (c *dataConn) waitForLow(deadline time.Time) error {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.peer.low:
	case <-c.deadlineSet:
	case <-expired:
		return os.ErrDeadlineExceeded
	case <-c.done:
		return errConnClosed
	case <-c.peer.closed:
		return ErrPeerClosed
	}

	return nil
}

// Close waits for buffered data to be sent, then closes the data channel and the peer connection
func (c *dataConn) Close() error {
	deadline := time.Now().Add(c.peer.cfg.drainTimeout)
drain:
	for c.peer.dc.BufferedAmount() > 0 && time.Now().Before(deadline) {
		// The low threshold callback does not fire for the last writes, so poll as well
		select {
		case <-c.peer.low:
		case <-c.peer.closed:
			break drain
		case <-time.After(100 * time.Millisecond):
		}
	}

	c.doneOnce.Do(func() { close(c.done) })

	return c.peer.Close()
}

func (c *dataConn) LocalAddr() net.Addr {
	return &dataChannelAddr{label: "local/" + dataChannelLabel}
}

func (c *dataConn) RemoteAddr() net.Addr {
	return &dataChannelAddr{label: "remote/" + dataChannelLabel}
}

// SetDeadline sets both read and write deadlines. A zero value clears the deadline
func (c *dataConn) SetDeadline(deadline time.Time) error {
	if err := c.SetReadDeadline(deadline); err != nil {
		return err
	}
	return c.SetWriteDeadline(deadline)
}

// SetReadDeadline also unblocks a Read that is already waiting. Reads work again once the deadline
// is moved or cleared
func (c *dataConn) SetReadDeadline(deadline time.Time) error {
	return c.rwc.SetReadDeadline(deadline)
}

func (c *dataConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	c.writeDeadline = deadline
	c.mu.Unlock()

	select {
	case c.deadlineSet <- struct{}{}:
	default:
	}

	return nil
}

// mapErr reports expired deadlines as os.ErrDeadlineExceeded, like the net package does
func mapErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return os.ErrDeadlineExceeded
	}
	return err
}

type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
