package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the transport state of a Conn.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Traffic receives byte counts from the transport.
type Traffic interface {
	BytesIn(n int)
	BytesOut(n int)
}

// ConnOptions sizes the connection buffers and timeouts.
type ConnOptions struct {
	BufferSize   int // initial capacity of each buffer
	BufferLimit  int // receive back-off threshold
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Traffic      Traffic
}

// readChunk is the size of one socket read.
const readChunk = 64 * 1024

// backoffDelay is how long the receive goroutine waits while the receive
// buffer is over its limit.
const backoffDelay = 100 * time.Millisecond

// Conn is one TCP connection to a login, char or map server. A dedicated
// goroutine reads the socket into In; the tick loop dispatches from In and
// flushes Out.
type Conn struct {
	conn net.Conn
	addr string

	In  *Buffer
	Out *Buffer

	state     atomic.Int32
	errMu     sync.Mutex
	err       error
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
	started   time.Time
	writeTO   time.Duration
	traffic   Traffic
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

// Dial connects to addr and starts the receive goroutine.
func Dial(ctx context.Context, addr string, opts ConnOptions, log *zap.Logger) (*Conn, error) {
	if addr == "" {
		return nil, errors.New("empty address")
	}
	c := newConn(addr, opts, log)
	c.setState(StateConnecting)
	c.log.Info("連線中")

	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.setError(err)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.Attach(nc)
	return c, nil
}

func newConn(addr string, opts ConnOptions, log *zap.Logger) *Conn {
	if opts.BufferSize <= 0 {
		opts.BufferSize = readChunk
	}
	return &Conn{
		addr:    addr,
		In:      NewBuffer(opts.BufferSize, opts.BufferLimit),
		Out:     NewBuffer(opts.BufferSize, 0),
		writeTO: opts.WriteTimeout,
		traffic: opts.Traffic,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     log.With(zap.String("server", addr)),
	}
}

// Attach starts serving an already established connection. Dial calls it;
// tests use it with net.Pipe.
func (c *Conn) Attach(nc net.Conn) {
	c.conn = nc
	c.started = time.Now()
	c.setState(StateConnected)
	c.log.Info("連線建立", zap.String("local", nc.LocalAddr().String()))
	go c.readLoop()
}

// NewPipeConn wraps an established connection without dialing.
func NewPipeConn(nc net.Conn, opts ConnOptions, log *zap.Logger) *Conn {
	c := newConn(nc.RemoteAddr().String(), opts, log)
	c.Attach(nc)
	return c
}

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

func (c *Conn) setError(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.setState(StateError)
	c.log.Warn("網路錯誤", zap.Error(err))
}

// Err returns the transport error that ended the connection, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed when the receive goroutine exits.
func (c *Conn) Done() <-chan struct{} { return c.doneCh }

func (c *Conn) Addr() string { return c.addr }

// Uptime is the time since the connection was established.
func (c *Conn) Uptime() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

func (c *Conn) BytesIn() int64  { return c.bytesIn.Load() }
func (c *Conn) BytesOut() int64 { return c.bytesOut.Load() }

// Send queues a message; it is written on the next Flush.
func (c *Conn) Send(data []byte) {
	if c.closed.Load() {
		return
	}
	c.Out.Append(data)
}

// Flush writes all queued messages. Called once per tick from the tick loop.
func (c *Conn) Flush() error {
	if c.State() != StateConnected {
		c.Out.Reset()
		return nil
	}
	data := c.Out.Take()
	if len(data) == 0 {
		return nil
	}
	if c.writeTO > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTO))
	}
	if _, err := c.conn.Write(data); err != nil {
		c.setError(fmt.Errorf("write: %w", err))
		c.Close()
		return err
	}
	c.bytesOut.Add(int64(len(data)))
	if c.traffic != nil {
		c.traffic.BytesOut(len(data))
	}
	c.log.Debug("TX", zap.Int("len", len(data)))
	return nil
}

// Close tears down the receive goroutine and discards both buffers.
// Handlers already running are not interrupted.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		if c.conn != nil {
			c.conn.Close()
		}
		if c.State() != StateError {
			c.setState(StateIdle)
		}
	})
}

// Discard drops buffered bytes; used after Close once the tick loop is done
// with the connection.
func (c *Conn) Discard() {
	c.In.Reset()
	c.Out.Reset()
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// readLoop runs in its own goroutine and appends socket data to In.
func (c *Conn) readLoop() {
	defer close(c.doneCh)

	chunk := make([]byte, readChunk)
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		if c.In.Full() {
			select {
			case <-time.After(backoffDelay):
				continue
			case <-c.closeCh:
				return
			}
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.In.Append(chunk[:n])
			c.bytesIn.Add(int64(n))
			if c.traffic != nil {
				c.traffic.BytesIn(n)
			}
		}
		if err != nil {
			if c.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				c.log.Info("伺服器已斷線")
				c.setState(StateIdle)
			} else {
				c.setError(fmt.Errorf("read: %w", err))
			}
			c.closeOnce.Do(func() {
				c.closed.Store(true)
				close(c.closeCh)
				c.conn.Close()
			})
			return
		}
	}
}
