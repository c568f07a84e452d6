package net

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// ErrDesync means message boundaries can no longer be trusted and the
// connection must be dropped.
var ErrDesync = errors.New("protocol desynchronization")

// desyncDumpLen bounds how many bytes a DesyncError keeps.
const desyncDumpLen = 32

// DesyncError carries the offending opcode and the bytes at the buffer head.
type DesyncError struct {
	Opcode packet.Opcode
	Length int // resolved length (0 or an embedded length below 4)
	Dump   []byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("packet 0x%04x resolved to length %d: % x", e.Opcode, e.Length, e.Dump)
}

func (e *DesyncError) Unwrap() error { return ErrDesync }

// Observer receives dispatch events for metrics and diagnostics.
// Implementations are called from the dispatch goroutine.
type Observer interface {
	MessageDispatched(op packet.Opcode, length int)
	MessageUnhandled(op packet.Opcode, length int)
	HandlerPanicked(op packet.Opcode, rec any)
	Desynced(err *DesyncError)
}

// Observers fans dispatch events out to several observers.
type Observers []Observer

func (o Observers) MessageDispatched(op packet.Opcode, length int) {
	for _, x := range o {
		x.MessageDispatched(op, length)
	}
}

func (o Observers) MessageUnhandled(op packet.Opcode, length int) {
	for _, x := range o {
		x.MessageUnhandled(op, length)
	}
}

func (o Observers) HandlerPanicked(op packet.Opcode, rec any) {
	for _, x := range o {
		x.HandlerPanicked(op, rec)
	}
}

func (o Observers) Desynced(err *DesyncError) {
	for _, x := range o {
		x.Desynced(err)
	}
}

// Dispatcher turns buffered bytes into handled messages. It is driven from a
// single goroutine (the tick loop); only the Buffer is shared with the
// receive goroutine.
type Dispatcher struct {
	buf      *Buffer
	registry *packet.Registry
	version  atomic.Int64
	paused   atomic.Bool
	strict   bool
	traceLog bool
	charset  encoding.Encoding
	observer Observer
	log      *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithStrictDecode re-raises handler panics (including over-reads) after
// logging them.
func WithStrictDecode(strict bool) DispatcherOption {
	return func(d *Dispatcher) { d.strict = strict }
}

// WithFieldTrace logs every decoded field at debug level.
func WithFieldTrace(on bool) DispatcherOption {
	return func(d *Dispatcher) { d.traceLog = on }
}

// WithDecodeCharset sets the legacy charset handed to every Reader.
func WithDecodeCharset(enc encoding.Encoding) DispatcherOption {
	return func(d *Dispatcher) { d.charset = enc }
}

// WithObserver attaches a dispatch observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func NewDispatcher(buf *Buffer, reg *packet.Registry, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		buf:      buf,
		registry: reg,
		log:      log.With(zap.String("variant", reg.Variant().String())),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetVersion records the negotiated packet version (YYYYMMDD).
func (d *Dispatcher) SetVersion(v int) { d.version.Store(int64(v)) }

func (d *Dispatcher) Version() int { return int(d.version.Load()) }

// Pause stops DispatchMessages after the current message until Resume.
// Handlers call it to hold later packets back, e.g. while a map change
// completes.
func (d *Dispatcher) Pause() { d.paused.Store(true) }

func (d *Dispatcher) Resume() { d.paused.Store(false) }

func (d *Dispatcher) Paused() bool { return d.paused.Load() }

// frame is the result of resolving the message at the buffer head.
type frame struct {
	op     packet.Opcode
	length int
	ready  bool
	data   []byte // copy of the message, set only when ready
	dump   []byte // head bytes, set only on desync
}

// resolve decides readiness from one locked snapshot of the buffer and, if a
// whole message is present, copies it out.
func (d *Dispatcher) resolve(copyOut bool) (f frame) {
	d.buf.Inspect(func(b []byte) {
		if len(b) < 2 {
			return
		}
		f.op = binary.LittleEndian.Uint16(b)
		length := int(d.registry.LookupLength(f.op))
		if length == int(packet.LengthVariable) {
			if len(b) < 4 {
				return
			}
			length = int(binary.LittleEndian.Uint16(b[2:]))
			if length < 4 {
				f.length = length
				f.ready = true
				f.dump = headDump(b)
				return
			}
		}
		f.length = length
		if length == 0 {
			f.ready = true
			f.dump = headDump(b)
			return
		}
		if len(b) < length {
			return
		}
		f.ready = true
		if copyOut {
			f.data = make([]byte, length)
			copy(f.data, b[:length])
		}
	})
	return f
}

func headDump(b []byte) []byte {
	n := len(b)
	if n > desyncDumpLen {
		n = desyncDumpLen
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out
}

// MessageReady reports whether a whole message (or an unresolvable one that
// must be reported as desync) sits at the head of the buffer.
func (d *Dispatcher) MessageReady() bool {
	return d.resolve(false).ready
}

// DispatchMessages handles every complete buffered message in wire order
// and returns how many were consumed. It stops when no message is ready or
// the dispatcher is paused. A *DesyncError (wrapping ErrDesync) means the
// stream is unusable; nothing is consumed in that case.
func (d *Dispatcher) DispatchMessages() (int, error) {
	return d.dispatch(0)
}

// DispatchN is DispatchMessages bounded to max messages; max <= 0 is unbounded.
func (d *Dispatcher) DispatchN(max int) (int, error) {
	return d.dispatch(max)
}

func (d *Dispatcher) dispatch(max int) (int, error) {
	n := 0
	for !d.Paused() && (max <= 0 || n < max) {
		f := d.resolve(true)
		if !f.ready {
			return n, nil
		}
		if f.data == nil {
			err := &DesyncError{Opcode: f.op, Length: f.length, Dump: f.dump}
			d.log.Error("封包長度無法解析，中斷連線",
				zap.String("opcode", fmt.Sprintf("0x%04x", f.op)),
				zap.Int("len", f.length),
				zap.String("dump", hex.EncodeToString(f.dump)),
			)
			if d.observer != nil {
				d.observer.Desynced(err)
			}
			return n, err
		}

		d.handle(f.op, f.data)
		d.buf.Consume(f.length)
		n++
	}
	return n, nil
}

// handle runs the handler for one message outside the buffer lock.
func (d *Dispatcher) handle(op packet.Opcode, data []byte) {
	info, ok := d.registry.Lookup(op)
	if !ok || info.Handler == nil {
		d.log.Info("未處理封包",
			zap.String("opcode", fmt.Sprintf("0x%04x", op)),
			zap.String("name", info.Name),
			zap.Int("len", len(data)),
		)
		if d.observer != nil {
			d.observer.MessageUnhandled(op, len(data))
		}
		return
	}

	version := d.Version()
	if info.MinVersion > 0 && version < info.MinVersion {
		d.log.Debug("封包版本不足，略過處理",
			zap.String("opcode", fmt.Sprintf("0x%04x", op)),
			zap.String("name", info.Name),
			zap.Int("need", info.MinVersion),
			zap.Int("have", version),
		)
		if d.observer != nil {
			d.observer.MessageUnhandled(op, len(data))
		}
		return
	}

	d.log.Debug("收到封包",
		zap.String("opcode", fmt.Sprintf("0x%04x", op)),
		zap.String("name", info.Name),
		zap.Int("len", len(data)),
	)

	opts := []packet.ReaderOption{
		packet.WithName(info.Name),
		packet.WithVersion(version),
		packet.WithStrict(d.strict),
		packet.WithCharset(d.charset),
	}
	if d.traceLog {
		opts = append(opts, packet.WithFieldLog(d.log))
	}
	r := packet.NewReader(data, opts...)
	d.safeCall(info.Handler, r, op)

	if err := r.Err(); err != nil {
		d.log.Warn("處理器讀取超出封包長度", zap.Error(err))
	}
	if d.observer != nil {
		d.observer.MessageDispatched(op, len(data))
	}
}

// safeCall executes a handler with panic recovery so a single bad message
// does not take down the session.
func (d *Dispatcher) safeCall(h packet.Handler, r *packet.Reader, op packet.Opcode) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("處理器 panic 已恢復",
				zap.String("opcode", fmt.Sprintf("0x%04x", op)),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			if d.observer != nil {
				d.observer.HandlerPanicked(op, rec)
			}
			if d.strict {
				panic(rec)
			}
		}
	}()
	h.Handle(r)
}
