package replay

import (
	"errors"

	"github.com/google/gopacket/tcpassembly"
	"github.com/manaplus/manaplus-net/internal/net"
	"go.uber.org/zap"
)

// stream is one server → client byte stream. Reassembled data is appended to
// the stream's buffer and dispatched right away.
type stream struct {
	buf    *net.Buffer
	disp   *net.Dispatcher
	settle func()
	result StreamResult
	log    *zap.Logger
}

func newStream(name string, factory DispatcherFactory, log *zap.Logger) *stream {
	s := &stream{
		buf:    net.NewBuffer(64*1024, 0),
		result: StreamResult{Stream: name},
		log:    log.With(zap.String("stream", name)),
	}
	t, err := factory(name, s.buf)
	if err != nil {
		s.result.Err = err
		return s
	}
	s.disp = t.Dispatcher
	s.settle = t.Settle
	s.result.Session = t.Session
	return s
}

func (s *stream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if len(r.Bytes) == 0 {
			continue
		}
		s.result.Bytes += len(r.Bytes)
		if s.disp == nil || s.result.Desync != nil {
			continue
		}
		if r.Skip != 0 {
			// lost segment: message boundaries are gone
			s.log.Warn("擷取檔缺少封包片段，停止分派", zap.Int("skip", r.Skip))
			s.result.Err = errors.New("capture has missing segments")
			s.disp = nil
			continue
		}
		s.buf.Append(r.Bytes)
		s.drain()
	}
}

// drain dispatches everything buffered. After each batch the target settles;
// a pause that outlives settling is lifted so the replay keeps going.
func (s *stream) drain() {
	for {
		n, err := s.disp.DispatchMessages()
		s.result.Messages += n
		var de *net.DesyncError
		if errors.As(err, &de) {
			s.result.Desync = de
			return
		}
		paused := s.disp.Paused()
		if s.settle != nil {
			s.settle()
		}
		if !paused {
			return
		}
		s.disp.Resume()
	}
}

func (s *stream) ReassemblyComplete() {
	if rest := s.buf.Available(); rest > 0 && s.result.Desync == nil {
		s.log.Debug("串流結束時仍有未完成封包", zap.Int("bytes", rest))
	}
}
