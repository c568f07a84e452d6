package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
)

// Target is what one replayed stream is dispatched into.
type Target struct {
	Dispatcher *net.Dispatcher
	// Settle runs after every dispatched batch, typically one tick of the
	// session's systems. A dispatcher still paused afterwards is resumed.
	Settle func()
	// Session is handed back untouched in the stream's result.
	Session any
}

// DispatcherFactory builds the target for one reassembled server stream.
// Each stream gets its own buffer and, usually, its own session state.
type DispatcherFactory func(stream string, buf *net.Buffer) (Target, error)

// Options controls a replay.
type Options struct {
	// ServerPort selects server → client streams by source port. 0 replays
	// every TCP stream.
	ServerPort uint16
	// Realtime sleeps between packets according to capture timestamps.
	Realtime bool
	// Concurrency bounds how many files ReplayFiles processes at once.
	Concurrency int
}

// StreamResult summarizes one reassembled stream.
type StreamResult struct {
	Stream   string
	Bytes    int
	Messages int
	Desync   *net.DesyncError
	Err      error
	Session  any // Target.Session of the stream
}

// FileResult summarizes one capture file.
type FileResult struct {
	File    string
	Packets int
	Span    time.Duration // first to last capture timestamp
	Streams []StreamResult
	Err     error
}

// Messages returns the total number of messages dispatched from the file.
func (r *FileResult) Messages() int {
	n := 0
	for _, s := range r.Streams {
		n += s.Messages
	}
	return n
}

// Replayer feeds captured server traffic through dispatchers.
type Replayer struct {
	opts    Options
	factory DispatcherFactory
	log     *zap.Logger
}

func New(opts Options, factory DispatcherFactory, log *zap.Logger) *Replayer {
	return &Replayer{opts: opts, factory: factory, log: log}
}

// ReplayFiles replays several captures concurrently. Results keep the order
// of paths.
func (p *Replayer) ReplayFiles(ctx context.Context, paths []string) []FileResult {
	limit := p.opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	results := make([]FileResult, len(paths))
	wg := sizedwaitgroup.New(limit)
	for i, path := range paths {
		wg.Add()
		go func(i int, path string) {
			defer wg.Done()
			results[i] = p.ReplayFile(ctx, path)
		}(i, path)
	}
	wg.Wait()
	return results
}

// ReplayFile replays one pcap or pcapng capture.
func (p *Replayer) ReplayFile(ctx context.Context, path string) FileResult {
	res := FileResult{File: path}
	f, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer f.Close()

	source, err := openSource(f)
	if err != nil {
		res.Err = fmt.Errorf("open capture %s: %w", path, err)
		return res
	}

	factory := &streamFactory{replayer: p}
	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory))

	var first, prev time.Time
	for {
		select {
		case <-ctx.Done():
			assembler.FlushAll()
			res.Err = ctx.Err()
			res.Streams = factory.results()
			return res
		default:
		}
		pkt, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Err = fmt.Errorf("read capture %s: %w", path, err)
			break
		}

		ts := pkt.Metadata().CaptureInfo.Timestamp
		if first.IsZero() {
			first = ts
		}
		if p.opts.Realtime && !prev.IsZero() {
			if d := ts.Sub(prev); d > 0 {
				time.Sleep(d)
			}
		}
		prev = ts

		nl := pkt.NetworkLayer()
		if nl == nil {
			continue
		}
		tcp, ok := pkt.TransportLayer().(*layers.TCP)
		if !ok {
			continue
		}
		if p.opts.ServerPort != 0 && uint16(tcp.SrcPort) != p.opts.ServerPort {
			continue
		}
		res.Packets++
		assembler.AssembleWithTimestamp(nl.NetworkFlow(), tcp, ts)
	}
	assembler.FlushAll()
	if !first.IsZero() {
		res.Span = prev.Sub(first)
	}
	res.Streams = factory.results()
	p.log.Info("重播完成",
		zap.String("file", path),
		zap.Int("packets", res.Packets),
		zap.Int("streams", len(res.Streams)),
		zap.Int("messages", res.Messages()),
	)
	return res
}

func openSource(f *os.File) (*gopacket.PacketSource, error) {
	if ng, err := pcapgo.NewNgReader(f, pcapgo.NgReaderOptions{}); err == nil {
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, err
	}
	return gopacket.NewPacketSource(r, r.LinkType()), nil
}

type streamFactory struct {
	replayer *Replayer
	mu       sync.Mutex
	streams  []*stream
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	name := fmt.Sprintf("%s:%s->%s:%s", netFlow.Src(), tcpFlow.Src(), netFlow.Dst(), tcpFlow.Dst())
	s := newStream(name, f.replayer.factory, f.replayer.log)
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s
}

func (f *streamFactory) results() []StreamResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StreamResult, 0, len(f.streams))
	for _, s := range f.streams {
		out = append(out, s.result)
	}
	return out
}
