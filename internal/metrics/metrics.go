package metrics

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "manaplus_net"

// Metrics holds the packet counters of one process. It implements
// net.Observer and net.Traffic and counts outgoing messages for the handler
// package.
type Metrics struct {
	reg prometheus.Registerer

	inPackets      *prometheus.CounterVec
	inBytes        prometheus.Counter
	unhandled      *prometheus.CounterVec
	desyncs        prometheus.Counter
	handlerPanics  *prometheus.CounterVec
	outPackets     prometheus.Counter
	outBytes       prometheus.Counter
	limited        *prometheus.CounterVec
	dispatchedSize prometheus.Histogram
}

// New registers all collectors with reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer, variant string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"variant": variant}

	return &Metrics{
		reg: reg,
		inPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "in_packets_total",
			Help:        "Messages dispatched to a handler, by opcode",
			ConstLabels: labels,
		}, []string{"opcode"}),
		inBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "in_bytes_total",
			Help:        "Bytes read from the socket",
			ConstLabels: labels,
		}),
		unhandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "unhandled_total",
			Help:        "Messages consumed without a handler, by opcode",
			ConstLabels: labels,
		}, []string{"opcode"}),
		desyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "desync_total",
			Help:        "Protocol desynchronizations",
			ConstLabels: labels,
		}),
		handlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handler_panics_total",
			Help:        "Recovered handler panics, by opcode",
			ConstLabels: labels,
		}, []string{"opcode"}),
		outPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "out_packets_total",
			Help:        "Messages queued for sending",
			ConstLabels: labels,
		}),
		outBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "out_bytes_total",
			Help:        "Bytes written to the socket",
			ConstLabels: labels,
		}),
		limited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "limited_total",
			Help:        "Outgoing messages dropped by the limiter, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		dispatchedSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "message_size_bytes",
			Help:        "Size of dispatched messages",
			ConstLabels: labels,
			Buckets:     []float64{4, 8, 16, 32, 64, 128, 256, 512, 1024, 4096},
		}),
	}
}

// WatchBuffer exports the fill level of a connection buffer as a gauge.
func (m *Metrics) WatchBuffer(name string, b *net.Buffer) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "buffer_bytes",
		Help:        "Bytes waiting in a connection buffer",
		ConstLabels: prometheus.Labels{"buffer": name},
	}, func() float64 { return float64(b.Available()) })
}

func opLabel(op packet.Opcode) string { return fmt.Sprintf("0x%04x", op) }

func (m *Metrics) MessageDispatched(op packet.Opcode, length int) {
	m.inPackets.WithLabelValues(opLabel(op)).Inc()
	m.dispatchedSize.Observe(float64(length))
}

func (m *Metrics) MessageUnhandled(op packet.Opcode, length int) {
	m.unhandled.WithLabelValues(opLabel(op)).Inc()
}

func (m *Metrics) HandlerPanicked(op packet.Opcode, _ any) {
	m.handlerPanics.WithLabelValues(opLabel(op)).Inc()
}

func (m *Metrics) Desynced(*net.DesyncError) { m.desyncs.Inc() }

func (m *Metrics) BytesIn(n int)  { m.inBytes.Add(float64(n)) }
func (m *Metrics) BytesOut(n int) { m.outBytes.Add(float64(n)) }

func (m *Metrics) MessageSent(packet.Opcode, int) { m.outPackets.Inc() }

func (m *Metrics) MessageLimited(kind net.PacketKind) {
	m.limited.WithLabelValues(kind.String()).Inc()
}

// Serve exposes /metrics and /health on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("監控端點啟動", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
