package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/manaplus/manaplus-net/internal/config"
	"github.com/manaplus/manaplus-net/internal/core/event"
	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/handler"
	"github.com/manaplus/manaplus-net/internal/metrics"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/persist"
	"github.com/manaplus/manaplus-net/internal/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const diagFlushInterval = 30 * time.Second

var uptimeUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")

func connectCmd(cfgPath *string) *cobra.Command {
	var (
		host    string
		port    int
		variant string
		stdin   bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server and dispatch its messages",
		Long: `Connect opens a TCP connection, sends the version request and runs the
tick loop until the server disconnects, the stream desyncs or the process
is interrupted. With --stdin every input line is sent as chat; "/w nick text"
sends a whisper.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("variant") {
				cfg.Server.Variant = variant
			}
			return runConnect(cfg, stdin)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "server host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "server port (overrides config)")
	cmd.Flags().StringVar(&variant, "variant", "", "protocol variant: ea, eathena or tmwa")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "send stdin lines as chat")
	return cmd
}

func runConnect(cfg *config.Config, readStdin bool) error {
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Variant, cfg.Server.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ──
	printSection("監控")
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg, cfg.Server.Variant)
	if cfg.Metrics.BindAddress != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.BindAddress, promReg, log); err != nil {
				log.Error("監控端點錯誤", zap.Error(err))
			}
		}()
		printStat("監控端點", cfg.Metrics.BindAddress)
	} else {
		printStat("監控端點", "停用")
	}

	// ── Diagnostics store ──
	var (
		diag      *system.DiagSystem
		observers = net.Observers{m}
	)
	if cfg.Database.DSN != "" {
		db, repo, err := persist.OpenDiag(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()
		diag = system.NewDiagSystem(repo, cfg.Server.Addr(), cfg.Server.Variant, diagFlushInterval, log)
		observers = append(observers, diag)
		printOK("診斷資料庫已就緒")
	}

	// ── Connection ──
	printSection("連線")
	conn, err := net.Dial(ctx, cfg.Server.Addr(), net.ConnOptions{
		BufferSize:   cfg.Network.BufferSize,
		BufferLimit:  cfg.Network.BufferLimit,
		DialTimeout:  cfg.Network.DialTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
		Traffic:      m,
	}, log)
	if err != nil {
		return err
	}
	defer conn.Discard()
	defer conn.Close()
	m.WatchBuffer("in", conn.In)
	m.WatchBuffer("out", conn.Out)

	sess, err := newSession(cfg, sessionOptions{
		buf:      conn.In,
		conn:     conn,
		observer: observers,
		limitObs: m,
	}, log)
	if err != nil {
		return err
	}
	defer sess.close()

	printStat("封包定義", sess.registry.Len())
	printStat("處理器", sess.bound)
	printStat("腳本封包", sess.scripted)
	if len(sess.rejected) > 0 {
		printWarn(fmt.Sprintf("%d 筆封包覆寫被拒絕", len(sess.rejected)))
	}

	deps := sess.deps
	event.Subscribe(deps.Bus, func(ev event.ChatReceived) {
		if ev.From != "" {
			fmt.Printf("  [%s] %s: %s\n", channelLabel(ev.Channel), ev.From, ev.Text)
		} else {
			fmt.Printf("  [%s] %s\n", channelLabel(ev.Channel), ev.Text)
		}
	})
	event.Subscribe(deps.Bus, func(ev event.ConnectionProblem) {
		conn.Close()
	})
	event.Subscribe(deps.Bus, func(ev event.ServerVersion) {
		log.Info("伺服器版本", zap.Int("version", ev.Version), zap.Uint8("options", ev.Options))
	})
	event.Subscribe(deps.Bus, func(ev event.PingReceived) {
		log.Debug("延遲", zap.Duration("rtt", ev.RTT))
	})

	// ── Systems ──
	dispatchSys := system.NewDispatchSystem(sess.disp, conn, cfg.Network.MaxMessagesPerTick, log)
	runner := coresys.NewRunner()
	runner.Register(dispatchSys)
	runner.Register(system.NewEventSystem(deps.Bus))
	runner.Register(system.NewMapSystem(deps))
	runner.Register(system.NewPingSystem(deps, cfg.Network.PingInterval))
	runner.Register(system.NewFlushSystem(conn, log))
	if diag != nil {
		runner.Register(diag)
	}

	var lines <-chan string
	if readStdin {
		lines = readLines(ctx)
	}

	if !handler.SendVersionRequest(deps) {
		log.Debug("此協定不支援版本查詢", zap.Stringer("variant", deps.Variant))
	}
	printReady(fmt.Sprintf("已連線 %s", conn.Addr()))
	fmt.Println()

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()
	last := time.Now()

	running := true
	for running {
		select {
		case now := <-ticker.C:
			runner.Tick(now.Sub(last))
			last = now
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			sendLine(deps, line)
		case <-conn.Done():
			// Handle whatever arrived before the close.
			runner.Tick(time.Since(last))
			running = false
		case <-ctx.Done():
			log.Info("收到關閉信號")
			handler.SendQuit(deps)
			runner.TickPhase(coresys.PhaseOutput, 0)
			running = false
		}
	}

	conn.Close()
	if diag != nil {
		diag.Flush()
	}

	fmt.Println()
	printSection("連線結束")
	printStat("連線時間", durafmt.Parse(conn.Uptime()).LimitFirstN(2).Format(uptimeUnits))
	printStat("接收", humanize.Bytes(uint64(conn.BytesIn())))
	printStat("送出", humanize.Bytes(uint64(conn.BytesOut())))
	printStat("系統週期", runner.Ticks())

	if d := dispatchSys.Desync(); d != nil {
		return d
	}
	if err := conn.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if deps.State.Problem >= 0 {
		return fmt.Errorf("server closed the connection: %s", handler.ConnectionProblemReason(uint8(deps.State.Problem)))
	}
	return nil
}

func channelLabel(ch string) string {
	if ch == "" {
		return "general"
	}
	return ch
}

// sendLine sends one console line as chat, or as a whisper for "/w nick text".
func sendLine(deps *handler.Deps, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if rest, ok := strings.CutPrefix(line, "/w "); ok {
		nick, text, found := strings.Cut(rest, " ")
		if !found || text == "" {
			fmt.Println("  用法: /w 名稱 訊息")
			return
		}
		handler.SendWhisper(deps, nick, text)
		return
	}
	handler.SendChat(deps, line)
}

func readLines(ctx context.Context) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
