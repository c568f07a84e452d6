package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/manaplus/manaplus-net/internal/config"
	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/metrics"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/replay"
	"github.com/manaplus/manaplus-net/internal/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func replayCmd(cfgPath *string) *cobra.Command {
	var (
		opts    replay.Options
		variant string
		chat    bool
	)

	cmd := &cobra.Command{
		Use:   "replay <capture>...",
		Short: "Dispatch server traffic from pcap/pcapng captures",
		Long: `Replay reassembles the server → client TCP streams of each capture and
runs them through the same registry, handlers and systems as a live
connection. Outgoing messages are dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("variant") {
				cfg.Server.Variant = variant
			}
			if !cmd.Flags().Changed("server-port") {
				opts.ServerPort = uint16(cfg.Server.Port)
			}

			log, err := newLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			started := time.Now()
			results := replayCaptures(ctx, cfg, opts, args, log)

			failed := 0
			for _, res := range results {
				printSection(res.File)
				if res.Err != nil {
					printWarn(res.Err.Error())
					failed++
				}
				printStat("封包", res.Packets)
				printStat("時間跨度", durafmt.Parse(res.Span).LimitFirstN(2).Format(uptimeUnits))
				for _, s := range res.Streams {
					fmt.Printf("  \033[1m%s\033[0m\n", s.Stream)
					printStat("  資料量", humanize.Bytes(uint64(s.Bytes)))
					printStat("  訊息", s.Messages)
					if sess, ok := s.Session.(*session); ok {
						st := sess.deps.State
						if st.Player.MapName != "" {
							printStat("  地圖", fmt.Sprintf("%s (%d,%d)", st.Player.MapName, st.Player.X, st.Player.Y))
						}
						printStat("  聊天", len(st.Chat))
						if chat {
							for _, line := range st.Chat {
								fmt.Printf("    [%s] %s %s\n", channelLabel(line.Channel), line.From, line.Text)
							}
						}
						sess.close()
					}
					if s.Desync != nil {
						printWarn("失去同步: " + s.Desync.Error())
						failed++
					}
					if s.Err != nil {
						printWarn(s.Err.Error())
					}
				}
			}
			fmt.Println()
			printStat("總耗時", durafmt.Parse(time.Since(started)).LimitFirstN(2).Format(uptimeUnits))

			if failed > 0 {
				return fmt.Errorf("replay: %d capture(s) or stream(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "protocol variant: ea, eathena or tmwa")
	cmd.Flags().Uint16Var(&opts.ServerPort, "server-port", 0, "server port selecting server → client streams (default: config server.port)")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "sleep between packets like the capture did")
	cmd.Flags().IntVarP(&opts.Concurrency, "jobs", "j", 4, "captures replayed at once")
	cmd.Flags().BoolVar(&chat, "chat", false, "print the chat log of each stream")
	return cmd
}

// replayCaptures replays every capture with one session per server stream.
// Each stream result carries its *session; the caller closes it.
func replayCaptures(ctx context.Context, cfg *config.Config, opts replay.Options, paths []string, log *zap.Logger) []replay.FileResult {
	m := metrics.New(prometheus.NewRegistry(), cfg.Server.Variant)

	factory := func(stream string, buf *net.Buffer) (replay.Target, error) {
		sess, err := newSession(cfg, sessionOptions{
			buf:      buf,
			conn:     discard{},
			observer: m,
		}, log.With(zap.String("stream", stream)))
		if err != nil {
			return replay.Target{}, err
		}
		// The output and persist phases have nothing to do in a replay.
		runner := coresys.NewRunner()
		runner.Register(system.NewEventSystem(sess.deps.Bus))
		runner.Register(system.NewMapSystem(sess.deps))
		return replay.Target{
			Dispatcher: sess.disp,
			Settle:     func() { runner.Tick(0) },
			Session:    sess,
		}, nil
	}
	return replay.New(opts, factory, log).ReplayFiles(ctx, paths)
}
