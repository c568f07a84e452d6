package main

import (
	"fmt"
	"time"

	"github.com/manaplus/manaplus-net/internal/config"
	"github.com/manaplus/manaplus-net/internal/core/event"
	"github.com/manaplus/manaplus-net/internal/data"
	"github.com/manaplus/manaplus-net/internal/game"
	"github.com/manaplus/manaplus-net/internal/handler"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"github.com/manaplus/manaplus-net/internal/scripting"
	"go.uber.org/zap"
)

// session is everything one server stream needs to be decoded: the registry
// built for the configured variant, the dispatcher reading buf, and the state
// the handlers write.
type session struct {
	variant  packet.Variant
	registry *packet.Registry
	disp     *net.Dispatcher
	deps     *handler.Deps
	lua      *scripting.Engine
	rejected []data.Rejected
	bound    int
	scripted int
}

// sessionOptions are the per-caller parts of a session.
type sessionOptions struct {
	buf      *net.Buffer
	conn     handler.Sender
	observer net.Observer
	limitObs handler.LimitObserver
}

func newSession(cfg *config.Config, opts sessionOptions, log *zap.Logger) (*session, error) {
	variant, err := packet.ParseVariant(cfg.Server.Variant)
	if err != nil {
		return nil, err
	}
	charset, err := packet.LookupCharset(cfg.Packets.Charset)
	if err != nil {
		return nil, err
	}
	limiter, err := buildLimiter(cfg.Limiter)
	if err != nil {
		return nil, err
	}

	var overrides *data.Overrides
	if cfg.Packets.Overrides != "" {
		overrides, err = data.LoadOverrides(cfg.Packets.Overrides)
		if err != nil {
			return nil, err
		}
	}

	state := game.NewState()
	state.PacketVersion = cfg.Server.PacketVersion
	state.Player.Name = cfg.Server.Character

	s := &session{variant: variant}
	s.deps = &handler.Deps{
		Variant:  variant,
		Config:   cfg,
		Log:      log,
		State:    state,
		Bus:      event.NewBus(),
		Conn:     opts.conn,
		Limiter:  limiter,
		Charset:  charset,
		Observer: opts.limitObs,
	}

	if cfg.Scripting.Dir != "" {
		s.lua, err = scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return nil, err
		}
		s.lua.SetChatSink(func(channel, from, text string) {
			state.AddChat(game.ChatLine{Channel: channel, From: from, Text: text, At: time.Now()})
			event.Emit(s.deps.Bus, event.ChatReceived{Channel: channel, From: from, Text: text})
		})
	}

	binders := []func(*packet.Registry) error{
		func(reg *packet.Registry) error {
			s.bound = handler.RegisterAll(reg, s.deps)
			return nil
		},
	}
	if s.lua != nil {
		binders = append(binders, func(reg *packet.Registry) error {
			n, errs := s.lua.Bind(reg)
			s.scripted = n
			for _, e := range errs {
				log.Warn("腳本封包未綁定", zap.Error(e))
			}
			return nil
		})
	}

	s.registry, s.rejected, err = data.BuildRegistry(variant, overrides, log, binders...)
	if err != nil {
		s.close()
		return nil, err
	}

	dopts := []net.DispatcherOption{
		net.WithStrictDecode(cfg.Network.StrictDecode),
		net.WithFieldTrace(cfg.Network.TraceFields),
		net.WithDecodeCharset(charset),
	}
	if opts.observer != nil {
		dopts = append(dopts, net.WithObserver(opts.observer))
	}
	s.disp = net.NewDispatcher(opts.buf, s.registry, log, dopts...)
	s.disp.SetVersion(cfg.Server.PacketVersion)
	s.deps.Dispatch = s.disp
	return s, nil
}

func (s *session) close() {
	s.deps.State.Reset()
	if s.lua != nil {
		s.lua.Close()
	}
}

func buildLimiter(cfg config.LimiterConfig) (*net.Limiter, error) {
	overrides := make(map[net.PacketKind]time.Duration, len(cfg.Intervals))
	for name, d := range cfg.Intervals {
		kind, err := net.ParsePacketKind(name)
		if err != nil {
			return nil, fmt.Errorf("limiter.intervals: %w", err)
		}
		overrides[kind] = d
	}
	return net.NewLimiter(cfg.Enabled, overrides), nil
}

// discard is the Sender of sessions that never talk back, such as replays.
type discard struct{}

func (discard) Send([]byte) {}
