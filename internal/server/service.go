package server

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/minitel/internal/admin"
	"github.com/danmuck/minitel/internal/observability"
	"github.com/danmuck/minitel/internal/protocol/session"
	"github.com/danmuck/minitel/internal/record"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig is the listener configuration.
type ServiceConfig struct {
	ListenAddr       string
	AdminListenAddr  string
	AdminCORSOrigins []string
	AdminToken       string
	Secret           SecretProvider
	Session          session.Config
	Sink             record.Sink
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      "localhost:8080",
		AdminListenAddr: "",
		Secret:          StaticSecret(DefaultSecret),
		Session:         session.DefaultConfig(),
	}
}

// Service accepts MiniTel-Lite connections and serves each on its own goroutine.
type Service struct {
	cfg      ServiceConfig
	registry *Registry
	sink     record.Sink
	conns    sync.WaitGroup
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	if cfg.Secret == nil {
		cfg.Secret = StaticSecret(DefaultSecret)
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		sink:     record.OrDiscard(cfg.Sink),
	}
}

func (s *Service) Config() ServiceConfig { return s.cfg }

func (s *Service) Registry() *Registry { return s.registry }

// Connections implements admin.Source.
func (s *Service) Connections() []admin.Connection {
	now := time.Now()
	snap := s.registry.Snapshot()
	out := make([]admin.Connection, 0, len(snap))
	for _, c := range snap {
		out = append(out, admin.Connection{
			ID:           c.ID.String(),
			RemoteAddr:   c.RemoteAddr,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity,
			IdleFor:      now.Sub(c.LastActivity).Truncate(time.Millisecond).String(),
		})
	}
	return out
}

// Run listens on ListenAddr and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Session.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Dur("idle_timeout", s.cfg.Session.IdleTimeout).
		Msg("minitel server listening")
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop, the idle reaper and the optional admin server on
// ln until ctx is cancelled or the listener fails. Every tracked connection is
// closed before Serve returns.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.Validate(); err != nil {
		_ = ln.Close()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		if n := s.registry.CloseAll(); n > 0 {
			log.Info().Int("connections", n).Msg("closing connections on shutdown")
		}
		return nil
	})
	g.Go(func() error {
		s.reap(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return s.accept(gctx, ln)
	})
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		g.Go(func() error {
			router := admin.NewRouter(admin.Config{
				CORSOrigins: s.cfg.AdminCORSOrigins,
				Token:       s.cfg.AdminToken,
			}, s)
			return admin.Serve(gctx, addr, router)
		})
	}

	err := g.Wait()
	s.conns.Wait()
	return err
}

func (s *Service) accept(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return nil
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// reap closes idle connections every ReapInterval.
func (s *Service) reap(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Session.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evictIdle(now)
		}
	}
}

func (s *Service) evictIdle(now time.Time) int {
	evicted := s.registry.Expired(now, s.cfg.Session.IdleTimeout)
	for _, ev := range evicted {
		_ = ev.Conn.Close()
		observability.RecordEviction()
		log.Debug().
			Str("conn", ev.State.ID.String()).
			Str("remote", ev.State.RemoteAddr).
			Dur("idle", now.Sub(ev.State.LastActivity())).
			Msg("reaper evicting idle connection")
	}
	return len(evicted)
}
