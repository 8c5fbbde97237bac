// Package relay runs TCP relays on top of duplex splices, optionally
// tunnelling connections through a yamux session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/zap"

	"github.com/xDarkicex/duplex"
)

// acceptBackoff spaces out retries after a failed Accept.
const acceptBackoff = 5 * time.Millisecond

// Server accepts connections and relays them to Config.RemoteAddr.
type Server struct {
	cfg  Config
	log  *zap.Logger
	pool *duplex.BufferPool

	active sync.WaitGroup

	sessMu  sync.Mutex
	session *yamux.Session // shared client session in mux-client mode
}

// New validates cfg and returns a Server. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:  cfg,
		log:  log,
		pool: duplex.NewBufferPool(cfg.BufferSize),
	}, nil
}

// ListenAndServe listens on Config.ListenAddr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, handling each on its own
// goroutine. It closes ln and returns nil once ctx is done. Use Wait to wait
// for the relays that are still running.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		s.log.Info("shutting down listener")
		ln.Close()
	})
	defer stop()

	s.log.Info("listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("mode", string(s.cfg.Mode)),
		zap.String("remote", s.cfg.RemoteAddr),
		zap.Int("buffer", s.cfg.BufferSize),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept failed", zap.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Wait blocks until every relay has finished or timeout elapses, and reports
// whether all of them finished.
func (s *Server) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close tears down the shared client session, if any.
func (s *Server) Close() error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	switch s.cfg.Mode {
	case ModeProxy:
		s.handleProxy(ctx, conn)
	case ModeMuxClient:
		s.handleMuxClient(ctx, conn)
	case ModeMuxServer:
		s.handleMuxServer(ctx, conn)
	}
}

func (s *Server) handleProxy(ctx context.Context, conn net.Conn) {
	remote, err := s.dial(ctx)
	if err != nil {
		s.log.Warn("dial failed", zap.String("remote", s.cfg.RemoteAddr), zap.Error(err))
		return
	}
	defer remote.Close()

	s.relay(ctx, conn, remote)
}

func (s *Server) handleMuxClient(ctx context.Context, conn net.Conn) {
	sess, err := s.clientSession(ctx)
	if err != nil {
		s.log.Warn("session failed", zap.String("remote", s.cfg.RemoteAddr), zap.Error(err))
		return
	}

	stream, err := sess.OpenStream()
	if err != nil {
		s.log.Warn("open stream failed", zap.Error(err))
		return
	}
	defer stream.Close()

	s.relay(ctx, conn, muxStream{stream})
}

func (s *Server) handleMuxServer(ctx context.Context, conn net.Conn) {
	sess, err := yamux.Server(conn, s.yamuxConfig())
	if err != nil {
		s.log.Warn("session failed", zap.Stringer("client", conn.RemoteAddr()), zap.Error(err))
		return
	}
	defer sess.Close()

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	s.log.Debug("session opened", zap.Stringer("client", conn.RemoteAddr()))
	for {
		stream, err := sess.AcceptStream()
		if err != nil {
			if !errors.Is(err, yamux.ErrSessionShutdown) && ctx.Err() == nil {
				s.log.Warn("accept stream failed", zap.Error(err))
			}
			return
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer stream.Close()

			remote, err := s.dial(ctx)
			if err != nil {
				s.log.Warn("dial failed", zap.String("remote", s.cfg.RemoteAddr), zap.Error(err))
				return
			}
			defer remote.Close()

			s.relay(ctx, muxStream{stream}, remote)
		}()
	}
}

// clientSession returns the shared yamux client session, dialing a new one
// if there is none or the previous one has shut down.
func (s *Server) clientSession(ctx context.Context) (*yamux.Session, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if s.session != nil && !s.session.IsClosed() {
		return s.session, nil
	}

	remote, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := yamux.Client(remote, s.yamuxConfig())
	if err != nil {
		remote.Close()
		return nil, fmt.Errorf("relay: yamux client: %w", err)
	}

	s.log.Info("session established", zap.String("remote", s.cfg.RemoteAddr))
	s.session = sess
	return sess, nil
}

func (s *Server) yamuxConfig() *yamux.Config {
	conf := yamux.DefaultConfig()
	conf.KeepAliveInterval = s.cfg.KeepAlive
	conf.ConnectionWriteTimeout = s.cfg.DialTimeout
	// yamux rejects a config with both LogOutput and Logger set.
	conf.LogOutput = nil
	conf.Logger = zap.NewStdLog(s.log.Named("yamux"))
	return conf
}

func (s *Server) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	return d.DialContext(ctx, "tcp", s.cfg.RemoteAddr)
}

func (s *Server) relay(ctx context.Context, local, remote net.Conn) {
	start := time.Now()
	up, down, err := duplex.Relay(ctx, local, remote, s.pool)

	fields := []zap.Field{
		zap.Stringer("client", local.RemoteAddr()),
		zap.Int64("up", up),
		zap.Int64("down", down),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil && ctx.Err() == nil {
		s.log.Warn("relay failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Debug("relay finished", fields...)
}

// muxStream gives yamux streams a half-close. Closing a yamux stream sends
// FIN but leaves the receive side open until the peer closes too.
type muxStream struct {
	*yamux.Stream
}

func (m muxStream) CloseWrite() error {
	return m.Stream.Close()
}
