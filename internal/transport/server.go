// Package transport owns the TCP listener and the per-connection
// dispatcher loop: read a frame, decrypt, dispatch, encrypt, write,
// snapshot. Malformed or undecryptable frames are fatal for their
// connection and only that connection.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"talk2me/internal/config"
	"talk2me/internal/handler"
	"talk2me/internal/logging"
	"talk2me/internal/metrics"
	"talk2me/internal/session"
	"talk2me/internal/store"
	"talk2me/internal/wire"
)

// Server accepts client and federation connections and runs one
// dispatcher goroutine per connection.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	frames   *logging.FrameLogger
	store    *store.Store
	handler  *handler.Handler
	registry *session.Registry
	metrics  *metrics.Registry
	baseKey  *fernet.Key

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wires a transport server. metrics may be nil in tests.
func NewServer(cfg config.Config, log *zap.Logger, st *store.Store, h *handler.Handler, reg *session.Registry, m *metrics.Registry, baseKey *fernet.Key) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		frames:   logging.NewFrameLogger(log, cfg.Logging.Frames),
		store:    st,
		handler:  h,
		registry: reg,
		metrics:  m,
		baseKey:  baseKey,
	}
}

// Start begins listening and accepting. Non-blocking; use Stop to shut
// down.
func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("transport already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.log.Info("transport listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

// Addr returns the bound listen address, useful with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every live connection, then waits for all
// dispatcher goroutines to finish their scoped cleanup.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.registry.CloseAll()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.log.Error("accept error", zap.Error(err))
			return
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}
}

// handleConnection is the dispatcher loop for one connection. Goroutines
// are cheap here, so instead of a thread cap with periodic reaping the
// scoped defers release the connection and its sessions on every exit
// path.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	state := s.registry.Register(conn, s.baseKey)
	defer s.registry.Unregister(state)

	// Sessions opened on this connection die with it.
	defer func() {
		for _, token := range state.Tokens() {
			s.store.CloseSession(token)
		}
		s.snapshot()
	}()

	var limiter *rate.Limiter
	if s.cfg.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimit), int(s.cfg.Server.RateLimit)+1)
	}

	reader := bufio.NewReader(conn)
	for {
		frame, err := wire.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read frame", zap.Error(err))
			}
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		// Latency is measured from admission, so throttled clients do
		// not inflate the running mean.
		start := time.Now()

		plaintext, err := wire.Decrypt(state.Key(), frame)
		if err != nil {
			// Protocol error: close without replying.
			s.log.Warn("frame decrypt failed", zap.Uint64("conn", state.ID))
			return
		}
		s.frames.Received(plaintext)

		var req wire.Request
		if err := json.Unmarshal(plaintext, &req); err != nil {
			s.log.Warn("malformed request", zap.Uint64("conn", state.ID), zap.Error(err))
			return
		}

		res := s.handler.Handle(req)

		if res.Reply != nil {
			if err := s.writeReply(conn, state, res.Reply); err != nil {
				s.log.Debug("write reply", zap.Error(err))
				return
			}
		}

		// The fresh session key takes effect only after the reply
		// announcing it went out under the old key.
		if res.NextKey != nil {
			state.SetKey(res.NextKey)
		}
		if res.Token != "" {
			state.TrackToken(res.Token)
		}

		elapsed := time.Since(start)
		if res.ClientOp {
			s.store.UpdateLatency(elapsed)
		}
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(res.Op).Inc()
			s.metrics.RequestLatency.Observe(elapsed.Seconds())
		}

		s.snapshot()
	}
}

func (s *Server) writeReply(conn net.Conn, state *session.Conn, reply *wire.Reply) error {
	plaintext, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	s.frames.Sent(plaintext)

	token, err := wire.Encrypt(state.Key(), plaintext)
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, token)
}

// snapshot persists the store. Failures are logged and counted, never
// surfaced to the client; the next request retries.
func (s *Server) snapshot() {
	if err := s.store.Backup(); err != nil {
		s.log.Warn("snapshot failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.SnapshotErrors.Inc()
		}
	}
}
