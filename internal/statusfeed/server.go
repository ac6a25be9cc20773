package statusfeed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-autopilot/pkg/feedproto"
)

const (
	DefaultAddr     = "127.0.0.1:5180"
	sendBuffer      = 16
	writeTimeout    = 5 * time.Second
	pingInterval    = 30 * time.Second
	shutdownTimeout = 3 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan feedproto.Event
}

// Server broadcasts controller status over WebSocket and collects control commands.
type Server struct {
	addr   string
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *feedproto.Event

	commands chan feedproto.Command
}

func New(addr string, logger *zap.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		logger:   logger,
		clients:  make(map[*client]struct{}),
		commands: make(chan feedproto.Command, 8),
	}
}

func (s *Server) Addr() string { return s.addr }

// Commands yields validated client commands.
func (s *Server) Commands() <-chan feedproto.Command { return s.commands }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("status_feed_listening", zap.String("addr", s.addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish stores ev as the latest snapshot and fans it out. Slow clients miss events instead of blocking the caller.
func (s *Server) Publish(ev feedproto.Event) {
	if ev.Type == "" {
		ev.Type = feedproto.EventTypeState
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &ev
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			s.logger.Debug("status_feed_drop", zap.String("state", ev.State))
		}
	}
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"127.0.0.1:*", "localhost:*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("status_feed_accept_failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan feedproto.Event, sendBuffer)}
	s.register(c)
	defer s.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	if s.last != nil {
		c.send <- *s.last
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "shutdown")
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		var cmd feedproto.Command
		if err := wsjson.Read(ctx, c.conn, &cmd); err != nil {
			return
		}
		if err := cmd.Validate(); err != nil {
			var ce feedproto.CommandError
			if !errors.As(err, &ce) {
				ce = feedproto.CommandError{Code: "invalid", Message: err.Error()}
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = wsjson.Write(wctx, c.conn, feedproto.ErrorEvent{Type: feedproto.EventTypeError, Error: ce})
			cancel()
			continue
		}
		cmd.Type = cmd.Kind()
		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}
