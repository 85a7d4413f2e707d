// Package ws exposes a bridge to host shells over WebSocket.
//
// Routes:
//   - GET /ws       command calls and event streams, JSON frames
//   - GET /healthz  liveness
//   - GET /metrics  Prometheus exposition, when a registry is configured
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/groutine"
	"github.com/srg/musebridge/internal/metrics"
	"github.com/srg/musebridge/internal/stream"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Dispatcher is the bridge surface the server needs
type Dispatcher interface {
	Handle(ctx context.Context, call *channel.Call) (any, error)
	Streams() map[string]*stream.Handler
}

// Options configures the server
type Options struct {
	Addr         string
	QueueSize    int
	WriteTimeout time.Duration
	// OriginPatterns are passed to websocket.Accept; empty allows localhost only
	OriginPatterns []string
	Metrics        *metrics.Metrics
	Registry       *prometheus.Registry
	Logger         *logrus.Logger
}

var defaultOrigins = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// Server is the WebSocket host shell
type Server struct {
	dispatcher Dispatcher
	streams    map[string]*stream.Handler
	opts       Options
	logger     *logrus.Logger
	clients    *hashmap.Map[string, *client]
	router     chi.Router
	httpSrv    *http.Server
	boundAddr  atomic.Value
}

// NewServer creates a server for d
func NewServer(d Dispatcher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = defaultOrigins
	}

	s := &Server{
		dispatcher: d,
		streams:    d.Streams(),
		opts:       opts,
		logger:     opts.Logger,
		clients:    hashmap.New[string, *client](),
	}
	s.boundAddr.Store("")
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/ws", s.handleUpgrade)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.opts.Registry))
	}
	return r
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	return s.clients.Len()
}

// BoundAddr returns the listen address. Only valid after Start began serving.
func (s *Server) BoundAddr() string {
	return s.boundAddr.Load().(string)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("ws listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	s.logger.WithField("addr", s.BoundAddr()).Info("WebSocket server started")

	groutine.Go(ctx, "ws-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	})

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws serve: %w", err)
	}
	return nil
}

// Stop closes every client and shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(_ string, c *client) bool {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})

	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket accept failed")
		return
	}

	c := newClient(conn, s.opts.QueueSize, s.logger)
	s.clients.Set(c.id, c)
	s.opts.Metrics.ClientConnected()
	c.logger.WithField("remote", r.RemoteAddr).Info("Client connected")

	writerDone := make(chan struct{})
	groutine.Go(r.Context(), "ws-write-"+c.id, func(context.Context) {
		defer close(writerDone)
		c.writeLoop(s.opts.WriteTimeout)
	})

	c.send(Frame{Type: FrameHello, ClientID: c.id})
	s.readLoop(r.Context(), c)

	released := c.releaseAll()
	c.out.Close()
	<-writerDone
	s.clients.Del(c.id)
	s.opts.Metrics.ClientDisconnected()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	c.logger.WithField("released_streams", released).Info("Client disconnected")
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			return
		}

		switch frame.Type {
		case FrameCall:
			// Inline so one client's calls run and are answered in the order sent
			s.dispatchCall(ctx, c, frame)
		case FrameListen:
			s.listen(c, frame)
		case FrameCancel:
			s.cancel(c, frame)
		default:
			c.logger.WithField("type", frame.Type).Debug("Ignoring unexpected frame")
		}
	}
}

func (s *Server) dispatchCall(ctx context.Context, c *client, req Frame) {
	resp := Frame{Type: FrameResult, ID: req.ID, Method: req.Method}

	result, err := s.dispatcher.Handle(ctx, &channel.Call{Method: req.Method, Arguments: req.Args})
	switch {
	case err == nil:
		resp.Payload = result
	case errors.Is(err, channel.ErrNotImplemented):
		resp.NotImplemented = true
	default:
		if cerr, ok := channel.AsError(err); ok {
			resp.Error = cerr
		} else {
			resp.Error = channel.NewError(channel.CodeInternalError, err.Error(), nil)
		}
	}
	c.send(resp)
}

func (s *Server) listen(c *client, req Frame) {
	h, ok := s.streams[req.Channel]
	if !ok {
		c.send(Frame{Type: FrameResult, ID: req.ID, Channel: req.Channel,
			Error: channel.NewError(channel.CodeInvalidArgument, "unknown channel "+req.Channel, nil)})
		return
	}

	token, err := h.OnListen(req.Args, &sink{c: c, channel: req.Channel})
	if err != nil {
		c.send(Frame{Type: FrameResult, ID: req.ID, Channel: req.Channel,
			Error: channel.NewError(channel.CodeInvalidArgument, err.Error(), nil)})
		return
	}
	c.attach(req.Channel, h, token)
	c.logger.WithField("channel", req.Channel).Debug("Stream listening")
	c.send(Frame{Type: FrameResult, ID: req.ID, Channel: req.Channel})
}

func (s *Server) cancel(c *client, req Frame) {
	h, ok := s.streams[req.Channel]
	if !ok {
		c.send(Frame{Type: FrameResult, ID: req.ID, Channel: req.Channel,
			Error: channel.NewError(channel.CodeInvalidArgument, "unknown channel "+req.Channel, nil)})
		return
	}
	_ = h.OnCancel(req.Args)
	c.forget(req.Channel)
	c.logger.WithField("channel", req.Channel).Debug("Stream cancelled")
	c.send(Frame{Type: FrameResult, ID: req.ID, Channel: req.Channel})
}
