package ws

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/ringchan"
	"github.com/srg/musebridge/internal/stream"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// client is one WebSocket connection and the stream attachments it owns
type client struct {
	id     string
	ws     *websocket.Conn
	out    *ringchan.RingChannel[Frame]
	logger *logrus.Entry

	mu     sync.Mutex
	tokens map[string]attachment // by channel name
}

type attachment struct {
	handler *stream.Handler
	token   stream.Token
}

func newClientID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func newClient(conn *websocket.Conn, queueSize int, logger *logrus.Logger) *client {
	id := newClientID(time.Now())
	return &client{
		id:     id,
		ws:     conn,
		out:    ringchan.New[Frame](queueSize),
		logger: logger.WithField("client", id),
		tokens: make(map[string]attachment),
	}
}

// send enqueues f, discarding the oldest queued frame when the client is slow
func (c *client) send(f Frame) {
	if c.out.Send(f) {
		c.logger.Warn("Outbound queue full, dropped oldest frame")
	}
}

func (c *client) attach(name string, h *stream.Handler, t stream.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[name] = attachment{handler: h, token: t}
}

func (c *client) forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, name)
}

// releaseAll detaches every sink this client still owns
func (c *client) releaseAll() int {
	c.mu.Lock()
	tokens := c.tokens
	c.tokens = make(map[string]attachment)
	c.mu.Unlock()

	released := 0
	for _, a := range tokens {
		if a.handler.Release(a.token) {
			released++
		}
	}
	return released
}

func (c *client) writeLoop(timeout time.Duration) {
	for frame := range c.out.C() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := wsjson.Write(ctx, c.ws, frame)
		cancel()
		if err != nil {
			c.logger.WithError(err).Debug("Write failed, stopping write loop")
			return
		}
	}
}

// sink routes one stream's events to the client
type sink struct {
	c       *client
	channel string
}

func (s *sink) Success(event any) {
	s.c.send(Frame{Type: FrameEvent, Channel: s.channel, Payload: event})
}

func (s *sink) Error(code, message string, details any) {
	s.c.send(Frame{Type: FrameError, Channel: s.channel, Error: channel.NewError(code, message, details)})
}

func (s *sink) EndOfStream() {
	s.c.send(Frame{Type: FrameEnd, Channel: s.channel})
}
