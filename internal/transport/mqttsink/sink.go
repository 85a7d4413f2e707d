// Package mqttsink republishes bridge event streams to an MQTT broker.
//
// Each attached category publishes its events as JSON under
// <prefix>/<category>; stream errors go to <prefix>/<category>/error.
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/groutine"
	"github.com/srg/musebridge/internal/metrics"
	"github.com/srg/musebridge/internal/ringchan"
	"github.com/srg/musebridge/internal/stream"
)

// Options configures the sink
type Options struct {
	Prefix    string
	QoS       byte
	QueueSize int
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

type message struct {
	category stream.Category
	topic    string
	payload  []byte
}

// Sink owns stream attachments and a publishing goroutine
type Sink struct {
	pub    Publisher
	opts   Options
	logger *logrus.Logger
	out    *ringchan.RingChannel[message]
	done   chan struct{}

	mu     sync.Mutex
	tokens map[stream.Category]attachment
	closed bool
}

type attachment struct {
	handler *stream.Handler
	token   stream.Token
}

// New starts a sink publishing through pub. Close must be called to stop it.
func New(pub Publisher, opts Options) *Sink {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Prefix == "" {
		opts.Prefix = "musebridge"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}

	s := &Sink{
		pub:    pub,
		opts:   opts,
		logger: opts.Logger,
		out:    ringchan.New[message](opts.QueueSize),
		done:   make(chan struct{}),
		tokens: make(map[stream.Category]attachment),
	}
	groutine.Go(context.Background(), "mqtt-publish", s.publishLoop)
	return s
}

// Topic returns the topic events of c are published on
func (s *Sink) Topic(c stream.Category) string {
	return s.opts.Prefix + "/" + string(c)
}

// Attach listens on each category through its handler in streams (keyed by
// channel name), replacing any current listener.
func (s *Sink) Attach(streams map[string]*stream.Handler, categories ...stream.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mqtt sink closed")
	}

	for _, c := range categories {
		h, ok := streams[c.ChannelName()]
		if !ok {
			return fmt.Errorf("no stream handler for %s", c)
		}
		token, err := h.OnListen(nil, &categorySink{s: s, category: c})
		if err != nil {
			return fmt.Errorf("listen %s: %w", c, err)
		}
		s.tokens[c] = attachment{handler: h, token: token}
		s.logger.WithFields(logrus.Fields{
			"stream": c,
			"topic":  s.Topic(c),
		}).Info("Publishing stream to MQTT")
	}
	return nil
}

// Close releases every attachment, flushes queued messages and closes the publisher.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()

	for _, a := range tokens {
		a.handler.Release(a.token)
	}
	s.out.Close()
	<-s.done
	s.pub.Close()
}

func (s *Sink) enqueue(c stream.Category, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).WithField("stream", c).Warn("Failed to encode event")
		return
	}
	if s.out.Send(message{category: c, topic: topic, payload: payload}) {
		s.logger.WithField("stream", c).Debug("MQTT queue full, dropped oldest message")
	}
}

func (s *Sink) publishLoop(context.Context) {
	defer close(s.done)
	for m := range s.out.C() {
		err := s.pub.Publish(m.topic, s.opts.QoS, false, m.payload)
		s.opts.Metrics.Published(string(m.category), err)
		if err != nil {
			s.logger.WithError(err).WithField("topic", m.topic).Warn("MQTT publish failed")
		}
	}
}

// categorySink is the stream.Sink attached for one category
type categorySink struct {
	s        *Sink
	category stream.Category
}

func (cs *categorySink) Success(event any) {
	cs.s.enqueue(cs.category, cs.s.Topic(cs.category), event)
}

func (cs *categorySink) Error(code, message string, details any) {
	cs.s.enqueue(cs.category, cs.s.Topic(cs.category)+"/error", channel.NewError(code, message, details))
}

func (cs *categorySink) EndOfStream() {
	cs.s.logger.WithField("stream", cs.category).Debug("Stream ended")
}
