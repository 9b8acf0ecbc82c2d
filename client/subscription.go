package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/lineup/stream"
)

// Subscription is a live event feed from the server.
type Subscription struct {
	c      *Client
	url    string
	events chan *stream.Event

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	done   chan struct{}
}

// Subscribe opens a WebSocket feed on the given topics. No topics means
// the firehose. Topics follow the stream package convention:
//   - "job:<jobID>" for one job
//   - "jobs" for every job state change
//   - "progress" for progress and log lines
//   - "firehose" for everything
//
// The Events channel closes when the server shuts down, the connection is
// lost for good or Close is called.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			return nil, fmt.Errorf("lineup/client: %w", err)
		}
	}

	s := &Subscription{
		c:      c,
		url:    c.streamURL(topics),
		events: make(chan *stream.Event, 64),
		done:   make(chan struct{}),
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("lineup/client: dial: %w", err)
	}
	s.conn = conn

	go s.readLoop()
	return s, nil
}

func (c *Client) streamURL(topics []string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	for _, t := range topics {
		q.Add("topic", t)
	}
	if c.format != "" && c.format != "json" {
		q.Set("format", c.format)
	}
	u += c.basePath + "/api/stream"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (s *Subscription) dial(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, s.url)
	return conn, err
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan *stream.Event { return s.events }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readLoop decodes frames into events until the feed ends.
func (s *Subscription) readLoop() {
	defer close(s.events)
	logger := s.c.logger

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if s.isClosed() {
				return
			}
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				logger.Info("lineup stream closed by server",
					slog.Int("code", int(closed.Code)),
					slog.String("reason", closed.Reason),
				)
				return
			}
			logger.Warn("lineup stream read error", slog.String("error", err.Error()))
			if !s.c.reconnect || !s.tryReconnect() {
				return
			}
			continue
		}

		evt, err := s.decode(data)
		if err != nil {
			logger.Warn("lineup stream: invalid event", slog.String("error", err.Error()))
			continue
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

// wireEvent mirrors the server's msgpack event layout.
type wireEvent struct {
	Type      stream.EventType `msgpack:"type"`
	Timestamp time.Time        `msgpack:"ts"`
	Topic     string           `msgpack:"topic,omitempty"`
	Data      any              `msgpack:"data"`
}

func (s *Subscription) decode(data []byte) (*stream.Event, error) {
	var evt stream.Event
	if s.c.format != "msgpack" {
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	}

	var w wireEvent
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(w.Data)
	if err != nil {
		return nil, err
	}
	evt = stream.Event{Type: w.Type, Timestamp: w.Timestamp, Topic: w.Topic, Data: raw}
	return &evt, nil
}

// tryReconnect redials with exponential backoff. It reports whether a new
// connection is in place.
func (s *Subscription) tryReconnect() bool {
	logger := s.c.logger
	delay := s.c.baseDelay
	for i := range s.c.maxRetries {
		logger.Info("lineup stream reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-s.done:
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := s.dial(ctx)
		cancel()
		if err != nil {
			logger.Warn("lineup stream reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close() //nolint:errcheck // abandoned
			return false
		}
		old := s.conn
		s.conn = conn
		s.mu.Unlock()
		_ = old.Close() //nolint:errcheck // already broken

		logger.Info("lineup stream reconnected")
		return true
	}
	logger.Error("lineup stream: max reconnection attempts reached")
	return false
}
