package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xraph/forge"

	"github.com/xraph/lineup/id"
	"github.com/xraph/lineup/stream"
)

// Stream encodings accepted in ?format=.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// wireEvent is the msgpack form of a stream.Event. Data is decoded from
// its JSON bytes so msgpack clients get a native map.
type wireEvent struct {
	Type      stream.EventType `msgpack:"type"`
	Timestamp time.Time        `msgpack:"ts"`
	Topic     string           `msgpack:"topic,omitempty"`
	Data      any              `msgpack:"data"`
}

// StreamRequest documents the query parameters of the stream routes.
type StreamRequest struct {
	Topic  []string `json:"topic,omitempty" query:"topic"`
	Format string   `json:"format,omitempty" query:"format"`
}

type eventEncoder func(evt *stream.Event) ([]byte, error)

func encodeJSON(evt *stream.Event) ([]byte, error) {
	return json.Marshal(evt)
}

func encodeMsgpack(evt *stream.Event) ([]byte, error) {
	w := wireEvent{Type: evt.Type, Timestamp: evt.Timestamp, Topic: evt.Topic}
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &w.Data); err != nil {
			return nil, err
		}
	}
	return msgpack.Marshal(&w)
}

func topicsFromQuery(r *http.Request) ([]string, error) {
	// Repeated ?topic= values; forge.Context.Query returns only the first.
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		return []string{stream.TopicFirehose}, nil
	}
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadRequest, err)
		}
	}
	return topics, nil
}

// streamWebSocket upgrades the request and forwards subscribed events
// until the client goes away or the broker shuts down.
func (a *API) streamWebSocket(ctx forge.Context) error {
	r, w := ctx.Request(), ctx.Response()
	topics, err := topicsFromQuery(r)
	if err != nil {
		return a.fail(ctx, err)
	}

	var (
		encode = encodeJSON
		op     = ws.OpText
	)
	switch f := ctx.Query("format"); f {
	case "", FormatJSON:
	case FormatMsgpack:
		encode, op = encodeMsgpack, ws.OpBinary
	default:
		return a.fail(ctx, fmt.Errorf("%w: unknown format %q", errBadRequest, f))
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// UpgradeHTTP has already answered the client.
		a.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	subID := id.NewSubscriberID()
	sub := a.streamer.Subscribe(subID, topics...)
	defer a.streamer.Unsubscribe(subID)

	a.logger.Debug("stream client connected",
		slog.String("subscriber_id", subID),
		slog.Any("topics", topics),
	)

	lw := &lockedWriter{w: conn}
	fwdCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		rw := struct {
			io.Reader
			io.Writer
		}{conn, lw}
		for {
			// Client frames carry nothing; reading keeps control frames
			// answered and notices the disconnect.
			if _, _, readErr := wsutil.ReadClientData(rw); readErr != nil {
				return
			}
		}
	}()

	a.forwardEvents(fwdCtx, lw, sub, encode, op)
	return nil
}

// forwardEvents writes events from sub until ctx ends or sub closes. A
// closed subscriber means shutdown, so the client receives a close frame.
func (a *API) forwardEvents(ctx context.Context, lw *lockedWriter, sub *stream.Subscriber, encode eventEncoder, op ws.OpCode) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				body := ws.NewCloseFrameBody(ws.StatusGoingAway, "queue shutting down")
				_ = lw.writeFrame(ws.NewCloseFrame(body)) //nolint:errcheck // closing anyway
				return
			}
			data, err := encode(evt)
			if err != nil {
				a.logger.Warn("stream encode failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := lw.writeMessage(op, data); err != nil {
				return
			}
		}
	}
}

// lockedWriter serialises writes from the forwarder and the control frame
// replies issued by the reader goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  net.Conn
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriter) writeMessage(op ws.OpCode, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return wsutil.WriteServerMessage(l.w, op, data)
}

func (l *lockedWriter) writeFrame(f ws.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ws.WriteFrame(l.w, f)
}

// streamSSE serves the same events as Server-Sent Events for clients that
// cannot open a WebSocket.
func (a *API) streamSSE(ctx forge.Context) error {
	r, w := ctx.Request(), ctx.Response()
	topics, err := topicsFromQuery(r)
	if err != nil {
		return a.fail(ctx, err)
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		return a.fail(ctx, errors.New("streaming unsupported"))
	}

	subID := id.NewSubscriberID()
	sub := a.streamer.Subscribe(subID, topics...)
	defer a.streamer.Unsubscribe(subID)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Returns when the client leaves or the broker closes sub, which
	// servers trigger at the start of their shutdown.
	for {
		select {
		case <-r.Context().Done():
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			data, err := encodeJSON(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
