// Package jsonrpc implements a bidirectional JSON-RPC 2.0 connection over
// Content-Length framed streams, as specified by the LSP base protocol.
// It owns the session's receive loop, per-request cancellation, and the
// serialization of response writes.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler processes an incoming JSON-RPC request. The context is cancelled
// if the client sends $/cancelRequest for this request's id or the session
// shuts down; handlers are expected to check it at suspension points.
type Handler func(ctx context.Context, method string, params RawMessage) (result interface{}, err error)

// NotificationHandler processes an incoming JSON-RPC notification.
type NotificationHandler func(ctx context.Context, method string, params RawMessage)

// Conn is a bidirectional JSON-RPC 2.0 connection. A single goroutine runs
// the receive loop; every inbound request and notification is handled on its
// own goroutine so a slow handler never blocks reading of later messages,
// including the cancellation meant for it.
type Conn struct {
	codec   *Codec
	handler Handler
	notif   NotificationHandler
	logger  *slog.Logger

	// inflight tracks the cancellation signal of every request currently
	// being handled, keyed by formatted id. At most one entry per id.
	imu      sync.Mutex
	inflight map[string]context.CancelFunc

	// handlers counts request/notification goroutines so Run can drain
	// them before returning and releasing the transport.
	handlers sync.WaitGroup

	// pending holds response channels for outbound server->client calls.
	pending   sync.Map // formatted id -> chan *Response
	nextID    atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn creates a new JSON-RPC connection using the given codec, request
// handler, and notification handler.
func NewConn(codec *Codec, handler Handler, notif NotificationHandler) *Conn {
	return &Conn{
		codec:    codec,
		handler:  handler,
		notif:    notif,
		logger:   slog.Default(),
		inflight: make(map[string]context.CancelFunc),
		done:     make(chan struct{}),
	}
}

// SetLogger replaces the connection's logger. Must be called before Run.
func (c *Conn) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Run reads messages from the connection until the stream ends, the context
// is cancelled, or a fatal framing error occurs. In every case, all
// in-flight handler goroutines are awaited before Run returns, so no
// response write races the transport's disposal.
//
// Requests run on independent goroutines so slow handlers never block the
// receive loop. Notifications are processed by a single worker in arrival
// order: notification handlers mutate shared state (the open-document
// table), and edits for one document must be applied in the order they were
// read.
func (c *Conn) Run(ctx context.Context) error {
	defer c.handlers.Wait()

	notifs := make(chan *Notification, 64)
	defer close(notifs)
	c.handlers.Add(1)
	go c.notificationLoop(ctx, notifs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		data, err := c.codec.Read()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if IsFramingError(err) {
				return err
			}
			return fmt.Errorf("reading message: %w", err)
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			// A structurally bad frame is skipped; the framing layer is
			// still in sync, so the session survives.
			c.logger.Warn("skipping malformed message", "error", err)
			continue
		}

		switch m := msg.(type) {
		case *Request:
			c.acceptRequest(ctx, m)
		case *Notification:
			if m.Method == MethodCancelRequest {
				c.cancelRequest(m.Params)
				continue
			}
			notifs <- m
		case *Response:
			c.handleResponse(m)
		}
	}
}

// acceptRequest registers the cancellation signal for a request and starts
// its handler goroutine. The pending entry exists before the handler runs,
// so a cancellation arriving immediately after the request is never lost.
func (c *Conn) acceptRequest(ctx context.Context, req *Request) {
	key := formatID(req.ID)

	rctx, cancel := context.WithCancel(ctx)

	c.imu.Lock()
	if _, exists := c.inflight[key]; exists {
		c.imu.Unlock()
		cancel()
		c.writeResponse(NewResponse(req.ID, nil, &Error{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("request id %v is already in flight", req.ID.Value()),
		}))
		return
	}
	c.inflight[key] = cancel
	c.imu.Unlock()

	c.handlers.Add(1)
	go c.handleRequest(rctx, req, key, cancel)
}

func (c *Conn) handleRequest(ctx context.Context, req *Request, key string, cancel context.CancelFunc) {
	defer c.handlers.Done()

	result, err := c.handler(ctx, req.Method, req.Params)
	cancelled := ctx.Err() != nil || errors.Is(err, context.Canceled)

	// The id is reusable the moment its response is written, so the pending
	// entry must already be gone when the client reads the response.
	c.imu.Lock()
	delete(c.inflight, key)
	c.imu.Unlock()
	cancel()

	if cancelled {
		c.writeResponse(NewResponse(req.ID, nil, &Error{
			Code:    CodeRequestCancelled,
			Message: fmt.Sprintf("request %v cancelled", req.ID.Value()),
		}))
		return
	}
	c.writeResponse(NewResponse(req.ID, result, err))
}

func (c *Conn) writeResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("marshaling response", "error", err)
		return
	}
	if err := c.codec.Write(data); err != nil {
		c.logger.Warn("writing response", "error", err)
	}
}

// cancelRequest handles an intercepted $/cancelRequest notification.
// Cancelling an id with no pending request is a no-op: the response may
// already have been written, which is allowed by the protocol.
func (c *Conn) cancelRequest(params RawMessage) {
	var p CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.logger.Warn("malformed $/cancelRequest params", "error", err)
		return
	}
	key := formatID(p.ID)

	c.imu.Lock()
	cancel, ok := c.inflight[key]
	c.imu.Unlock()
	if ok {
		cancel()
	}
}

// notificationLoop drains the notification queue in FIFO order. A handler
// failure (including a panic) is logged and the loop continues; a broken
// notification must never terminate the session.
func (c *Conn) notificationLoop(ctx context.Context, notifs <-chan *Notification) {
	defer c.handlers.Done()
	for notif := range notifs {
		c.handleNotification(ctx, notif)
	}
}

func (c *Conn) handleNotification(ctx context.Context, notif *Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in notification handler", "method", notif.Method, "panic", r)
		}
	}()
	if c.notif != nil {
		c.notif(ctx, notif.Method, notif.Params)
	} else if c.handler != nil {
		c.handler(ctx, notif.Method, notif.Params)
	}
}

func (c *Conn) handleResponse(resp *Response) {
	if ch, ok := c.pending.LoadAndDelete(formatID(resp.ID)); ok {
		ch.(chan *Response) <- resp
	}
}

// Call sends a request to the peer and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := IntID(c.nextID.Add(1))
	paramsData, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	req := &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	ch := make(chan *Response, 1)
	c.pending.Store(formatID(id), ch)
	defer c.pending.Delete(formatID(id))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.codec.Write(data); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	paramsData, err := marshalParams(params)
	if err != nil {
		return err
	}

	notif := &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  paramsData,
	}

	data, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	return c.codec.Write(data)
}

// Close terminates the connection.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func marshalParams(v interface{}) (RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func formatID(id ID) string {
	switch v := id.Value().(type) {
	case int64:
		return fmt.Sprintf("n:%d", v)
	case string:
		return fmt.Sprintf("s:%s", v)
	default:
		return "null"
	}
}
