package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

const (
	defaultDialTimeout = 10 * time.Second
	heartbeatInterval  = 30 * time.Second
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(log logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithHeartbeat overrides the ping interval.
func WithHeartbeat(d time.Duration) ClientOption {
	return func(c *Client) { c.heartbeat = d }
}

type clientListener struct {
	path    types.Path
	class   types.EventClass
	onData  types.DataFunc
	onError types.ErrorFunc
	once    bool

	removed bool       // guarded by Client.mu
	cbMu    sync.Mutex // held while a callback runs
}

// Client is a types.Backend backed by a remote Server. Listener callbacks
// run on the client's read goroutine in the order the server sent them.
// When the connection drops every listener receives types.ErrDisconnected.
type Client struct {
	heartbeat time.Duration
	log       logrus.FieldLogger

	mu        sync.Mutex
	attached  bool
	closing   bool
	conn      *websocket.Conn
	listeners map[string]*clientListener
	pending   map[string]chan Message
	ref       uint64
	closeErr  error
	done      chan struct{}
	readDone  chan struct{}

	writeMu sync.Mutex
}

// NewClient returns a detached client; Attach dials the server.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{heartbeat: heartbeatInterval}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Component(c.log, logging.ComponentRealtime).WithField(logging.FieldBackend, types.BackendRealtime)
	return c
}

// Attach dials config.URL.
// Returns ErrAlreadyAttached if already attached.
func (c *Client) Attach(config types.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	conn, _, err := dialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	c.attached = true
	c.closing = false
	c.closeErr = nil
	c.listeners = make(map[string]*clientListener)
	c.pending = make(map[string]chan Message)
	c.done = make(chan struct{})
	c.readDone = make(chan struct{})

	go c.readLoop(conn, c.readDone)
	go c.pinger(c.done)
	c.log.WithField("url", config.URL).Debug("connected")
	return nil
}

// Detach closes the connection. Remaining listeners receive
// types.ErrStoreClosed. Idempotent.
func (c *Client) Detach() error {
	c.mu.Lock()
	if !c.attached || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn, done, readDone := c.conn, c.done, c.readDone
	c.mu.Unlock()

	close(done)
	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
	<-readDone

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.WithError(err).Debug("close message")
	}
	return nil
}

func (c *Client) nextRef() string {
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.attached && !c.closing
	c.mu.Unlock()
	if !ok {
		return types.ErrDetached
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", types.ErrDisconnected, err)
	}
	return nil
}

// AddListener implements types.Store.
func (c *Client) AddListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) (types.ListenerHandle, error) {
	ref, err := c.listen(OpListen, path, class, onData, onError)
	return types.ListenerHandle(ref), err
}

// AddSingleListener implements types.Store.
func (c *Client) AddSingleListener(path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) error {
	_, err := c.listen(OpOnce, path, class, onData, onError)
	return err
}

func (c *Client) listen(op Op, path types.Path, class types.EventClass, onData types.DataFunc, onError types.ErrorFunc) (string, error) {
	if !class.Valid() {
		return "", fmt.Errorf("%w: %d", types.ErrUnknownEventClass, int(class))
	}

	c.mu.Lock()
	if !c.attached || c.closing {
		c.mu.Unlock()
		return "", types.ErrDetached
	}
	ref := "l" + c.nextRef()
	c.listeners[ref] = &clientListener{path: path, class: class, onData: onData, onError: onError, once: op == OpOnce}
	c.mu.Unlock()

	if err := c.send(Message{Op: op, Ref: ref, Path: path.String(), Event: class.String()}); err != nil {
		c.mu.Lock()
		delete(c.listeners, ref)
		c.mu.Unlock()
		return "", err
	}
	return ref, nil
}

// RemoveListener implements types.Store.
func (c *Client) RemoveListener(handle types.ListenerHandle) {
	ref := string(handle)
	c.mu.Lock()
	l, ok := c.listeners[ref]
	if ok {
		l.removed = true
		delete(c.listeners, ref)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = c.send(Message{Op: OpUnlisten, Ref: ref})

	// Wait out a callback already running for the listener.
	l.cbMu.Lock()
	l.cbMu.Unlock()
}

// request sends msg and waits for its ack or error.
func (c *Client) request(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.attached || c.closing {
		c.mu.Unlock()
		return types.ErrDetached
	}
	msg.Ref = "r" + c.nextRef()
	reply := make(chan Message, 1)
	c.pending[msg.Ref] = reply
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return err
	}
	select {
	case r := <-reply:
		if r.Op == OpError {
			return errorFromMessage(r)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = types.ErrStoreClosed
		}
		return err
	}
}

func encodeValue(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	return raw, nil
}

// Set implements types.Writer.
func (c *Client) Set(ctx context.Context, path types.Path, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	return c.request(ctx, Message{Op: OpSet, Path: path.String(), Value: raw})
}

// SetWithPriority implements types.Writer.
func (c *Client) SetWithPriority(ctx context.Context, path types.Path, value any, priority any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	prio, err := encodeValue(priority)
	if err != nil {
		return err
	}
	return c.request(ctx, Message{Op: OpSet, Path: path.String(), Value: raw, Priority: prio})
}

// Update implements types.Writer.
func (c *Client) Update(ctx context.Context, path types.Path, values map[string]any) error {
	raw, err := encodeValue(values)
	if err != nil {
		return err
	}
	return c.request(ctx, Message{Op: OpUpdate, Path: path.String(), Value: raw})
}

// Remove implements types.Writer.
func (c *Client) Remove(ctx context.Context, path types.Path) error {
	return c.request(ctx, Message{Op: OpRemove, Path: path.String()})
}

// SetPriority implements types.Writer.
func (c *Client) SetPriority(ctx context.Context, path types.Path, priority any) error {
	prio, err := encodeValue(priority)
	if err != nil {
		return err
	}
	return c.request(ctx, Message{Op: OpPriority, Path: path.String(), Priority: prio})
}

// Ping round-trips a heartbeat.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	if !c.attached || c.closing {
		c.mu.Unlock()
		return types.ErrDetached
	}
	ref := "p" + c.nextRef()
	reply := make(chan Message, 1)
	c.pending[ref] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.send(Message{Op: OpPing, Ref: ref}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.shutdown(conn, err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("malformed frame")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Op {
	case OpAck, OpError, OpPong:
		c.mu.Lock()
		reply, ok := c.pending[msg.Ref]
		c.mu.Unlock()
		if ok {
			reply <- msg
		} else if msg.Op == OpError {
			c.log.WithField("code", msg.Code).Warn(msg.Message)
		}
	case OpEvent:
		c.mu.Lock()
		l, ok := c.listeners[msg.Ref]
		if ok && l.once {
			delete(c.listeners, msg.Ref)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		snap, err := snapshotFromMessage(msg)
		if err != nil {
			c.log.WithError(err).Warn("malformed event")
			return
		}
		c.deliver(l, func() {
			if l.onData != nil {
				l.onData(snap)
			}
		})
	case OpCancel:
		c.mu.Lock()
		l, ok := c.listeners[msg.Ref]
		delete(c.listeners, msg.Ref)
		c.mu.Unlock()
		if ok {
			c.deliver(l, func() {
				if l.onError != nil {
					l.onError(errorFromMessage(msg))
				}
			})
		}
	}
}

// deliver runs fn under the listener's callback lock unless RemoveListener
// got to the listener first.
func (c *Client) deliver(l *clientListener, fn func()) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	c.mu.Lock()
	removed := l.removed
	c.mu.Unlock()
	if !removed {
		fn()
	}
}

// shutdown fails every listener once the connection is gone.
func (c *Client) shutdown(conn *websocket.Conn, readErr error) {
	c.mu.Lock()
	cause := types.ErrStoreClosed
	if !c.closing {
		cause = types.ErrDisconnected
		c.closeErr = cause
		close(c.done)
	}
	listeners := c.listeners
	c.listeners = make(map[string]*clientListener)
	c.attached = false
	c.closing = false
	c.mu.Unlock()

	if cause == types.ErrDisconnected {
		conn.Close()
		c.log.WithError(readErr).Warn("connection lost")
	}
	for _, l := range listeners {
		if l.onError != nil {
			l.onError(cause)
		}
	}
}

func (c *Client) pinger(done chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.heartbeat)
			if err := c.Ping(ctx); err != nil && !errors.Is(err, types.ErrDetached) {
				c.log.WithError(err).Debug("heartbeat failed")
			}
			cancel()
		}
	}
}
