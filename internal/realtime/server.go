package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/metrics"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

const (
	writeTimeout   = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// StoreWriter is the store a Server exposes.
type StoreWriter interface {
	types.Store
	types.Writer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) { s.log = log }
}

// Server serves the realtime protocol for a store.
type Server struct {
	store    StoreWriter
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewServer returns an http.Handler speaking the realtime protocol.
func NewServer(store StoreWriter, opts ...ServerOption) *Server {
	s := &Server{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, logging.ComponentRealtime)
	return s
}

// ServeHTTP upgrades the request and runs the session until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sess := &session{
		srv:       s,
		conn:      conn,
		listeners: make(map[string]types.ListenerHandle),
		log:       s.log.WithField(logging.FieldRemote, r.RemoteAddr),
	}
	metrics.RealtimeSessions.Inc()
	defer metrics.RealtimeSessions.Dec()
	sess.run(r.Context())
}

type session struct {
	srv  *Server
	conn *websocket.Conn
	log  logrus.FieldLogger

	writeMu sync.Mutex
	closed  bool

	mu        sync.Mutex
	listeners map[string]types.ListenerHandle
}

func (s *session) run(ctx context.Context) {
	s.log.Debug("session started")
	defer func() {
		s.mu.Lock()
		handles := make([]types.ListenerHandle, 0, len(s.listeners))
		for _, h := range s.listeners {
			handles = append(handles, h)
		}
		s.listeners = map[string]types.ListenerHandle{}
		s.mu.Unlock()
		for _, h := range handles {
			s.srv.store.RemoveListener(h)
		}

		s.writeMu.Lock()
		s.closed = true
		s.writeMu.Unlock()
		s.conn.Close()
		s.log.WithField("listeners", len(handles)).Debug("session ended")
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(Message{Op: OpError, Code: CodeInvalid, Message: "malformed frame"})
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *session) send(msg Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).Debug("write failed")
	}
}

func (s *session) handle(ctx context.Context, msg Message) {
	switch msg.Op {
	case OpPing:
		s.send(Message{Op: OpPong, Ref: msg.Ref})
	case OpListen, OpOnce:
		s.listen(msg)
	case OpUnlisten:
		s.mu.Lock()
		h, ok := s.listeners[msg.Ref]
		delete(s.listeners, msg.Ref)
		s.mu.Unlock()
		if ok {
			s.srv.store.RemoveListener(h)
		}
	case OpSet, OpUpdate, OpRemove, OpPriority:
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := s.write(ctx, msg)
		cancel()
		if err != nil {
			s.send(errorMessage(OpError, msg.Ref, err))
			return
		}
		s.send(Message{Op: OpAck, Ref: msg.Ref})
	default:
		s.send(Message{Op: OpError, Ref: msg.Ref, Code: CodeInvalid, Message: "unknown op " + string(msg.Op)})
	}
}

func (s *session) listen(msg Message) {
	path, class, err := parseTarget(msg)
	if err != nil {
		s.send(errorMessage(OpCancel, msg.Ref, err))
		return
	}
	ref := msg.Ref
	onData := func(snap types.Snapshot) {
		ev, err := eventMessage(ref, class, snap)
		if err != nil {
			s.log.WithError(err).Warn("encoding event")
			return
		}
		s.send(ev)
	}
	onError := func(err error) {
		s.mu.Lock()
		delete(s.listeners, ref)
		s.mu.Unlock()
		s.send(errorMessage(OpCancel, ref, err))
	}

	if msg.Op == OpOnce {
		if err := s.srv.store.AddSingleListener(path, class, onData, onError); err != nil {
			s.send(errorMessage(OpCancel, ref, err))
		}
		return
	}

	// Hold the session lock across registration so an early onError
	// cannot run its delete before the handle is recorded.
	s.mu.Lock()
	h, err := s.srv.store.AddListener(path, class, onData, onError)
	if err == nil {
		s.listeners[ref] = h
	}
	s.mu.Unlock()
	if err != nil {
		s.send(errorMessage(OpCancel, ref, err))
	}
}

func (s *session) write(ctx context.Context, msg Message) error {
	path, err := types.ParsePath(msg.Path)
	if err != nil {
		return err
	}
	store := s.srv.store
	switch msg.Op {
	case OpSet:
		value, err := decodeValue(msg.Value)
		if err != nil {
			return err
		}
		if len(msg.Priority) > 0 {
			prio, err := decodeValue(msg.Priority)
			if err != nil {
				return err
			}
			return store.SetWithPriority(ctx, path, value, prio)
		}
		return store.Set(ctx, path, value)
	case OpUpdate:
		var values map[string]any
		if err := json.Unmarshal(msg.Value, &values); err != nil {
			return errors.Join(types.ErrInvalidData, err)
		}
		return store.Update(ctx, path, values)
	case OpRemove:
		return store.Remove(ctx, path)
	default:
		prio, err := decodeValue(msg.Priority)
		if err != nil {
			return err
		}
		return store.SetPriority(ctx, path, prio)
	}
}

func parseTarget(msg Message) (types.Path, types.EventClass, error) {
	path, err := types.ParsePath(msg.Path)
	if err != nil {
		return types.Path{}, 0, err
	}
	class, err := types.ParseEventClass(msg.Event)
	if err != nil {
		return types.Path{}, 0, err
	}
	return path, class, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Join(types.ErrInvalidData, err)
	}
	return v, nil
}
