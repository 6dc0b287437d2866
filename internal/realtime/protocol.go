// Package realtime carries the store API over a websocket so listeners can
// live in another process. Server exposes any store; Client implements
// types.Backend against a Server.
//
// Every frame is one JSON Message. Clients send listen, unlisten, once, set,
// update, remove, priority and ping; the server answers with ack, error,
// event, cancel and pong. Messages that answer or feed a request carry the
// request's ref.
package realtime

import (
	"encoding/json"
	"errors"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// Op is the kind of a message.
type Op string

// Client operations.
const (
	OpListen   Op = "listen"
	OpUnlisten Op = "unlisten"
	OpOnce     Op = "once"
	OpSet      Op = "set"
	OpUpdate   Op = "update"
	OpRemove   Op = "remove"
	OpPriority Op = "priority"
	OpPing     Op = "ping"
)

// Server replies.
const (
	OpAck    Op = "ack"
	OpError  Op = "error"
	OpEvent  Op = "event"
	OpCancel Op = "cancel"
	OpPong   Op = "pong"
)

// Error codes.
const (
	CodePermissionDenied = "permission_denied"
	CodeStoreClosed      = "store_closed"
	CodeInvalid          = "invalid"
	CodeNotFound         = "not_found"
	CodeDisconnected     = "disconnected"
	CodeInternal         = "internal"
)

// Message is a single protocol frame.
type Message struct {
	Op    Op     `json:"op"`
	Ref   string `json:"ref,omitempty"`
	Path  string `json:"path,omitempty"`
	Event string `json:"event,omitempty"`

	// Value is the export-form value for set and event, or the child map
	// for update.
	Value json.RawMessage `json:"value,omitempty"`

	// Priority is present for set-with-priority and priority.
	Priority json.RawMessage `json:"priority,omitempty"`

	// Prev is the previous sibling key of a child event.
	Prev *string `json:"prev,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var codeErrors = []struct {
	code string
	err  error
}{
	{CodePermissionDenied, types.ErrPermissionDenied},
	{CodeStoreClosed, types.ErrStoreClosed},
	{CodeNotFound, types.ErrNotFound},
	{CodeDisconnected, types.ErrDisconnected},
	{CodeInvalid, types.ErrInvalidData},
	{CodeInvalid, types.ErrInvalidPath},
	{CodeInvalid, types.ErrInvalidKey},
	{CodeInvalid, types.ErrInvalidPriority},
	{CodeInvalid, types.ErrUnknownEventClass},
}

// errorCode maps an error to its wire code.
func errorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// remoteError is an error reported by the server.
type remoteError struct {
	code    string
	message string
}

func (e *remoteError) Error() string {
	if e.message == "" {
		return e.code
	}
	return e.message
}

// Unwrap exposes the sentinels matching the code.
func (e *remoteError) Unwrap() []error {
	var errs []error
	for _, ce := range codeErrors {
		if ce.code == e.code {
			errs = append(errs, ce.err)
		}
	}
	return errs
}

// errorFromMessage rebuilds the error carried by an error or cancel frame.
func errorFromMessage(m Message) error {
	return &remoteError{code: m.Code, message: m.Message}
}

func errorMessage(op Op, ref string, err error) Message {
	return Message{Op: op, Ref: ref, Code: errorCode(err), Message: err.Error()}
}

func eventMessage(ref string, class types.EventClass, snap types.Snapshot) (Message, error) {
	raw, err := json.Marshal(snap.Export())
	if err != nil {
		return Message{}, err
	}
	m := Message{Op: OpEvent, Ref: ref, Path: snap.Path().String(), Event: class.String(), Value: raw}
	if prev, ok := snap.PrevSiblingKey(); ok {
		m.Prev = &prev
	}
	return m, nil
}

func snapshotFromMessage(m Message) (types.Snapshot, error) {
	path, err := types.ParsePath(m.Path)
	if err != nil {
		return types.Snapshot{}, err
	}
	var v any
	if len(m.Value) > 0 {
		if err := json.Unmarshal(m.Value, &v); err != nil {
			return types.Snapshot{}, errors.Join(types.ErrInvalidData, err)
		}
	}
	snap := types.NewSnapshot(path, v)
	if m.Prev != nil {
		snap = snap.WithPrevSiblingKey(*m.Prev)
	}
	return snap, nil
}
