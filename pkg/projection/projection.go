// Package projection maps snapshot streams to typed fields and joins a
// selector stream with a data stream.
//
// Malformed or missing data never ends a stream. It degrades to the empty
// Field, whose Err says why. Errors from the input streams are passed
// through and end the output.
package projection

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/metrics"
	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// Selector names the child field of a snapshot's mapping to project.
type Selector string

// Option configures a Projector.
type Option func(*Projector)

// WithLogger sets the logger used to report malformed fields.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Projector) { p.log = log }
}

// Projector builds field streams. It logs and counts malformed fields.
type Projector struct {
	log logrus.FieldLogger
}

// New returns a Projector.
func New(opts ...Option) *Projector {
	p := &Projector{}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.Component(p.log, logging.ComponentProject)
	return p
}

var defaultProjector = New()

// ProjectField projects key from every snapshot of src.
func ProjectField(src *stream.Stream[types.Snapshot], key string) *stream.Stream[Field] {
	return defaultProjector.ProjectField(src, key)
}

// ProjectFieldAs projects key as kind from every snapshot of src.
func ProjectFieldAs(src *stream.Stream[types.Snapshot], key string, kind Kind) *stream.Stream[Field] {
	return defaultProjector.ProjectFieldAs(src, key, kind)
}

// CombineWithSelector emits one field per selector, projected from the
// latest snapshot of data.
func CombineWithSelector(selectors *stream.Stream[Selector], data *stream.Stream[types.Snapshot]) *stream.Stream[Field] {
	return defaultProjector.CombineWithSelector(selectors, data)
}

// ProjectField projects key from every snapshot of src. Cancelling the
// result cancels src.
func (p *Projector) ProjectField(src *stream.Stream[types.Snapshot], key string) *stream.Stream[Field] {
	return stream.Map(src, func(snap types.Snapshot) Field {
		return p.observe(Extract(snap, key))
	})
}

// ProjectFieldAs is ProjectField restricted to one kind.
func (p *Projector) ProjectFieldAs(src *stream.Stream[types.Snapshot], key string, kind Kind) *stream.Stream[Field] {
	return stream.Map(src, func(snap types.Snapshot) Field {
		return p.observe(ExtractAs(snap, key, kind))
	})
}

// CombineWithSelector emits a field for every value of selectors. Values of
// data only replace the held snapshot. A selector that arrives before any
// data yields the empty field with ErrNoData. The result fails when either
// input fails and completes when both have completed. Cancelling it
// cancels both inputs.
func (p *Projector) CombineWithSelector(selectors *stream.Stream[Selector], data *stream.Stream[types.Snapshot]) *stream.Stream[Field] {
	return stream.WithLatestFrom(selectors, data, func(sel Selector, snap types.Snapshot, ok bool) Field {
		if !ok {
			return Empty(string(sel), ErrNoData)
		}
		return p.observe(Extract(snap, string(sel)))
	})
}

func (p *Projector) observe(f Field) Field {
	var mde *MalformedDataError
	if errors.As(f.Err, &mde) {
		metrics.MalformedFields.WithLabelValues(mde.Key).Inc()
		p.log.WithFields(logrus.Fields{
			logging.FieldPath: mde.Path.String(),
			"key":             mde.Key,
		}).Debug(mde.Reason)
	}
	return f
}
