// Package relay forwards store snapshots to an AMQP exchange. Each watched
// path is published with a routing key derived from the path, so consumers
// can bind with topic patterns such as "doctorStats.*".
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/internal/metrics"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

// RootRoutingKey is the routing key of the root path.
const RootRoutingKey = "root"

// Message is the JSON body of a published snapshot.
type Message struct {
	Event    string         `json:"event"`
	Snapshot types.Snapshot `json:"snapshot"`
	At       time.Time      `json:"at"`
}

// RoutingKey maps a path to a topic routing key: "a/b" becomes "a.b".
func RoutingKey(p types.Path) string {
	if p.IsRoot() {
		return RootRoutingKey
	}
	return strings.Join(p.Segments(), ".")
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Relay) { r.log = log }
}

// Relay publishes the snapshots of watched paths.
type Relay struct {
	watcher *watch.Watcher
	pub     Publisher
	log     logrus.FieldLogger
	now     func() time.Time
}

// New returns a Relay publishing through pub.
func New(w *watch.Watcher, pub Publisher, opts ...Option) *Relay {
	r := &Relay{watcher: w, pub: pub, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.Component(r.log, logging.ComponentRelay)
	return r
}

// Run publishes every snapshot of class pushed for paths until ctx ends or
// a subscription or publish fails. Ending ctx is not an error.
func (r *Relay) Run(ctx context.Context, paths []types.Path, class types.EventClass) error {
	if len(paths) == 0 {
		return errors.New("relay: no paths")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			s := r.watcher.Subscribe(p, class)
			defer s.Cancel()
			r.log.WithField(logging.FieldPath, p.String()).Info("relaying")
			return s.ForEach(gctx, func(snap types.Snapshot) error {
				return r.publish(gctx, class, snap)
			})
		})
	}

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (r *Relay) publish(ctx context.Context, class types.EventClass, snap types.Snapshot) error {
	body, err := json.Marshal(Message{Event: class.String(), Snapshot: snap, At: r.now().UTC()})
	if err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("encode %s: %w", snap.Path(), err)
	}

	key := RoutingKey(snap.Path())
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    r.now(),
		Type:         class.String(),
		Body:         body,
	}
	if err := r.pub.Publish(ctx, key, msg); err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		r.log.WithError(err).WithField(logging.FieldPath, snap.Path().String()).Error("publish failed")
		return err
	}

	metrics.RelayPublished.WithLabelValues("ok").Inc()
	r.log.WithFields(logrus.Fields{
		logging.FieldPath: snap.Path().String(),
		"routing_key":     key,
		"message_id":      msg.MessageId,
	}).Debug("published")
	return nil
}
