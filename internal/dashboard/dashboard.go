// Package dashboard is the view model of the doctor earnings screen: the
// doctor's name and speciality, and the amount earned in a selectable
// period.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/livedb/internal/logging"
	"github.com/mesh-intelligence/livedb/pkg/projection"
	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

// Store locations.
const (
	ProfilesRoot = "doctorProfiles"
	StatsRoot    = "doctorStats"
)

// Period selectors, the field names under doctorStats/<id>.
const (
	Day   projection.Selector = "dayAmountEarned"
	Month projection.Selector = "monthAmountEarned"
	Year  projection.Selector = "yearAmountEarned"
)

// Profile fields.
const (
	NameField       = "name"
	SpecialityField = "speciality"
)

// Errors returned by the dashboard.
var (
	ErrClosed        = errors.New("dashboard closed")
	ErrUnknownPeriod = errors.New("unknown period")
)

// ParsePeriod accepts "day", "month", "year" or a full field name.
func ParsePeriod(s string) (projection.Selector, error) {
	switch s {
	case "day", string(Day):
		return Day, nil
	case "month", string(Month):
		return Month, nil
	case "year", string(Year):
		return Year, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Dashboard) { d.log = log }
}

// Dashboard owns the streams of one doctor's screen. Close releases all of
// them.
type Dashboard struct {
	// Name and Speciality follow doctorProfiles/<id>.
	Name       *stream.Stream[projection.Field]
	Speciality *stream.Stream[projection.Field]
	// Earned emits one field per Select, read from the latest
	// doctorStats/<id> snapshot.
	Earned *stream.Stream[projection.Field]

	period *stream.Subject[projection.Selector]
	log    logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// New subscribes to the profile and stats of doctorID.
func New(w *watch.Watcher, doctorID string, opts ...Option) (*Dashboard, error) {
	profile, err := types.NewPath(ProfilesRoot, doctorID)
	if err != nil {
		return nil, fmt.Errorf("doctor %q: %w", doctorID, err)
	}
	stats, err := types.NewPath(StatsRoot, doctorID)
	if err != nil {
		return nil, fmt.Errorf("doctor %q: %w", doctorID, err)
	}

	d := &Dashboard{period: stream.NewSubject[projection.Selector]()}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.Component(d.log, logging.ComponentDashboard).WithField("doctor", doctorID)
	p := projection.New(projection.WithLogger(d.log))

	d.Name = p.ProjectFieldAs(w.Subscribe(profile, types.ValueChanged), NameField, projection.KindString)
	d.Speciality = p.ProjectFieldAs(w.Subscribe(profile, types.ValueChanged), SpecialityField, projection.KindString)
	d.Earned = p.CombineWithSelector(d.period.Stream(), w.Subscribe(stats, types.ValueChanged))
	return d, nil
}

// Select asks for the amount earned in period. It returns once Earned has
// taken the selection, so a consumer must be reading Earned.
func (d *Dashboard) Select(period projection.Selector) error {
	if _, err := ParsePeriod(string(period)); err != nil {
		return err
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	d.log.WithField("period", string(period)).Debug("select")
	d.period.Publish(period)
	return nil
}

// Close cancels every stream of the dashboard. Idempotent.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.Earned.Cancel()
	d.period.Complete()
	d.Name.Cancel()
	d.Speciality.Cancel()
}

// View is the rendered state of the screen.
type View struct {
	Name       projection.Field
	Speciality projection.Field
	Earned     projection.Field
}

// Watch calls fn with the whole view whenever one of its fields changes,
// until ctx ends or a stream fails. Cancellation by Close is not an error.
func (d *Dashboard) Watch(ctx context.Context, fn func(View)) error {
	var v View
	streams := []*stream.Stream[projection.Field]{d.Name, d.Speciality, d.Earned}
	slots := []*projection.Field{&v.Name, &v.Speciality, &v.Earned}
	chans := make([]<-chan projection.Field, len(streams))
	for i, s := range streams {
		chans[i] = s.C()
	}

	for open := len(chans); open > 0; {
		var (
			f  projection.Field
			ok bool
			i  int
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok = <-chans[0]:
			i = 0
		case f, ok = <-chans[1]:
			i = 1
		case f, ok = <-chans[2]:
			i = 2
		}
		if !ok {
			chans[i] = nil
			open--
			if err := streams[i].Err(); err != nil && !errors.Is(err, stream.ErrCancelled) {
				return err
			}
			continue
		}
		*slots[i] = f
		fn(v)
	}
	return nil
}
