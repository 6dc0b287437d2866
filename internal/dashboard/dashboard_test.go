package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/livedb/internal/memory"
	"github.com/mesh-intelligence/livedb/pkg/projection"
	"github.com/mesh-intelligence/livedb/pkg/stream"
	"github.com/mesh-intelligence/livedb/pkg/types"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func seededStore(t *testing.T, profile map[string]any) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendMemory}))
	t.Cleanup(func() { _ = store.Detach() })

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, types.MustParsePath("doctorProfiles/7"), profile))
	require.NoError(t, store.Set(ctx, types.MustParsePath("doctorStats/7"), map[string]any{
		"dayAmountEarned":   10,
		"monthAmountEarned": 300,
		"yearAmountEarned":  3600,
	}))
	return store
}

// settle waits until store has run every listener callback queued so far.
// Callbacks are dispatched in order, so a new single listener's first event
// arrives after all of them.
func settle(t *testing.T, store *memory.Store) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, store.AddSingleListener(types.Root(), types.ValueChanged, func(types.Snapshot) { close(done) }, nil))
	select {
	case <-done:
	case <-testContext(t).Done():
		t.Fatal("store callbacks did not drain")
	}
}

func earned(t *testing.T, d *Dashboard, period projection.Selector, want string) {
	t.Helper()
	require.NoError(t, d.Select(period))
	f, err := d.Earned.Recv(testContext(t))
	require.NoError(t, err)
	require.NoError(t, f.Err)
	assert.Equal(t, want, f.String())
}

func TestDashboardFields(t *testing.T) {
	store := seededStore(t, map[string]any{"name": "Ana", "speciality": "Cardiology"})
	d, err := New(watch.New(store), "7")
	require.NoError(t, err)
	defer d.Close()

	ctx := testContext(t)
	name, err := d.Name.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana", name.String())

	speciality, err := d.Speciality.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", speciality.String())

	settle(t, store)
	earned(t, d, Day, "10")
	earned(t, d, Month, "300")
	earned(t, d, Year, "3600")
}

func TestDashboardStatsUpdateWaitsForSelect(t *testing.T) {
	store := seededStore(t, map[string]any{"name": "Ana"})
	d, err := New(watch.New(store), "7")
	require.NoError(t, err)
	defer d.Close()

	settle(t, store)
	earned(t, d, Month, "300")
	require.NoError(t, store.Update(context.Background(), types.MustParsePath("doctorStats/7"), map[string]any{"monthAmountEarned": 450}))
	settle(t, store)
	earned(t, d, Month, "450")
	earned(t, d, Day, "10")
}

func TestDashboardMissingSpeciality(t *testing.T) {
	store := seededStore(t, map[string]any{"name": "Ana"})
	d, err := New(watch.New(store), "7")
	require.NoError(t, err)
	defer d.Close()

	speciality, err := d.Speciality.Recv(testContext(t))
	require.NoError(t, err)
	assert.True(t, speciality.IsEmpty())
	assert.Equal(t, "", speciality.String())
}

func TestDashboardCloseReleasesListeners(t *testing.T) {
	store := seededStore(t, map[string]any{"name": "Ana"})
	d, err := New(watch.New(store), "7")
	require.NoError(t, err)
	assert.Equal(t, 3, store.Listeners())

	d.Close()
	d.Close()
	assert.Equal(t, 0, store.Listeners())
	assert.ErrorIs(t, d.Select(Day), ErrClosed)
	assert.ErrorIs(t, d.Earned.Err(), stream.ErrCancelled)
}

func TestDashboardWatch(t *testing.T) {
	store := seededStore(t, map[string]any{"name": "Ana", "speciality": "Cardiology"})
	d, err := New(watch.New(store), "7")
	require.NoError(t, err)

	views := make(chan View, 16)
	done := make(chan error, 1)
	go func() { done <- d.Watch(context.Background(), func(v View) { views <- v }) }()

	ctx := testContext(t)
	for {
		select {
		case v := <-views:
			if v.Name.String() == "Ana" && v.Speciality.String() == "Cardiology" {
				d.Close()
				require.NoError(t, <-done)
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for the profile")
		}
	}
}

func TestNewInvalidDoctor(t *testing.T) {
	store := seededStore(t, map[string]any{"name": "Ana"})
	_, err := New(watch.New(store), "a/b")
	assert.ErrorIs(t, err, types.ErrInvalidKey)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want projection.Selector
	}{
		{"day", Day},
		{"month", Month},
		{"year", Year},
		{"yearAmountEarned", Year},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParsePeriod("week")
	assert.ErrorIs(t, err, ErrUnknownPeriod)
	assert.ErrorIs(t, (&Dashboard{}).Select("week"), ErrUnknownPeriod)
}
