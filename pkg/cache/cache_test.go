package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

type sample struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", sample{Name: "a", Items: []string{"x"}}, time.Minute))
	assert.True(t, mr.Exists("test:k"))

	var got sample
	require.NoError(t, store.Get(ctx, "k", &got))
	assert.Equal(t, sample{Name: "a", Items: []string{"x"}}, got)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, store.Get(ctx, "k", &got), core.ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "d", 1, 0))
	require.NoError(t, store.Delete(ctx, "d"))
	var n int
	assert.ErrorIs(t, store.Get(ctx, "d", &n), core.ErrCacheMiss)
}

func TestNewRedisStoreErrors(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url://", "")
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisStore(context.Background(), "redis://"+addr, "")
	assert.ErrorIs(t, err, core.ErrConnectionFailed)
}

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", sample{Name: "a"}, time.Minute))
	var got sample
	require.NoError(t, store.Get(ctx, "k", &got))
	assert.Equal(t, "a", got.Name)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, store.Get(ctx, "k", &got), core.ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k", sample{Name: "b"}, 0))
	require.NoError(t, store.Delete(ctx, "k"))
	assert.ErrorIs(t, store.Get(ctx, "k", &got), core.ErrCacheMiss)
}

func TestInMemoryStoreConcurrent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Set(ctx, "k", i, time.Minute)
			var v int
			_ = store.Get(ctx, "k", &v)
		}(i)
	}
	wg.Wait()
}

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) DisabledAPIs(ctx context.Context, token string, projects, requiredAPIs []string) (metrics.DisabledAPIs, error) {
	args := m.Called(ctx, token, projects, requiredAPIs)
	return args.Get(0).(metrics.DisabledAPIs), args.Error(1)
}

func TestCachedDisabledAPIs(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	required := []string{"compute.googleapis.com"}

	lookup := &mockLookup{}
	lookup.On("DisabledAPIs", mock.Anything, "tok", []string{"p1", "p2", "p3"}, required).Return(metrics.DisabledAPIs{
		FullyDisabled: []string{"p2"},
		ByProject: map[string]metrics.APISet{
			"p1": {},
			"p2": metrics.NewAPISet("monitoring.googleapis.com"),
			"p3": {},
		},
		Unchecked: []string{"p3"},
	}, nil).Once()
	lookup.On("DisabledAPIs", mock.Anything, "tok", []string{"p3", "p4"}, required).Return(metrics.DisabledAPIs{
		ByProject: map[string]metrics.APISet{
			"p3": metrics.NewAPISet("compute.googleapis.com"),
			"p4": {},
		},
	}, nil).Once()

	cached := NewCachedDisabledAPIs(lookup, store, time.Minute, nil)

	first, err := cached.DisabledAPIs(ctx, "tok", []string{"p1", "p2", "p3"}, required)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, first.FullyDisabled)
	assert.Equal(t, []string{"p3"}, first.Unchecked)
	assert.True(t, first.For("p2").Has("monitoring.googleapis.com"))

	// p1 and p2 come from the cache, the failed p3 is looked up again.
	second, err := cached.DisabledAPIs(ctx, "tok", []string{"p1", "p2", "p3", "p4"}, required)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, second.FullyDisabled)
	assert.True(t, second.For("p3").Has("compute.googleapis.com"))
	assert.Empty(t, second.For("p4"))

	lookup.AssertExpectations(t)
}

func TestCachedDisabledAPIsRequiredChange(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	lookup := &mockLookup{}
	lookup.On("DisabledAPIs", mock.Anything, "tok", []string{"p1"}, mock.Anything).Return(metrics.DisabledAPIs{
		ByProject: map[string]metrics.APISet{"p1": {}},
	}, nil).Twice()

	cached := NewCachedDisabledAPIs(lookup, store, time.Minute, nil)
	_, err := cached.DisabledAPIs(ctx, "tok", []string{"p1"}, []string{"a.googleapis.com"})
	require.NoError(t, err)
	_, err = cached.DisabledAPIs(ctx, "tok", []string{"p1"}, []string{"b.googleapis.com"})
	require.NoError(t, err)

	lookup.AssertNumberOfCalls(t, "DisabledAPIs", 2)
}

func TestCachedDisabledAPIsLookupError(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("DisabledAPIs", mock.Anything, "tok", mock.Anything, mock.Anything).
		Return(metrics.DisabledAPIs{}, core.ErrTokenUnavailable)

	cached := NewCachedDisabledAPIs(lookup, NewInMemoryStore(), time.Minute, nil)
	_, err := cached.DisabledAPIs(context.Background(), "tok", []string{"p1"}, nil)
	assert.ErrorIs(t, err, core.ErrTokenUnavailable)
}
