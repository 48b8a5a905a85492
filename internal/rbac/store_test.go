package rbac_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigflow/rigflow/internal/rbac"
)

type failingSource struct{ err error }

func (failingSource) Name() string { return "failing" }

func (s failingSource) Load(context.Context) (rbac.Policy, error) {
	return rbac.Policy{}, s.err
}

type blockingSource struct {
	release chan struct{}
	policy  rbac.Policy
}

func (*blockingSource) Name() string { return "blocking" }

func (s *blockingSource) Load(context.Context) (rbac.Policy, error) {
	<-s.release
	return s.policy, nil
}

// contextSource blocks until released and honours cancellation of the load
// context.
type contextSource struct {
	started chan struct{}
	release chan struct{}
	loads   atomic.Int32
	policy  rbac.Policy
}

func (*contextSource) Name() string { return "ctx" }

func (s *contextSource) Load(ctx context.Context) (rbac.Policy, error) {
	if s.loads.Add(1) == 1 {
		close(s.started)
	}
	select {
	case <-ctx.Done():
		return rbac.Policy{}, ctx.Err()
	case <-s.release:
		return s.policy, nil
	}
}

type reloadRecorder struct {
	mu     sync.Mutex
	events []error
}

func (r *reloadRecorder) hook(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, err)
}

func TestStoreReloadInstallsSourcePolicy(t *testing.T) {
	recorder := &reloadRecorder{}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{
		Source:   rbac.StaticSource{Policy: jobCompletePolicy()},
		OnReload: recorder.hook,
	})
	require.Equal(t, uint64(1), store.Version())
	require.True(t, store.IsAuthorized(rbac.RoleAdmin, rbac.PermUserManage))

	version, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
	assert.Equal(t, uint64(2), store.Version())
	assert.True(t, store.IsAuthorized(rbac.RoleExecutive, rbac.PermJobComplete))
	assert.False(t, store.IsAuthorized(rbac.RoleAdmin, rbac.PermUserManage))
	assert.Equal(t, []error{nil}, recorder.events)
}

func TestStoreInstallRejectsInvalidPolicy(t *testing.T) {
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})
	before := store.Current()

	cyclic := rbac.DefaultPolicy()
	cyclic.Hierarchy[rbac.RoleTechnician] = []rbac.Role{rbac.RoleExecutive}

	version, err := store.Install(cyclic)
	require.ErrorIs(t, err, rbac.ErrCyclicHierarchy)
	assert.Equal(t, uint64(1), version)
	assert.Same(t, before, store.Current())
	assert.False(t, store.IsAuthorized(rbac.RoleTechnician, rbac.PermUserManage))
}

func TestStoreReloadWithoutSource(t *testing.T) {
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})

	version, err := store.Reload(context.Background())
	assert.ErrorIs(t, err, rbac.ErrNoSource)
	assert.Equal(t, uint64(1), version)
}

func TestStoreReloadKeepsPolicyWhenSourceFails(t *testing.T) {
	boom := errors.New("boom")
	recorder := &reloadRecorder{}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{
		Source:   failingSource{err: boom},
		OnReload: recorder.hook,
	})
	before := store.Current()

	_, err := store.Reload(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
	assert.Same(t, before, store.Current())
	require.Len(t, recorder.events, 1)
	assert.ErrorIs(t, recorder.events[0], boom)
}

func TestStoreReloadHonoursContext(t *testing.T) {
	source := &blockingSource{release: make(chan struct{}), policy: jobCompletePolicy()}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{Source: source})
	t.Cleanup(func() { close(source.release) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	version, err := store.Reload(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), version)
}

func TestStoreSwapIsAtomicForReaders(t *testing.T) {
	grantAll := rbac.DefaultPolicy()
	denyAll := rbac.DefaultPolicy()
	denyAll.Grants[rbac.PermViewDashboard] = []rbac.Role{}
	denyAll.Grants[rbac.PermViewJobDetail] = []rbac.Role{}

	store := rbac.NewStore(grantAll, rbac.StoreConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				resolver := store.Current()
				dashboard := resolver.IsAuthorized(rbac.RoleVendor, rbac.PermViewDashboard)
				detail := resolver.IsAuthorized(rbac.RoleVendor, rbac.PermViewJobDetail)
				if dashboard != detail {
					t.Errorf("observed a partially applied policy")
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		policy := grantAll
		if i%2 == 0 {
			policy = denyAll
		}
		_, err := store.Install(policy)
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()

	assert.Equal(t, uint64(201), store.Version())
}

func TestStoreReloadSurvivesCancelledPeer(t *testing.T) {
	recorder := &reloadRecorder{}
	source := &contextSource{started: make(chan struct{}), release: make(chan struct{}), policy: jobCompletePolicy()}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{Source: source, OnReload: recorder.hook})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := store.Reload(ctxA)
		errA <- err
	}()
	<-source.started

	type result struct {
		version uint64
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		version, err := store.Reload(context.Background())
		resB <- result{version, err}
	}()
	// Give the second caller time to join the in-flight load.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(source.release)
	got := <-resB
	require.NoError(t, got.err)
	assert.Equal(t, uint64(2), got.version)
	assert.True(t, store.IsAuthorized(rbac.RoleExecutive, rbac.PermJobComplete))
	assert.Equal(t, int32(1), source.loads.Load())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, []error{nil}, recorder.events)
}

func TestStoreReloadTimesOut(t *testing.T) {
	source := &contextSource{started: make(chan struct{}), release: make(chan struct{})}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{Source: source, ReloadTimeout: 20 * time.Millisecond})

	version, err := store.Reload(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), version)
}

func TestStoreSharedReloadNotifiesOnce(t *testing.T) {
	recorder := &reloadRecorder{}
	source := &contextSource{started: make(chan struct{}), release: make(chan struct{}), policy: jobCompletePolicy()}
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{Source: source, OnReload: recorder.hook})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Reload(context.Background())
			assert.NoError(t, err)
		}()
	}
	<-source.started
	time.Sleep(50 * time.Millisecond)
	close(source.release)
	wg.Wait()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Len(t, recorder.events, int(source.loads.Load()))
}

func TestStoreConcurrentInstallKeepsVersionConsistent(t *testing.T) {
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})

	const installs = 50
	var wg sync.WaitGroup
	for i := 0; i < installs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Install(rbac.DefaultPolicy())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	resolver, version := store.Snapshot()
	assert.Equal(t, uint64(installs+1), version)
	assert.Same(t, resolver, store.Current())
	assert.Equal(t, version, store.Version())
}
