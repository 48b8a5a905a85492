package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultReloadTimeout bounds a single source load.
const DefaultReloadTimeout = 30 * time.Second

// ReloadHook is notified after every reload attempt.
type ReloadHook func(source string, err error)

// StoreConfig collects dependencies for a Store.
type StoreConfig struct {
	Source        Source
	Logger        *slog.Logger
	Options       []ResolverOption
	OnReload      ReloadHook
	ReloadTimeout time.Duration
}

type snapshot struct {
	resolver *Resolver
	version  uint64
}

// Store publishes the current Resolver. Reloads replace the resolver and its
// version with a single atomic swap so readers never see a partially updated
// policy.
type Store struct {
	current       atomic.Pointer[snapshot]
	installMu     sync.Mutex
	source        Source
	logger        *slog.Logger
	options       []ResolverOption
	onReload      ReloadHook
	reloadTimeout time.Duration
	group         singleflight.Group
}

// NewStore builds a Store serving initial until the first reload.
func NewStore(initial Policy, cfg StoreConfig) *Store {
	s := &Store{
		source:        cfg.Source,
		logger:        cfg.Logger,
		options:       cfg.Options,
		onReload:      cfg.OnReload,
		reloadTimeout: cfg.ReloadTimeout,
	}
	if s.reloadTimeout <= 0 {
		s.reloadTimeout = DefaultReloadTimeout
	}
	s.current.Store(&snapshot{resolver: NewResolver(initial, s.options...), version: 1})
	return s
}

// Current returns the active resolver.
func (s *Store) Current() *Resolver {
	return s.current.Load().resolver
}

// Version returns the number of policies installed so far, starting at 1.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Snapshot returns the active resolver together with its version.
func (s *Store) Snapshot() (*Resolver, uint64) {
	snap := s.current.Load()
	return snap.resolver, snap.version
}

// IsAuthorized answers the query against the active resolver.
func (s *Store) IsAuthorized(role Role, perm Permission) bool {
	return s.Current().IsAuthorized(role, perm)
}

// Install validates policy and swaps it in. An invalid policy leaves the
// active resolver untouched.
func (s *Store) Install(policy Policy) (uint64, error) {
	if err := policy.Validate(); err != nil {
		return s.Version(), err
	}
	if missing := policy.MissingPermissions(); len(missing) > 0 && s.logger != nil {
		s.logger.Warn("rbac policy missing registered permissions", slog.Any("permissions", missing))
	}
	resolver := NewResolver(policy, s.options...)

	s.installMu.Lock()
	defer s.installMu.Unlock()
	next := &snapshot{resolver: resolver, version: s.current.Load().version + 1}
	s.current.Store(next)
	return next.version, nil
}

// Reload loads the policy from the configured source and installs it.
// Concurrent calls share a single load. The load is detached from the
// caller's cancellation so one caller giving up does not fail the others;
// each caller still stops waiting when its own ctx ends.
func (s *Store) Reload(ctx context.Context) (uint64, error) {
	if s.source == nil {
		return s.Version(), ErrNoSource
	}
	ch := s.group.DoChan("reload", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reloadTimeout)
		defer cancel()
		version, err := s.load(loadCtx)
		s.notify(version, err)
		return version, err
	})
	select {
	case <-ctx.Done():
		return s.Version(), ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return s.Version(), res.Err
		}
		return res.Val.(uint64), nil
	}
}

func (s *Store) load(ctx context.Context) (uint64, error) {
	policy, err := s.source.Load(ctx)
	if err != nil {
		return s.Version(), fmt.Errorf("rbac: load policy from %s: %w", s.source.Name(), err)
	}
	return s.Install(policy)
}

func (s *Store) notify(version uint64, err error) {
	if s.logger != nil {
		if err != nil {
			s.logger.Error("rbac policy reload", slog.String("source", s.source.Name()), slog.Any("error", err))
		} else {
			s.logger.Info("rbac policy reloaded", slog.String("source", s.source.Name()), slog.Uint64("version", version))
		}
	}
	if s.onReload != nil {
		s.onReload(s.source.Name(), err)
	}
}
