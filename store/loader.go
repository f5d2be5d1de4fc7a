package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jacentio/cascader/internal/keys"
)

// triggerLoadLocked starts the fetch of a dynamic field's options for its
// current parent values, or joins the fetch already running for them.
// Fetches are shared through the store's singleflight group, keyed by field
// and parent values. With force set, a running fetch is superseded: its key
// is forgotten, a new generation starts and the old result is discarded.
//
// The returned channel yields once the result has been committed or
// discarded. It is nil when no load is needed: the field is static, every
// parent is empty, or the options for these parent values are already
// loaded and force is false.
func (s *Store) triggerLoadLocked(name string, force bool) <-chan singleflight.Result {
	if s.destroyed {
		return nil
	}
	cfg, ok := s.reg.Config(name)
	if !ok || !cfg.Options.IsDynamic() {
		return nil
	}

	parents := s.parentValuesLocked(name)
	if len(parents) > 0 && parents.IsEmpty() {
		if _, had := s.loaded[name]; had {
			delete(s.loaded, name)
			delete(s.loadedKey, name)
			s.version++
			s.markLocked(name)
		}
		return nil
	}

	key := keys.Load(name, parents)
	gen, running := s.inflight[key]
	if !running && !force && s.loadedKey[name] == key {
		return nil
	}
	if !running || force {
		// A call for key may still be finishing inside the group after its
		// generation was released; never join it.
		s.group.Forget(key)
		s.loadGen++
		gen = s.loadGen
		s.inflight[key] = gen
		s.loading[name]++
		s.markLocked(name)
	}
	return s.group.DoChan(key, s.loadFunc(cfg, parents, key, gen))
}

// loadFunc returns the singleflight function of one load generation: it
// fetches and then commits the result before the call is released, so every
// caller sharing it observes committed state.
func (s *Store) loadFunc(cfg FieldConfig, parents ParentValues, key string, gen uint64) func() (any, error) {
	return func() (any, error) {
		opts, err := s.fetch(cfg, parents)
		s.commitLoad(cfg.Name, key, gen, opts, err)
		return opts, err
	}
}

// fetch runs the field's LoadFunc. Panics are turned into errors.
func (s *Store) fetch(cfg FieldConfig, parents ParentValues) (opts []Option, err error) {
	defer func() {
		if r := recover(); r != nil {
			opts, err = nil, fmt.Errorf("%w: panic: %v", ErrLoadFailed, r)
		}
	}()

	ctx := s.ctx
	if s.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LoadTimeout)
		defer cancel()
	}

	opts, err = cfg.Options.load(ctx, parents)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, cfg.Name, err)
	}
	return slices.Clone(opts), nil
}

// commitLoad stores the result of generation gen for key unless the store
// was destroyed, a forced load superseded the generation, or the field's
// parents moved on.
func (s *Store) commitLoad(name, key string, gen uint64, opts []Option, err error) {
	s.mu.Lock()
	if s.loading[name]--; s.loading[name] <= 0 {
		delete(s.loading, name)
	}
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	if s.inflight[key] != gen {
		s.logger.Debug("discarding superseded option load", "field", name)
		s.markLocked(name)
		s.unlockAndFlush()
		return
	}
	delete(s.inflight, key)

	if current := keys.Load(name, s.parentValuesLocked(name)); current != key {
		s.logger.Debug("discarding stale option load", "field", name)
		// loading state changed
		s.markLocked(name)
		s.unlockAndFlush()
		return
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("option load failed", "field", name, "error", err)
		}
		opts = []Option{}
	} else if opts == nil {
		opts = []Option{}
	}

	s.loaded[name] = opts
	s.loadedKey[name] = key
	s.version++
	s.markLocked(name)
	s.unlockAndFlush()
}

// triggerChildLoadsLocked starts loads for the dynamic direct dependents of
// every field in changes.
func (s *Store) triggerChildLoadsLocked(changed []string) {
	seen := make(map[string]bool)
	for _, name := range changed {
		for _, child := range s.reg.children(name) {
			if seen[child] {
				continue
			}
			seen[child] = true
			s.triggerLoadLocked(child, false)
		}
	}
}

// IsLoading reports whether a fetch for the field is in flight.
func (s *Store) IsLoading(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[name] > 0
}

// Invalidate drops the loaded options and retractions of a field and, for
// dynamic fields, fetches its options again. A fetch already running for
// the same parent values is superseded and its result discarded.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	if s.destroyed || !s.reg.Has(name) {
		s.mu.Unlock()
		return
	}
	delete(s.loaded, name)
	delete(s.loadedKey, name)
	delete(s.retracted, name)
	s.version++
	s.markLocked(name)
	s.triggerLoadLocked(name, true)
	s.unlockAndFlush()
}

// Reload refetches the options of every dynamic field whose parents hold a
// value and waits until the results are committed. Fetches already running
// are superseded. At most Config.ReloadConcurrency fetches run at once. The
// first load error is returned; the failed field still ends up with an
// empty option list.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	var names []string
	for _, name := range s.reg.Names() {
		if cfg, _ := s.reg.Config(name); cfg.Options.IsDynamic() {
			names = append(names, name)
		}
	}
	limit := s.cfg.ReloadConcurrency
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		g.Go(func() error {
			s.mu.Lock()
			ch := s.triggerLoadLocked(name, true)
			s.unlockAndFlush()
			if ch == nil {
				return nil
			}
			select {
			case res := <-ch:
				return res.Err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
