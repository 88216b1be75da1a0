// Package cache keeps one folder Collection per principal and account and makes sure
// concurrent callers share a single build.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"mailfolders/internal/folder"
)

var ErrInterrupted = errors.New("interrupted while waiting for folder cache")

// Key identifies the collection of one account of a principal.
type Key struct {
	Principal string
	Account   int
}

func (k Key) String() string {
	return fmt.Sprintf("%v/%d", k.Principal, k.Account)
}

// Factory creates the unbuilt collection for key. The registry builds it.
type Factory func(ctx context.Context, key Key) (*folder.Collection, error)

type Registry struct {
	factory Factory
	log     *logrus.Entry

	group singleflight.Group

	mu      sync.RWMutex
	opts    folder.Options
	entries map[Key]*folder.Collection

	// Generations are bumped on drop so that builds started earlier are neither joined
	// nor stored.
	principalGen map[string]uint64
	keyGen       map[Key]uint64
}

func New(factory Factory, opts folder.Options) *Registry {
	return &Registry{
		factory:      factory,
		log:          logrus.WithField("pkg", "cache"),
		opts:         opts,
		entries:      make(map[Key]*folder.Collection),
		principalGen: make(map[string]uint64),
		keyGen:       make(map[Key]uint64),
	}
}

// Get returns the built collection for key, building it if needed. Concurrent callers for
// the same key wait for one shared build. A caller whose ctx ends while waiting gets
// ErrInterrupted; the build carries on and its result is kept for the next caller.
// Failed builds are not kept.
func (r *Registry) Get(ctx context.Context, key Key) (*folder.Collection, error) {
	if coll, ok := r.lookup(key); ok {
		return coll, nil
	}

	flight := r.flightKey(key)

	ch := r.group.DoChan(flight, func() (any, error) {
		return r.build(context.WithoutCancel(ctx), key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*folder.Collection), nil

	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v: %w", ErrInterrupted, key, ctx.Err())
	}
}

func (r *Registry) lookup(key Key) (*folder.Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coll, ok := r.entries[key]
	return coll, ok
}

func (r *Registry) flightKey(key Key) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("%v/%d/%d", key, r.principalGen[key.Principal], r.keyGen[key])
}

func (r *Registry) generation(key Key) (uint64, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.principalGen[key.Principal], r.keyGen[key]
}

func (r *Registry) build(ctx context.Context, key Key) (*folder.Collection, error) {
	// A previous flight may have stored the collection after this caller looked.
	if coll, ok := r.lookup(key); ok {
		return coll, nil
	}

	pgen, kgen := r.generation(key)
	log := r.log.WithField("principal", key.Principal).WithField("account", key.Account)

	coll, err := r.factory(ctx, key)
	if err != nil {
		log.WithError(err).Error("Failed to create folder cache")
		return nil, fmt.Errorf("create folder cache %v: %w", key, err)
	}

	coll.SetOptions(r.Options())

	if err := coll.Build(ctx); err != nil {
		log.WithError(err).Error("Failed to build folder cache")
		return nil, fmt.Errorf("build folder cache %v: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.principalGen[key.Principal] != pgen || r.keyGen[key] != kgen {
		log.Debug("Folder cache dropped during build, not keeping it")
		return coll, nil
	}

	// Options may have been reloaded while building.
	coll.SetOptions(r.opts)
	r.entries[key] = coll
	return coll, nil
}

// Drop forgets every collection of principal.
func (r *Registry) Drop(principal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if key.Principal == principal {
			delete(r.entries, key)
		}
	}

	r.principalGen[principal]++

	r.log.WithField("principal", principal).Debug("Dropped folder caches")
}

// DropAccount forgets the collection of one account of principal.
func (r *Registry) DropAccount(principal string, account int) {
	key := Key{Principal: principal, Account: account}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	r.keyGen[key]++

	r.log.WithField("principal", principal).WithField("account", account).Debug("Dropped folder cache")
}

// Invalidate deprecates the collections of principal so that their next use rebuilds them.
// With no accounts given, every account of principal is affected.
func (r *Registry) Invalidate(principal string, accounts ...int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, coll := range r.entries {
		if key.Principal != principal {
			continue
		}

		if len(accounts) == 0 || slices.Contains(accounts, key.Account) {
			coll.Invalidate(false)
		}
	}
}

// Reload applies new tuning options to every cached collection and to those built later.
func (r *Registry) Reload(opts folder.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = opts

	for _, coll := range r.entries {
		coll.SetOptions(opts)
	}

	r.log.WithField("ttl", opts.EffectiveTTL()).Debug("Reloaded folder cache options")
}

func (r *Registry) Options() folder.Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Keys returns the keys of the cached collections.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Keys(r.entries)
}
