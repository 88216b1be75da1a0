package folder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"mailfolders/internal/listing"
)

// Collection caches the folder listings of one account.
//
// Readers that accept a possibly stale view load the published snapshot without locking.
// Builds and point updates run under mu, work on a private copy and publish it whole, so a
// reader never sees a node linked on one side only.
type Collection struct {
	dialer   Dialer
	resolver NamespaceResolver
	log      *logrus.Entry
	now      func() time.Time

	opts atomic.Pointer[Options]

	mu    sync.Mutex
	snap  atomic.Pointer[snapshot]
	state atomic.Int32
	epoch atomic.Uint64
}

// New returns a collection that has not been built yet. The resolver may be nil when the
// account has no namespaces.
func New(dialer Dialer, resolver NamespaceResolver, opts Options) *Collection {
	c := &Collection{
		dialer:   dialer,
		resolver: resolver,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		now:      time.Now,
	}

	c.opts.Store(&opts)
	c.snap.Store(emptySnapshot())
	c.state.Store(int32(Deprecated))
	return c
}

// WithLogger sets the logger used for build diagnostics.
func (c *Collection) WithLogger(log *logrus.Entry) *Collection {
	c.log = log
	return c
}

// SetClock replaces the time source. It must be called before the collection is shared.
func (c *Collection) SetClock(now func() time.Time) {
	c.now = now
}

// SetOptions replaces the tuning options; the new TTL applies to the next freshness check.
func (c *Collection) SetOptions(opts Options) {
	c.opts.Store(&opts)
}

func (c *Collection) Options() Options {
	return *c.opts.Load()
}

func (c *Collection) State() State {
	return State(c.state.Load())
}

// Stamp returns when the published listings were built.
func (c *Collection) Stamp() time.Time {
	return c.snap.Load().stamp
}

// Invalidate marks the collection deprecated so the next access rebuilds it. With forceNew
// the rebuild will not reuse a handle bound to an open mailbox.
func (c *Collection) Invalidate(forceNew bool) {
	c.epoch.Add(1)

	if forceNew {
		c.state.Store(int32(DeprecatedForceNew))
	} else {
		c.state.CompareAndSwap(int32(Initialized), int32(Deprecated))
	}
}

// Build rebuilds both listings from the server.
func (c *Collection) Build(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.build(ctx)
}

// build must be called with mu held.
func (c *Collection) build(ctx context.Context) error {
	epoch := c.epoch.Load()
	state := c.State()

	ns, err := c.namespaces(ctx)
	if err != nil {
		return err
	}

	conn, release, err := c.acquire(ctx, state == DeprecatedForceNew)
	if err != nil {
		return err
	}
	defer release()

	b := &builder{conn: conn, ns: ns, opts: c.Options(), log: c.log}

	snap, err := b.run()
	if err != nil {
		return err
	}

	snap.stamp = c.now()
	c.snap.Store(snap)

	// An invalidation that arrived during the build still applies.
	if c.epoch.Load() == epoch {
		c.state.Store(int32(Initialized))
	}

	c.log.WithFields(logrus.Fields{
		"existing":   len(snap.existence) - 1,
		"subscribed": len(snap.subscribed) - 1,
	}).Debug("Folder cache built")
	return nil
}

func (c *Collection) namespaces(ctx context.Context) (Namespaces, error) {
	if c.resolver == nil {
		return Namespaces{}, nil
	}

	ns, err := c.resolver.Namespaces(ctx, true)
	if err != nil {
		return Namespaces{}, fmt.Errorf("resolve namespaces: %w", err)
	}

	return ns, nil
}

// acquire returns a handle. When a stateless handle is needed and the provider handed back
// one bound to an open mailbox, it is swapped for a fresh one.
func (c *Collection) acquire(ctx context.Context, stateless bool) (Conn, func(), error) {
	conn, release, err := c.dialer.Acquire(ctx, false)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire handle: %w", err)
	}

	if !stateless || !conn.Selected() {
		return conn, release, nil
	}

	release()

	if conn, release, err = c.dialer.Acquire(ctx, true); err != nil {
		return nil, nil, fmt.Errorf("acquire fresh handle: %w", err)
	}

	if conn.Selected() {
		release()
		return nil, nil, ErrStatefulHandle
	}

	return conn, release, nil
}

// fresh returns the published snapshot if it is initialized and younger than the TTL.
func (c *Collection) fresh() (*snapshot, bool) {
	snap := c.snap.Load()
	if c.State() != Initialized {
		return snap, false
	}

	return snap, c.now().Sub(snap.stamp) <= c.Options().EffectiveTTL()
}

// current returns a fresh snapshot, building one if needed. It must be called with mu held.
func (c *Collection) current(ctx context.Context) (*snapshot, error) {
	if snap, ok := c.fresh(); ok {
		return snap, nil
	}

	if err := c.build(ctx); err != nil {
		return nil, err
	}

	return c.snap.Load(), nil
}

// Lookup returns the existence entry of name. With need set, a cached entry is only trusted
// if it is selectable, a namespace root or known to have children; otherwise the listings
// are rebuilt once before answering. Unknown names yield the empty folder.
func (c *Collection) Lookup(ctx context.Context, name string, need bool) (Folder, error) {
	return c.lookup(ctx, name, existenceOf, need)
}

func (c *Collection) LookupExistence(ctx context.Context, name string) (Folder, error) {
	return c.lookup(ctx, name, existenceOf, false)
}

func (c *Collection) LookupSubscribed(ctx context.Context, name string) (Folder, error) {
	return c.lookup(ctx, name, subscribedOf, false)
}

// LookupBoth returns the existence and subscription entries of name.
func (c *Collection) LookupBoth(ctx context.Context, name string) (Folder, Folder, error) {
	exist, err := c.lookup(ctx, name, existenceOf, false)
	if err != nil {
		return Empty(name), Empty(name), err
	}

	sub, err := c.lookup(ctx, name, subscribedOf, false)
	if err != nil {
		return Empty(name), Empty(name), err
	}

	return exist, sub, nil
}

func existenceOf(s *snapshot) tree  { return s.existence }
func subscribedOf(s *snapshot) tree { return s.subscribed }

func (c *Collection) lookup(ctx context.Context, name string, pick func(*snapshot) tree, need bool) (Folder, error) {
	if snap, ok := c.fresh(); ok {
		if f, ok := pick(snap).get(name); ok && (!need || f.usable()) {
			return f, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.current(ctx)
	if err != nil {
		return Empty(name), err
	}

	f, ok := pick(snap).get(name)
	if !ok {
		return Empty(name), nil
	}

	if need && !f.usable() {
		// Re-syncs the whole tree rather than just name.
		if err := c.build(ctx); err != nil {
			return Empty(name), err
		}

		if f, ok = pick(c.snap.Load()).get(name); !ok {
			return Empty(name), nil
		}
	}

	return f, nil
}

// SpecialUse returns the folders tagged with the role, sorted by name.
func (c *Collection) SpecialUse(ctx context.Context, use listing.SpecialUse) ([]Folder, error) {
	snap, ok := c.fresh()
	if !ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		var err error
		if snap, err = c.current(ctx); err != nil {
			return nil, err
		}
	}

	names := maps.Keys(snap.special[use])
	sort.Strings(names)
	return xslices.Map(names, func(name string) Folder {
		if f, ok := snap.existence.get(name); ok {
			return f
		}

		return Folder{Entry: snap.special[use][name], Kind: Confirmed}
	}), nil
}

func (c *Collection) checkState() error {
	if state := c.State(); state != Initialized {
		return fmt.Errorf("%w (%v)", ErrDeprecated, state)
	}

	return nil
}

// Get returns the cached existence entry without touching the server.
func (c *Collection) Get(name string) (Folder, bool, error) {
	if err := c.checkState(); err != nil {
		return Folder{}, false, err
	}

	f, ok := c.GetIgnoreDeprecated(name)
	return f, ok, nil
}

// GetIgnoreDeprecated is Get for callers that accept stale data.
func (c *Collection) GetIgnoreDeprecated(name string) (Folder, bool) {
	return c.snap.Load().existence.get(name)
}

// GetSubscribed returns the cached subscription entry without touching the server.
func (c *Collection) GetSubscribed(name string) (Folder, bool, error) {
	if err := c.checkState(); err != nil {
		return Folder{}, false, err
	}

	f, ok := c.snap.Load().subscribed.get(name)
	return f, ok, nil
}

// Subtree returns name and its descendants from the existence listing, depth first. The
// empty name yields the whole tree.
func (c *Collection) Subtree(name string) ([]Folder, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}

	return c.SubtreeIgnoreDeprecated(name), nil
}

func (c *Collection) SubtreeIgnoreDeprecated(name string) []Folder {
	return c.snap.Load().existence.subtree(name)
}

// SubscribedSubtree is Subtree over the subscription listing.
func (c *Collection) SubscribedSubtree(name string) ([]Folder, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}

	return c.snap.Load().subscribed.subtree(name), nil
}

// Children returns the direct children of name in the existence listing.
func (c *Collection) Children(name string) ([]Folder, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}

	snap := c.snap.Load()

	n, ok := snap.existence[name]
	if !ok {
		return nil, nil
	}

	return xslices.Map(n.children, func(child string) Folder {
		f, _ := snap.existence.get(child)
		return f
	}), nil
}

// Names returns every folder name of the existence listing, sorted.
func (c *Collection) Names() ([]string, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}

	return c.snap.Load().existence.names(), nil
}

// MboxFormat reports whether the server stores folders mbox style, as far as it is known.
func (c *Collection) MboxFormat() MboxFormat {
	return c.snap.Load().mbox
}

// Namespaces returns the namespace prefixes the collection was built with.
func (c *Collection) Namespaces() Namespaces {
	return c.snap.Load().namespaces
}

// Separator returns the hierarchy separator of the root.
func (c *Collection) Separator() rune {
	return c.snap.Load().existence.root().entry.Separator
}

// update runs fn on a copy of the published snapshot and publishes the result. It must be
// called with mu held.
func (c *Collection) update(fn func(*snapshot) error) error {
	snap := c.snap.Load().clone()
	if err := fn(snap); err != nil {
		return err
	}

	c.snap.Store(snap)
	return nil
}

// Remove drops name and everything below it from both listings.
func (c *Collection) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.update(func(snap *snapshot) error {
		removed := snap.existence.removeSubtree(name)
		snap.subscribed.removeSubtree(name)
		unindexSpecialUse(snap, removed...)
		return nil
	})
}

// AddOrRefresh asks the server for name alone and splices the answer into both listings,
// keeping any children the old node had. Missing ancestors are asked for as well.
func (c *Collection) AddOrRefresh(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx, name)
}

// Subscribe sets or clears the subscription of name on the server and refreshes it.
func (c *Collection) Subscribe(ctx context.Context, name string, subscribed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, release, err := c.acquire(ctx, false)
	if err != nil {
		return err
	}

	err = conn.SetSubscribed(name, subscribed)
	release()

	if err != nil {
		return fmt.Errorf("set subscription of %q: %w", name, err)
	}

	return c.refresh(ctx, name)
}

// refresh must be called with mu held. The synthetic root is never refreshed.
func (c *Collection) refresh(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	conn, release, err := c.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	b := &builder{conn: conn, ns: c.Namespaces(), opts: c.Options(), log: c.log}

	return c.update(func(snap *snapshot) error {
		return b.refresh(snap, name)
	})
}
