package folder

import (
	"fmt"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"mailfolders/internal/listing"
)

// snapshot is an immutable view of both listings. Mutations clone it and publish the copy.
type snapshot struct {
	existence  tree
	subscribed tree
	special    map[listing.SpecialUse]map[string]listing.Entry
	namespaces Namespaces
	mbox       MboxFormat
	stamp      time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		existence:  newTree(listing.Root(0)),
		subscribed: newTree(listing.Root(0)),
		special:    newSpecialIndex(),
	}
}

func (s *snapshot) clone() *snapshot {
	c := *s
	c.existence = s.existence.clone()
	c.subscribed = s.subscribed.clone()
	c.special = newSpecialIndex()

	for use, idx := range s.special {
		c.special[use] = maps.Clone(idx)
	}

	return &c
}

func newSpecialIndex() map[listing.SpecialUse]map[string]listing.Entry {
	idx := make(map[listing.SpecialUse]map[string]listing.Entry, len(listing.SpecialUses))
	for _, use := range listing.SpecialUses {
		idx[use] = make(map[string]listing.Entry)
	}

	return idx
}

// builder runs the remote dialogue of one build or point update.
type builder struct {
	conn Conn
	ns   Namespaces
	opts Options
	log  *logrus.Entry
}

// run performs a full build and returns the new snapshot. Nothing is published on error.
func (b *builder) run() (*snapshot, error) {
	sep, err := b.rootSeparator()
	if err != nil {
		return nil, err
	}

	var subEntries []listing.Entry

	if !b.opts.IgnoreSubscriptions {
		if subEntries, err = b.list(b.conn.ListSubscribed, "list subscribed", "*"); err != nil {
			return nil, err
		}
	}

	existEntries, err := b.list(b.conn.ListExisting, "list existing", "*")
	if err != nil {
		return nil, err
	}

	if sep == 0 {
		if idx := slices.IndexFunc(existEntries, func(e listing.Entry) bool { return e.Separator != 0 }); idx >= 0 {
			sep = existEntries[idx].Separator
		}
	}

	special, err := b.specialUse("*")
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		existence:  newTree(listing.Root(sep)),
		subscribed: newTree(listing.Root(sep)),
		special:    newSpecialIndex(),
		namespaces: b.ns,
		mbox:       mboxFormat(existEntries),
	}

	snap.existence.link(existEntries, Confirmed, dummyEntry)
	b.linkNamespaces(snap.existence, sep)

	if b.opts.IgnoreSubscriptions {
		snap.subscribed = snap.existence.clone()
	} else {
		snap.subscribed.link(subEntries, Confirmed, dummyEntry)
		b.reconcile(snap)
	}

	annotateSubscriptions(snap, b.opts.IgnoreSubscriptions)

	for _, entry := range special {
		indexSpecialUse(snap, entry)
	}

	return snap, nil
}

// rootSeparator asks for the synthetic root. Some servers only answer after an LSUB probe.
func (b *builder) rootSeparator() (rune, error) {
	roots, err := b.list(b.conn.ListExisting, "list root", "")
	if err != nil {
		return 0, err
	}

	if len(roots) == 0 {
		if _, err := b.conn.ListSubscribed("", ""); err != nil {
			return 0, fmt.Errorf("probe subscriptions: %w", err)
		}

		if roots, err = b.list(b.conn.ListExisting, "list root", ""); err != nil {
			return 0, err
		}
	}

	if len(roots) == 0 {
		return 0, nil
	}

	return roots[0].Separator, nil
}

func (b *builder) list(query func(ref, pattern string) ([]listing.Response, error), what, pattern string) ([]listing.Entry, error) {
	resps, err := query("", pattern)
	if err != nil {
		return nil, fmt.Errorf("%v %q: %w", what, pattern, err)
	}

	entries, err := listing.ParseAll(resps)
	if err != nil {
		return nil, fmt.Errorf("%v %q: %w", what, pattern, err)
	}

	return entries, nil
}

// specialUse returns the special-use tagged folders matching pattern, or nothing if the
// server does not support SPECIAL-USE.
func (b *builder) specialUse(pattern string) ([]listing.Entry, error) {
	ok, err := b.conn.SupportsSpecialUse()
	if err != nil {
		return nil, fmt.Errorf("check special-use support: %w", err)
	}

	if !ok {
		return nil, nil
	}

	resps, err := b.conn.ListSpecialUse("", pattern)
	if err != nil {
		return nil, fmt.Errorf("list special-use %q: %w", pattern, err)
	}

	entries, err := listing.ParseAll(resps, listing.SpecialUseAttrs()...)
	if err != nil {
		return nil, fmt.Errorf("list special-use %q: %w", pattern, err)
	}

	return entries, nil
}

// linkNamespaces makes sure every namespace root is in the tree as a non-selectable
// container, keeping the attributes of roots the server reported.
func (b *builder) linkNamespaces(t tree, sep rune) {
	for _, root := range b.ns.Roots(sep) {
		if n, ok := t[root]; ok {
			n.entry = asNamespace(n.entry)
			continue
		}

		t.link([]listing.Entry{namespaceDummyEntry(root, sep)}, Placeholder, namespaceDummyEntry)
	}
}

// reconcile checks every subscription against the existence listing. Subscriptions below a
// namespace are probed on the server and either linked into the existence tree or cleared.
// Personal subscriptions without a folder are dropped.
func (b *builder) reconcile(snap *snapshot) {
	for _, name := range snap.subscribed.names() {
		n, ok := snap.subscribed[name]
		if !ok || n.kind != Confirmed {
			continue
		}

		if n, ok := snap.existence[name]; ok && n.kind == Confirmed {
			continue
		}

		if b.ns.Covers(name, n.entry.Separator) {
			if entry, ok := b.probe(name); ok {
				entry.Namespace = true
				snap.existence.replace(entry, Confirmed, namespaceDummyEntry)

				continue
			}

			if err := b.conn.SetSubscribed(name, false); err != nil {
				b.log.WithError(err).WithField("folder", name).Warn("Failed to clear subscription of missing folder")
			}
		}

		b.log.WithField("folder", name).Debug("Dropping subscription of missing folder")

		forget(snap.subscribed, name)
	}
}

// probe asks the server whether a folder exists. Failures count as absence.
func (b *builder) probe(name string) (listing.Entry, bool) {
	entries, err := b.list(b.conn.ListExisting, "probe", name)
	if err != nil {
		b.log.WithError(err).WithField("folder", name).Warn("Namespace folder probe failed")
		return listing.Entry{}, false
	}

	return find(entries, name)
}

func find(entries []listing.Entry, name string) (listing.Entry, bool) {
	idx := slices.IndexFunc(entries, func(e listing.Entry) bool { return e.FullName == name })
	if idx < 0 {
		return listing.Entry{}, false
	}

	return entries[idx], true
}

// forget removes name from a listing. A node that still has descendants stays behind as a
// placeholder; placeholders left without children are pruned, namespace roots are kept.
func forget(t tree, name string) {
	n, ok := t[name]
	if !ok {
		return
	}

	if len(n.children) > 0 {
		n.entry = dummyEntry(name, n.entry.Separator)
		n.kind = Placeholder
		return
	}

	parent := n.parent
	t.removeSubtree(name)

	for parent != "" {
		p, ok := t[parent]
		if !ok || p.kind != Placeholder || p.entry.Namespace || len(p.children) > 0 {
			return
		}

		next := p.parent
		t.removeSubtree(parent)
		parent = next
	}
}

// annotateSubscriptions records on every existence entry whether it is subscribed.
func annotateSubscriptions(snap *snapshot, derived bool) {
	for name, n := range snap.existence {
		if name == "" {
			continue
		}

		sub, ok := snap.subscribed[name]
		n.entry.Subscribed = listing.TristateOf(derived || (ok && sub.kind == Confirmed))

		if derived {
			if sub, ok := snap.subscribed[name]; ok {
				sub.entry.Subscribed = listing.True
			}
		}
	}
}

// indexSpecialUse files an entry under every role it is tagged with. The existence node of
// the same name takes over the role attributes and is what the index holds.
func indexSpecialUse(snap *snapshot, entry listing.Entry) {
	uses := xslices.Filter(listing.SpecialUses, func(use listing.SpecialUse) bool {
		return entry.Attributes.Contains(use.Attr())
	})

	if n, ok := snap.existence[entry.FullName]; ok {
		n.entry = withAttrs(n.entry, xslices.Map(uses, listing.SpecialUse.Attr)...)
		entry = n.entry
	}

	for _, use := range uses {
		snap.special[use][entry.FullName] = entry
	}
}

func unindexSpecialUse(snap *snapshot, names ...string) {
	for _, idx := range snap.special {
		for _, name := range names {
			delete(idx, name)
		}
	}
}

// mboxFormat only ever concludes that the layout is not mbox: one folder that holds both
// messages and subfolders is enough. Without such a folder the layout stays undetermined.
func mboxFormat(entries []listing.Entry) MboxFormat {
	for _, entry := range entries {
		if entry.HasInferiors && entry.CanOpen {
			return listing.False
		}
	}

	return listing.Unknown
}

func asNamespace(entry listing.Entry) listing.Entry {
	entry = withAttrs(entry, listing.AttrNoSelect)
	entry.CanOpen = false
	entry.Namespace = true
	return entry
}

// withAttrs returns the entry with a copy of its attribute set extended by attrs.
func withAttrs(entry listing.Entry, attrs ...string) listing.Entry {
	set := maps.Clone(entry.Attributes)
	if set == nil {
		set = listing.NewAttrSet()
	}

	for attr := range listing.NewAttrSet(attrs...) {
		set[attr] = struct{}{}
	}

	entry.Attributes = set
	return entry
}
