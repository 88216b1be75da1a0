package folder

import (
	"golang.org/x/exp/slices"

	"mailfolders/internal/listing"
)

// refresh re-reads one folder from the server and splices it into snap.
func (b *builder) refresh(snap *snapshot, name string) error {
	entries, err := b.list(b.conn.ListExisting, "list existing", name)
	if err != nil {
		return err
	}

	entry, exists := find(entries, name)
	if exists {
		if err := b.linkAncestors(snap, entry); err != nil {
			return err
		}

		if slices.Contains(b.ns.Roots(entry.Separator), name) {
			entry = asNamespace(entry)
		} else if old, ok := snap.existence[name]; ok && old.entry.Namespace {
			entry.Namespace = true
		}

		snap.existence.replace(entry, Confirmed, dummyEntry)
	} else {
		forget(snap.existence, name)
	}

	if err := b.refreshSubscription(snap, name, exists); err != nil {
		return err
	}

	if n, ok := snap.existence[name]; ok && n.kind == Confirmed {
		sub, ok := snap.subscribed[name]
		n.entry.Subscribed = listing.TristateOf(ok && sub.kind == Confirmed)
	}

	unindexSpecialUse(snap, name)

	if !exists {
		return nil
	}

	special, err := b.specialUse(name)
	if err != nil {
		return err
	}

	if entry, ok := find(special, name); ok {
		indexSpecialUse(snap, entry)
	}

	return nil
}

func (b *builder) refreshSubscription(snap *snapshot, name string, exists bool) error {
	if b.opts.IgnoreSubscriptions {
		if !exists {
			forget(snap.subscribed, name)
			return nil
		}

		entry := snap.existence[name].entry
		entry.Subscribed = listing.True
		snap.subscribed.replace(entry, Confirmed, dummyEntry)
		return nil
	}

	subs, err := b.list(b.conn.ListSubscribed, "list subscribed", name)
	if err != nil {
		return err
	}

	if sub, ok := find(subs, name); ok {
		snap.subscribed.replace(sub, Confirmed, dummyEntry)
	} else if n, ok := snap.subscribed[name]; ok && n.kind == Confirmed {
		forget(snap.subscribed, name)
	}

	return nil
}

// linkAncestors asks the server for every ancestor of entry missing from the existence
// listing, top down. Ancestors the server does not know are left for placeholders.
func (b *builder) linkAncestors(snap *snapshot, entry listing.Entry) error {
	var missing []string

	for parent := listing.ParentName(entry.FullName, entry.Separator); parent != ""; parent = listing.ParentName(parent, entry.Separator) {
		if _, ok := snap.existence[parent]; ok {
			break
		}

		missing = append(missing, parent)
	}

	for i := len(missing) - 1; i >= 0; i-- {
		entries, err := b.list(b.conn.ListExisting, "list existing", missing[i])
		if err != nil {
			return err
		}

		if ancestor, ok := find(entries, missing[i]); ok {
			snap.existence.replace(ancestor, Confirmed, dummyEntry)
		}
	}

	return nil
}
