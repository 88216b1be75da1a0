package folder

import (
	"context"
	"fmt"

	"mailfolders/internal/listing"
)

// Status returns the message counts of name. Counts are fetched once per build and cached
// on the existence entry.
func (c *Collection) Status(ctx context.Context, name string) (listing.Counts, error) {
	if snap, ok := c.fresh(); ok {
		if n, ok := snap.existence[name]; ok && n.entry.Counts.Known() {
			return n.entry.Counts, nil
		}
	}

	var counts listing.Counts

	err := c.fetch(ctx, name, func(entry listing.Entry) bool {
		counts = entry.Counts
		return entry.Counts.Known()
	}, func(conn Conn, entry *listing.Entry) error {
		var err error
		if entry.Counts, err = conn.Status(name); err != nil {
			return fmt.Errorf("status of %q: %w", name, err)
		}

		counts = entry.Counts
		return nil
	})
	return counts, err
}

// Rights returns the caller's rights on name as reported by MYRIGHTS, cached like Status.
func (c *Collection) Rights(ctx context.Context, name string) (string, error) {
	if snap, ok := c.fresh(); ok {
		if n, ok := snap.existence[name]; ok && n.entry.Rights != "" {
			return n.entry.Rights, nil
		}
	}

	var rights string

	err := c.fetch(ctx, name, func(entry listing.Entry) bool {
		rights = entry.Rights
		return entry.Rights != ""
	}, func(conn Conn, entry *listing.Entry) error {
		var err error
		if entry.Rights, err = conn.MyRights(name); err != nil {
			return fmt.Errorf("rights of %q: %w", name, err)
		}

		rights = entry.Rights
		return nil
	})
	return rights, err
}

// fetch fills in per-folder data that is not part of a listing. cached reports whether the
// entry already carries it; load asks the server and writes it into the entry.
func (c *Collection) fetch(
	ctx context.Context,
	name string,
	cached func(listing.Entry) bool,
	load func(Conn, *listing.Entry) error,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.current(ctx)
	if err != nil {
		return err
	}

	n, ok := snap.existence[name]
	if !ok || n.kind != Confirmed {
		return fmt.Errorf("%w: %q", ErrUnknownFolder, name)
	}

	if cached(n.entry) {
		return nil
	}

	conn, release, err := c.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	return c.update(func(snap *snapshot) error {
		n := snap.existence[name]
		if err := load(conn, &n.entry); err != nil {
			return err
		}

		for _, idx := range snap.special {
			if _, ok := idx[name]; ok {
				idx[name] = n.entry
			}
		}

		return nil
	})
}
