package folder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/stretchr/testify/require"

	"mailfolders/internal/listing"
)

func newTestCollection(t *testing.T, server *fakeServer) *Collection {
	t.Helper()
	return New(server, server, DefaultOptions())
}

func mustBuild(t *testing.T, c *Collection) {
	t.Helper()

	require.NoError(t, c.Build(context.Background()))
	require.Equal(t, Initialized, c.State())
}

func folderNames(folders []Folder) []string {
	return xslices.Map(folders, func(f Folder) string { return f.FullName })
}

func TestBuildReconcilesListings(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{
		`* LIST (\HasChildren) "/" "INBOX"`,
		`* LIST (\HasNoChildren) "/" "INBOX/Sent"`,
		`* LIST (\HasNoChildren) "/" "Drafts"`,
	}
	server.subscribed = []string{
		`* LSUB () "/" "INBOX"`,
		`* LSUB () "/" "Drafts"`,
	}
	server.special = []string{
		`* LIST (\HasNoChildren \Sent) "/" "INBOX/Sent"`,
	}

	c := newTestCollection(t, server)
	ctx := context.Background()

	sent, err := c.SpecialUse(ctx, listing.Sent)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX/Sent"}, folderNames(sent))

	drafts, err := c.SpecialUse(ctx, listing.Drafts)
	require.NoError(t, err)
	require.Empty(t, drafts)

	sub, err := c.LookupSubscribed(ctx, "INBOX/Sent")
	require.NoError(t, err)
	require.False(t, sub.Exists())

	exist, err := c.LookupExistence(ctx, "INBOX/Sent")
	require.NoError(t, err)
	require.True(t, exist.Exists())
	require.True(t, exist.CanOpen)
	require.Equal(t, listing.False, exist.Subscribed)
	require.True(t, exist.Attributes.Contains(listing.AttrSent))
	require.Equal(t, "INBOX", exist.Parent)

	inbox, inboxSub, err := c.LookupBoth(ctx, "INBOX")
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX/Sent"}, inbox.Children)
	require.Equal(t, listing.True, inbox.Subscribed)
	require.True(t, inboxSub.Exists())

	// One build served every lookup.
	require.Equal(t, 1, server.count("LIST *"))
	require.Equal(t, 1, server.count("LSUB *"))
}

func TestBuildSynthesizesMissingParents(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST (\HasNoChildren) "/" "A/B/C"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	a, ok, err := c.Get("A")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, a.Dummy())
	require.False(t, a.CanOpen)
	require.Equal(t, []string{"A/B"}, a.Children)

	ab, _, _ := c.Get("A/B")
	require.True(t, ab.Dummy())
	require.False(t, ab.CanOpen)
	require.Equal(t, "A", ab.Parent)
	require.Equal(t, []string{"A/B/C"}, ab.Children)

	abc, _, _ := c.Get("A/B/C")
	require.True(t, abc.Exists())
	require.Equal(t, "A/B", abc.Parent)

	server.set(func(s *fakeServer) {
		s.existing = append(s.existing, `* LIST (\HasChildren) "/" "A/B"`)
	})

	require.NoError(t, c.AddOrRefresh(context.Background(), "A/B"))

	ab, _, _ = c.Get("A/B")
	require.True(t, ab.Exists())
	require.True(t, ab.CanOpen)
	require.Equal(t, "A", ab.Parent)
	require.Equal(t, []string{"A/B/C"}, ab.Children)

	abc, _, _ = c.Get("A/B/C")
	require.Equal(t, "A/B", abc.Parent)

	a, _, _ = c.Get("A")
	require.True(t, a.Dummy())
}

func TestAddOrRefreshLinksNewFolderAndAncestors(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	server.set(func(s *fakeServer) {
		s.existing = append(s.existing,
			`* LIST (\HasChildren) "/" "Projects"`,
			`* LIST () "/" "Projects/2024/Q1"`,
		)
		s.subscribed = append(s.subscribed, `* LSUB () "/" "Projects/2024/Q1"`)
	})

	require.NoError(t, c.AddOrRefresh(context.Background(), "Projects/2024/Q1"))

	projects, ok, _ := c.Get("Projects")
	require.True(t, ok)
	require.True(t, projects.Exists())
	require.Equal(t, []string{"Projects/2024"}, projects.Children)

	year, _, _ := c.Get("Projects/2024")
	require.True(t, year.Dummy())

	q1, _, _ := c.Get("Projects/2024/Q1")
	require.True(t, q1.Exists())
	require.Equal(t, listing.True, q1.Subscribed)

	sub, ok, err := c.GetSubscribed("Projects/2024/Q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Projects/2024", sub.Parent)

	server.set(func(s *fakeServer) {
		s.existing = s.existing[:2]
		s.subscribed = nil
	})

	require.NoError(t, c.AddOrRefresh(context.Background(), "Projects/2024/Q1"))

	_, ok, _ = c.Get("Projects/2024/Q1")
	require.False(t, ok)

	// The placeholder lost its only child.
	_, ok, _ = c.Get("Projects/2024")
	require.False(t, ok)

	_, ok, _ = c.GetSubscribed("Projects/2024/Q1")
	require.False(t, ok)
}

func TestAddOrRefreshIgnoresRoot(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	calls := len(server.calls)

	require.NoError(t, c.AddOrRefresh(context.Background(), ""))
	require.Len(t, server.calls, calls)

	root := c.snap.Load().existence.root()
	require.Equal(t, Placeholder, root.kind)
	require.Equal(t, []string{"INBOX"}, root.children)
}

func TestTreeIntegrity(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{
		`* LIST () "/" "zeta/one/two"`,
		`* LIST () "/" "Alpha"`,
		`* LIST () "/" "alpha/beta"`,
		`* LIST () "/" "INBOX"`,
		`* LIST () "/" "inbox/x/y"`,
		`* LIST () "/" "Shared/team/docs"`,
	}
	server.subscribed = []string{`* LSUB () "/" "zeta/one/two"`}
	server.namespaces = Namespaces{Shared: []string{"Shared/"}, User: []string{"Users/"}}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	all, err := c.Subtree("")
	require.NoError(t, err)
	require.NotEmpty(t, all)

	roots := server.namespaces.Roots('/')
	for _, f := range all {
		parent, ok := c.GetIgnoreDeprecated(f.Parent)
		if f.Parent == "" {
			root := c.snap.Load().existence.root()
			require.Contains(t, root.children, f.FullName)
		} else {
			require.True(t, ok, f.FullName)
			require.Contains(t, parent.Children, f.FullName)
		}

		expected := listing.ParentName(f.FullName, f.Separator)
		if expected != f.Parent {
			require.Contains(t, roots, f.FullName)
		}
	}

	sub, err := c.SubscribedSubtree("")
	require.NoError(t, err)
	require.Equal(t, []string{"zeta", "zeta/one", "zeta/one/two"}, folderNames(sub))
}

func TestBuildIsIdempotent(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{
		`* LIST (\HasChildren) "/" "INBOX"`,
		`* LIST (\HasNoChildren) "/" "INBOX/Sent"`,
		`* LIST () "/" "Archive/2023"`,
	}
	server.subscribed = []string{`* LSUB () "/" "INBOX"`, `* LSUB () "/" "Archive/2023"`}
	server.special = []string{`* LIST (\Archive) "/" "Archive/2023"`, `* LIST (\Sent) "/" "INBOX/Sent"`}
	server.namespaces = Namespaces{Shared: []string{"Public/"}}

	c := newTestCollection(t, server)
	ctx := context.Background()

	mustBuild(t, c)

	first := c.SubtreeIgnoreDeprecated("")
	firstSub, _ := c.SubscribedSubtree("")
	firstArchive, err := c.SpecialUse(ctx, listing.Archive)
	require.NoError(t, err)

	mustBuild(t, c)

	second := c.SubtreeIgnoreDeprecated("")
	secondSub, _ := c.SubscribedSubtree("")
	secondArchive, err := c.SpecialUse(ctx, listing.Archive)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, firstSub, secondSub)
	require.Equal(t, firstArchive, secondArchive)
}

func TestConsistencyPass(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}
	server.subscribed = []string{
		`* LSUB () "/" "INBOX"`,
		`* LSUB () "/" "Shared/team"`,
		`* LSUB () "/" "Shared/gone"`,
		`* LSUB () "/" "Ghost"`,
	}
	server.probes["Shared/team"] = `* LIST (\HasNoChildren) "/" "Shared/team"`
	server.namespaces = Namespaces{Shared: []string{"Shared/"}}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	team, ok, err := c.Get("Shared/team")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, team.Exists())
	require.True(t, team.Namespace)
	require.Equal(t, "Shared", team.Parent)
	require.Equal(t, listing.True, team.Subscribed)

	shared, _, _ := c.Get("Shared")
	require.True(t, shared.Namespace)
	require.False(t, shared.CanOpen)
	require.Contains(t, shared.Children, "Shared/team")

	for _, name := range []string{"Shared/gone", "Ghost"} {
		_, ok, err := c.GetSubscribed(name)
		require.NoError(t, err)
		require.False(t, ok, name)
	}

	// Only the namespace subscription was cleared on the server.
	require.Equal(t, []string{"Shared/gone"}, server.unsubscribed)
}

func TestNamespaceFolderCheckFailureCountsAsMissing(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}
	server.subscribed = []string{
		`* LSUB () "/" "INBOX"`,
		`* LSUB () "/" "Shared/team"`,
	}
	server.probes["Shared/team"] = `* LIST (\HasNoChildren) "/" "Shared/team"`
	server.probeErr = map[string]error{"Shared/team": errors.New("connection reset")}
	server.namespaces = Namespaces{Shared: []string{"Shared/"}}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	_, ok, err := c.GetSubscribed("Shared/team")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get("Shared/team")
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []string{"Shared/team"}, server.unsubscribed)
	require.Equal(t, 1, server.count("LIST Shared/team"))
}

func TestConsistencyPassKeepsParentOfValidSubscriptions(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "Old/kept"`}
	server.subscribed = []string{
		`* LSUB () "/" "Old"`,
		`* LSUB () "/" "Old/kept"`,
	}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	old, ok, _ := c.GetSubscribed("Old")
	require.True(t, ok)
	require.True(t, old.Dummy())

	kept, ok, _ := c.GetSubscribed("Old/kept")
	require.True(t, ok)
	require.True(t, kept.Exists())
}

func TestNamespaceRoots(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{
		`* LIST (\HasChildren \X-Team) "/" "Public"`,
		`* LIST () "/" "Public/news"`,
	}
	server.namespaces = Namespaces{Shared: []string{"Public/"}, User: []string{"Other Users/"}}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	public, _, _ := c.Get("Public")
	require.True(t, public.Exists())
	require.True(t, public.Namespace)
	require.False(t, public.CanOpen)
	require.True(t, public.Attributes.Contains(`\x-team`))
	require.True(t, public.Attributes.Contains(listing.AttrHasChildren))

	users, ok, _ := c.Get("Other Users")
	require.True(t, ok)
	require.True(t, users.Dummy())
	require.True(t, users.Namespace)
	require.False(t, users.CanOpen)
	require.Equal(t, "", users.Parent)
}

func TestIgnoreSubscriptions(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`, `* LIST () "/" "Work"`}
	server.subscribed = []string{`* LSUB () "/" "Gone"`}

	opts := DefaultOptions()
	opts.IgnoreSubscriptions = true

	c := New(server, server, opts)
	mustBuild(t, c)

	require.Zero(t, server.count("LSUB *"))

	work, ok, _ := c.GetSubscribed("Work")
	require.True(t, ok)
	require.Equal(t, listing.True, work.Subscribed)

	_, ok, _ = c.GetSubscribed("Gone")
	require.False(t, ok)
	require.Empty(t, server.unsubscribed)
}

func TestMboxFormatHeuristic(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{
		`* LIST (\Noinferiors) "/" "INBOX"`,
		`* LIST (\Noselect) "/" "dir"`,
	}

	c := newTestCollection(t, server)
	mustBuild(t, c)
	require.Equal(t, listing.Unknown, c.MboxFormat())

	server.set(func(s *fakeServer) {
		s.existing = append(s.existing, `* LIST () "/" "dir/both"`)
	})

	mustBuild(t, c)
	require.Equal(t, listing.False, c.MboxFormat())
}

func TestTTLBoundary(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c := newTestCollection(t, server)
	c.SetClock(func() time.Time { return now })
	mustBuild(t, c)

	ttl := c.Options().EffectiveTTL()
	ctx := context.Background()

	now = now.Add(ttl - time.Nanosecond)
	_, err := c.LookupExistence(ctx, "INBOX")
	require.NoError(t, err)
	require.Equal(t, 1, server.count("LIST *"))

	now = now.Add(2 * time.Nanosecond)
	_, err = c.LookupExistence(ctx, "INBOX")
	require.NoError(t, err)
	require.Equal(t, 2, server.count("LIST *"))
}

func TestShortTTLWhenCachingDisabled(t *testing.T) {
	opts := DefaultOptions()
	require.Equal(t, 5*time.Minute, opts.EffectiveTTL())

	opts.FolderCaching = false
	require.Equal(t, 20*time.Second, opts.EffectiveTTL())
}

func TestLookupUnknownReturnsEmpty(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	c := newTestCollection(t, server)

	f, err := c.LookupExistence(context.Background(), "Does/Not/Exist")
	require.NoError(t, err)
	require.False(t, f.Exists())
	require.Equal(t, "Does/Not/Exist", f.FullName)
	require.Equal(t, listing.UnknownCounts, f.Counts)
	require.Empty(t, f.Attributes)
}

func TestLookupResyncsUnusableEntry(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST (\Noselect \HasNoChildren) "/" "Limbo"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	f, err := c.Lookup(context.Background(), "Limbo", true)
	require.NoError(t, err)
	require.False(t, f.CanOpen)
	require.Equal(t, 2, server.count("LIST *"))

	_, err = c.Lookup(context.Background(), "Limbo", false)
	require.NoError(t, err)
	require.Equal(t, 2, server.count("LIST *"))
}

func TestDeprecatedAccess(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	c := newTestCollection(t, server)

	_, _, err := c.Get("INBOX")
	require.ErrorIs(t, err, ErrDeprecated)

	mustBuild(t, c)

	_, ok, err := c.Get("INBOX")
	require.NoError(t, err)
	require.True(t, ok)

	c.Invalidate(false)
	require.Equal(t, Deprecated, c.State())

	_, err = c.Subtree("")
	require.ErrorIs(t, err, ErrDeprecated)

	_, ok = c.GetIgnoreDeprecated("INBOX")
	require.True(t, ok)

	// Lookups route through the rebuild.
	f, err := c.LookupExistence(context.Background(), "INBOX")
	require.NoError(t, err)
	require.True(t, f.Exists())
	require.Equal(t, Initialized, c.State())
}

func TestFailedBuildKeepsPublishedListings(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	failure := errors.New("connection reset")
	server.set(func(s *fakeServer) { s.listErr = failure })

	c.Invalidate(false)

	_, err := c.LookupExistence(context.Background(), "INBOX")
	require.ErrorIs(t, err, failure)
	require.Equal(t, Deprecated, c.State())

	f, ok := c.GetIgnoreDeprecated("INBOX")
	require.True(t, ok)
	require.True(t, f.Exists())
}

func TestRootProbeRetry(t *testing.T) {
	server := newFakeServer()
	server.rootAfterProbe = true
	server.existing = []string{`* LIST () "." "INBOX"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	require.Equal(t, 2, server.count("LIST "))
	require.Equal(t, 1, server.count("LSUB "))
	require.Equal(t, '/', c.Separator())
}

func TestForceNewReplacesSelectedHandle(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}
	server.selected = true

	c := newTestCollection(t, server)
	mustBuild(t, c)
	require.Zero(t, server.freshAcquires)

	c.Invalidate(true)
	require.Equal(t, DeprecatedForceNew, c.State())

	mustBuild(t, c)
	require.Equal(t, 1, server.freshAcquires)
}

func TestInvalidateDuringBuildIsKept(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}

	c := newTestCollection(t, server)
	c.SetClock(func() time.Time {
		c.Invalidate(false)
		return time.Now()
	})

	require.NoError(t, c.Build(context.Background()))
	require.Equal(t, Deprecated, c.State())
}

func TestRemove(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{
		`* LIST () "/" "A"`,
		`* LIST () "/" "A/B"`,
		`* LIST () "/" "A/B/C"`,
		`* LIST () "/" "Z"`,
	}
	server.subscribed = []string{`* LSUB () "/" "A/B"`, `* LSUB () "/" "Z"`}
	server.special = []string{`* LIST (\Trash) "/" "A/B/C"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	c.Remove("A/B")

	names, err := c.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"A", "Z"}, names)

	a, _, _ := c.Get("A")
	require.Empty(t, a.Children)

	_, ok, _ := c.GetSubscribed("A/B")
	require.False(t, ok)

	z, ok, _ := c.GetSubscribed("Z")
	require.True(t, ok)
	require.True(t, z.Exists())

	trash, err := c.SpecialUse(context.Background(), listing.Trash)
	require.NoError(t, err)
	require.Empty(t, trash)
}

func TestSubscribe(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "Work"`}

	c := newTestCollection(t, server)
	mustBuild(t, c)

	server.set(func(s *fakeServer) { s.subscribed = []string{`* LSUB () "/" "Work"`} })

	require.NoError(t, c.Subscribe(context.Background(), "Work", true))

	work, _, _ := c.Get("Work")
	require.Equal(t, listing.True, work.Subscribed)

	sub, ok, _ := c.GetSubscribed("Work")
	require.True(t, ok)
	require.True(t, sub.Exists())
}

func TestStatusIsCachedUntilRebuild(t *testing.T) {
	server := newFakeServer()
	server.existing = []string{`* LIST () "/" "INBOX"`}
	server.counts["INBOX"] = listing.Counts{Total: 10, New: 1, Unread: 3}

	c := newTestCollection(t, server)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		counts, err := c.Status(ctx, "INBOX")
		require.NoError(t, err)
		require.Equal(t, 10, counts.Total)
		require.Equal(t, 3, counts.Unread)
	}

	require.Equal(t, 1, server.statusCalls)

	inbox, _, _ := c.Get("INBOX")
	require.Equal(t, 1, inbox.Counts.New)

	mustBuild(t, c)

	_, err := c.Status(ctx, "INBOX")
	require.NoError(t, err)
	require.Equal(t, 2, server.statusCalls)

	_, err = c.Status(ctx, "Nope")
	require.ErrorIs(t, err, ErrUnknownFolder)

	rights, err := c.Rights(ctx, "INBOX")
	require.NoError(t, err)
	require.Equal(t, "lrswipkxtecda", rights)
}
