// Package folder mirrors a server's mailbox hierarchy in memory. A Collection reconciles the
// existence listing (LIST) with the subscription listing (LSUB) into two linked trees and
// answers lookups from them until they go stale.
package folder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradenaw/juniper/xslices"

	"mailfolders/internal/listing"
)

var (
	ErrDeprecated     = errors.New("operation on deprecated folder cache")
	ErrStatefulHandle = errors.New("handle provider returned a handle bound to an open mailbox")
	ErrUnknownFolder  = errors.New("folder not in existence listing")
)

// Conn is a connected handle the listing queries are issued against.
type Conn interface {
	ListExisting(ref, pattern string) ([]listing.Response, error)
	ListSubscribed(ref, pattern string) ([]listing.Response, error)
	ListSpecialUse(ref, pattern string) ([]listing.Response, error)
	SetSubscribed(name string, subscribed bool) error
	SupportsSpecialUse() (bool, error)

	Status(name string) (listing.Counts, error)
	MyRights(name string) (string, error)

	// Selected reports whether the handle is bound to an open mailbox.
	Selected() bool
}

// Dialer hands out connected handles. A handle requested with fresh set must not be bound
// to an open mailbox. The returned func releases the handle.
type Dialer interface {
	Acquire(ctx context.Context, fresh bool) (Conn, func(), error)
}

// Namespaces holds the shared and other-users namespace prefixes, in server order.
type Namespaces struct {
	Shared []string
	User   []string
}

// All returns the shared prefixes followed by the user prefixes.
func (ns Namespaces) All() []string {
	return append(append([]string{}, ns.Shared...), ns.User...)
}

// Roots returns the folder names of the namespace prefixes: the prefixes without their
// trailing separator, skipping the empty personal prefix.
func (ns Namespaces) Roots(sep rune) []string {
	roots := xslices.Map(ns.All(), func(prefix string) string {
		if sep != 0 {
			prefix = strings.TrimSuffix(prefix, string(sep))
		}

		return prefix
	})
	return xslices.Filter(roots, func(root string) bool { return root != "" })
}

// Covers reports whether name is a namespace root or lies below one.
func (ns Namespaces) Covers(name string, sep rune) bool {
	return xslices.Any(ns.Roots(sep), func(root string) bool {
		return name == root || (sep != 0 && strings.HasPrefix(name, root+string(sep)))
	})
}

// NamespaceResolver supplies namespace prefixes. With load unset it returns only what it
// already knows.
type NamespaceResolver interface {
	Namespaces(ctx context.Context, load bool) (Namespaces, error)
}

// Kind tells a folder reported by the server apart from one synthesized for it.
type Kind int8

const (
	// Absent is the kind of the empty folder returned for unknown names.
	Absent Kind = iota
	Confirmed
	Placeholder
)

func (k Kind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Placeholder:
		return "placeholder"
	default:
		return "absent"
	}
}

// Folder is a read-only view of one node of a listing tree.
type Folder struct {
	listing.Entry

	Kind     Kind
	Parent   string
	Children []string
}

// Empty returns the folder returned for names that are not in a listing.
func Empty(name string) Folder {
	return Folder{Entry: listing.Empty(name)}
}

// Exists reports whether the server confirmed the folder.
func (f Folder) Exists() bool {
	return f.Kind == Confirmed
}

// Dummy reports whether the folder was synthesized for a child's path.
func (f Folder) Dummy() bool {
	return f.Kind == Placeholder
}

// usable is the predicate callers of Lookup may require before trusting a cached folder.
func (f Folder) usable() bool {
	return f.CanOpen || f.Namespace || f.HasChildren == listing.True
}

// MboxFormat is the heuristic classification of the server's storage layout.
type MboxFormat = listing.Tristate

// State is the lifecycle state of a Collection.
type State int32

const (
	Initialized State = iota
	Deprecated
	DeprecatedForceNew
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Deprecated:
		return "deprecated"
	case DeprecatedForceNew:
		return "deprecated-force-new"
	default:
		return "unknown"
	}
}

// Options tunes a Collection.
type Options struct {
	// FolderCaching selects TTL over ShortTTL.
	FolderCaching bool
	TTL           time.Duration
	ShortTTL      time.Duration

	// IgnoreSubscriptions treats every existing folder as subscribed and skips LSUB.
	IgnoreSubscriptions bool
}

func DefaultOptions() Options {
	return Options{
		FolderCaching: true,
		TTL:           5 * time.Minute,
		ShortTTL:      20 * time.Second,
	}
}

// EffectiveTTL returns the maximum age of a built collection.
func (o Options) EffectiveTTL() time.Duration {
	if o.FolderCaching {
		return o.TTL
	}

	return o.ShortTTL
}
