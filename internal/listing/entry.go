// Package listing turns LIST and LSUB data responses into folder entries.
package listing

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// InboxName is the canonical spelling of the well-known root mailbox.
const InboxName = "INBOX"

// Tristate is a boolean that may not be known yet.
type Tristate int8

const (
	Unknown Tristate = iota
	True
	False
)

// TristateOf converts a known boolean.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}

	return False
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// AttrSet holds lower-cased mailbox attribute tokens.
type AttrSet map[string]struct{}

func NewAttrSet(attrs ...string) AttrSet {
	set := make(AttrSet, len(attrs))
	for _, attr := range attrs {
		set[strings.ToLower(attr)] = struct{}{}
	}

	return set
}

// Contains reports whether the attribute is in the set, ignoring case.
func (s AttrSet) Contains(attr string) bool {
	_, ok := s[strings.ToLower(attr)]
	return ok
}

// ContainsAny reports whether any of the attributes is in the set.
func (s AttrSet) ContainsAny(attrs ...string) bool {
	return slices.IndexFunc(attrs, s.Contains) >= 0
}

// ToSlice returns the attributes sorted.
func (s AttrSet) ToSlice() []string {
	attrs := maps.Keys(s)

	slices.Sort(attrs)
	return attrs
}

// Counts holds cached STATUS figures. Unknown values are -1.
type Counts struct {
	Total  int
	New    int
	Unread int
}

// UnknownCounts is the value of counts that have not been fetched.
var UnknownCounts = Counts{Total: -1, New: -1, Unread: -1}

// Known reports whether the counts were fetched from the server.
func (c Counts) Known() bool {
	return c.Total >= 0
}

// Entry describes one folder as reported by the server, or synthesized for it.
// Entries are values; the folder collection owns the links between them.
type Entry struct {
	FullName     string
	Separator    rune
	Attributes   AttrSet
	HasInferiors bool
	CanOpen      bool
	HasChildren  Tristate
	Changed      Tristate
	Namespace    bool
	Subscribed   Tristate

	Counts Counts
	Rights string
}

func newEntry(name string, sep rune) Entry {
	return Entry{
		FullName:     name,
		Separator:    sep,
		Attributes:   NewAttrSet(),
		HasInferiors: true,
		CanOpen:      true,
		Counts:       UnknownCounts,
	}
}

// Empty returns the entry that stands for a folder that is not known.
func Empty(name string) Entry {
	return Entry{
		FullName:   name,
		Attributes: NewAttrSet(),
		Counts:     UnknownCounts,
	}
}

// Placeholder returns a non-selectable entry standing in for a folder that is implied by a
// child's path but not reported by the server.
func Placeholder(name string, sep rune) Entry {
	entry := newEntry(name, sep)

	entry.Attributes = NewAttrSet(AttrNoSelect, AttrHasChildren)
	entry.CanOpen = false
	entry.HasChildren = True
	return entry
}

// Root returns the synthetic root entry.
func Root(sep rune) Entry {
	entry := newEntry("", sep)

	entry.Attributes = NewAttrSet(AttrNoSelect)
	entry.CanOpen = false
	return entry
}

// ParentName returns the name of the folder containing name, or "" for top-level folders.
func ParentName(name string, sep rune) string {
	if sep == 0 {
		return ""
	}

	idx := strings.LastIndex(name, string(sep))
	if idx < 0 {
		return ""
	}

	return name[:idx]
}

// CanonicalName normalizes the case of the well-known root mailbox and its subfolders.
func CanonicalName(name string, sep rune) string {
	if strings.EqualFold(name, InboxName) {
		return InboxName
	}

	if sep == 0 || len(name) <= len(InboxName) {
		return name
	}

	if strings.EqualFold(name[:len(InboxName)], InboxName) && strings.HasPrefix(name[len(InboxName):], string(sep)) {
		return InboxName + name[len(InboxName):]
	}

	return name
}
