package folder

import (
	"sort"
	"strings"

	"github.com/bradenaw/juniper/xslices"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"mailfolders/internal/listing"
)

type node struct {
	entry    listing.Entry
	kind     Kind
	parent   string
	children []string
}

func (n *node) folder() Folder {
	return Folder{
		Entry:    n.entry,
		Kind:     n.kind,
		Parent:   n.parent,
		Children: slices.Clone(n.children),
	}
}

func (n *node) clone() *node {
	c := *n
	c.children = slices.Clone(n.children)
	return &c
}

func (n *node) addChild(name string) {
	idx, found := slices.BinarySearch(n.children, name)
	if !found {
		n.children = slices.Insert(n.children, idx, name)
	}
}

func (n *node) removeChild(name string) {
	if idx, found := slices.BinarySearch(n.children, name); found {
		n.children = slices.Delete(n.children, idx, idx+1)
	}
}

// tree is one listing: every node keyed by full name, the synthetic root under "".
// A tree is either owned by a single builder or published read-only inside a snapshot.
type tree map[string]*node

func newTree(root listing.Entry) tree {
	return tree{"": {entry: root, kind: Placeholder}}
}

func (t tree) root() *node {
	return t[""]
}

func (t tree) clone() tree {
	c := make(tree, len(t))
	for name, n := range t {
		c[name] = n.clone()
	}

	return c
}

func (t tree) get(name string) (Folder, bool) {
	n, ok := t[name]
	if !ok || name == "" {
		return Folder{}, false
	}

	return n.folder(), true
}

func (t tree) names() []string {
	names := xslices.Filter(maps.Keys(t), func(name string) bool { return name != "" })

	sort.Strings(names)
	return names
}

// parentOf returns the name under which the node belongs.
func (t tree) parentOf(n *node) string {
	return listing.ParentName(n.entry.FullName, n.entry.Separator)
}

// adopt links child under the named parent, which must be present.
func (t tree) adopt(parent string, child *node) {
	child.parent = parent
	t[parent].addChild(child.entry.FullName)
}

// link inserts the entries and connects them to their parents. Entries whose parent is
// missing are queued by the missing name; each missing name is then materialized with the
// placeholder function and queued one level up itself, until every chain reaches a node
// that exists. Entries already present are left alone.
func (t tree) link(entries []listing.Entry, kind Kind, placeholder func(name string, sep rune) listing.Entry) {
	sorted := slices.Clone(entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].FullName) < strings.ToLower(sorted[j].FullName)
	})

	added := make([]*node, 0, len(sorted))
	for _, entry := range sorted {
		if _, ok := t[entry.FullName]; ok {
			continue
		}

		n := &node{entry: entry, kind: kind}
		t[entry.FullName] = n
		added = append(added, n)
	}

	pending := make(map[string][]*node)
	for _, n := range added {
		if parent := t.parentOf(n); t[parent] != nil {
			t.adopt(parent, n)
		} else {
			pending[parent] = append(pending[parent], n)
		}
	}

	for len(pending) > 0 {
		missing := maps.Keys(pending)
		slices.Sort(missing)

		for _, name := range missing {
			children := pending[name]
			delete(pending, name)

			if t[name] == nil {
				dummy := &node{entry: placeholder(name, children[0].entry.Separator), kind: Placeholder}
				t[name] = dummy

				if parent := t.parentOf(dummy); t[parent] != nil {
					t.adopt(parent, dummy)
				} else {
					pending[parent] = append(pending[parent], dummy)
				}
			}

			for _, child := range children {
				t.adopt(name, child)
			}
		}
	}
}

// replace swaps the entry stored under its name, keeping the existing children, or inserts
// it linked into the tree if the name is new.
func (t tree) replace(entry listing.Entry, kind Kind, placeholder func(name string, sep rune) listing.Entry) {
	if n, ok := t[entry.FullName]; ok {
		n.entry = entry
		n.kind = kind
		return
	}

	t.link([]listing.Entry{entry}, kind, placeholder)
}

// removeSubtree detaches the named node from its parent and deletes it with all of its
// descendants, returning the removed names.
func (t tree) removeSubtree(name string) []string {
	n, ok := t[name]
	if !ok || name == "" {
		return nil
	}

	if parent, ok := t[n.parent]; ok {
		parent.removeChild(name)
	}

	removed := []string{}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if n, ok := t[cur]; ok {
			queue = append(queue, n.children...)
			delete(t, cur)
			removed = append(removed, cur)
		}
	}

	return removed
}

// subtree returns the named folder followed by its descendants, depth first.
func (t tree) subtree(name string) []Folder {
	n, ok := t[name]
	if !ok {
		return nil
	}

	var folders []Folder

	if name != "" {
		folders = append(folders, n.folder())
	}

	for _, child := range n.children {
		folders = append(folders, t.subtree(child)...)
	}

	return folders
}

func dummyEntry(name string, sep rune) listing.Entry {
	return listing.Placeholder(name, sep)
}

func namespaceDummyEntry(name string, sep rune) listing.Entry {
	entry := listing.Placeholder(name, sep)
	entry.Namespace = true
	return entry
}
