package listing

// Mailbox attributes, lower-cased.
const (
	AttrMarked        = `\marked`
	AttrUnmarked      = `\unmarked`
	AttrNoSelect      = `\noselect`
	AttrNoInferiors   = `\noinferiors`
	AttrHasChildren   = `\haschildren`
	AttrHasNoChildren = `\hasnochildren`
)

// Special-use attributes (RFC 6154), lower-cased.
const (
	AttrDrafts  = `\drafts`
	AttrJunk    = `\junk`
	AttrSent    = `\sent`
	AttrTrash   = `\trash`
	AttrArchive = `\archive`
)

// SpecialUse is a reserved folder role.
type SpecialUse int

const (
	Drafts SpecialUse = iota
	Junk
	Sent
	Trash
	Archive
)

// SpecialUses lists every role in index order.
var SpecialUses = []SpecialUse{Drafts, Junk, Sent, Trash, Archive}

var specialUseAttrs = map[SpecialUse]string{
	Drafts:  AttrDrafts,
	Junk:    AttrJunk,
	Sent:    AttrSent,
	Trash:   AttrTrash,
	Archive: AttrArchive,
}

// Attr returns the attribute token that tags the role.
func (u SpecialUse) Attr() string {
	return specialUseAttrs[u]
}

func (u SpecialUse) String() string {
	switch u {
	case Drafts:
		return "drafts"
	case Junk:
		return "junk"
	case Sent:
		return "sent"
	case Trash:
		return "trash"
	case Archive:
		return "archive"
	default:
		return "unknown"
	}
}

// ParseSpecialUse maps a role name such as "sent" to its SpecialUse.
func ParseSpecialUse(name string) (SpecialUse, bool) {
	for _, use := range SpecialUses {
		if use.String() == name {
			return use, true
		}
	}

	return 0, false
}

// SpecialUseAttrs returns the attribute tokens of all roles.
func SpecialUseAttrs() []string {
	attrs := make([]string, 0, len(SpecialUses))
	for _, use := range SpecialUses {
		attrs = append(attrs, use.Attr())
	}

	return attrs
}

// attrEffects maps attribute tokens to their effect on an entry. Tokens not in the table
// are kept in the attribute set only.
var attrEffects = map[string]func(*Entry){
	AttrMarked:        func(e *Entry) { e.Changed = True },
	AttrUnmarked:      func(e *Entry) { e.Changed = False },
	AttrNoSelect:      func(e *Entry) { e.CanOpen = false },
	AttrNoInferiors:   func(e *Entry) { e.HasInferiors = false },
	AttrHasChildren:   func(e *Entry) { e.HasChildren = True },
	AttrHasNoChildren: func(e *Entry) { e.HasChildren = False },
}
