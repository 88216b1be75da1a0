package listing

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bradenaw/juniper/xslices"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/utf7"
)

var ErrMalformed = errors.New("malformed listing response")

// Response is one untagged LIST or LSUB data response. Fields hold everything after the
// response name: the attribute list, the separator and the mailbox name.
type Response struct {
	Name   string
	Fields []interface{}
}

// FromResp extracts a LIST or LSUB response from a go-imap response.
func FromResp(resp imap.Resp) (Response, bool) {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || (name != "LIST" && name != "LSUB") {
		return Response{}, false
	}

	return Response{Name: name, Fields: fields}, true
}

// Parse builds an entry from a listing response. If required attributes are given and the
// response carries none of them, Parse returns nil and no error.
func Parse(resp Response, required ...string) (*Entry, error) {
	if len(resp.Fields) < 3 {
		return nil, fmt.Errorf("%w: %v response has %d fields", ErrMalformed, resp.Name, len(resp.Fields))
	}

	rawAttrs, err := imap.ParseStringList(resp.Fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: attributes: %v", ErrMalformed, err)
	}

	attrs := NewAttrSet(rawAttrs...)
	if len(required) > 0 && !attrs.ContainsAny(required...) {
		return nil, nil
	}

	sep, err := parseSeparator(resp.Fields[1])
	if err != nil {
		return nil, err
	}

	name, err := parseName(resp.Fields[2])
	if err != nil {
		return nil, err
	}

	entry := newEntry(CanonicalName(name, sep), sep)
	entry.Attributes = attrs

	for attr := range attrs {
		if effect, ok := attrEffects[attr]; ok {
			effect(&entry)
		}
	}

	if resp.Name == "LSUB" {
		entry.Subscribed = True
	}

	return &entry, nil
}

// ParseAll parses every response, dropping those filtered out by required.
func ParseAll(resps []Response, required ...string) ([]Entry, error) {
	entries := make([]Entry, 0, len(resps))
	for _, resp := range resps {
		entry, err := Parse(resp, required...)
		if err != nil {
			return nil, err
		}

		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseSeparator(field interface{}) (rune, error) {
	if field == nil {
		return 0, nil
	}

	raw, err := imap.ParseString(field)
	if err != nil {
		return 0, fmt.Errorf("%w: separator: %v", ErrMalformed, err)
	}

	// Some sources hand over the quoted form of an escaped separator.
	if raw == `\\` || raw == `\"` {
		raw = raw[1:]
	}

	if raw == "" || strings.EqualFold(raw, "NIL") {
		return 0, nil
	}

	sep, size := utf8.DecodeRuneInString(raw)
	if size != len(raw) {
		return 0, fmt.Errorf("%w: separator %q is not one character", ErrMalformed, raw)
	}

	return sep, nil
}

func parseName(field interface{}) (string, error) {
	raw, err := imap.ParseString(field)
	if err != nil {
		return "", fmt.Errorf("%w: mailbox name: %v", ErrMalformed, err)
	}

	name, err := utf7.Encoding.NewDecoder().String(raw)
	if err != nil {
		// Servers announcing UTF8=ACCEPT send names verbatim.
		if utf8.ValidString(raw) {
			return raw, nil
		}

		return "", fmt.Errorf("%w: mailbox name %q: %v", ErrMalformed, raw, err)
	}

	return name, nil
}

// EncodeName encodes a mailbox name for the wire.
func EncodeName(name string) (string, error) {
	return utf7.Encoding.NewEncoder().String(name)
}

// Names returns the full names of the entries.
func Names(entries []Entry) []string {
	return xslices.Map(entries, func(e Entry) string { return e.FullName })
}
