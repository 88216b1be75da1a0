package listing

import (
	"bufio"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/require"
)

// readResponse reads one untagged line the way the client does off the wire.
func readResponse(t *testing.T, line string) Response {
	t.Helper()
	r := imap.NewReader(bufio.NewReader(strings.NewReader(line + "\r\n")))
	raw, err := imap.ReadResp(r)
	require.NoError(t, err)
	resp, ok := FromResp(raw)
	require.True(t, ok, line)
	return resp
}

func mustParse(t *testing.T, line string, required ...string) *Entry {
	t.Helper()
	entry, err := Parse(readResponse(t, line), required...)
	require.NoError(t, err)
	return entry
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		line         string
		canOpen      bool
		hasInferiors bool
		hasChildren  Tristate
		changed      Tristate
	}{
		{`* LIST () "/" "Work"`, true, true, Unknown, Unknown},
		{`* LIST (\Noselect) "/" "Work"`, false, true, Unknown, Unknown},
		{`* LIST (\NoInferiors \Marked) "/" "Work"`, true, false, Unknown, True},
		{`* LIST (\Unmarked \HasChildren) "/" "Work"`, true, true, True, False},
		{`* LIST (\HasNoChildren \X-Custom) "/" "Work"`, true, true, False, Unknown},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			entry := mustParse(t, tc.line)

			require.Equal(t, "Work", entry.FullName)
			require.Equal(t, '/', entry.Separator)
			require.Equal(t, tc.canOpen, entry.CanOpen)
			require.Equal(t, tc.hasInferiors, entry.HasInferiors)
			require.Equal(t, tc.hasChildren, entry.HasChildren)
			require.Equal(t, tc.changed, entry.Changed)
			require.False(t, entry.Counts.Known())
		})
	}
}

func TestParseKeepsUnknownAttributesLowerCased(t *testing.T) {
	entry := mustParse(t, `* LIST (\HasNoChildren \X-Custom) "." "Work"`)

	require.Equal(t, []string{`\hasnochildren`, `\x-custom`}, entry.Attributes.ToSlice())
	require.True(t, entry.Attributes.Contains(`\X-CUSTOM`))
}

func TestParseSeparator(t *testing.T) {
	require.Equal(t, '\\', mustParse(t, `* LIST () "\\" "a\\b"`).Separator)
	require.Equal(t, rune(0), mustParse(t, `* LIST () NIL "flat"`).Separator)

	entry, err := Parse(Response{Name: "LIST", Fields: []interface{}{[]interface{}{}, `\\`, "a"}})
	require.NoError(t, err)
	require.Equal(t, '\\', entry.Separator)

	_, err = Parse(Response{Name: "LIST", Fields: []interface{}{[]interface{}{}, "//", "a"}})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseCanonicalizesInbox(t *testing.T) {
	require.Equal(t, "INBOX", mustParse(t, `* LIST () "/" "inbox"`).FullName)
	require.Equal(t, "INBOX/Sent", mustParse(t, `* LIST () "/" "Inbox/Sent"`).FullName)
	require.Equal(t, "Inboxes", mustParse(t, `* LIST () "/" "Inboxes"`).FullName)
	require.Equal(t, "inbox.Sent", mustParse(t, `* LIST () "/" "inbox.Sent"`).FullName)
}

func TestParseDecodesModifiedUTF7(t *testing.T) {
	require.Equal(t, "Entwürfe", mustParse(t, `* LIST () "/" "Entw&APw-rfe"`).FullName)
	require.Equal(t, "Tom & Jerry", mustParse(t, `* LIST () "/" "Tom &- Jerry"`).FullName)
}

func TestParseRequiredAttributes(t *testing.T) {
	require.Nil(t, mustParse(t, `* LIST (\HasNoChildren) "/" "Work"`, SpecialUseAttrs()...))

	entry := mustParse(t, `* LIST (\HasNoChildren \Sent) "/" "Sent"`, SpecialUseAttrs()...)
	require.NotNil(t, entry)
	require.True(t, entry.Attributes.Contains(AttrSent))
}

func TestParseLsubMarksSubscribed(t *testing.T) {
	require.Equal(t, True, mustParse(t, `* LSUB () "/" "Work"`).Subscribed)
	require.Equal(t, Unknown, mustParse(t, `* LIST () "/" "Work"`).Subscribed)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(Response{Name: "LIST", Fields: []interface{}{"x"}})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(Response{Name: "LIST", Fields: []interface{}{"notalist", "/", "a"}})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFromResp(t *testing.T) {
	resp, ok := FromResp(&imap.DataResp{Fields: []interface{}{"LIST", []interface{}{`\Noselect`}, "/", ""}})
	require.True(t, ok)
	require.Equal(t, "LIST", resp.Name)
	require.Len(t, resp.Fields, 3)

	_, ok = FromResp(&imap.DataResp{Fields: []interface{}{"FLAGS", []interface{}{}}})
	require.False(t, ok)
}

func TestParseWireForms(t *testing.T) {
	tests := []struct {
		line string
		name string
		sep  rune
	}{
		{`* LIST (\HasChildren \Noselect) "/" "Shared Folders"`, "Shared Folders", '/'},
		{`* lsub () NIL Archive`, "Archive", 0},
		{`* LIST () "\\" "a\"b"`, `a"b`, '\\'},
		{"* LIST () \"/\" {10}\r\nQuote\"Name", `Quote"Name`, '/'},
		{`* LIST () "." "&AOQ-rger"`, "ärger", '.'},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entry := mustParse(t, tc.line)
			require.Equal(t, tc.name, entry.FullName)
			require.Equal(t, tc.sep, entry.Separator)
		})
	}

	require.Equal(t, True, mustParse(t, `* lsub () NIL Archive`).Subscribed)
}

func TestParentName(t *testing.T) {
	require.Equal(t, "A/B", ParentName("A/B/C", '/'))
	require.Equal(t, "", ParentName("A", '/'))
	require.Equal(t, "", ParentName("A/B", 0))
}
