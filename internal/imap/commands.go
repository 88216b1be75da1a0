package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-imap/utf7"

	"mailfolders/internal/folder"
	"mailfolders/internal/listing"
)

var errMalformedResponse = errors.New("malformed response")

// specialUseCommand is LIST with the SPECIAL-USE selection option (RFC 6154).
type specialUseCommand struct {
	Reference string
	Mailbox   string
}

func (cmd *specialUseCommand) Command() *imap.Command {
	enc := utf7.Encoding.NewEncoder()
	ref, _ := enc.String(cmd.Reference)
	mailbox, _ := enc.String(cmd.Mailbox)
	return &imap.Command{
		Name:      "LIST",
		Arguments: []interface{}{[]interface{}{imap.RawString("SPECIAL-USE")}, ref, mailbox},
	}
}

// listResponse collects raw LIST and LSUB responses. Parsing is left to the caller so a
// malformed line fails the whole query.
type listResponse struct {
	Responses []listing.Response
}

func (r *listResponse) Handle(resp imap.Resp) error {
	list, ok := listing.FromResp(resp)
	if !ok {
		return responses.ErrUnhandled
	}
	r.Responses = append(r.Responses, list)
	return nil
}

type namespaceCommand struct{}

func (cmd *namespaceCommand) Command() *imap.Command {
	return &imap.Command{Name: "NAMESPACE"}
}

type namespaceResponse struct {
	Namespaces folder.Namespaces
}

// Handle parses "* NAMESPACE personal other-users shared". Personal prefixes are dropped.
func (r *namespaceResponse) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "NAMESPACE" {
		return responses.ErrUnhandled
	}
	if len(fields) < 3 {
		return fmt.Errorf("%w: NAMESPACE has %d fields", errMalformedResponse, len(fields))
	}
	user, err := parseNamespaceGroup(fields[1])
	if err != nil {
		return err
	}
	shared, err := parseNamespaceGroup(fields[2])
	if err != nil {
		return err
	}
	r.Namespaces = folder.Namespaces{Shared: shared, User: user}
	return nil
}

func parseNamespaceGroup(field interface{}) ([]string, error) {
	if field == nil {
		return nil, nil
	}
	descs, ok := field.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: namespace group %v", errMalformedResponse, field)
	}
	prefixes := make([]string, 0, len(descs))
	for _, d := range descs {
		desc, ok := d.([]interface{})
		if !ok || len(desc) < 2 {
			return nil, fmt.Errorf("%w: namespace %v", errMalformedResponse, d)
		}
		prefix, err := imap.ParseString(desc[0])
		if err != nil {
			return nil, fmt.Errorf("%w: namespace prefix: %v", errMalformedResponse, err)
		}
		if decoded, err := utf7.Encoding.NewDecoder().String(prefix); err == nil {
			prefix = decoded
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}

// myRightsCommand is MYRIGHTS from RFC 4314.
type myRightsCommand struct {
	Mailbox string
}

func (cmd *myRightsCommand) Command() *imap.Command {
	mailbox, _ := listing.EncodeName(cmd.Mailbox)
	return &imap.Command{
		Name:      "MYRIGHTS",
		Arguments: []interface{}{mailbox},
	}
}

type myRightsResponse struct {
	Rights string
}

func (r *myRightsResponse) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "MYRIGHTS" {
		return responses.ErrUnhandled
	}
	if len(fields) < 2 {
		return fmt.Errorf("%w: MYRIGHTS has %d fields", errMalformedResponse, len(fields))
	}
	rights, err := imap.ParseString(fields[1])
	if err != nil {
		return fmt.Errorf("%w: rights: %v", errMalformedResponse, err)
	}
	r.Rights = rights
	return nil
}
