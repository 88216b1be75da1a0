package imap

import (
	"errors"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"

	"mailfolders/internal/folder"
	"mailfolders/internal/listing"
)

var ErrRightsUnsupported = errors.New("imap server does not support ACL")

// Session issues folder listing queries over one client.
type Session struct {
	client Client
}

var _ folder.Conn = (*Session)(nil)

func NewSession(client Client) *Session {
	return &Session{client: client}
}

func (s *Session) ListExisting(ref, pattern string) ([]listing.Response, error) {
	return s.list(&commands.List{Reference: ref, Mailbox: pattern})
}

func (s *Session) ListSubscribed(ref, pattern string) ([]listing.Response, error) {
	return s.list(&commands.List{Reference: ref, Mailbox: pattern, Subscribed: true})
}

func (s *Session) ListSpecialUse(ref, pattern string) ([]listing.Response, error) {
	return s.list(&specialUseCommand{Reference: ref, Mailbox: pattern})
}

func (s *Session) list(cmdr imap.Commander) ([]listing.Response, error) {
	res := &listResponse{}
	if err := execute(s.client, cmdr, res); err != nil {
		return nil, err
	}
	return res.Responses, nil
}

func (s *Session) SetSubscribed(name string, subscribed bool) error {
	if subscribed {
		return s.client.Subscribe(name)
	}
	return s.client.Unsubscribe(name)
}

func (s *Session) SupportsSpecialUse() (bool, error) {
	return s.client.Support("SPECIAL-USE")
}

func (s *Session) Status(name string) (listing.Counts, error) {
	mb, err := s.client.Status(name, []imap.StatusItem{imap.StatusMessages, imap.StatusRecent, imap.StatusUnseen})
	if err != nil {
		return listing.UnknownCounts, err
	}
	return listing.Counts{
		Total:  int(mb.Messages),
		New:    int(mb.Recent),
		Unread: int(mb.Unseen),
	}, nil
}

func (s *Session) MyRights(name string) (string, error) {
	ok, err := s.client.Support("ACL")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrRightsUnsupported
	}

	res := &myRightsResponse{}
	if err := execute(s.client, &myRightsCommand{Mailbox: name}, res); err != nil {
		return "", err
	}
	return res.Rights, nil
}

func (s *Session) Selected() bool {
	return s.client.Mailbox() != nil
}

// Namespaces asks the server for its namespace prefixes. Servers without NAMESPACE have none.
func (s *Session) Namespaces() (folder.Namespaces, error) {
	ok, err := s.client.Support("NAMESPACE")
	if err != nil {
		return folder.Namespaces{}, err
	}
	if !ok {
		return folder.Namespaces{}, nil
	}

	res := &namespaceResponse{}
	if err := execute(s.client, &namespaceCommand{}, res); err != nil {
		return folder.Namespaces{}, err
	}
	return res.Namespaces, nil
}

func execute(c Client, cmdr imap.Commander, h responses.Handler) error {
	status, err := c.Execute(cmdr, h)
	if err != nil {
		return err
	}
	return status.Err()
}
