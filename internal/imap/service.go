package imap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/sirupsen/logrus"

	"mailfolders/internal/config"
	"mailfolders/internal/folder"
)

type Client interface {
	Login(username, password string) error
	Logout() error
	StartTLS(config *tls.Config) error
	Mailbox() *imap.MailboxStatus
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Create(name string) error
	Delete(name string) error
	Subscribe(name string) error
	Unsubscribe(name string) error
	Support(cap string) (bool, error)
	Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error)
}

// Service hands out sessions over one shared logged-in client. Use of the shared client is
// serialized. A fresh session requested while the shared client has a mailbox open runs on
// a temporary client instead.
type Service struct {
	Connector func(cfg config.Config) (Client, error)

	cfg config.Config
	log *logrus.Entry

	// sem guards client.
	sem    chan struct{}
	client Client
}

var _ folder.Dialer = (*Service)(nil)

func NewService(cfg config.Config) *Service {
	return &Service{
		Connector: Connect,
		cfg:       cfg,
		log:       logrus.WithField("pkg", "imap").WithField("host", cfg.IMAP.Host),
		sem:       make(chan struct{}, 1),
	}
}

func Connect(cfg config.Config) (Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAP.Host, cfg.IMAP.Port)
	var c *imapclient.Client
	var err error

	if cfg.IMAP.TLS {
		tlsConfig := &tls.Config{
			ServerName:         cfg.IMAP.Host,
			InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
		}
		c, err = imapclient.DialTLS(addr, tlsConfig)
	} else {
		c, err = imapclient.Dial(addr)
		if err == nil && cfg.IMAP.StartTLS {
			tlsConfig := &tls.Config{
				ServerName:         cfg.IMAP.Host,
				InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
			}
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if err := c.Login(cfg.Auth.Username, cfg.Auth.Password); err != nil {
		_ = c.Logout()
		return nil, err
	}

	return c, nil
}

func (s *Service) connect() (Client, error) {
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}
	client, err := connector(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.cfg.IMAP.Host, err)
	}
	return client, nil
}

func (s *Service) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) unlock() {
	<-s.sem
}

// Acquire implements folder.Dialer.
func (s *Service) Acquire(ctx context.Context, fresh bool) (folder.Conn, func(), error) {
	if err := s.lock(ctx); err != nil {
		return nil, nil, err
	}

	if s.client == nil {
		client, err := s.connect()
		if err != nil {
			s.unlock()
			return nil, nil, err
		}
		s.client = client
	}

	if !fresh || s.client.Mailbox() == nil {
		return &Session{client: s.client}, s.unlock, nil
	}

	s.log.Debug("Shared client has a mailbox open, dialing a temporary one")

	temp, err := s.connect()
	if err != nil {
		s.unlock()
		return nil, nil, err
	}

	return &Session{client: temp}, func() {
		if err := temp.Logout(); err != nil {
			s.log.WithError(err).Warn("Failed to log out temporary client")
		}
		s.unlock()
	}, nil
}

func (s *Service) withSession(ctx context.Context, fn func(*Session) error) error {
	conn, release, err := s.Acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	return fn(conn.(*Session))
}

func (s *Service) CreateMailbox(ctx context.Context, name string) error {
	return s.withSession(ctx, func(sess *Session) error {
		return sess.client.Create(name)
	})
}

func (s *Service) DeleteMailbox(ctx context.Context, name string) error {
	return s.withSession(ctx, func(sess *Session) error {
		return sess.client.Delete(name)
	})
}

// Examine opens name read-only on the shared client. The client stays bound to it.
func (s *Service) Examine(ctx context.Context, name string) (*imap.MailboxStatus, error) {
	var status *imap.MailboxStatus
	err := s.withSession(ctx, func(sess *Session) error {
		mb, err := sess.client.Select(name, true)
		if err != nil {
			return err
		}
		status = mb
		return nil
	})
	return status, err
}

// Close logs the shared client out.
func (s *Service) Close() error {
	s.sem <- struct{}{}
	defer s.unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	return err
}
