package imap

import (
	"context"
	"sync"

	"mailfolders/internal/folder"
)

// Namespaces resolves and caches the server's namespace prefixes.
type Namespaces struct {
	service *Service

	mu     sync.Mutex
	cached *folder.Namespaces
}

var _ folder.NamespaceResolver = (*Namespaces)(nil)

func NewNamespaces(service *Service) *Namespaces {
	return &Namespaces{service: service}
}

// Namespaces returns the cached prefixes. With load set it asks the server when nothing is
// cached yet; otherwise an empty set is returned.
func (n *Namespaces) Namespaces(ctx context.Context, load bool) (folder.Namespaces, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cached != nil {
		return *n.cached, nil
	}
	if !load {
		return folder.Namespaces{}, nil
	}

	var ns folder.Namespaces
	err := n.service.withSession(ctx, func(sess *Session) error {
		var err error
		ns, err = sess.Namespaces()
		return err
	})
	if err != nil {
		return folder.Namespaces{}, err
	}

	n.cached = &ns
	return ns, nil
}

// Forget drops the cached prefixes.
func (n *Namespaces) Forget() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cached = nil
}
