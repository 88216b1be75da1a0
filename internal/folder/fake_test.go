package folder

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/emersion/go-imap"

	"mailfolders/internal/listing"
)

// fakeServer answers listing queries from raw response lines and records what it was asked.
type fakeServer struct {
	mu sync.Mutex

	root           string
	rootAfterProbe bool
	probed         bool

	existing   []string
	subscribed []string
	special    []string
	probes     map[string]string
	namespaces Namespaces

	listErr  error
	probeErr map[string]error
	selected bool
	counts   map[string]listing.Counts

	calls         []string
	unsubscribed  []string
	freshAcquires int
	statusCalls   int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		root:   `* LIST (\Noselect) "/" ""`,
		probes: make(map[string]string),
		counts: make(map[string]listing.Counts),
	}
}

func (s *fakeServer) set(fn func(s *fakeServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeServer) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}

	return n
}

func (s *fakeServer) Acquire(_ context.Context, fresh bool) (Conn, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fresh {
		s.freshAcquires++
	}

	return &fakeConn{server: s, selected: s.selected && !fresh}, func() {}, nil
}

func (s *fakeServer) Namespaces(context.Context, bool) (Namespaces, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespaces, nil
}

type fakeConn struct {
	server   *fakeServer
	selected bool
}

// mustRead reads one untagged listing line through the go-imap response reader.
func mustRead(line string) listing.Response {
	raw, err := imap.ReadResp(imap.NewReader(bufio.NewReader(strings.NewReader(line + "\r\n"))))
	if err != nil {
		panic(err)
	}
	resp, ok := listing.FromResp(raw)
	if !ok {
		panic(fmt.Sprintf("not a listing response: %q", line))
	}
	return resp
}

func (c *fakeConn) match(call string, lines []string, pattern string) ([]listing.Response, error) {
	s := c.server

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call+" "+pattern)

	if s.listErr != nil {
		return nil, s.listErr
	}

	if err := s.probeErr[pattern]; err != nil && call == "LIST" {
		return nil, err
	}

	var resps []listing.Response

	for _, line := range lines {
		resp := mustRead(line)

		// The root query only ever sees the root line.
		if pattern == "*" || pattern == "" || resp.Fields[2] == pattern {
			resps = append(resps, resp)
		}
	}

	if call == "LIST" && pattern != "*" {
		if line, ok := s.probes[pattern]; ok {
			resps = append(resps, mustRead(line))
		}
	}

	return resps, nil
}

func (c *fakeConn) ListExisting(_, pattern string) ([]listing.Response, error) {
	if pattern == "" {
		c.server.mu.Lock()
		root := c.server.root
		if c.server.rootAfterProbe && !c.server.probed {
			root = ""
		}
		c.server.mu.Unlock()

		if root == "" {
			return c.match("LIST", nil, pattern)
		}

		return c.match("LIST", []string{root}, pattern)
	}

	return c.match("LIST", c.server.existing, pattern)
}

func (c *fakeConn) ListSubscribed(_, pattern string) ([]listing.Response, error) {
	if pattern == "" {
		c.server.set(func(s *fakeServer) { s.probed = true })
		return c.match("LSUB", nil, pattern)
	}

	return c.match("LSUB", c.server.subscribed, pattern)
}

func (c *fakeConn) ListSpecialUse(_, pattern string) ([]listing.Response, error) {
	return c.match("SPECIAL", c.server.special, pattern)
}

func (c *fakeConn) SupportsSpecialUse() (bool, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.server.special != nil, nil
}

func (c *fakeConn) SetSubscribed(name string, subscribed bool) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if !subscribed {
		c.server.unsubscribed = append(c.server.unsubscribed, name)
	}

	return nil
}

func (c *fakeConn) Status(name string) (listing.Counts, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.statusCalls++

	counts, ok := c.server.counts[name]
	if !ok {
		return listing.Counts{}, fmt.Errorf("no status for %v", name)
	}

	return counts, nil
}

func (c *fakeConn) MyRights(string) (string, error) {
	return "lrswipkxtecda", nil
}

func (c *fakeConn) Selected() bool {
	return c.selected
}
