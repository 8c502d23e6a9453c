// Package session owns a single accepted TCP connection: its socket,
// a private subscription table, and serialized frame I/O.
package session

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send once the session has transitioned to
// disconnected; Receive reports the same state with a nil slice.
var ErrClosed = errors.New("session: closed")

// receiveBufferSize is the size of each read from the socket; the
// per-connection reader is responsible for reassembling frames that
// span more than one read.
const receiveBufferSize = 4096

// Subscription is one SUB registration local to a session. The
// broker's subscription index keeps a separate subs.Subscription for
// the same subject and SID; the two records are not the same object.
// Session itself never needs to walk its owning broker, only its own
// table.
type Subscription struct {
	Subject string
	SID     string
}

// Session is one accepted client connection.
type Session struct {
	conn      net.Conn
	remoteIP  string
	boundHost string

	connected atomic.Bool

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*Subscription
}

// New wraps an accepted connection. boundHost is the server's own
// bind address, echoed back to the client in the INFO frame.
func New(conn net.Conn, boundHost string) *Session {
	remoteIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}

	s := &Session{
		conn:      conn,
		remoteIP:  remoteIP,
		boundHost: boundHost,
		subs:      make(map[string]*Subscription),
	}
	s.connected.Store(true)
	return s
}

// RemoteIP returns the peer's address as text, dotted-quad for IPv4 peers.
func (s *Session) RemoteIP() string { return s.remoteIP }

// BoundHost returns the server's own bind host, as recorded at accept time.
func (s *Session) BoundHost() string { return s.boundHost }

// Connected reports whether the session is still usable for I/O.
func (s *Session) Connected() bool { return s.connected.Load() }

// Send writes frame as a single socket write. Concurrent callers are
// serialized so frames from fan-out never interleave on the wire.
func (s *Session) Send(frame []byte) error {
	if !s.connected.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.connected.Load() {
		return ErrClosed
	}

	if _, err := s.conn.Write(frame); err != nil {
		s.connected.Store(false)
		return err
	}
	return nil
}

// Receive returns the next chunk of bytes read from the socket. On EOF
// or error it transitions the session to disconnected and returns a
// nil slice. It does not guarantee frame alignment.
func (s *Session) Receive() []byte {
	if !s.connected.Load() {
		return nil
	}

	buf := make([]byte, receiveBufferSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		s.connected.Store(false)
		return nil
	}
	return buf[:n]
}

// AddSubscription inserts a subscription to subject under sid into the
// session's table iff sid is not already present. It reports whether
// the insertion happened.
func (s *Session) AddSubscription(subject, sid string) bool {
	if !s.connected.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sid]; exists {
		return false
	}
	s.subs[sid] = &Subscription{Subject: subject, SID: sid}
	return true
}

// RemoveSubscription removes sid from the session's table iff present.
func (s *Session) RemoveSubscription(sid string) bool {
	if !s.connected.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sid]; !exists {
		return false
	}
	delete(s.subs, sid)
	return true
}

// HasSubscription reports whether any local subscription targets subject.
func (s *Session) HasSubscription(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.Subject == subject {
			return true
		}
	}
	return false
}

// GetSubscription looks up a subscription by sid.
func (s *Session) GetSubscription(sid string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[sid]
}

// Subscriptions returns a snapshot of every subscription currently
// owned by this session. The broker's sweep on reader exit does not
// use it; that sweep matches index entries by session identity.
func (s *Session) Subscriptions() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// Disconnect idempotently flips the session to disconnected and closes
// the socket. Safe to call multiple times and from multiple goroutines.
func (s *Session) Disconnect() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	_ = s.conn.Close()
}
