// Package broker implements the listener, accept loop, per-connection
// dispatch and publish fan-out for the subject pub/sub protocol.
package broker

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"pulsebroker/internal/metrics"
	"pulsebroker/internal/protocol"
	"pulsebroker/internal/session"
	"pulsebroker/internal/subs"
)

// Broker is a running or stopped instance of the pub/sub server. Zero
// value is not usable; construct with New.
type Broker struct {
	host string
	port int

	logger *slog.Logger
	stats  *metrics.Registry

	mu       sync.Mutex
	listener net.Listener

	running atomic.Bool
	wg      sync.WaitGroup

	index *subs.Index

	sessionsMu sync.Mutex
	sessions   map[*session.Session]struct{}
}

// New constructs a broker bound to host:port. stats may be nil, in
// which case metrics recording is a no-op.
func New(host string, port int, logger *slog.Logger, stats *metrics.Registry) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		host:     host,
		port:     port,
		logger:   logger,
		stats:    stats,
		index:    subs.New(),
		sessions: make(map[*session.Session]struct{}),
	}
}

// Addr returns the listener's bound address once Start has succeeded.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Start binds the listening socket and spawns the accept loop.
// Starting an already-running broker is a no-op that returns nil.
func (b *Broker) Start() error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", b.host, b.port))
	if err != nil {
		b.running.Store(false)
		return fmt.Errorf("broker: listen: %w", err)
	}

	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	b.logger.Info("broker listening", "addr", ln.Addr().String())

	b.wg.Add(1)
	go b.acceptLoop(ln)

	return nil
}

// Stop flips running to false, closes the listener, disconnects every
// session, joins all workers and clears the index. Stopping an
// already-stopped broker is a no-op.
func (b *Broker) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}

	b.mu.Lock()
	ln := b.listener
	b.listener = nil
	b.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	b.sessionsMu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for sess := range b.sessions {
		sessions = append(sessions, sess)
	}
	b.sessionsMu.Unlock()

	for _, sess := range sessions {
		sess.Disconnect()
	}

	b.wg.Wait()

	b.index.Clear()
	b.logger.Info("broker stopped")
}

func (b *Broker) acceptLoop(ln net.Listener) {
	defer b.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !b.running.Load() {
				return
			}
			b.logger.Error("accept failed", "error", err)
			return
		}

		sess := session.New(conn, b.host)
		b.addSession(sess)

		remoteIP := sess.RemoteIP()
		if err := sess.Send(protocol.GenerateInfo(b.host, b.resolvedPort(ln), remoteIP)); err != nil {
			b.logger.Debug("info send failed", "remote", remoteIP, "error", err)
		}

		b.wg.Add(1)
		go b.readLoop(sess)
	}
}

func (b *Broker) resolvedPort(ln net.Listener) int {
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return b.port
}

func (b *Broker) addSession(sess *session.Session) {
	b.sessionsMu.Lock()
	b.sessions[sess] = struct{}{}
	b.sessionsMu.Unlock()
	b.statsSessionDelta(1)
}

func (b *Broker) removeSession(sess *session.Session) {
	b.sessionsMu.Lock()
	delete(b.sessions, sess)
	b.sessionsMu.Unlock()
	b.statsSessionDelta(-1)
}

// readLoop is the per-connection reader: it accumulates bytes across
// reads and loops Parse until the buffer cannot yield another complete
// frame, so a PUB spanning segment boundaries or two frames landing in
// one read are both handled.
func (b *Broker) readLoop(sess *session.Session) {
	defer func() {
		removed := b.index.RemoveAllForSession(sess)
		if removed > 0 {
			b.statsSubscriptionDelta(-removed)
		}
		b.removeSession(sess)
		sess.Disconnect()
		b.wg.Done()
	}()

	var buf bytes.Buffer

	for sess.Connected() {
		chunk := sess.Receive()
		if chunk == nil {
			return
		}
		buf.Write(chunk)

		for {
			cmd, consumed, err := protocol.Parse(buf.Bytes())
			if err == protocol.ErrIncomplete {
				break
			}
			if consumed > 0 {
				buf.Next(consumed)
			}
			if err == protocol.ErrMalformed {
				b.logger.Debug("dropping malformed command", "remote", sess.RemoteIP())
				continue
			}
			b.dispatch(sess, cmd)
		}
	}
}

func (b *Broker) dispatch(sess *session.Session, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CONNECT:
		b.reply(sess, protocol.GenerateOK())
	case protocol.PING:
		b.reply(sess, protocol.GeneratePong())
	case protocol.PONG:
		// no reply
	case protocol.SUB:
		if sess.AddSubscription(cmd.Subject, cmd.SID) {
			b.index.Add(&subs.Subscription{Subject: cmd.Subject, SID: cmd.SID, Session: sess})
			b.statsSubscriptionDelta(1)
			b.reply(sess, protocol.GenerateOK())
		}
	case protocol.PUB:
		b.deliver(cmd.Subject, cmd.ReplyTo, cmd.Payload)
		b.statsPublished()
		b.reply(sess, protocol.GenerateOK())
	case protocol.UNSUB:
		if sess.RemoveSubscription(cmd.SID) {
			if b.index.RemoveBySIDAndSession(cmd.SID, sess) {
				b.statsSubscriptionDelta(-1)
			}
			b.reply(sess, protocol.GenerateOK())
		}
	case protocol.UNKNOWN:
		// ignored
	}
}

func (b *Broker) reply(sess *session.Session, frame []byte) {
	if err := sess.Send(frame); err != nil {
		b.logger.Debug("reply send failed", "remote", sess.RemoteIP(), "error", err)
	}
}

// deliver fans a published message out to every current subscriber of
// subject. The index lock is held only for the snapshot; writes to
// each subscriber happen after it is released.
func (b *Broker) deliver(subject, replyTo string, payload []byte) {
	snapshot := b.index.Snapshot(subject)

	for _, sub := range snapshot {
		if !sub.Session.Connected() {
			continue
		}
		frame := protocol.GenerateMsg(subject, sub.SID, replyTo, payload)
		if err := sub.Session.Send(frame); err != nil {
			b.logger.Debug("fanout delivery failed", "subject", subject, "sid", sub.SID, "error", err)
			b.statsFanoutError()
			continue
		}
		b.statsDelivered()
	}
}

func (b *Broker) statsSessionDelta(n int) {
	if b.stats == nil {
		return
	}
	b.stats.ActiveConnections.Add(float64(n))
}

func (b *Broker) statsSubscriptionDelta(n int) {
	if b.stats == nil {
		return
	}
	b.stats.ActiveSubscriptions.Add(float64(n))
}

func (b *Broker) statsPublished() {
	if b.stats == nil {
		return
	}
	b.stats.MessagesPublished.Inc()
}

func (b *Broker) statsDelivered() {
	if b.stats == nil {
		return
	}
	b.stats.MessagesDelivered.Inc()
}

func (b *Broker) statsFanoutError() {
	if b.stats == nil {
		return
	}
	b.stats.FanoutErrors.Inc()
}
