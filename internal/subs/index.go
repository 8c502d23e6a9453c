// Package subs holds the broker-global mapping from subject to its
// current subscribers.
package subs

import "sync"

// SessionRef is the minimal view of a session a Subscription needs: a
// liveness check substituting for a true weak reference (Go has none
// usable across net.Conn-backed sessions) plus the identity used to
// address frames back to it.
type SessionRef interface {
	Connected() bool
	Send(frame []byte) error
}

// Subscription is one subject registration as held by the broker's
// index. The owning session keeps its own separate record of the same
// subject and SID in its local table. Session is a plain reference
// rather than a weak reference; fan-out treats Session.Connected()
// returning false as "owner gone" without ever reviving the session.
type Subscription struct {
	Subject string
	SID     string
	Session SessionRef
}

// Index is the broker-global subject -> subscriptions map. All
// operations are serialized under a single mutex; Snapshot is the only
// way fan-out observes the map, and it is always released before any
// network I/O runs.
type Index struct {
	mu      sync.Mutex
	buckets map[string][]*Subscription
}

// New constructs an empty index.
func New() *Index {
	return &Index{buckets: make(map[string][]*Subscription)}
}

// Add appends sub to its subject's bucket, creating the bucket if absent.
func (idx *Index) Add(sub *Subscription) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.buckets[sub.Subject] = append(idx.buckets[sub.Subject], sub)
}

// RemoveBySIDAndSession removes the first subscription matching sid
// and session from whichever bucket holds it, pruning the bucket if it
// becomes empty. Reports whether anything was removed.
func (idx *Index) RemoveBySIDAndSession(sid string, session SessionRef) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for subject, bucket := range idx.buckets {
		for i, sub := range bucket {
			if sub.SID != sid || sub.Session != session {
				continue
			}
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(idx.buckets, subject)
			} else {
				idx.buckets[subject] = bucket
			}
			return true
		}
	}
	return false
}

// RemoveAllForSession sweeps every bucket for subscriptions owned by
// session, used when a session's reader exits so the index does not
// carry expired entries until the next fan-out or shutdown. Reports
// how many subscriptions were removed.
func (idx *Index) RemoveAllForSession(session SessionRef) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for subject, bucket := range idx.buckets {
		kept := bucket[:0]
		for _, sub := range bucket {
			if sub.Session == session {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(idx.buckets, subject)
		} else {
			idx.buckets[subject] = kept
		}
	}
	return removed
}

// Snapshot returns a point-in-time copy of subject's subscriber list,
// safe to range over after the index lock is released.
func (idx *Index) Snapshot(subject string) []*Subscription {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	bucket := idx.buckets[subject]
	if len(bucket) == 0 {
		return nil
	}
	out := make([]*Subscription, len(bucket))
	copy(out, bucket)
	return out
}

// Clear drops every entry, used on broker shutdown.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.buckets = make(map[string][]*Subscription)
}
