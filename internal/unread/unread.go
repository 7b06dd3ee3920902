// Package unread tracks where the read part of a conversation ends.
package unread

import (
	"slices"
	"sync"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/reconcile"
)

// Boundary returns the index of the message that gets the unread separator,
// or -1. msgs are ordered oldest first. The separator goes on the first
// message newer than lastRead whose predecessor is not.
func Boundary(lastRead *time.Time, msgs []models.Message) int {
	if lastRead == nil {
		return -1
	}
	for i, m := range msgs {
		if !m.Timestamp.After(*lastRead) {
			continue
		}
		if i == 0 || !msgs[i-1].Timestamp.After(*lastRead) {
			return i
		}
	}
	return -1
}

// Count is the number of messages newer than lastRead.
func Count(lastRead *time.Time, msgs []models.Message) int {
	if lastRead == nil {
		return 0
	}
	n := 0
	for _, m := range msgs {
		if m.Timestamp.After(*lastRead) {
			n++
		}
	}
	return n
}

// Marker hands out the separator once per render pass.
type Marker struct {
	mu    sync.Mutex
	index int
	taken bool
}

func NewMarker(lastRead *time.Time, msgs []models.Message) *Marker {
	return &Marker{index: Boundary(lastRead, msgs)}
}

func (m *Marker) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Take reports whether the separator renders before message i. It is true
// at most once.
func (m *Marker) Take(i int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taken || m.index < 0 || i != m.index {
		return false
	}
	m.taken = true
	return true
}

type Kind int

const (
	// Direct conversations are identified by the other user's id.
	Direct Kind = iota
	Group
)

// Checkout marks a conversation read up to lastRead. The counter is reset
// before the server confirms it.
func Checkout(kind Kind, id string, lastRead time.Time) reconcile.Patch {
	switch kind {
	case Direct:
		return reconcile.Patch{Ops: []reconcile.Op{{
			Key: cache.DMChannels.String(),
			Update: cache.Modify(func(list []models.DirectChannel) []models.DirectChannel {
				out := slices.Clone(list)
				for i := range out {
					if out[i].ReceiverID == id {
						out[i].UnreadMessages = 0
						out[i].LastRead = &lastRead
					}
				}
				return out
			}),
		}}}
	case Group:
		return reconcile.Patch{Ops: []reconcile.Op{{
			Key: cache.Groups.String(),
			Update: cache.Modify(func(list []models.Group) []models.Group {
				out := slices.Clone(list)
				for i := range out {
					if out[i].ID == id {
						out[i].UnreadMessages = 0
						out[i].LastRead = &lastRead
					}
				}
				return out
			}),
		}}}
	}
	return reconcile.Patch{}
}

// LastRead returns the read cursor stored on a conversation summary.
func LastRead(snap cache.Snapshot, kind Kind, id string) *time.Time {
	switch kind {
	case Direct:
		list, _ := cache.Get(snap, cache.DMChannels)
		for _, c := range list {
			if c.ReceiverID == id {
				return c.LastRead
			}
		}
	case Group:
		list, _ := cache.Get(snap, cache.Groups)
		for _, g := range list {
			if g.ID == id {
				return g.LastRead
			}
		}
	}
	return nil
}
