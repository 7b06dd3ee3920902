// Package typing keeps the short-lived "user is typing" set of one open
// conversation.
package typing

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/clock"
	"chatsync/internal/models"
)

const DefaultTTL = 3 * time.Second

type entry struct {
	user      models.UserInfo
	since     time.Time
	expiresAt time.Time
}

// Aggregator holds one entry per typing user. A single timer is armed for the
// earliest expiry; reads also skip expired entries.
type Aggregator struct {
	localUserID string
	ttl         time.Duration
	clock       clock.Clock
	onChange    func([]models.UserInfo)

	mu      sync.Mutex
	entries map[string]*entry
	timer   clock.Timer
	closed  bool
}

type Option func(*Aggregator)

func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// OnChange is called with the new typing set whenever a user appears or
// disappears. It runs outside the aggregator's lock.
func OnChange(fn func([]models.UserInfo)) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

func New(localUserID string, opts ...Option) *Aggregator {
	a := &Aggregator{
		localUserID: localUserID,
		ttl:         DefaultTTL,
		clock:       clock.Real(),
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) TTL() time.Duration {
	return a.ttl
}

// Observe records a typing signal. The local user is never shown. It reports
// whether the signal was recorded.
func (a *Aggregator) Observe(user models.UserInfo) bool {
	if user.ID == "" || user.ID == a.localUserID {
		return false
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	now := a.clock.Now()
	e, ok := a.entries[user.ID]
	if ok {
		e.user = user
		e.expiresAt = now.Add(a.ttl)
	} else {
		a.entries[user.ID] = &entry{user: user, since: now, expiresAt: now.Add(a.ttl)}
	}
	if a.timer == nil {
		a.arm(now)
	}
	var snapshot []models.UserInfo
	if !ok {
		snapshot = a.typing(now)
	}
	a.mu.Unlock()

	if !ok {
		a.notify(snapshot)
	}
	return true
}

// Typing returns the users typing right now, in the order they started.
func (a *Aggregator) Typing() []models.UserInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typing(a.clock.Now())
}

// Clear forgets everyone, e.g. when the view is left.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	had := len(a.entries) > 0
	a.entries = make(map[string]*entry)
	a.stop()
	a.mu.Unlock()

	if had {
		a.notify(nil)
	}
}

// Close clears the set and cancels the timer. Later signals are ignored.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	a.entries = make(map[string]*entry)
	a.stop()
	a.mu.Unlock()
}

func (a *Aggregator) typing(now time.Time) []models.UserInfo {
	live := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		if now.Before(e.expiresAt) {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].since.Equal(live[j].since) {
			return live[i].user.ID < live[j].user.ID
		}
		return live[i].since.Before(live[j].since)
	})
	users := make([]models.UserInfo, len(live))
	for i, e := range live {
		users[i] = e.user
	}
	return users
}

// arm schedules a sweep at the earliest expiry. Callers hold a.mu.
func (a *Aggregator) arm(now time.Time) {
	var next time.Time
	for _, e := range a.entries {
		if next.IsZero() || e.expiresAt.Before(next) {
			next = e.expiresAt
		}
	}
	if next.IsZero() {
		return
	}
	a.timer = a.clock.AfterFunc(next.Sub(now), a.sweep)
}

func (a *Aggregator) stop() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Aggregator) sweep() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	now := a.clock.Now()
	removed := 0
	for id, e := range a.entries {
		if !now.Before(e.expiresAt) {
			delete(a.entries, id)
			removed++
		}
	}
	a.timer = nil
	a.arm(now)
	snapshot := a.typing(now)
	a.mu.Unlock()

	if removed > 0 {
		a.notify(snapshot)
	}
}

func (a *Aggregator) notify(users []models.UserInfo) {
	if a.onChange != nil {
		a.onChange(users)
	}
}
