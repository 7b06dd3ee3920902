package cache

import (
	"log/slog"
	"sync"

	"github.com/c-pro/geche"
)

// Updater computes the next value of a key from its current one. prev is nil
// when the key is absent; returning nil removes the key.
type Updater func(prev any) any

// Snapshot is the read side of the query cache.
type Snapshot interface {
	Get(key string) (any, bool)
}

// Store is the query cache as the sync layer sees it: a key-value store whose
// writes go through atomic read-modify-write updates.
type Store interface {
	Snapshot
	SetData(key string, update Updater)
}

// Persister mirrors cache writes into durable storage.
type Persister interface {
	Save(key string, value any) error
	Delete(key string) error
	Load() (map[string]any, error)
}

// Memory is an in-process Store. Updates never interleave, and the persister
// and watchers see them in commit order.
type Memory struct {
	entries   *geche.Locker[string, any]
	persister Persister
	logger    *slog.Logger

	// writeMu orders a commit together with its persist and notify.
	writeMu sync.Mutex

	mu       sync.RWMutex
	watchers map[int]func(key string, value any)
	nextID   int
}

type Option func(*Memory)

func WithPersister(p Persister) Option {
	return func(m *Memory) { m.persister = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) { m.logger = l }
}

// NewMemory creates an empty cache, or one restored from the persister when
// WithPersister is given.
func NewMemory(opts ...Option) (*Memory, error) {
	m := &Memory{
		entries:  geche.NewLocker[string, any](geche.NewMapCache[string, any]()),
		logger:   slog.Default(),
		watchers: make(map[int]func(string, any)),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.persister != nil {
		restored, err := m.persister.Load()
		if err != nil {
			return nil, err
		}
		tx := m.entries.Lock()
		for k, v := range restored {
			tx.Set(k, v)
		}
		tx.Unlock()
	}

	return m, nil
}

func (m *Memory) Get(key string) (any, bool) {
	tx := m.entries.Lock()
	defer tx.Unlock()
	v, err := tx.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set replaces a value. The history layer uses it to seed fetched pages.
func (m *Memory) Set(key string, value any) {
	m.SetData(key, func(any) any { return value })
}

func (m *Memory) SetData(key string, update Updater) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx := m.entries.Lock()
	var prev any
	if v, err := tx.Get(key); err == nil {
		prev = v
	}
	next := update(prev)
	if next == nil {
		_ = tx.Del(key)
	} else {
		tx.Set(key, next)
	}
	tx.Unlock()

	if prev == nil && next == nil {
		return
	}
	m.persist(key, next)
	m.notify(key, next)
}

// Keys lists the keys currently held.
func (m *Memory) Keys() []string {
	tx := m.entries.Lock()
	defer tx.Unlock()
	snap := tx.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	return keys
}

// Watch registers fn for every committed update. fn may read the cache but
// must not write to it. The returned func removes it.
func (m *Memory) Watch(fn func(key string, value any)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *Memory) persist(key string, value any) {
	if m.persister == nil {
		return
	}
	var err error
	if value == nil {
		err = m.persister.Delete(key)
	} else {
		err = m.persister.Save(key, value)
	}
	if err != nil {
		m.logger.Error("cache persist failed", "key", key, "error", err)
	}
}

func (m *Memory) notify(key string, value any) {
	m.mu.RLock()
	watchers := make([]func(string, any), 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w(key, value)
	}
}
