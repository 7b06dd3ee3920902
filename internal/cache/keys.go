package cache

import "chatsync/internal/models"

// Key names a cache entry holding a T.
type Key[T any] struct {
	name string
}

func (k Key[T]) String() string {
	return k.name
}

var (
	DMChannels = Key[[]models.DirectChannel]{name: "dm.channels"}
	Groups     = Key[[]models.Group]{name: "groups"}
)

// DMMessages holds the direct conversation with another user.
func DMMessages(userID string) Key[[]models.Message] {
	return Key[[]models.Message]{name: "dm.messages/" + userID}
}

// GroupMessages holds the conversation of a group.
func GroupMessages(groupID string) Key[[]models.Message] {
	return Key[[]models.Message]{name: "chat.messages/" + groupID}
}

// Get reads a typed entry.
func Get[T any](s Snapshot, k Key[T]) (T, bool) {
	var zero T
	v, ok := s.Get(k.name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Put seeds a typed entry, e.g. with a freshly fetched page of history.
func Put[T any](s Store, k Key[T], value T) {
	s.SetData(k.name, func(any) any { return value })
}

// Modify builds an updater that applies fn to an existing entry. Entries that
// were never loaded stay absent: the history query owns their creation.
func Modify[T any](fn func(T) T) Updater {
	return func(prev any) any {
		if prev == nil {
			return nil
		}
		t, ok := prev.(T)
		if !ok {
			return prev
		}
		return fn(t)
	}
}

// Update applies fn to an existing typed entry.
func Update[T any](s Store, k Key[T], fn func(T) T) {
	s.SetData(k.name, Modify(fn))
}
