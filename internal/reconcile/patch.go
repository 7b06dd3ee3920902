package reconcile

import (
	"chatsync/internal/cache"
	"chatsync/internal/session"
)

// Op is one atomic read-modify-write of a cache key.
type Op struct {
	Key    string
	Update cache.Updater
}

// Patch is everything one event changes. A zero Patch changes nothing.
type Patch struct {
	Ops []Op
	// Redirect is the path to navigate to after the ops were applied.
	Redirect string
	// Skipped names the rule that turned the event into a no-op.
	Skipped string
}

func (p Patch) Empty() bool {
	return len(p.Ops) == 0 && p.Redirect == ""
}

// Keys lists the cache keys the patch touches, in order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p.Ops))
	for _, op := range p.Ops {
		keys = append(keys, op.Key)
	}
	return keys
}

// Apply runs the ops through the store's atomic update and then redirects.
// nav may be nil when nothing can navigate.
func (p Patch) Apply(store cache.Store, nav session.Navigator) {
	for _, op := range p.Ops {
		store.SetData(op.Key, op.Update)
	}
	if p.Redirect != "" && nav != nil {
		nav.Push(p.Redirect)
	}
}

func skip(reason string) Patch {
	return Patch{Skipped: reason}
}

func op[T any](k cache.Key[T], fn func(T) T) Op {
	return Op{Key: k.String(), Update: cache.Modify(fn)}
}
