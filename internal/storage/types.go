package storage

import (
	"encoding"

	"chatsync/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type EntryKind string

const (
	KindMessages   EntryKind = "messages"
	KindDMChannels EntryKind = "dm_channels"
	KindGroups     EntryKind = "groups"
)

// DBEntry is one cache key with its typed value. Only the field matching
// Kind is set.
type DBEntry struct {
	CacheKey  string                 `msgpack:"key"`
	Kind      EntryKind              `msgpack:"kind"`
	UpdatedAt int64                  `msgpack:"updatedAt"`
	Messages  []models.Message       `msgpack:"messages,omitempty"`
	Channels  []models.DirectChannel `msgpack:"channels,omitempty"`
	Groups    []models.Group         `msgpack:"groups,omitempty"`
}

func (e *DBEntry) Key() []byte {
	return []byte(e.CacheKey)
}

func (e *DBEntry) MarshalBinary() (data []byte, err error) {
	type alias DBEntry
	return msgpack.Marshal((*alias)(e))
}

func (e *DBEntry) UnmarshalBinary(data []byte) error {
	type alias DBEntry
	return msgpack.Unmarshal(data, (*alias)(e))
}

// Value returns the cache value the entry holds.
func (e *DBEntry) Value() (any, bool) {
	switch e.Kind {
	case KindMessages:
		if e.Messages == nil {
			return []models.Message{}, true
		}
		return e.Messages, true
	case KindDMChannels:
		if e.Channels == nil {
			return []models.DirectChannel{}, true
		}
		return e.Channels, true
	case KindGroups:
		if e.Groups == nil {
			return []models.Group{}, true
		}
		return e.Groups, true
	}
	return nil, false
}

// DBOwner records which user the stored cache belongs to.
type DBOwner struct {
	UserID string `msgpack:"userId"`
}

func (o *DBOwner) Key() []byte {
	return []byte("owner")
}

func (o *DBOwner) MarshalBinary() (data []byte, err error) {
	type alias DBOwner
	return msgpack.Marshal((*alias)(o))
}

func (o *DBOwner) UnmarshalBinary(data []byte) error {
	type alias DBOwner
	return msgpack.Unmarshal(data, (*alias)(o))
}
