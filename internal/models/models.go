package models

import (
	"errors"
	"time"
)

var (
	ErrMissingID = errors.New("missing id")
)

// UserInfo is the public part of a user as it travels inside events.
type UserInfo struct {
	ID    string `json:"id" mapstructure:"id" msgpack:"id"`
	Name  string `json:"name" mapstructure:"name" msgpack:"name"`
	Image string `json:"image,omitempty" mapstructure:"image" msgpack:"image"`
}

func (u UserInfo) Validate() error {
	if u.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Message is a direct or group message as stored in the local cache.
// Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID         string    `json:"id" mapstructure:"id" msgpack:"id"`
	AuthorID   string    `json:"author_id" mapstructure:"author_id" msgpack:"authorId"`
	ReceiverID string    `json:"receiver_id,omitempty" mapstructure:"receiver_id" msgpack:"receiverId"`
	GroupID    string    `json:"group_id,omitempty" mapstructure:"group_id" msgpack:"groupId"`
	Content    string    `json:"content" mapstructure:"content" msgpack:"content"`
	Timestamp  time.Time `json:"timestamp" mapstructure:"timestamp" msgpack:"timestamp"`
	Author     *UserInfo `json:"author,omitempty" mapstructure:"author" msgpack:"author"`
	// Nonce correlates an optimistic local message with its confirmed form.
	// It is nil on every confirmed message.
	Nonce *int64 `json:"nonce,omitempty" mapstructure:"nonce" msgpack:"nonce"`
}

// IsPending reports whether the message is an unconfirmed local entry.
func (m Message) IsPending() bool {
	return m.Nonce != nil
}

// DirectChannel is the summary of a direct conversation with another user.
type DirectChannel struct {
	ID             string     `json:"id" mapstructure:"id" msgpack:"id"`
	ReceiverID     string     `json:"receiver_id" mapstructure:"receiver_id" msgpack:"receiverId"`
	Receiver       UserInfo   `json:"receiver" mapstructure:"receiver" msgpack:"receiver"`
	UnreadMessages int        `json:"unread_messages" mapstructure:"unread_messages" msgpack:"unreadMessages"`
	LastRead       *time.Time `json:"last_read,omitempty" mapstructure:"last_read" msgpack:"lastRead"`
}

func (c DirectChannel) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Group is the summary of a group conversation.
type Group struct {
	ID             string     `json:"id" mapstructure:"id" msgpack:"id"`
	Name           string     `json:"name" mapstructure:"name" msgpack:"name"`
	Icon           string     `json:"icon_hash,omitempty" mapstructure:"icon_hash" msgpack:"icon"`
	OwnerID        string     `json:"owner_id" mapstructure:"owner_id" msgpack:"ownerId"`
	UnreadMessages int        `json:"unread_messages" mapstructure:"unread_messages" msgpack:"unreadMessages"`
	LastRead       *time.Time `json:"last_read,omitempty" mapstructure:"last_read" msgpack:"lastRead"`
}

func (g Group) Validate() error {
	if g.ID == "" {
		return ErrMissingID
	}
	return nil
}
