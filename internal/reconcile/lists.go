package reconcile

import (
	"slices"

	"chatsync/internal/models"
)

// Cache values are shared with readers, so every helper here returns a new
// slice and leaves its input alone.

func indexByNonce(msgs []models.Message, nonce *int64) int {
	if nonce == nil {
		return -1
	}
	return slices.IndexFunc(msgs, func(m models.Message) bool {
		return m.Nonce != nil && *m.Nonce == *nonce
	})
}

func indexByID(msgs []models.Message, id string) int {
	return slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == id })
}

// confirmMessage replaces the optimistic entry carrying nonce with msg. With
// no such entry msg is upserted by id.
func confirmMessage(msgs []models.Message, nonce *int64, msg models.Message) []models.Message {
	msg.Nonce = nil
	out := slices.Clone(msgs)
	if i := indexByNonce(out, nonce); i >= 0 {
		out[i] = msg
		// A copy that reached us by id before the confirmation would now be
		// a duplicate.
		kept := out[:0]
		for j, m := range out {
			if j != i && m.ID == msg.ID && m.Nonce == nil {
				continue
			}
			kept = append(kept, m)
		}
		return kept
	}
	if i := indexByID(out, msg.ID); i >= 0 {
		out[i] = msg
		return out
	}
	return append(out, msg)
}

func appendPending(msgs []models.Message, msg models.Message) []models.Message {
	if indexByNonce(msgs, msg.Nonce) >= 0 {
		return msgs
	}
	return append(slices.Clone(msgs), msg)
}

func updateContent(msgs []models.Message, id, content string) []models.Message {
	i := indexByID(msgs, id)
	if i < 0 {
		return msgs
	}
	out := slices.Clone(msgs)
	out[i].Content = content
	return out
}

func removeMessage(msgs []models.Message, id string) []models.Message {
	if indexByID(msgs, id) < 0 {
		return msgs
	}
	return slices.DeleteFunc(slices.Clone(msgs), func(m models.Message) bool { return m.ID == id })
}

func prependChannel(list []models.DirectChannel, ch models.DirectChannel) []models.DirectChannel {
	if slices.ContainsFunc(list, func(c models.DirectChannel) bool { return c.ID == ch.ID }) {
		return list
	}
	return append([]models.DirectChannel{ch}, list...)
}

func removeChannel(list []models.DirectChannel, id string) []models.DirectChannel {
	return slices.DeleteFunc(slices.Clone(list), func(c models.DirectChannel) bool { return c.ID == id })
}

func channelWith(list []models.DirectChannel, userID string) (models.DirectChannel, bool) {
	i := slices.IndexFunc(list, func(c models.DirectChannel) bool { return c.ReceiverID == userID })
	if i < 0 {
		return models.DirectChannel{}, false
	}
	return list[i], true
}

func channelByID(list []models.DirectChannel, id string) (models.DirectChannel, bool) {
	i := slices.IndexFunc(list, func(c models.DirectChannel) bool { return c.ID == id })
	if i < 0 {
		return models.DirectChannel{}, false
	}
	return list[i], true
}

func mapChannels(list []models.DirectChannel, match func(models.DirectChannel) bool, fn func(*models.DirectChannel)) []models.DirectChannel {
	out := slices.Clone(list)
	for i := range out {
		if match(out[i]) {
			fn(&out[i])
		}
	}
	return out
}

func insertGroup(list []models.Group, g models.Group) []models.Group {
	if slices.ContainsFunc(list, func(o models.Group) bool { return o.ID == g.ID }) {
		return list
	}
	return append(slices.Clone(list), g)
}

// mergeGroup overwrites the server-owned fields of an existing group. Read
// state stays local.
func mergeGroup(list []models.Group, g models.Group) []models.Group {
	i := slices.IndexFunc(list, func(o models.Group) bool { return o.ID == g.ID })
	if i < 0 {
		return list
	}
	out := slices.Clone(list)
	if g.Name != "" {
		out[i].Name = g.Name
	}
	if g.Icon != "" {
		out[i].Icon = g.Icon
	}
	if g.OwnerID != "" {
		out[i].OwnerID = g.OwnerID
	}
	return out
}

func removeGroup(list []models.Group, id string) []models.Group {
	return slices.DeleteFunc(slices.Clone(list), func(g models.Group) bool { return g.ID == id })
}

func mapGroups(list []models.Group, id string, fn func(*models.Group)) []models.Group {
	out := slices.Clone(list)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
		}
	}
	return out
}
