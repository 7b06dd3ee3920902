package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActiveConversation(t *testing.T) {
	for path, want := range map[string][2]string{
		"/dm/u2":         {"dm", "u2"},
		"/dm/channel/c1": {"dm-channel", "c1"},
		"/chat/42":       {"chat", "42"},
		"/home":          {"", ""},
		"":               {"", ""},
	} {
		kind, id := ActiveConversation(path)
		require.Equal(t, want[0], kind, path)
		require.Equal(t, want[1], id, path)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory("/dm/u2")
	require.Equal(t, "/dm/u2", h.CurrentPath())
	require.Nil(t, h.Pushed())

	h.Push(HomePath)
	require.Equal(t, HomePath, h.CurrentPath())
	require.Equal(t, []string{HomePath}, h.Pushed())
}

func TestStatic(t *testing.T) {
	s := NewStatic("u1")
	require.True(t, s.IsAuthenticated())
	require.Empty(t, s.ConnectionID())

	s.SetConnectionID("conn-1")
	require.Equal(t, "conn-1", s.ConnectionID())

	require.False(t, NewStatic("").IsAuthenticated())
}

func TestUI(t *testing.T) {
	var got []Modal
	ui := NewUI(func(m Modal) { got = append(got, m) })

	ui.SetModal(Modal{Type: ModalUserProfile, UserID: "u2"})
	require.Equal(t, ModalUserProfile, ui.Modal().Type)

	ui.Reset()
	require.Equal(t, Modal{}, ui.Modal())
	require.Len(t, got, 2)
}
