package session

import "sync"

type ModalType string

const (
	ModalNone        ModalType = ""
	ModalUserProfile ModalType = "user-profile"
)

type Modal struct {
	Type   ModalType
	UserID string
}

// UI coordinates page-level state shared by views, such as the open modal.
// One UI lives per signed-in session and is reset on sign-out.
type UI struct {
	mu       sync.Mutex
	modal    Modal
	onChange func(Modal)
}

func NewUI(onChange func(Modal)) *UI {
	return &UI{onChange: onChange}
}

func (u *UI) SetModal(m Modal) {
	u.mu.Lock()
	u.modal = m
	cb := u.onChange
	u.mu.Unlock()

	if cb != nil {
		cb(m)
	}
}

func (u *UI) Modal() Modal {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.modal
}

// Reset closes any open modal. Call it on sign-out.
func (u *UI) Reset() {
	u.SetModal(Modal{})
}
