package content

import (
	"errors"
	"html"
	"regexp"
	"strings"

	"chatsync/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy  = bluemonday.UGCPolicy()
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe markup from text that arrived over a channel. The
// result is text, not HTML: characters such as <, & and quotes come back as
// they were sent and are escaped at render time.
func Sanitize(input string) string {
	if !strings.ContainsRune(input, '<') {
		return input
	}
	return html.UnescapeString(policy.Sanitize(input))
}

// SanitizeUser cleans the display fields of a user attached to an event.
func SanitizeUser(u *models.UserInfo) *models.UserInfo {
	if u == nil {
		return nil
	}
	out := *u
	out.Name = Sanitize(out.Name)
	return &out
}

// SanitizeMessage returns msg with its content and author cleaned.
func SanitizeMessage(msg models.Message) models.Message {
	msg.Content = Sanitize(msg.Content)
	msg.Author = SanitizeUser(msg.Author)
	return msg
}

// ValidateID checks that a user or group id can be embedded in a channel
// name: alphanumeric, dot, dash or underscore, and not empty.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
