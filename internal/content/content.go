package content

import (
	"errors"
	"regexp"
	"strings"
)

var keyRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MessageText trims a chat message. Messages are plain text and are stored
// exactly as returned. An empty result means the message must not be sent.
func MessageText(input string) string {
	return strings.TrimSpace(input)
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dash, underscore) and is not empty. Usernames are used as
// realtime path keys, so dots are not allowed.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !keyRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dash, underscore)")
	}
	return nil
}

func ValidateCommunityID(id string) error {
	if id == "" {
		return errors.New("community id cannot be empty")
	}
	if !keyRegex.MatchString(id) {
		return errors.New("community id contains invalid characters (allowed: alphanumeric, dash, underscore)")
	}
	return nil
}
