package content

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageLength is the longest message content accepted, in characters.
const MaxMessageLength = 5000

var (
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrContentTooLong = errors.New("message content is too long")

	policy  = bluemonday.StrictPolicy()
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)
)

// Sanitize strips HTML markup from the input and returns plain text.
// Entities escaped by the policy are decoded again, so "&" or "<" typed by a
// user survive as written; clients must render content as text.
func Sanitize(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// PrepareMessage trims and sanitizes message content and checks its length.
func PrepareMessage(input string) (string, error) {
	text := strings.TrimSpace(Sanitize(strings.TrimSpace(input)))
	if text == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrContentTooLong
	}
	return text, nil
}

// ValidateID checks if an identifier contains only allowed characters
// (alphanumeric, dash, underscore, colon) and is not empty.
// Identities are used as document field names, so dots are rejected.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dash, underscore, colon)")
	}
	return nil
}
