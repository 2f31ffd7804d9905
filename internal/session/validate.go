package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxNameLen = 64

var (
	nameRegexp   = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	invalidRunes = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// ErrInvalidName is returned for session names that cannot be used as a
// directory under the sessions root.
var ErrInvalidName = errors.New("invalid session name")

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, nameRegexp)
	}
	return nil
}

// NameForUser derives a session name from a widget user id so each local
// identity keeps its own cache. Returns "" when nothing usable remains.
func NameForUser(userID string) string {
	name := invalidRunes.ReplaceAllString(strings.ToLower(strings.TrimSpace(userID)), "-")
	name = strings.Trim(name, "-")
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "-")
	}
	return name
}
