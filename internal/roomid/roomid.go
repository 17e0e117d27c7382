// Package roomid validates room identifiers handed out by the room service.
package roomid

import "regexp"

// Marker separates the word part of an identifier from its numeric suffix.
const Marker = "?hs="

var pattern = regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}\?hs=[1-9][0-9]{2}$`)

// IsValid reports whether candidate has the shape xxx-xxxx-xxx?hs=NNN,
// lowercase ASCII letters and a three digit suffix without a leading zero.
func IsValid(candidate string) bool {
	return pattern.MatchString(candidate)
}
