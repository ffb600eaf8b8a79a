// Package topic matches concrete MQTT topic names against subscription
// filters. Matching is segment based: "+" stands for exactly one
// segment of any content and a trailing "#" for any number of remaining
// segments. Everything else compares literally and case-sensitively.
//
// The functions here are pure. They are called from the message router
// while no lock is held, for both configuration and state topics.
package topic

import "strings"

// Wildcard and separator tokens of the MQTT topic grammar.
const (
	SingleLevel = "+"
	MultiLevel  = "#"
	Separator   = "/"
)

// Matches reports whether the concrete topic is covered by pattern.
// The match is anchored at both ends. A pattern that does not follow
// the wildcard grammar (for example "#" in the middle) never matches
// anything other than an identical topic string.
func Matches(topic, pattern string) bool {
	if topic == pattern {
		return true
	}

	ts := strings.Split(topic, Separator)
	ps := strings.Split(pattern, Separator)

	for i, p := range ps {
		switch p {
		case MultiLevel:
			return i == len(ps)-1
		case SingleLevel:
			if i >= len(ts) {
				return false
			}
		default:
			if i >= len(ts) || ts[i] != p {
				return false
			}
		}
	}
	return len(ts) == len(ps)
}

// MatchesAny reports whether topic is covered by at least one of the
// patterns.
func MatchesAny(topic string, patterns []string) bool {
	for _, p := range patterns {
		if Matches(topic, p) {
			return true
		}
	}
	return false
}

// Segments returns the number of levels in topic.
func Segments(topic string) int {
	return strings.Count(topic, Separator) + 1
}
