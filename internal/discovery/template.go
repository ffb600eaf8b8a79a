package discovery

import (
	"strings"
	"unicode"
)

// templateMarker precedes the payload key in a value template, as in
// "{{ value_json.temp }}".
const templateMarker = "value_json."

// TemplateField returns the JSON key a sensor value template reads.
//
// The template must open with "{{", optionally followed by spaces, and
// then the "value_json." marker. The key is the longest run of word
// characters (letters, digits, underscore) after the marker. Filters
// and anything else after the key are ignored. Templates of any other
// shape, including an empty key, report ok == false.
func TemplateField(tpl string) (field string, ok bool) {
	s := strings.TrimLeftFunc(tpl, unicode.IsSpace)
	s, ok = strings.CutPrefix(s, "{{")
	if !ok {
		return "", false
	}
	s = strings.TrimLeft(s, " ")
	s, ok = strings.CutPrefix(s, templateMarker)
	if !ok {
		return "", false
	}

	end := strings.IndexFunc(s, func(r rune) bool { return !isWordRune(r) })
	if end < 0 {
		end = len(s)
	}
	if end == 0 {
		return "", false
	}
	return s[:end], true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
