package util

import (
	"regexp"
	"strings"
)

var (
	separators = regexp.MustCompile(`[\s\-.()]+`)
	dialable   = regexp.MustCompile(`^\+?\d*$`)
	e164        = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
)

// NormalizePhone drops formatting separators (space, '-', '.', '(' and ')')
// and rewrites a leading international "00" prefix to '+'. Input holding
// anything else besides digits and one leading '+' yields "".
func NormalizePhone(raw string) string {
	s := separators.ReplaceAllString(strings.TrimSpace(raw), "")
	if !dialable.MatchString(s) {
		return ""
	}
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return s
}

// ValidE164 reports whether s is a '+'-prefixed E.164 number.
func ValidE164(s string) bool {
	return e164.MatchString(s)
}
