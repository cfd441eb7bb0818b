package report

import (
	"regexp"
	"strings"
)

var reWildcardPart = regexp.MustCompile(`([?.]|\*+|[^?.*]+)`)

// WildcardToRegex compiles a shell-style wildcard ("*" any run, "?" one
// character) into an anchored regexp with "." matching newlines.
func WildcardToRegex(pattern string) (*regexp.Regexp, error) {
	escaped := reWildcardPart.ReplaceAllStringFunc(pattern, func(part string) string {
		switch {
		case part == ".":
			return `\.`
		case part == "?":
			return `.`
		case strings.HasPrefix(part, "*"):
			return `.*`
		default:
			return regexp.QuoteMeta(part)
		}
	})
	return regexp.Compile(`(?s)\A` + escaped + `\z`)
}
