package xmodel

import (
	"strings"

	"github.com/pkg/errors"
)

// Token is one non-comment line split into a keyword and its arguments.
type Token struct {
	Keyword string
	Args    []string
}

// Tokenize splits line on single spaces. ok is false for empty and comment lines.
// Quoted strings are not special: a name containing a space yields extra arguments.
func Tokenize(line string) (tok Token, ok bool, err error) {
	if len(line) == 0 {
		return tok, false, nil
	}
	if line[0] == '/' {
		if len(line) < 2 {
			return tok, false, errors.Wrap(ErrMalformedLine, "truncated comment")
		}
		if line[1] == '/' {
			return tok, false, nil
		}
	}
	sp := strings.Split(line, " ")
	return Token{Keyword: sp[0], Args: sp[1:]}, true, nil
}

// trimQuotes removes one pair of surrounding double quotes if present.
func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// stripEnds drops the first and last character (the quotes around MATERIAL fields).
func stripEnds(s string) (string, error) {
	if len(s) < 2 {
		return "", errors.Wrapf(ErrMalformedLine, "expected quoted string, got %q", s)
	}
	return s[1 : len(s)-1], nil
}
