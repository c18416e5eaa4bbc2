package ircmsg

import (
	"fmt"
	"strings"
)

// Encode encodes the Message into a raw protocol line with a trailing CRLF.
//
// If encoding would exceed MaxLineLength, the result is truncated and
// ErrTruncated is returned alongside the (still usable) truncated line.
//
// It does not enforce command specific semantics.
func (m Message) Encode() (string, error) {
	s := ""

	if len(m.Prefix) > 0 {
		s += ":" + m.Prefix + " "
	}
	s += m.Command

	if len(s)+2 > MaxLineLength {
		return "", fmt.Errorf("message with only prefix/command is too long")
	}

	if len(m.Params) > 15 {
		return "", fmt.Errorf("too many parameters")
	}

	truncated := false

	for i, param := range m.Params {
		// Needs a leading ':' when it contains a space, starts with ':', or is
		// empty (so an empty trailing parameter is still visible on the wire,
		// e.g. an unset TOPIC).
		if idx := strings.IndexAny(param, " "); idx != -1 ||
			(param != "" && param[0] == ':') || param == "" {
			param = ":" + param

			if i+1 != len(m.Params) {
				return "", fmt.Errorf(
					"parameter problem: ':' or ' ' outside last parameter")
			}
		}

		if len(s)+1+len(param)+2 > MaxLineLength {
			lengthUsed := len(s) + 1 + 2
			lengthAvailable := MaxLineLength - lengthUsed

			if lengthAvailable > 0 {
				s += " " + param[0:lengthAvailable]
			}

			truncated = true
			break
		}

		s += " " + param
	}

	s += "\r\n"

	if truncated {
		return s, ErrTruncated
	}

	return s, nil
}
