package ircmsg

import (
	"fmt"
	"sort"
	"strings"
)

// Encode encodes the Message into a raw protocol message string.
//
// The resulting string will have a trailing CRLF.
//
// If encoding the message would exceed the allowed maximum length, we
// truncate and return as much as we can and return ErrTruncated. This
// truncated message may still be usable.
//
// It does not enforce command specific semantics.
func (m Message) Encode() (string, error) {
	s := ""
	maxLen := MaxLineLength

	if len(m.Tags) > 0 {
		tagBlock := encodeTags(m.Tags)
		if len(tagBlock)+1 > MaxTagsLength {
			return "", fmt.Errorf("tag block too long")
		}
		s += tagBlock + " "
		maxLen = MaxTaggedLineLength
	}

	if len(m.Prefix) > 0 {
		s += ":" + m.Prefix + " "
	}

	s += m.Command

	if len(s)+2 > maxLen {
		return "", fmt.Errorf("message with only tags/prefix/command is too long")
	}

	truncated := false

	// Both RFC 1459 and RFC 2812 limit us to 15 parameters.
	if len(m.Params) > 15 {
		return "", fmt.Errorf("too many parameters")
	}

	for i, param := range m.Params {
		// We need to prefix the parameter with a colon in a few cases:
		//
		// 1) When there is a space in the parameter
		// 2) When the first character is a colon
		// 3) When this is the last parameter and it is empty.
		if idx := strings.IndexAny(param, " "); idx != -1 ||
			(param != "" && param[0] == ':') ||
			param == "" {
			param = ":" + param

			// This must be the last parameter. There can only be one <trailing>.
			if i+1 != len(m.Params) {
				return "", fmt.Errorf(
					"parameter problem: ':' or ' ' outside last parameter")
			}
		}

		if len(s)+1+len(param)+2 > maxLen {
			lengthUsed := len(s) + 1 + 2
			lengthAvailable := maxLen - lengthUsed

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

// encodeTags serializes a tag map into the '@key=value;...' form, escaping
// values per the IRCv3 message-tags spec. Keys are sorted for deterministic
// output (useful for tests and round-tripping).
func encodeTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('@')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if v := tags[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(escapeTagValue(v))
		}
	}
	return b.String()
}
