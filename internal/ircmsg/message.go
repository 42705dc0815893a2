// Package ircmsg provides encoding and decoding of IRC protocol messages,
// including IRCv3 message tags. It is useful for implementing clients and
// servers.
package ircmsg

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxLineLength is the maximum protocol message line length without tags.
	// It includes CRLF.
	MaxLineLength = 512

	// MaxTaggedLineLength is the maximum line length when a tag block is
	// present, per IRCv3 message-tags.
	MaxTaggedLineLength = 4096

	// MaxTagsLength is the maximum size of the tag block itself, including the
	// leading '@' and trailing space, but not CRLF.
	MaxTagsLength = 4096

	// ReplyWelcome is the RPL_WELCOME response numeric.
	ReplyWelcome = "001"

	// ReplyYoureOper is the RPL_YOUREOPER response numeric.
	ReplyYoureOper = "381"
)

// ErrTruncated is the error returned by Encode if the message gets truncated
// due to encoding to more than the allowed length.
var ErrTruncated = errors.New("message truncated")

// It is not always valid for there to be a parameter with zero characters. If
// there is one, it should have a ':' prefix.
var errEmptyParam = errors.New("parameter with zero characters")

// Message holds a protocol message. See section 2.3.1 in RFC 1459/2812,
// extended with IRCv3 message tags.
type Message struct {
	// Tags holds the '@'-prefixed tag block, if any. A nil/empty map means no
	// tags were present. Values are already unescaped.
	Tags map[string]string

	// Prefix may be blank. It's optional. For S2S messages this is a SID or
	// UID rather than a nick!user@host mask.
	Prefix string

	// Command is the IRC command. For example, PRIVMSG. It may be a numeric.
	Command string

	// There are at most 15 parameters.
	Params []string
}

func (m Message) String() string {
	return fmt.Sprintf("Tags%v Prefix [%s] Command [%s] Params%q", m.Tags,
		m.Prefix, m.Command, m.Params)
}

// SourceNick retrieves the nickname portion of the prefix. It is valid for
// this to be blank as not all messages have prefixes.
func (m Message) SourceNick() string {
	idx := strings.Index(m.Prefix, "!")
	if idx == -1 {
		return ""
	}
	return m.Prefix[:idx]
}

// Tag retrieves a tag value and whether it was present.
func (m Message) Tag(name string) (string, bool) {
	if m.Tags == nil {
		return "", false
	}
	v, ok := m.Tags[name]
	return v, ok
}

// WithTag returns a copy of m with the given tag set. Used by handlers that
// need to stamp a message with e.g. msgid or server-time before framing it.
func (m Message) WithTag(name, value string) Message {
	tags := make(map[string]string, len(m.Tags)+1)
	for k, v := range m.Tags {
		tags[k] = v
	}
	tags[name] = value
	m.Tags = tags
	return m
}

// escapeTagValue applies the IRCv3 tag-value escaping rules: ';' -> '\:',
// ' ' -> '\s', '\\' -> '\\\\', CR -> '\r', LF -> '\n'.
func escapeTagValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// unescapeTagValue reverses escapeTagValue. An unrecognized '\x' sequence
// yields just 'x', per the IRCv3 spec.
func unescapeTagValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i+1 == len(v) {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}
