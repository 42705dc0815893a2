package main

import (
	"net"
	"strings"
	"time"
)

// BanType distinguishes the four kinds of ServerBan. See SPEC_FULL.md §3.
type BanType int

// Ban types.
const (
	BanKLine BanType = iota
	BanGLine
	BanZLine
	BanJupe
)

// ServerBan is a network-level access restriction: KLine/GLine match
// user@host, ZLine matches an IP (wildcard or CIDR), Jupe matches a server
// name.
type ServerBan struct {
	ID        string
	Type      BanType
	Pattern   string
	Reason    string
	Setter    string
	Created   time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether the ban has a set expiry that has passed.
func (b *ServerBan) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// matches reports whether the ban's pattern matches the given user@host (for
// KLine/GLine) or the bare IP (for ZLine, using CIDR or wildcard).
func (b *ServerBan) matches(userAtHost, ip string) bool {
	switch b.Type {
	case BanKLine, BanGLine:
		return hostmaskMatch(b.Pattern, userAtHost)
	case BanZLine:
		return zlineMatches(b.Pattern, ip)
	case BanJupe:
		return hostmaskMatch(b.Pattern, userAtHost)
	}
	return false
}

// zlineMatches resolves Open Question (c): CIDR patterns are parsed and
// compared as network/mask instead of the stubbed prefix-string match the
// source had. A pattern without a '/' falls back to wildcard matching
// against the literal IP string.
func zlineMatches(pattern, ip string) bool {
	if strings.Contains(pattern, "/") {
		_, network, err := net.ParseCIDR(pattern)
		if err != nil {
			return false
		}
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return false
		}
		return network.Contains(parsed)
	}
	return wildcardMatch(pattern, ip)
}
