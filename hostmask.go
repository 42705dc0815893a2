package main

import "fmt"

// Hostmask is the (nick, user, host) triple used for ban/except/invite
// patterns and for matching a user against a mask like "*!*@bad.host".
type Hostmask struct {
	Nick string
	User string
	Host string
}

func (h Hostmask) String() string {
	return fmt.Sprintf("%s!%s@%s", h.Nick, h.User, h.Host)
}

// hostmaskMatch reports whether target (a literal "nick!user@host" string)
// matches pattern, which may contain '*' and '?' wildcards in each of its
// three components. Comparison is casefolded per RFC 1459 casemap.
func hostmaskMatch(pattern, target string) bool {
	return wildcardMatch(casefold(pattern), casefold(target))
}

// wildcardMatch implements glob-style '*'/'?' matching without regex, in
// keeping with the rest of this codebase's manual-loop parsing style.
func wildcardMatch(pattern, s string) bool {
	return wildcardMatchAt(pattern, s, 0, 0)
}

func wildcardMatchAt(pattern, s string, pi, si int) bool {
	for pi < len(pattern) {
		switch pattern[pi] {
		case '*':
			// Collapse consecutive '*'.
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := si; k <= len(s); k++ {
				if wildcardMatchAt(pattern, s, pi, k) {
					return true
				}
			}
			return false
		case '?':
			if si >= len(s) {
				return false
			}
			pi++
			si++
		default:
			if si >= len(s) || s[si] != pattern[pi] {
				return false
			}
			pi++
			si++
		}
	}
	return si == len(s)
}
