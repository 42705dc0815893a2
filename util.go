package main

// isNumericCommand reports whether command is a 3-digit numeric reply, which
// must carry the target nick as its first parameter.
func isNumericCommand(command string) bool {
	if len(command) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if command[i] < '0' || command[i] > '9' {
			return false
		}
	}
	return true
}

// 50 from RFC
const maxChannelLength = 50

// Arbitrary. Something low enough we won't hit message limit.
const maxTopicLength = 300

// Arbitrary, matching typical ratbox-derived ircds.
const maxKickLength = 300

const maxAwayLength = 200

// Per-server limit on the number of channels any one client may register
// via CHANLIMIT.
const maxChannelsPerUser = 100

// isValidNick checks if a nickname is valid.
//
// RFC 2812 grammar: nickname = ( letter / special ) *8( letter / digit /
// special / "-" ), where special = "[" / "]" / "\" / "`" / "_" / "^" / "{" /
// "|" / "}". We don't cap at 9 here; maxLen is a configured value.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}

	for i := 0; i < len(n); i++ {
		c := n[i]

		if isNickLetter(c) || isNickSpecial(c) {
			continue
		}

		if c >= '0' && c <= '9' {
			// No digits in first position.
			if i == 0 {
				return false
			}
			continue
		}

		if c == '-' {
			if i == 0 {
				return false
			}
			continue
		}

		return false
	}

	return true
}

func isNickLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNickSpecial(c byte) bool {
	switch c {
	case '[', ']', '\\', '`', '_', '^', '{', '|', '}':
		return true
	}
	return false
}

// isValidUser checks if a user (USER command ident) is valid.
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}

	for i := 0; i < len(u); i++ {
		c := u[i]
		if isNickLetter(c) || (c >= '0' && c <= '9') {
			continue
		}
		switch c {
		case '-', '_', '.', '~':
			continue
		}
		return false
	}

	return true
}

// isValidRealName checks a realname (GECOS) field: anything but NUL/CR/LF.
func isValidRealName(r string) bool {
	if len(r) == 0 {
		return false
	}
	for i := 0; i < len(r); i++ {
		if r[i] == '\x00' || r[i] == '\r' || r[i] == '\n' {
			return false
		}
	}
	return true
}

// isValidChannel checks a channel name for validity.
//
// You should canonicalize it before using this function.
func isValidChannel(c string) bool {
	if len(c) == 0 || len(c) > maxChannelLength {
		return false
	}

	if c[0] != '#' && c[0] != '&' {
		return false
	}

	for i := 1; i < len(c); i++ {
		switch c[i] {
		case ' ', ',', ':', '\x00', '\r', '\n', '\x07':
			return false
		}
	}

	return true
}
