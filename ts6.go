package main

import "strings"

// TS6SID is a 3-character server id: a digit followed by two alphanumerics.
type TS6SID string

// TS6UID is a 9-character user id: the owning server's SID followed by 6
// base-36 uppercase characters, unique for the lifetime of the network.
type TS6UID string

const ts6IDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// isValidSID checks the 3-character server-id format: first a digit, then
// two alphanumeric (upper) characters.
func isValidSID(s string) bool {
	if len(s) != 3 {
		return false
	}
	if s[0] < '0' || s[0] > '9' {
		return false
	}
	for i := 1; i < 3; i++ {
		if !isAlnumUpper(s[i]) {
			return false
		}
	}
	return true
}

// isValidUID checks the 9-character user-id format: a valid SID followed by
// 6 base-36 uppercase characters.
func isValidUID(s string) bool {
	if len(s) != 9 {
		return false
	}
	if !isValidSID(s[:3]) {
		return false
	}
	for i := 3; i < 9; i++ {
		if !isAlnumUpper(s[i]) {
			return false
		}
	}
	return true
}

func isAlnumUpper(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')
}

// ts6IDGenerator mints successive 6-character base-36 suffixes the way
// ratbox-derived TS6 implementations do: a counter over the 36-character
// alphabet whose last position changes fastest, carrying into the position
// before it on overflow. This
// generalizes teacher's per-server local id counter (originally only ever
// exercised through user_client.go's getTS6ID/getTS6UID).
type ts6IDGenerator struct {
	sid     TS6SID
	current [6]byte
}

func newTS6IDGenerator(sid TS6SID) *ts6IDGenerator {
	g := &ts6IDGenerator{sid: sid}
	for i := range g.current {
		g.current[i] = 'A'
	}
	return g
}

// next returns the next UID for this server, advancing the counter.
func (g *ts6IDGenerator) next() TS6UID {
	suffix := string(g.current[:])
	g.advance()
	return TS6UID(string(g.sid) + suffix)
}

func (g *ts6IDGenerator) advance() {
	for i := len(g.current) - 1; i >= 0; i-- {
		idx := strings.IndexByte(ts6IDAlphabet, g.current[i])
		if idx < len(ts6IDAlphabet)-1 {
			g.current[i] = ts6IDAlphabet[idx+1]
			return
		}
		g.current[i] = ts6IDAlphabet[0]
		// Carry into the next (more significant, i.e. earlier) position.
	}
	// Wrapped completely around. In practice this would mean billions of
	// connections on one server without a restart; we just keep cycling.
}
