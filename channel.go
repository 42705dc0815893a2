package main

import "time"

// MemberModes is a bitset over a member's per-channel prefix modes:
// owner (~), admin (&), op (@), halfop (%), voice (+).
type MemberModes uint8

// Member mode bits, highest rank first so Prefix() can walk them in order.
const (
	MemberOwner MemberModes = 1 << iota
	MemberAdmin
	MemberOp
	MemberHalfop
	MemberVoice
)

var memberModeOrder = []struct {
	bit    MemberModes
	prefix byte
	mode   byte
}{
	{MemberOwner, '~', 'q'},
	{MemberAdmin, '&', 'a'},
	{MemberOp, '@', 'o'},
	{MemberHalfop, '%', 'h'},
	{MemberVoice, '+', 'v'},
}

// Prefix renders the highest-ranked symbol for these member modes, or "" if
// none are set. Used for NAMES/WHO single-prefix output.
func (m MemberModes) Prefix() string {
	for _, e := range memberModeOrder {
		if m&e.bit != 0 {
			return string(e.prefix)
		}
	}
	return ""
}

// Prefixes renders every held prefix symbol, highest rank first, for
// multi-prefix.
func (m MemberModes) Prefixes() string {
	s := ""
	for _, e := range memberModeOrder {
		if m&e.bit != 0 {
			s += string(e.prefix)
		}
	}
	return s
}

// outranks reports whether m holds a strictly higher-ranked prefix than
// other. The SJOIN merge does not use it: when the remote TS is newer it
// withholds every remote prefix, whatever its rank.
func (m MemberModes) outranks(other MemberModes) bool {
	for _, e := range memberModeOrder {
		mHas := m&e.bit != 0
		oHas := other&e.bit != 0
		if mHas != oHas {
			return mHas
		}
	}
	return false
}

// ChannelMode is a single channel-mode flag (the non-list, non-parameter
// ones; b/e/I/k/l/F/L get dedicated fields below).
type ChannelMode byte

// Channel modes. See ISUPPORT CHANMODES=beI,k,l,cCimnpRsSt plus the
// extension flags D, g and f (f's limits, when present, sit in
// Channel.Flood; j, L and F are not in this set).
const (
	ChanModeNoExternal ChannelMode = 'n'
	ChanModeTopicLock  ChannelMode = 't'
	ChanModeSecret     ChannelMode = 's'
	ChanModePrivate    ChannelMode = 'p'
	ChanModeModerated  ChannelMode = 'm'
	ChanModeInviteOnly ChannelMode = 'i'
	ChanModeOpersOnly  ChannelMode = 'O'
	ChanModeNoColour   ChannelMode = 'c'
	ChanModeNoCTCP     ChannelMode = 'C'
	ChanModeRegOnly    ChannelMode = 'R'
	ChanModeStripColor ChannelMode = 'S'
	ChanModeDelayJoin  ChannelMode = 'D'
	ChanModeCallerID   ChannelMode = 'g'
	ChanModeFloodProt  ChannelMode = 'f'
)

// MaskEntry is a ban/except/invex list entry.
type MaskEntry struct {
	Mask    string
	Setter  string
	Created time.Time
}

// Channel holds everything to do with a channel.
type Channel struct {
	// Canonicalized name.
	Name string

	// Members in the channel and the prefix modes each holds.
	// If we have zero members and the channel is not registered, it should
	// not exist.
	Members map[TS6UID]MemberModes

	// Users who joined while +D (delayed join) was set and have not yet been
	// announced. They are present in Members but excluded from JOIN/NAMES
	// broadcasts until they become visible.
	DelayedJoin map[TS6UID]struct{}

	// Current topic. May be blank.
	Topic       string
	TopicSetter string
	TopicSetAt  time.Time

	// Channel TS. Changes on channel creation (or if another server tells us
	// an older TS, per the burst-merge rule).
	TS int64

	Modes map[ChannelMode]struct{}

	Key   *string
	Limit *int

	// Forward (+F): where to send a JOIN rejected for being banned / invite
	// only / keyed. Redirect (+L): where to send a JOIN rejected for being
	// full. Both are one-hop only (SPEC_FULL.md §4.4).
	Forward  *string
	Redirect *string

	Bans    []MaskEntry
	Excepts []MaskEntry
	Invex   []MaskEntry

	// Invited holds UIDs given a one-shot INVITE bypass of +i, cleared once
	// used by a successful JOIN.
	Invited map[TS6UID]struct{}

	Registered bool

	Flood        *floodSetting
	JoinThrottle *throttleSetting

	// floodTrackers is per-(user) sliding-window state for +f, keyed by UID.
	floodTrackers map[TS6UID]*slidingWindow
	// joinTimes is the sliding window backing +j.
	joinTimes []time.Time
}

func newChannel(name string, ts int64) *Channel {
	return &Channel{
		Name:    name,
		Members: map[TS6UID]MemberModes{},
		TS:      ts,
		Modes:   map[ChannelMode]struct{}{},
	}
}

func (c *Channel) hasMode(m ChannelMode) bool {
	_, exists := c.Modes[m]
	return exists
}

func (c *Channel) modesString() string {
	s := "+"
	for m := range c.Modes {
		s += string(m)
	}
	if c.Key != nil {
		s += "k"
	}
	if c.Limit != nil {
		s += "l"
	}
	return s
}

// isEmpty reports whether the channel should be destroyed: no members and
// not registered. See SPEC_FULL.md §3 Channel invariants.
func (c *Channel) isEmpty() bool {
	return len(c.Members) == 0 && !c.Registered
}

func (c *Channel) matchesBan(mask string) bool {
	for _, b := range c.Bans {
		if hostmaskMatch(b.Mask, mask) {
			return true
		}
	}
	return false
}

func (c *Channel) matchesExcept(mask string) bool {
	for _, e := range c.Excepts {
		if hostmaskMatch(e.Mask, mask) {
			return true
		}
	}
	return false
}

func (c *Channel) matchesInvex(mask string) bool {
	for _, e := range c.Invex {
		if hostmaskMatch(e.Mask, mask) {
			return true
		}
	}
	return false
}
