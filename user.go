package main

import (
	"fmt"
	"time"
)

// UserMode is a single user-mode flag.
type UserMode byte

// User modes. See SPEC_FULL.md §3 "UserModes".
const (
	UserModeInvisible UserMode = 'i'
	UserModeWallops   UserMode = 'w'
	UserModeOperator  UserMode = 'o'
	UserModeRegistered UserMode = 'r'
	UserModeSecure    UserMode = 'Z'
	UserModeAway      UserMode = 'a'
	UserModeBot       UserMode = 'B'
	UserModeCallerID  UserMode = 'g'
)

// RegState is a session's registration state, per SPEC_FULL.md §4.2.
type RegState int

// Registration states.
const (
	RegStateNew RegState = iota
	RegStateCapNegotiating
	RegStateNickGiven
	RegStateUserGiven
	RegStateRegistered
	RegStateClosed
)

// monitorLimit is the maximum number of entries a user's MONITOR list may
// hold. See ISUPPORT MONITOR=100.
const monitorLimit = 100

// whowasLimit bounds how many historical entries WHOWAS keeps per nick.
const whowasLimit = 5

// WhowasEntry is one historical WHOWAS snapshot, recorded when a user quits
// or changes nick away from it.
type WhowasEntry struct {
	Nick     string
	Username string
	Hostname string
	RealName string
	Server   string
	When     time.Time
}

// User holds information about a user. It may be remote or local.
type User struct {
	DisplayNick string
	HopCount    int
	NickTS      int64
	Modes       map[UserMode]struct{}
	Username    string // ident as received over UID; local users get "~" + the USER ident
	Hostname    string // displayed (possibly cloaked) host
	RealHost    string // the real, uncloaked hostname
	IP          string // real IP, as a string
	UID         TS6UID
	RealName    string

	Account      *string
	AwayMessage  *string
	RegState     RegState
	ConnectedAt  time.Time
	LastActivity time.Time

	// Monitor is the set of (casefolded) nicknames this user is monitoring.
	// Bounded by monitorLimit.
	Monitor map[string]struct{}

	// Accept is the caller-ID (+g) accept list: UIDs allowed to message this
	// user without triggering RPL_TARGUMODEG.
	Accept map[TS6UID]struct{}

	// callerIDLastNotify rate-limits the +g rejection notice to the user to
	// once per minute per sender.
	callerIDLastNotify map[string]time.Time

	// Channel name (canonicalized) to the member modes this user holds there.
	Channels map[string]MemberModes

	// LocalUser set if this is a local user.
	LocalUser *LocalUser

	// This is the server we heard about the user from. It is not necessarily
	// the server they are on -- it could be on a server linked to the one we
	// are linked to.
	ClosestServer *LocalServer

	// This is the server the user is connected to.
	Server *Server
}

func (u *User) String() string {
	return fmt.Sprintf("%s: %s", u.UID, u.nickUhost())
}

func (u *User) nickUhost() string {
	return fmt.Sprintf("%s!%s@%s", u.DisplayNick, u.Username, u.Hostname)
}

func (u *User) isOperator() bool {
	_, exists := u.Modes[UserModeOperator]
	return exists
}

func (u *User) isAway() bool {
	_, exists := u.Modes[UserModeAway]
	return exists
}

func (u *User) isCallerID() bool {
	_, exists := u.Modes[UserModeCallerID]
	return exists
}

func (u *User) isInvisible() bool {
	_, exists := u.Modes[UserModeInvisible]
	return exists
}

func (u *User) onChannel(channel *Channel) bool {
	_, exists := u.Channels[channel.Name]
	return exists
}

// modesString renders the user's modes for burst/WHOIS, e.g. "+iw".
func (u *User) modesString() string {
	s := "+"
	for m := range u.Modes {
		s += string(m)
	}
	return s
}

func (u *User) isLocal() bool {
	return u.LocalUser != nil
}

func (u *User) isRemote() bool {
	return !u.isLocal()
}

// addMonitor adds a nick to the monitor list. Returns false if the list is
// already at monitorLimit (the caller should emit ERR_MONLISTFULL).
func (u *User) addMonitor(nick string) bool {
	if u.Monitor == nil {
		u.Monitor = map[string]struct{}{}
	}
	key := canonicalizeNick(nick)
	if _, exists := u.Monitor[key]; exists {
		return true
	}
	if len(u.Monitor) >= monitorLimit {
		return false
	}
	u.Monitor[key] = struct{}{}
	return true
}

func (u *User) removeMonitor(nick string) {
	delete(u.Monitor, canonicalizeNick(nick))
}
