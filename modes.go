package main

import (
	"strconv"
	"time"
)

// simpleChannelModes are the flags with no parameter, applied directly to
// Channel.Modes.
var simpleChannelModes = map[byte]ChannelMode{
	'n': ChanModeNoExternal,
	't': ChanModeTopicLock,
	's': ChanModeSecret,
	'p': ChanModePrivate,
	'm': ChanModeModerated,
	'i': ChanModeInviteOnly,
	'O': ChanModeOpersOnly,
	'c': ChanModeNoColour,
	'C': ChanModeNoCTCP,
	'R': ChanModeRegOnly,
	'S': ChanModeStripColor,
	'D': ChanModeDelayJoin,
	'g': ChanModeCallerID,
	'f': ChanModeFloodProt,
}

var memberPrefixModes = map[byte]MemberModes{
	'q': MemberOwner,
	'a': MemberAdmin,
	'o': MemberOp,
	'h': MemberHalfop,
	'v': MemberVoice,
}

// applyChannelModeString applies a MODE/TMODE parameter list (mode string
// plus its arguments) to channel, mutating channel state in place. Used for
// both client-issued MODE and server-relayed MODE/TMODE -- callers that need
// to know which list-mode entries were added/removed for an ACK pass should
// track that themselves; this only mutates state. cb resolves member-prefix
// targets (nick/UID) to *User.
func applyChannelModeString(channel *Channel, cb *Catbox, params []string) {
	if len(params) == 0 {
		return
	}

	modeStr := params[0]
	args := params[1:]
	argPos := 0

	nextArg := func() (string, bool) {
		if argPos >= len(args) {
			return "", false
		}
		a := args[argPos]
		argPos++
		return a, true
	}

	adding := true
	for _, c := range modeStr {
		switch c {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		b := byte(c)

		if cm, ok := simpleChannelModes[b]; ok {
			if adding {
				channel.Modes[cm] = struct{}{}
			} else {
				delete(channel.Modes, cm)
			}
			continue
		}

		if prefixBit, ok := memberPrefixModes[b]; ok {
			arg, ok := nextArg()
			if !ok {
				continue
			}
			target := resolveMemberTarget(cb, channel, arg)
			if target == "" {
				continue
			}
			if adding {
				channel.Members[target] |= prefixBit
			} else {
				channel.Members[target] &^= prefixBit
			}
			if u, exists := cb.Users[target]; exists {
				u.Channels[channel.Name] = channel.Members[target]
			}
			continue
		}

		switch b {
		case 'k':
			if adding {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				channel.Key = &arg
			} else {
				nextArg()
				channel.Key = nil
			}
		case 'l':
			if adding {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				n, err := strconv.Atoi(arg)
				if err != nil {
					continue
				}
				channel.Limit = &n
			} else {
				channel.Limit = nil
			}
		case 'F':
			if adding {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				channel.Forward = &arg
			} else {
				channel.Forward = nil
			}
		case 'L':
			if adding {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				channel.Redirect = &arg
			} else {
				channel.Redirect = nil
			}
		case 'b':
			arg, ok := nextArg()
			if !ok {
				continue
			}
			applyListMode(&channel.Bans, arg, adding)
		case 'e':
			arg, ok := nextArg()
			if !ok {
				continue
			}
			applyListMode(&channel.Excepts, arg, adding)
		case 'I':
			arg, ok := nextArg()
			if !ok {
				continue
			}
			applyListMode(&channel.Invex, arg, adding)
		}
	}
}

func applyListMode(list *[]MaskEntry, mask string, adding bool) {
	if adding {
		for _, e := range *list {
			if e.Mask == mask {
				return
			}
		}
		*list = append(*list, MaskEntry{Mask: mask, Created: time.Now()})
		return
	}

	for i, e := range *list {
		if e.Mask == mask {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// resolveMemberTarget resolves a prefix-mode argument (a UID over S2S, a
// nick from a client) to the member UID it names, or "" if not a member.
func resolveMemberTarget(cb *Catbox, channel *Channel, arg string) TS6UID {
	if isValidUID(arg) {
		uid := TS6UID(arg)
		if _, member := channel.Members[uid]; member {
			return uid
		}
		return ""
	}

	uid, exists := cb.Nicks[canonicalizeNick(arg)]
	if !exists {
		return ""
	}
	if _, member := channel.Members[uid]; !member {
		return ""
	}
	return uid
}
