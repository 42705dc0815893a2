package main

import (
	"fmt"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// numericBuilder constructs numeric reply messages, one function per
// numeric. Not every reply goes through it: many handlers in
// local_user.go, local_client.go and local_server.go build numerics
// inline with messageFromServer and their own text.
type numericBuilder struct {
	serverName string
}

func newNumericBuilder(serverName string) *numericBuilder {
	return &numericBuilder{serverName: serverName}
}

func (n *numericBuilder) build(numeric, target string, params ...string) ircmsg.Message {
	allParams := append([]string{target}, params...)
	return ircmsg.Message{
		Prefix:  n.serverName,
		Command: numeric,
		Params:  allParams,
	}
}

// --- 001-005: welcome burst ---

func (n *numericBuilder) welcome(nick, nickUhost string) ircmsg.Message {
	return n.build("001", nick, fmt.Sprintf("Welcome to the Internet Relay Network %s", nickUhost))
}

func (n *numericBuilder) yourHost(nick, version string) ircmsg.Message {
	return n.build("002", nick, fmt.Sprintf("Your host is %s, running version %s", n.serverName, version))
}

func (n *numericBuilder) created(nick, createdDate string) ircmsg.Message {
	return n.build("003", nick, fmt.Sprintf("This server was created %s", createdDate))
}

func (n *numericBuilder) myInfo(nick, version, userModes, chanModes string) ircmsg.Message {
	return n.build("004", nick, n.serverName, version, userModes, chanModes)
}

// isupport splits tokens into groups of at most 13, per SPEC_FULL.md §6.
func (n *numericBuilder) isupport(nick string, tokens []string) []ircmsg.Message {
	var out []ircmsg.Message
	for i := 0; i < len(tokens); i += 13 {
		end := i + 13
		if end > len(tokens) {
			end = len(tokens)
		}
		group := tokens[i:end]
		params := append(append([]string{}, group...), "are supported by this server")
		out = append(out, n.build("005", nick, params...))
	}
	return out
}

// --- LUSERS: 251-255, 265-266 ---

func (n *numericBuilder) luserClient(nick string, users, invisible, servers int) ircmsg.Message {
	return n.build("251", nick, fmt.Sprintf("There are %d users and %d invisible on %d servers", users, invisible, servers))
}

func (n *numericBuilder) luserOp(nick string, count int) ircmsg.Message {
	return n.build("252", nick, fmt.Sprintf("%d", count), "operator(s) online")
}

func (n *numericBuilder) luserUnknown(nick string, count int) ircmsg.Message {
	return n.build("253", nick, fmt.Sprintf("%d", count), "unknown connection(s)")
}

func (n *numericBuilder) luserChannels(nick string, count int) ircmsg.Message {
	return n.build("254", nick, fmt.Sprintf("%d", count), "channels formed")
}

func (n *numericBuilder) luserMe(nick string, clients, servers int) ircmsg.Message {
	return n.build("255", nick, fmt.Sprintf("I have %d clients and %d servers", clients, servers))
}

func (n *numericBuilder) localUsers(nick string, current, max int) ircmsg.Message {
	return n.build("265", nick, fmt.Sprintf("Current local users %d, max %d", current, max))
}

func (n *numericBuilder) globalUsers(nick string, current, max int) ircmsg.Message {
	return n.build("266", nick, fmt.Sprintf("Current global users %d, max %d", current, max))
}

// --- MOTD: 375/372/376, 422 ---

func (n *numericBuilder) motdStart(nick string) ircmsg.Message {
	return n.build("375", nick, fmt.Sprintf("- %s Message of the day -", n.serverName))
}

func (n *numericBuilder) motd(nick, line string) ircmsg.Message {
	return n.build("372", nick, "- "+line)
}

func (n *numericBuilder) endOfMotd(nick string) ircmsg.Message {
	return n.build("376", nick, "End of /MOTD command")
}

func (n *numericBuilder) noMotd(nick string) ircmsg.Message {
	return n.build("422", nick, "MOTD File is missing")
}

// --- channel state: 324, 329, 331/332/333, 353, 366 ---

func (n *numericBuilder) channelModeIs(nick, channel, modes string, params ...string) ircmsg.Message {
	p := append([]string{modes}, params...)
	return n.build("324", nick, append([]string{channel}, p...)...)
}

func (n *numericBuilder) creationTime(nick, channel string, ts int64) ircmsg.Message {
	return n.build("329", nick, channel, fmt.Sprintf("%d", ts))
}

func (n *numericBuilder) noTopic(nick, channel string) ircmsg.Message {
	return n.build("331", nick, channel, "No topic is set")
}

func (n *numericBuilder) topic(nick, channel, topic string) ircmsg.Message {
	return n.build("332", nick, channel, topic)
}

func (n *numericBuilder) topicWhoTime(nick, channel, setter string, ts int64) ircmsg.Message {
	return n.build("333", nick, channel, setter, fmt.Sprintf("%d", ts))
}

func (n *numericBuilder) namReply(nick, symbol, channel string, names []string) ircmsg.Message {
	trailing := ""
	for i, name := range names {
		if i > 0 {
			trailing += " "
		}
		trailing += name
	}
	return n.build("353", nick, symbol, channel, trailing)
}

func (n *numericBuilder) endOfNames(nick, channel string) ircmsg.Message {
	return n.build("366", nick, channel, "End of /NAMES list")
}

// --- ban/except/invex lists: 367/368, 346/347, 348/349 ---

func (n *numericBuilder) banList(nick, channel string, e MaskEntry) ircmsg.Message {
	return n.build("367", nick, channel, e.Mask, e.Setter, fmt.Sprintf("%d", e.Created.Unix()))
}

func (n *numericBuilder) endOfBanList(nick, channel string) ircmsg.Message {
	return n.build("368", nick, channel, "End of Channel Ban List")
}

func (n *numericBuilder) inviteList(nick, channel string, e MaskEntry) ircmsg.Message {
	return n.build("346", nick, channel, e.Mask, e.Setter, fmt.Sprintf("%d", e.Created.Unix()))
}

func (n *numericBuilder) endOfInviteList(nick, channel string) ircmsg.Message {
	return n.build("347", nick, channel, "End of Channel Invite List")
}

func (n *numericBuilder) exceptList(nick, channel string, e MaskEntry) ircmsg.Message {
	return n.build("348", nick, channel, e.Mask, e.Setter, fmt.Sprintf("%d", e.Created.Unix()))
}

func (n *numericBuilder) endOfExceptList(nick, channel string) ircmsg.Message {
	return n.build("349", nick, channel, "End of Channel Exception List")
}

// --- LIST: 321-323 ---

func (n *numericBuilder) list(nick, channel string, visible int, topic string) ircmsg.Message {
	return n.build("322", nick, channel, fmt.Sprintf("%d", visible), topic)
}

func (n *numericBuilder) listEnd(nick string) ircmsg.Message {
	return n.build("323", nick, "End of /LIST")
}

// --- WHOIS / WHOWAS: 311-319, 330, 338, 378, 671 ---

func (n *numericBuilder) whoisUser(nick, targetNick, user, host, realName string) ircmsg.Message {
	return n.build("311", nick, targetNick, user, host, "*", realName)
}

func (n *numericBuilder) whoisServer(nick, targetNick, serverName, serverInfo string) ircmsg.Message {
	return n.build("312", nick, targetNick, serverName, serverInfo)
}

func (n *numericBuilder) whoisOperator(nick, targetNick string) ircmsg.Message {
	return n.build("313", nick, targetNick, "is an IRC operator")
}

func (n *numericBuilder) whoisIdle(nick, targetNick string, idleSecs, signonTS int64) ircmsg.Message {
	return n.build("317", nick, targetNick, fmt.Sprintf("%d", idleSecs), fmt.Sprintf("%d", signonTS), "seconds idle, signon time")
}

func (n *numericBuilder) endOfWhois(nick, targetNick string) ircmsg.Message {
	return n.build("318", nick, targetNick, "End of /WHOIS list")
}

func (n *numericBuilder) whoisChannels(nick, targetNick, channels string) ircmsg.Message {
	return n.build("319", nick, targetNick, channels)
}

func (n *numericBuilder) whoisAccount(nick, targetNick, account string) ircmsg.Message {
	return n.build("330", nick, targetNick, account, "is logged in as")
}

func (n *numericBuilder) whoisActuallyHost(nick, targetNick, ip string) ircmsg.Message {
	return n.build("338", nick, targetNick, fmt.Sprintf("is actually using host %s", ip))
}

func (n *numericBuilder) whoisSecure(nick, targetNick string) ircmsg.Message {
	return n.build("671", nick, targetNick, "is using a secure connection")
}

// --- AWAY: 301, 305, 306 ---

func (n *numericBuilder) nowAway(nick string) ircmsg.Message {
	return n.build("306", nick, "You have been marked as being away")
}

func (n *numericBuilder) unAway(nick string) ircmsg.Message {
	return n.build("305", nick, "You are no longer marked as being away")
}

func (n *numericBuilder) awayReply(nick, targetNick, message string) ircmsg.Message {
	return n.build("301", nick, targetNick, message)
}

// --- UMODEIS ---

func (n *numericBuilder) umodeIs(nick, modes string) ircmsg.Message {
	return n.build("221", nick, modes)
}

// --- MONITOR: 730-734 ---

func (n *numericBuilder) monOnline(nick string, names []string) ircmsg.Message {
	return n.build("730", nick, joinComma(names))
}

func (n *numericBuilder) monOffline(nick string, names []string) ircmsg.Message {
	return n.build("731", nick, joinComma(names))
}

func (n *numericBuilder) monList(nick string, names []string) ircmsg.Message {
	return n.build("732", nick, joinComma(names))
}

func (n *numericBuilder) endOfMonList(nick string) ircmsg.Message {
	return n.build("733", nick, "End of MONITOR list")
}

func (n *numericBuilder) monListFull(nick string, limit int, rejected []string) ircmsg.Message {
	return n.build("734", nick, fmt.Sprintf("%d", limit), joinComma(rejected), "Monitor list is full")
}

func joinComma(names []string) string {
	s := ""
	for i, name := range names {
		if i > 0 {
			s += ","
		}
		s += name
	}
	return s
}

// --- SASL: 900-907 ---

func (n *numericBuilder) loggedIn(nick, nickUhost, account string) ircmsg.Message {
	return n.build("900", nick, nickUhost, account, fmt.Sprintf("You are now logged in as %s", account))
}

func (n *numericBuilder) saslSuccess(nick string) ircmsg.Message {
	return n.build("903", nick, "SASL authentication successful")
}

func (n *numericBuilder) saslFail(nick string) ircmsg.Message {
	return n.build("904", nick, "SASL authentication failed")
}

func (n *numericBuilder) saslAborted(nick string) ircmsg.Message {
	return n.build("906", nick, "SASL authentication aborted")
}

func (n *numericBuilder) saslAlready(nick string) ircmsg.Message {
	return n.build("907", nick, "You have already authenticated using SASL")
}

// --- Common errors: 401-433, 441-502 ---

func (n *numericBuilder) noSuchNick(nick, target string) ircmsg.Message {
	return n.build("401", nick, target, "No such nick/channel")
}

func (n *numericBuilder) noSuchServer(nick, target string) ircmsg.Message {
	return n.build("402", nick, target, "No such server")
}

func (n *numericBuilder) noSuchChannel(nick, target string) ircmsg.Message {
	return n.build("403", nick, target, "No such channel")
}

func (n *numericBuilder) cannotSendToChan(nick, channel, reason string) ircmsg.Message {
	return n.build("404", nick, channel, reason)
}

func (n *numericBuilder) tooManyTargets(nick, target string) ircmsg.Message {
	return n.build("407", nick, target, "Too many targets")
}

func (n *numericBuilder) noOrigin(nick string) ircmsg.Message {
	return n.build("409", nick, "No origin specified")
}

func (n *numericBuilder) noRecipient(nick, cmd string) ircmsg.Message {
	return n.build("411", nick, fmt.Sprintf("No recipient given (%s)", cmd))
}

func (n *numericBuilder) noTextToSend(nick string) ircmsg.Message {
	return n.build("412", nick, "No text to send")
}

func (n *numericBuilder) unknownCommand(nick, cmd string) ircmsg.Message {
	return n.build("421", nick, cmd, "Unknown command")
}

func (n *numericBuilder) nickNameInUse(nick, attempted string) ircmsg.Message {
	return n.build("433", nick, attempted, "Nickname is already in use")
}

func (n *numericBuilder) userNotInChannel(nick, targetNick, channel string) ircmsg.Message {
	return n.build("441", nick, targetNick, channel, "They aren't on that channel")
}

func (n *numericBuilder) notOnChannel(nick, channel string) ircmsg.Message {
	return n.build("442", nick, channel, "You're not on that channel")
}

func (n *numericBuilder) userOnChannel(nick, targetNick, channel string) ircmsg.Message {
	return n.build("443", nick, targetNick, channel, "is already on channel")
}

func (n *numericBuilder) notRegistered(nick string) ircmsg.Message {
	return n.build("451", nick, "You have not registered")
}

func (n *numericBuilder) needMoreParams(nick, cmd string) ircmsg.Message {
	return n.build("461", nick, cmd, "Not enough parameters")
}

func (n *numericBuilder) alreadyRegistered(nick string) ircmsg.Message {
	return n.build("462", nick, "You may not reregister")
}

func (n *numericBuilder) passwdMismatch(nick string) ircmsg.Message {
	return n.build("464", nick, "Password incorrect")
}

func (n *numericBuilder) channelIsFull(nick, channel string) ircmsg.Message {
	return n.build("471", nick, channel, "Cannot join channel (+l)")
}

func (n *numericBuilder) unknownMode(nick string, mode byte) ircmsg.Message {
	return n.build("472", nick, string(mode), "is unknown mode char to me")
}

func (n *numericBuilder) inviteOnlyChan(nick, channel string) ircmsg.Message {
	return n.build("473", nick, channel, "Cannot join channel (+i)")
}

func (n *numericBuilder) bannedFromChan(nick, channel string) ircmsg.Message {
	return n.build("474", nick, channel, "Cannot join channel (+b)")
}

func (n *numericBuilder) badChannelKey(nick, channel string) ircmsg.Message {
	return n.build("475", nick, channel, "Cannot join channel (+k)")
}

func (n *numericBuilder) noPrivileges(nick string) ircmsg.Message {
	return n.build("481", nick, "Permission Denied- You're not an IRC operator")
}

func (n *numericBuilder) chanOPrivsNeeded(nick, channel string) ircmsg.Message {
	return n.build("482", nick, channel, "You're not channel operator")
}

func (n *numericBuilder) usersDontMatch(nick string) ircmsg.Message {
	return n.build("502", nick, "Cannot change mode for other users")
}

// --- WHOWAS: 314, 369, 406 ---

func (n *numericBuilder) whowasUser(nick, targetNick, user, host, realName string) ircmsg.Message {
	return n.build("314", nick, targetNick, user, host, "*", realName)
}

func (n *numericBuilder) endOfWhowas(nick, targetNick string) ircmsg.Message {
	return n.build("369", nick, targetNick, "End of WHOWAS")
}

func (n *numericBuilder) wasNoSuchNick(nick, targetNick string) ircmsg.Message {
	return n.build("406", nick, targetNick, "There was no such nickname")
}

// --- INVITE: 341 ---

func (n *numericBuilder) inviting(nick, targetNick, channel string) ircmsg.Message {
	return n.build("341", nick, targetNick, channel)
}

// --- STATS: 212, 219, 242, 243 ---

func (n *numericBuilder) statsCommands(nick, cmd string, count int) ircmsg.Message {
	return n.build("212", nick, cmd, fmt.Sprintf("%d", count))
}

func (n *numericBuilder) statsUptime(nick string, days, hours, mins, secs int) ircmsg.Message {
	return n.build("242", nick, fmt.Sprintf("Server Up %d days, %d:%02d:%02d", days, hours, mins, secs))
}

func (n *numericBuilder) statsOLine(nick, name string) ircmsg.Message {
	return n.build("243", nick, "O", "*", "*", name, "0")
}

func (n *numericBuilder) endOfStats(nick string, query byte) ircmsg.Message {
	return n.build("219", nick, string(query), "End of /STATS report")
}

// --- TRACE: 262 ---

func (n *numericBuilder) traceEnd(nick, serverName, version string) ircmsg.Message {
	return n.build("262", nick, serverName, fmt.Sprintf("%s End of TRACE", version))
}

// --- INFO: 371, 374 ---

func (n *numericBuilder) info(nick, line string) ircmsg.Message {
	return n.build("371", nick, line)
}

func (n *numericBuilder) endOfInfo(nick string) ircmsg.Message {
	return n.build("374", nick, "End of /INFO list")
}

// --- ADMIN: 256-259 ---

func (n *numericBuilder) adminMe(nick, serverName string) ircmsg.Message {
	return n.build("256", nick, serverName, "Administrative info")
}

func (n *numericBuilder) adminLoc1(nick, loc string) ircmsg.Message {
	return n.build("257", nick, loc)
}

func (n *numericBuilder) adminLoc2(nick, loc string) ircmsg.Message {
	return n.build("258", nick, loc)
}

func (n *numericBuilder) adminEmail(nick, email string) ircmsg.Message {
	return n.build("259", nick, email)
}

// --- TIME: 391 ---

func (n *numericBuilder) timeReply(nick, serverName, now string) ircmsg.Message {
	return n.build("391", nick, serverName, now)
}

// --- VERSION: 351 ---

func (n *numericBuilder) version(nick, version, serverName, comments string) ircmsg.Message {
	return n.build("351", nick, version, serverName, comments)
}

// --- ISON: 303 ---

func (n *numericBuilder) isOn(nick string, nicks []string) ircmsg.Message {
	s := ""
	for i, n := range nicks {
		if i > 0 {
			s += " "
		}
		s += n
	}
	return n.build("303", nick, s)
}

// --- USERHOST: 302 ---

func (n *numericBuilder) userhostReply(nick string, entries []string) ircmsg.Message {
	s := ""
	for i, e := range entries {
		if i > 0 {
			s += " "
		}
		s += e
	}
	return n.build("302", nick, s)
}

// --- caller-ID: RPL_TARGUMODEG / RPL_TARGNOTIFY ---

func (n *numericBuilder) targUModeG(nick, targetNick string) ircmsg.Message {
	return n.build("716", nick, targetNick, "is in +g mode (server-side ignore)")
}

func (n *numericBuilder) targNotify(nick, targetNick string) ircmsg.Message {
	return n.build("717", nick, targetNick, "has been informed that you messaged them")
}
