package main

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// LocalUser holds information relevant only to a regular user (non-server)
// client.
type LocalUser struct {
	*LocalClient

	User *User

	LastActivityTime time.Time
	LastPingTime     time.Time

	// LastMessageTime is the last time the client sent a PRIVMSG/NOTICE. Used
	// for WHOIS idle time.
	LastMessageTime time.Time
}

// NewLocalUser makes a LocalUser from a LocalClient.
func NewLocalUser(c *LocalClient) *LocalUser {
	now := time.Now()

	return &LocalUser{
		LocalClient:      c,
		LastActivityTime: now,
		LastPingTime:     now,
		LastMessageTime:  now,
	}
}

func (u *LocalUser) String() string {
	return u.User.String()
}

func (u *LocalUser) nb() *numericBuilder {
	return newNumericBuilder(u.Catbox.Config.ServerName)
}

// messageFromServer sends a message appearing to be from the server,
// prepending the client's current nick for numeric replies.
func (u *LocalUser) messageFromServer(command string, params []string) {
	if isNumericCommand(command) {
		params = append([]string{u.User.DisplayNick}, params...)
	}

	u.maybeQueueMessage(ircmsg.Message{
		Prefix:  u.Catbox.Config.ServerName,
		Command: command,
		Params:  params,
	})
}

func (u *LocalUser) serverNotice(s string) {
	u.messageFromServer("NOTICE", []string{
		u.User.DisplayNick,
		fmt.Sprintf("*** Notice -- %s", s),
	})
}

// part removes the client from one channel, telling the client and any
// other member about it.
func (u *LocalUser) part(channelName, message string) {
	channelName = canonicalizeChannel(channelName)

	if !isValidChannel(channelName) {
		u.messageFromServer("403", []string{channelName, "Invalid channel name"})
		return
	}

	channel, exists := u.Catbox.Channels[channelName]
	if !exists {
		u.messageFromServer("403", []string{channelName, "No such channel"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442", []string{channelName, "You're not on that channel"})
		return
	}

	params := []string{channel.Name}
	if len(message) > 0 {
		params = append(params, message)
	}
	u.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  u.User.nickUhost(),
		Command: "PART",
		Params:  params,
	})

	delete(channel.Members, u.User.UID)
	delete(channel.DelayedJoin, u.User.UID)
	delete(u.User.Channels, channel.Name)

	if channel.isEmpty() {
		delete(u.Catbox.Channels, channel.Name)
	}

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: "PART",
		Params:  params,
	})
}

// quit disconnects the client, informing everyone who shared a channel with
// it and propagating the QUIT across links.
func (u *LocalUser) quit(msg string) {
	_, exists := u.Catbox.LocalUsers[u.ID]
	if !exists {
		return
	}

	u.messageFromServer("ERROR", []string{msg})
	close(u.WriteChan)

	delete(u.Catbox.LocalUsers, u.ID)
	delete(u.Catbox.LocalClients, u.ID)
}

// handleMessage takes action based on a client's IRC message.
func (u *LocalUser) handleMessage(m ircmsg.Message) {
	u.LastActivityTime = time.Now()

	if m.Prefix != "" {
		u.messageFromServer("ERROR", []string{"Do not send a prefix"})
		return
	}

	if m.Command != "PING" && m.Command != "PONG" && u.checkCommandRate(u.LastActivityTime) {
		u.quit("Excess flood")
		return
	}

	switch m.Command {
	case "CAP":
		u.capCommand(m)
	case "AUTHENTICATE":
		u.authenticateCommand(m)
	case "NICK":
		u.nickCommand(m)
	case "USER":
		u.userCommand(m)
	case "JOIN":
		u.joinCommand(m)
	case "PART":
		u.partCommand(m)
	case "PRIVMSG", "NOTICE":
		u.privmsgCommand(m)
	case "LUSERS":
		u.lusersCommand()
	case "MOTD":
		u.motdCommand()
	case "QUIT":
		u.quitCommand(m)
	case "PONG":
		// Accepted, nothing to do.
	case "PING":
		u.pingCommand(m)
	case "DIE":
		u.dieCommand(m)
	case "WHOIS":
		u.whoisCommand(m)
	case "OPER":
		u.operCommand(m)
	case "MODE":
		u.modeCommand(m)
	case "WHO":
		u.whoCommand(m)
	case "TOPIC":
		u.topicCommand(m)
	case "CONNECT":
		u.connectCommand(m)
	case "LINKS":
		u.linksCommand(m)
	case "AWAY":
		u.awayCommand(m)
	case "MONITOR":
		u.monitorCommand(m)
	case "KILL":
		u.killCommand(m)
	case "KICK":
		u.kickCommand(m)
	case "INVITE":
		u.inviteCommand(m)
	case "WHOWAS":
		u.whowasCommand(m)
	case "LIST":
		u.listCommand(m)
	case "STATS":
		u.statsCommand(m)
	case "TRACE":
		u.traceCommand(m)
	case "INFO":
		u.infoCommand(m)
	case "ADMIN":
		u.adminCommand(m)
	case "TIME":
		u.timeCommand(m)
	case "VERSION":
		u.versionCommand(m)
	case "ISON":
		u.isonCommand(m)
	case "USERHOST":
		u.userhostCommand(m)
	case "CHATHISTORY":
		u.chathistoryCommand(m)
	default:
		u.messageFromServer("421", []string{m.Command, "Unknown command"})
	}
}

// nickCommand handles NICK after registration; pre-registration NICK is
// handled by LocalClient.nickCommand in local_client.go.
func (u *LocalUser) nickCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("431", []string{"No nickname given"})
		return
	}
	nick := m.Params[0]

	if len(nick) > u.Catbox.Config.MaxNickLength {
		nick = nick[0:u.Catbox.Config.MaxNickLength]
	}

	if !isValidNick(u.Catbox.Config.MaxNickLength, nick) {
		u.messageFromServer("432", []string{nick, "Erroneous nickname"})
		return
	}

	nickCanon := canonicalizeNick(nick)
	if _, exists := u.Catbox.Nicks[nickCanon]; exists {
		u.messageFromServer("433", []string{nick, "Nickname is already in use"})
		return
	}

	u.Catbox.broker.Send(ToChannels{Channels: u.User.channelList(u.Catbox)}, ircmsg.Message{
		Prefix:  u.User.nickUhost(),
		Command: "NICK",
		Params:  []string{nick},
	}, ExceptUID(u.User.UID))
	u.messageFromServer("NICK", []string{nick})

	u.Catbox.recordWhowas(u.User)
	delete(u.Catbox.Nicks, canonicalizeNick(u.User.DisplayNick))
	u.Catbox.Nicks[nickCanon] = u.User.UID
	u.User.DisplayNick = nick
	u.User.NickTS = time.Now().Unix()

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: "NICK",
		Params:  []string{nick, fmt.Sprintf("%d", u.User.NickTS)},
	})
}

func (u *LocalUser) userCommand(m ircmsg.Message) {
	u.messageFromServer("462", []string{"Unauthorized command (already registered)"})
}

// joinCommand implements JOIN, including key/limit/ban/invite-list checks
// and +F/+L redirection (SPEC_FULL.md §4.4).
func (u *LocalUser) joinCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("461", []string{"JOIN", "Not enough parameters"})
		return
	}

	if len(m.Params) == 1 && m.Params[0] == "0" {
		for _, channel := range u.User.channelList(u.Catbox) {
			u.part(channel.Name, "")
		}
		return
	}

	channelNames := strings.Split(m.Params[0], ",")
	var keys []string
	if len(m.Params) > 1 {
		keys = strings.Split(m.Params[1], ",")
	}

	for i, channelName := range channelNames {
		channelName = canonicalizeChannel(channelName)
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		u.joinOne(channelName, key)
	}
}

func (u *LocalUser) joinOne(channelName, key string) {
	if !isValidChannel(channelName) {
		u.messageFromServer("403", []string{channelName, "Invalid channel name"})
		return
	}

	channel, exists := u.Catbox.Channels[channelName]
	if exists && u.User.onChannel(channel) {
		return
	}

	uhost := fmt.Sprintf("%s!%s@%s", u.User.DisplayNick, u.User.Username, u.User.Hostname)

	if exists {
		if channel.matchesBan(uhost) && !channel.matchesExcept(uhost) && !channel.matchesInvex(uhost) {
			if channel.Forward != nil {
				u.messageFromServer("474", []string{channelName, "Cannot join channel (+b), forwarding"})
				u.joinOne(canonicalizeChannel(*channel.Forward), "")
				return
			}
			u.messageFromServer("474", []string{channelName, "Cannot join channel (+b)"})
			return
		}

		if channel.hasMode(ChanModeInviteOnly) && !channel.matchesInvex(uhost) {
			_, invited := channel.Invited[u.User.UID]
			if !invited {
				u.messageFromServer("473", []string{channelName, "Cannot join channel (+i)"})
				return
			}
		}

		if channel.Key != nil && *channel.Key != key {
			u.messageFromServer("475", []string{channelName, "Cannot join channel (+k)"})
			return
		}

		if channel.Limit != nil && len(channel.Members) >= *channel.Limit {
			if channel.Redirect != nil {
				u.messageFromServer("471", []string{channelName, "Cannot join channel (+l), redirecting"})
				u.joinOne(canonicalizeChannel(*channel.Redirect), "")
				return
			}
			u.messageFromServer("471", []string{channelName, "Cannot join channel (+l)"})
			return
		}

		if channel.JoinThrottle != nil && channel.checkJoinThrottle(time.Now()) {
			u.messageFromServer("495", []string{channelName, "Cannot join channel, join rate exceeded"})
			return
		}
	}

	isNew := !exists
	if !exists {
		channel = newChannel(channelName, time.Now().Unix())
		channel.Modes[ChanModeNoExternal] = struct{}{}
		channel.Modes[ChanModeTopicLock] = struct{}{}
		u.Catbox.Channels[channelName] = channel
	}

	var memberModes MemberModes
	if isNew {
		memberModes = MemberOp
	}
	channel.Members[u.User.UID] = memberModes
	u.User.Channels[channelName] = memberModes
	delete(channel.Invited, u.User.UID)

	delayed := channel.hasMode(ChanModeDelayJoin)
	if delayed {
		if channel.DelayedJoin == nil {
			channel.DelayedJoin = map[TS6UID]struct{}{}
		}
		channel.DelayedJoin[u.User.UID] = struct{}{}
	}

	u.messageFromServer("JOIN", []string{channel.Name})
	if !delayed {
		u.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
			Prefix:  u.User.nickUhost(),
			Command: "JOIN",
			Params:  []string{channel.Name},
		}, ExceptUID(u.User.UID))
	}

	if isNew {
		u.messageFromServer("MODE", []string{channel.Name, channel.modesString()})
	}

	if len(channel.Topic) > 0 {
		u.messageFromServer("332", []string{channel.Name, channel.Topic})
	}

	nb := u.nb()
	var names []string
	for memberUID, modes := range channel.Members {
		if _, hidden := channel.DelayedJoin[memberUID]; hidden && memberUID != u.User.UID {
			continue
		}
		member, ok := u.Catbox.Users[memberUID]
		if !ok {
			continue
		}
		names = append(names, modes.Prefix()+member.DisplayNick)
	}
	symbol := "="
	if channel.hasMode(ChanModeSecret) {
		symbol = "@"
	} else if channel.hasMode(ChanModePrivate) {
		symbol = "*"
	}
	for _, msg := range chunkNamReply(nb, u.User.DisplayNick, symbol, channel.Name, names) {
		u.maybeQueueMessage(msg)
	}
	u.maybeQueueMessage(nb.endOfNames(u.User.DisplayNick, channel.Name))

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.Catbox.Config.TS6SID),
		Command: "SJOIN",
		Params:  []string{fmt.Sprintf("%d", channel.TS), channel.Name, channel.modesString(), memberModes.Prefixes() + string(u.User.UID)},
	})
}

// chunkNamReply splits a NAMES list across multiple 353 lines so no single
// message exceeds the practical line length.
func chunkNamReply(nb *numericBuilder, nick, symbol, channel string, names []string) []ircmsg.Message {
	const perLine = 40
	var msgs []ircmsg.Message
	for i := 0; i < len(names); i += perLine {
		end := i + perLine
		if end > len(names) {
			end = len(names)
		}
		msgs = append(msgs, nb.namReply(nick, symbol, channel, names[i:end]))
	}
	if len(msgs) == 0 {
		msgs = append(msgs, nb.namReply(nick, symbol, channel, nil))
	}
	return msgs
}

func (u *LocalUser) partCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("461", []string{"PART", "Not enough parameters"})
		return
	}

	partMessage := ""
	if len(m.Params) >= 2 {
		partMessage = m.Params[1]
	}

	for _, channelName := range strings.Split(m.Params[0], ",") {
		u.part(channelName, partMessage)
	}
}

// privmsgCommand handles both PRIVMSG and NOTICE, per RFC 2812.
func (u *LocalUser) privmsgCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("411", []string{"No recipient given (PRIVMSG)"})
		return
	}
	if len(m.Params) == 1 {
		u.messageFromServer("412", []string{"No text to send"})
		return
	}

	target := m.Params[0]
	msg := m.Params[1]

	if target[0] == '#' || target[0] == '&' {
		channelName := canonicalizeChannel(target)
		if !isValidChannel(channelName) {
			u.messageFromServer("404", []string{channelName, "Cannot send to channel"})
			return
		}

		channel, exists := u.Catbox.Channels[channelName]
		if !exists {
			u.messageFromServer("403", []string{channelName, "No such channel"})
			return
		}

		if !u.User.onChannel(channel) && channel.hasMode(ChanModeNoExternal) {
			u.messageFromServer("404", []string{channelName, "Cannot send to channel"})
			return
		}
		if channel.hasMode(ChanModeModerated) && channel.Members[u.User.UID] == 0 {
			u.messageFromServer("404", []string{channelName, "Cannot send to channel"})
			return
		}
		if channel.hasMode(ChanModeFloodProt) && channel.checkFlood(u.User.UID, time.Now()) {
			u.messageFromServer("404", []string{channelName, "Cannot send to channel (flooding)"})
			u.Catbox.enforceFlood(channel, u.User)
			return
		}

		u.LastMessageTime = time.Now()

		outM := ircmsg.Message{
			Tags:    map[string]string{"msgid": uuid.New().String()},
			Prefix:  u.User.nickUhost(),
			Command: m.Command,
			Params:  []string{channel.Name, msg},
		}
		u.Catbox.broker.Send(ToChannel{Channel: channel}, outM, ExceptUID(u.User.UID))
		if u.hasCap("echo-message") {
			u.maybeQueueMessage(tagsForRecipient(u, outM))
		}

		if m.Command == "PRIVMSG" {
			_ = u.Catbox.messages.Record(channel.Name, StoredMessage{
				MsgID:     outM.Tags["msgid"],
				Nick:      u.User.DisplayNick,
				UserHost:  fmt.Sprintf("%s@%s", u.User.Username, u.User.Hostname),
				Command:   m.Command,
				Target:    channel.Name,
				Text:      msg,
				Timestamp: time.Now(),
			})
		}

		return
	}

	nickName := canonicalizeNick(target)
	targetUID, exists := u.Catbox.Nicks[nickName]
	if !exists {
		if m.Command == "PRIVMSG" {
			u.messageFromServer("401", []string{target, "No such nick/channel"})
		}
		return
	}
	targetUser := u.Catbox.Users[targetUID]

	if targetUser.isCallerID() && !targetUser.acceptsFrom(u.User) {
		if m.Command == "PRIVMSG" && targetUser.shouldNotifyCallerID(u.User.DisplayNick, time.Now()) {
			u.messageFromServer("716", []string{targetUser.DisplayNick, "is in +g mode (caller ID)"})
			u.messageFromServer("717", []string{targetUser.DisplayNick, "has been informed you messaged them"})
		}
		if targetUser.isLocal() {
			targetUser.LocalUser.messageFromServer("718", []string{u.User.DisplayNick, u.User.Hostname, "is messaging you, and you have caller ID enabled"})
		}
		return
	}

	u.LastMessageTime = time.Now()

	if targetUser.isAway() && m.Command == "PRIVMSG" && targetUser.AwayMessage != nil {
		u.messageFromServer("301", []string{targetUser.DisplayNick, *targetUser.AwayMessage})
	}

	outM := ircmsg.Message{
		Tags:    map[string]string{"msgid": uuid.New().String()},
		Prefix:  u.User.nickUhost(),
		Command: m.Command,
		Params:  []string{targetUser.DisplayNick, msg},
	}

	if targetUser.isLocal() {
		targetUser.LocalUser.maybeQueueMessage(tagsForRecipient(targetUser.LocalUser, outM))
		if u.hasCap("echo-message") {
			u.maybeQueueMessage(tagsForRecipient(u, outM))
		}
		return
	}

	targetUser.ClosestServer.maybeQueueMessage(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: m.Command,
		Params:  []string{string(targetUser.UID), msg},
	})
}

func (u *LocalUser) lusersCommand() {
	nb := u.nb()
	nick := u.User.DisplayNick

	u.maybeQueueMessage(nb.luserClient(nick, len(u.Catbox.Users), 0, len(u.Catbox.Servers)+1))

	operCount := 0
	for _, user := range u.Catbox.Users {
		if user.isOperator() {
			operCount++
		}
	}
	if operCount > 0 {
		u.maybeQueueMessage(nb.luserOp(nick, operCount))
	}

	if numUnknown := len(u.Catbox.LocalClients); numUnknown > 0 {
		u.maybeQueueMessage(nb.luserUnknown(nick, numUnknown))
	}

	if len(u.Catbox.Channels) > 0 {
		u.maybeQueueMessage(nb.luserChannels(nick, len(u.Catbox.Channels)))
	}

	u.maybeQueueMessage(nb.luserMe(nick, len(u.Catbox.LocalUsers), len(u.Catbox.LocalServers)))
}

func (u *LocalUser) motdCommand() {
	nb := u.nb()
	nick := u.User.DisplayNick

	if len(u.Catbox.Config.MOTD) == 0 {
		u.maybeQueueMessage(nb.noMotd(nick))
		return
	}

	u.maybeQueueMessage(nb.motdStart(nick))
	u.maybeQueueMessage(nb.motd(nick, u.Catbox.Config.MOTD))
	u.maybeQueueMessage(nb.endOfMotd(nick))
}

func (u *LocalUser) quitCommand(m ircmsg.Message) {
	msg := "Quit:"
	if len(m.Params) > 0 {
		msg += " " + m.Params[0]
	}
	u.Catbox.quitUser(u.User, msg)
}

func (u *LocalUser) pingCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("409", []string{"No origin specified"})
		return
	}

	server := m.Params[0]
	if server != u.Catbox.Config.ServerName {
		u.messageFromServer("402", []string{server, "No such server"})
		return
	}

	u.messageFromServer("PONG", []string{server})
}

func (u *LocalUser) dieCommand(m ircmsg.Message) {
	if !u.User.isOperator() {
		u.messageFromServer("481", []string{"Permission Denied- You're not an IRC operator"})
		return
	}
	u.Catbox.shutdown("Server shutting down")
}

func (u *LocalUser) whoisCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("431", []string{"No nickname given"})
		return
	}

	nick := m.Params[len(m.Params)-1]
	targetUID, exists := u.Catbox.Nicks[canonicalizeNick(nick)]
	if !exists {
		u.messageFromServer("401", []string{nick, "No such nick/channel"})
		return
	}
	targetUser := u.Catbox.Users[targetUID]

	for _, msg := range u.Catbox.createWHOISResponse(targetUser, u.User, targetUser == u.User || u.User.isOperator()) {
		u.maybeQueueMessage(msg)
	}
}

func (u *LocalUser) operCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		u.messageFromServer("461", []string{"OPER", "Not enough parameters"})
		return
	}

	if u.User.isOperator() {
		u.messageFromServer("381", []string{"You are already an IRC operator"})
		return
	}

	pass, exists := u.Catbox.Config.Opers[m.Params[0]]
	if !exists || pass != m.Params[1] {
		u.messageFromServer("464", []string{"Password incorrect"})
		return
	}

	u.User.Modes[UserModeOperator] = struct{}{}
	u.Catbox.Opers[u.User.UID] = u.User

	u.messageFromServer("MODE", []string{u.User.DisplayNick, "+o"})
	u.messageFromServer("381", []string{"You are now an IRC operator"})

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: "MODE",
		Params:  []string{string(u.User.UID), "+o"},
	})
}

// MODE applies either to a nickname (the caller's own) or a channel.
func (u *LocalUser) modeCommand(m ircmsg.Message) {
	if len(m.Params) < 1 {
		u.messageFromServer("461", []string{"MODE", "Not enough parameters"})
		return
	}

	target := m.Params[0]

	if targetUID, exists := u.Catbox.Nicks[canonicalizeNick(target)]; exists {
		u.userModeCommand(u.Catbox.Users[targetUID], m.Params[1:])
		return
	}

	if targetChannel, exists := u.Catbox.Channels[canonicalizeChannel(target)]; exists {
		u.channelModeCommand(targetChannel, m.Params[1:])
		return
	}

	u.messageFromServer("403", []string{target, "No such channel"})
}

func (u *LocalUser) userModeCommand(targetUser *User, params []string) {
	if targetUser.LocalUser != u {
		u.messageFromServer("502", []string{"Cannot change mode for other users"})
		return
	}

	if len(params) == 0 {
		u.messageFromServer("221", []string{u.User.modesString()})
		return
	}

	adding := true
	var applied []byte
	for _, char := range params[0] {
		switch char {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		mode := UserMode(char)

		// Operator status can only be granted via OPER, never via MODE +o.
		if mode == UserModeOperator {
			if adding {
				continue
			}
			if !u.User.isOperator() {
				continue
			}
			delete(u.User.Modes, UserModeOperator)
			delete(u.Catbox.Opers, u.User.UID)
			applied = append(applied, '-', 'o')
			continue
		}

		switch mode {
		case UserModeInvisible, UserModeWallops, UserModeCallerID:
			if adding {
				u.User.Modes[mode] = struct{}{}
				applied = append(applied, '+', byte(mode))
			} else {
				delete(u.User.Modes, mode)
				applied = append(applied, '-', byte(mode))
			}
		default:
			u.messageFromServer("501", []string{"Unknown MODE flag"})
		}
	}

	if len(applied) > 0 {
		u.messageFromServer("MODE", []string{u.User.DisplayNick, string(applied)})
	}
}

func (u *LocalUser) channelModeCommand(channel *Channel, params []string) {
	if len(params) == 0 {
		u.messageFromServer("324", []string{channel.Name, channel.modesString()})
		u.messageFromServer("329", []string{channel.Name, fmt.Sprintf("%d", channel.TS)})
		return
	}

	// List-only queries (no argument given) report the list instead of
	// attempting to modify it.
	if (params[0] == "b" || params[0] == "+b") && len(params) == 1 {
		u.sendBanList(channel)
		return
	}
	if (params[0] == "e" || params[0] == "+e") && len(params) == 1 {
		u.sendExceptList(channel)
		return
	}
	if (params[0] == "I" || params[0] == "+I") && len(params) == 1 {
		u.sendInviteList(channel)
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442", []string{channel.Name, "You're not on that channel"})
		return
	}

	if channel.Members[u.User.UID]&(MemberOp|MemberAdmin|MemberOwner|MemberHalfop) == 0 {
		u.messageFromServer("482", []string{channel.Name, "You're not channel operator"})
		return
	}

	applyChannelModeString(channel, u.Catbox, params)

	u.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  u.User.nickUhost(),
		Command: "MODE",
		Params:  append([]string{channel.Name}, params...),
	})

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: "TMODE",
		Params:  append([]string{fmt.Sprintf("%d", channel.TS), channel.Name}, params...),
	})
}

func (u *LocalUser) sendBanList(channel *Channel) {
	nb := u.nb()
	for _, b := range channel.Bans {
		u.maybeQueueMessage(nb.banList(u.User.DisplayNick, channel.Name, b))
	}
	u.maybeQueueMessage(nb.endOfBanList(u.User.DisplayNick, channel.Name))
}

func (u *LocalUser) sendExceptList(channel *Channel) {
	nb := u.nb()
	for _, e := range channel.Excepts {
		u.maybeQueueMessage(nb.exceptList(u.User.DisplayNick, channel.Name, e))
	}
	u.maybeQueueMessage(nb.endOfExceptList(u.User.DisplayNick, channel.Name))
}

func (u *LocalUser) sendInviteList(channel *Channel) {
	nb := u.nb()
	for _, e := range channel.Invex {
		u.maybeQueueMessage(nb.inviteList(u.User.DisplayNick, channel.Name, e))
	}
	u.maybeQueueMessage(nb.endOfInviteList(u.User.DisplayNick, channel.Name))
}

func (u *LocalUser) whoCommand(m ircmsg.Message) {
	if len(m.Params) < 1 {
		u.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	channel, exists := u.Catbox.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		u.messageFromServer("403", []string{m.Params[0], "Invalid channel name"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442", []string{channel.Name, "You're not on that channel"})
		return
	}

	for memberUID, modes := range channel.Members {
		member := u.Catbox.Users[memberUID]
		if member == nil {
			continue
		}

		status := "H"
		if member.isAway() {
			status = "G"
		}
		status += modes.Prefix()
		if member.isOperator() {
			status += "*"
		}

		serverName := u.Catbox.Config.ServerName
		hop := 0
		if member.Server != nil {
			serverName = member.Server.Name
			hop = member.HopCount
		}

		u.messageFromServer("352", []string{
			channel.Name,
			member.Username,
			member.Hostname,
			serverName,
			member.DisplayNick,
			status,
			fmt.Sprintf("%d %s", hop, member.RealName),
		})
	}

	u.messageFromServer("315", []string{channel.Name, "End of WHO list"})
}

func (u *LocalUser) topicCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	channelName := canonicalizeChannel(m.Params[0])
	channel, exists := u.Catbox.Channels[channelName]
	if !exists {
		u.messageFromServer("403", []string{m.Params[0], "Invalid channel name"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442", []string{channel.Name, "You're not on that channel"})
		return
	}

	if len(m.Params) < 2 {
		if len(channel.Topic) == 0 {
			u.messageFromServer("331", []string{channel.Name, "No topic is set"})
			return
		}
		u.messageFromServer("332", []string{channel.Name, channel.Topic})
		u.messageFromServer("333", []string{channel.Name, channel.TopicSetter, fmt.Sprintf("%d", channel.TopicSetAt.Unix())})
		return
	}

	if channel.hasMode(ChanModeTopicLock) && channel.Members[u.User.UID]&(MemberOp|MemberAdmin|MemberOwner|MemberHalfop) == 0 {
		u.messageFromServer("482", []string{channel.Name, "You're not channel operator"})
		return
	}

	topic := m.Params[1]
	if len(topic) > maxTopicLength {
		topic = topic[:maxTopicLength]
	}

	channel.Topic = topic
	channel.TopicSetter = u.User.nickUhost()
	channel.TopicSetAt = time.Now()

	params := []string{channel.Name}
	if len(topic) > 0 {
		params = append(params, topic)
	}
	u.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  u.User.nickUhost(),
		Command: "TOPIC",
		Params:  params,
	})

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: "TOPIC",
		Params:  params,
	})
}

// connectCommand initiates an outbound link to a configured peer.
func (u *LocalUser) connectCommand(m ircmsg.Message) {
	if !u.User.isOperator() {
		u.messageFromServer("481", []string{"Permission Denied- You're not an IRC operator"})
		return
	}

	if len(m.Params) < 1 {
		u.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	serverName := m.Params[0]

	linkInfo, exists := u.Catbox.Config.Servers[serverName]
	if !exists {
		u.messageFromServer("402", []string{serverName, "No such server"})
		return
	}

	if u.Catbox.isLinkedToServer(serverName) {
		u.serverNotice(fmt.Sprintf("I am already linked to %s.", serverName))
		return
	}

	u.Catbox.WG.Add(1)
	go func() {
		defer u.Catbox.WG.Done()

		u.serverNotice(fmt.Sprintf("Connecting to %s...", linkInfo.Name))

		conn, err := net.DialTimeout("tcp",
			fmt.Sprintf("%s:%d", linkInfo.Hostname, linkInfo.Port),
			u.Catbox.Config.ConnectAttemptTime)
		if err != nil {
			log.Printf("Unable to connect to server [%s]: %s", linkInfo.Name, err)
			return
		}

		client := NewLocalClient(u.Catbox, 0, conn)
		client.sendServerIntro(linkInfo.Pass)

		client.Catbox.newEvent(Event{Type: NewClientEvent, Client: client})
	}()
}

func (u *LocalUser) linksCommand(m ircmsg.Message) {
	for _, s := range u.Catbox.Servers {
		u.messageFromServer("364", []string{
			s.Name,
			s.Name,
			fmt.Sprintf("%d %s", s.HopCount, s.Description),
		})
	}

	u.messageFromServer("365", []string{"*", "End of LINKS list"})
}

// awayCommand sets or clears AWAY status, per RFC 2812 §4.1.
func (u *LocalUser) awayCommand(m ircmsg.Message) {
	if len(m.Params) == 0 || len(m.Params[0]) == 0 {
		u.User.AwayMessage = nil
		delete(u.User.Modes, UserModeAway)
		u.messageFromServer("305", []string{"You are no longer marked as being away"})
		u.Catbox.broker.SendToServers(ircmsg.Message{
			Prefix:  string(u.User.UID),
			Command: "AWAY",
		})
		return
	}

	msg := m.Params[0]
	u.User.AwayMessage = &msg
	u.User.Modes[UserModeAway] = struct{}{}
	u.messageFromServer("306", []string{"You have been marked as being away"})

	u.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.User.UID),
		Command: "AWAY",
		Params:  []string{msg},
	})
}

// monitorCommand implements the IRCv3 MONITOR extension (+/-/C/L/S).
func (u *LocalUser) monitorCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("461", []string{"MONITOR", "Not enough parameters"})
		return
	}

	nb := u.nb()
	nick := u.User.DisplayNick

	switch strings.ToUpper(m.Params[0]) {
	case "+":
		if len(m.Params) < 2 {
			return
		}
		for _, target := range strings.Split(m.Params[1], ",") {
			if !u.User.addMonitor(target) {
				u.maybeQueueMessage(nb.monListFull(nick, monitorLimit, []string{target}))
				continue
			}
			if targetUID, online := u.Catbox.Nicks[canonicalizeNick(target)]; online {
				tu := u.Catbox.Users[targetUID]
				u.maybeQueueMessage(nb.monOnline(nick, []string{tu.nickUhost()}))
			} else {
				u.maybeQueueMessage(nb.monOffline(nick, []string{target}))
			}
		}
	case "-":
		if len(m.Params) < 2 {
			return
		}
		for _, target := range strings.Split(m.Params[1], ",") {
			u.User.removeMonitor(target)
		}
	case "C":
		u.User.Monitor = map[string]struct{}{}
	case "L":
		var online []string
		for nickCanon := range u.User.Monitor {
			if targetUID, isOnline := u.Catbox.Nicks[nickCanon]; isOnline {
				online = append(online, u.Catbox.Users[targetUID].nickUhost())
			}
		}
		u.maybeQueueMessage(nb.monList(nick, online))
		u.maybeQueueMessage(nb.endOfMonList(nick))
	case "S":
		var online, offline []string
		for nickCanon := range u.User.Monitor {
			if targetUID, isOnline := u.Catbox.Nicks[nickCanon]; isOnline {
				online = append(online, u.Catbox.Users[targetUID].nickUhost())
			} else {
				offline = append(offline, nickCanon)
			}
		}
		if len(online) > 0 {
			u.maybeQueueMessage(nb.monOnline(nick, online))
		}
		if len(offline) > 0 {
			u.maybeQueueMessage(nb.monOffline(nick, offline))
		}
	}
}

// kickCommand implements KICK <channel>[,<channel>] <user>[,<user>] [:comment].
func (u *LocalUser) kickCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		u.messageFromServer("461", []string{"KICK", "Not enough parameters"})
		return
	}

	channelNames := strings.Split(m.Params[0], ",")
	targetNicks := strings.Split(m.Params[1], ",")

	reason := u.User.DisplayNick
	if len(m.Params) >= 3 {
		reason = m.Params[2]
	}
	if len(reason) > maxKickLength {
		reason = reason[:maxKickLength]
	}

	for i, channelName := range channelNames {
		targetNick := targetNicks[0]
		if i < len(targetNicks) {
			targetNick = targetNicks[i]
		}
		u.kickOne(canonicalizeChannel(channelName), targetNick, reason)
	}
}

func (u *LocalUser) kickOne(channelName, targetNick, reason string) {
	channel, exists := u.Catbox.Channels[channelName]
	if !exists {
		u.messageFromServer("403", []string{channelName, "No such channel"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442", []string{channelName, "You're not on that channel"})
		return
	}

	if channel.Members[u.User.UID]&(MemberOp|MemberAdmin|MemberOwner|MemberHalfop) == 0 {
		u.messageFromServer("482", []string{channelName, "You're not channel operator"})
		return
	}

	targetUID, exists := u.Catbox.Nicks[canonicalizeNick(targetNick)]
	if !exists {
		u.messageFromServer("401", []string{targetNick, "No such nick/channel"})
		return
	}
	target := u.Catbox.Users[targetUID]

	if _, onChan := channel.Members[targetUID]; !onChan {
		u.messageFromServer("441", []string{targetNick, channelName, "They aren't on that channel"})
		return
	}

	u.Catbox.kickMember(channel, target, u.User, reason)
}

// inviteCommand implements INVITE <nick> <channel>, granting a one-shot +i
// bypass and notifying the target (and, if negotiated, channel ops via
// invite-notify).
func (u *LocalUser) inviteCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		u.messageFromServer("461", []string{"INVITE", "Not enough parameters"})
		return
	}

	targetNick := m.Params[0]
	channelName := canonicalizeChannel(m.Params[1])

	targetUID, exists := u.Catbox.Nicks[canonicalizeNick(targetNick)]
	if !exists {
		u.messageFromServer("401", []string{targetNick, "No such nick/channel"})
		return
	}
	target := u.Catbox.Users[targetUID]

	channel, exists := u.Catbox.Channels[channelName]
	if !exists {
		u.messageFromServer("403", []string{channelName, "No such channel"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442", []string{channelName, "You're not on that channel"})
		return
	}

	if channel.hasMode(ChanModeInviteOnly) && channel.Members[u.User.UID]&(MemberOp|MemberAdmin|MemberOwner|MemberHalfop) == 0 {
		u.messageFromServer("482", []string{channelName, "You're not channel operator"})
		return
	}

	if target.onChannel(channel) {
		u.messageFromServer("443", []string{target.DisplayNick, channelName, "is already on channel"})
		return
	}

	if channel.Invited == nil {
		channel.Invited = map[TS6UID]struct{}{}
	}
	channel.Invited[target.UID] = struct{}{}

	u.messageFromServer("341", []string{target.DisplayNick, channelName})

	if target.isLocal() {
		target.LocalUser.messageFromServer("INVITE", []string{target.DisplayNick, channelName})
	} else {
		target.ClosestServer.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(u.User.UID),
			Command: "INVITE",
			Params:  []string{string(target.UID), channelName},
		})
	}

	for memberUID := range channel.Members {
		if channel.Members[memberUID]&(MemberOp|MemberAdmin|MemberOwner|MemberHalfop) == 0 {
			continue
		}
		member, ok := u.Catbox.Users[memberUID]
		if !ok || !member.isLocal() || !member.LocalUser.hasCap("invite-notify") {
			continue
		}
		member.LocalUser.messageFromServer("NOTICE", []string{
			channelName,
			fmt.Sprintf("*** Notice -- %s invited %s into channel %s", u.User.DisplayNick, target.DisplayNick, channelName),
		})
	}
}

// whowasCommand implements WHOWAS, replaying the bounded history recorded
// when a nick last quit or changed away from it.
func (u *LocalUser) whowasCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("431", []string{"No nickname given"})
		return
	}

	nick := m.Params[0]
	entries := u.Catbox.Whowas[canonicalizeNick(nick)]
	if len(entries) == 0 {
		u.messageFromServer("406", []string{nick, "There was no such nickname"})
		u.messageFromServer("369", []string{nick, "End of WHOWAS"})
		return
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		u.messageFromServer("314", []string{e.Nick, e.Username, e.Hostname, "*", e.RealName})
	}
	u.messageFromServer("369", []string{nick, "End of WHOWAS"})
}

// listCommand implements LIST, optionally restricted to a comma-separated
// channel list; skips +s/+p channels the caller isn't a member of.
func (u *LocalUser) listCommand(m ircmsg.Message) {
	nb := u.nb()
	nick := u.User.DisplayNick

	var channels []*Channel
	if len(m.Params) > 0 && len(m.Params[0]) > 0 && m.Params[0][0] != '>' && m.Params[0][0] != '<' {
		for _, name := range strings.Split(m.Params[0], ",") {
			if c, exists := u.Catbox.Channels[canonicalizeChannel(name)]; exists {
				channels = append(channels, c)
			}
		}
	} else {
		for _, c := range u.Catbox.Channels {
			channels = append(channels, c)
		}
	}

	for _, c := range channels {
		if (c.hasMode(ChanModeSecret) || c.hasMode(ChanModePrivate)) && !u.User.onChannel(c) {
			continue
		}
		u.maybeQueueMessage(nb.list(nick, c.Name, len(c.Members), c.Topic))
	}
	u.maybeQueueMessage(nb.listEnd(nick))
}

// statsCommand implements a basic STATS: u (uptime), m (command counts),
// o (configured opers), with 219 ending every query.
func (u *LocalUser) statsCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		u.messageFromServer("461", []string{"STATS", "Not enough parameters"})
		return
	}

	nb := u.nb()
	nick := u.User.DisplayNick
	query := m.Params[0][0]

	switch query {
	case 'u', 'U':
		up := time.Since(u.Catbox.StartTime)
		days := int(up.Hours()) / 24
		hours := int(up.Hours()) % 24
		mins := int(up.Minutes()) % 60
		secs := int(up.Seconds()) % 60
		u.maybeQueueMessage(nb.statsUptime(nick, days, hours, mins, secs))
	case 'm', 'M':
		for cmd, count := range u.Catbox.commandCounts {
			u.maybeQueueMessage(nb.statsCommands(nick, cmd, count))
		}
	case 'o', 'O':
		for operName := range u.Catbox.Config.Opers {
			u.maybeQueueMessage(nb.statsOLine(nick, operName))
		}
	}

	u.maybeQueueMessage(nb.endOfStats(nick, query))
}

// traceCommand produces a minimal TRACE reply: just the end-of-trace line,
// since this server has no intermediate hops worth enumerating beyond what
// LINKS already reports.
func (u *LocalUser) traceCommand(m ircmsg.Message) {
	nb := u.nb()
	u.maybeQueueMessage(nb.traceEnd(u.User.DisplayNick, u.Catbox.Config.ServerName, u.Catbox.Config.Version))
}

func (u *LocalUser) infoCommand(m ircmsg.Message) {
	nb := u.nb()
	nick := u.User.DisplayNick
	for _, line := range []string{
		u.Catbox.Config.ServerInfo,
		"",
		fmt.Sprintf("Birth date: %s", u.Catbox.Config.CreatedDate),
	} {
		u.maybeQueueMessage(nb.info(nick, line))
	}
	u.maybeQueueMessage(nb.endOfInfo(nick))
}

func (u *LocalUser) adminCommand(m ircmsg.Message) {
	nb := u.nb()
	nick := u.User.DisplayNick
	u.maybeQueueMessage(nb.adminMe(nick, u.Catbox.Config.ServerName))
	u.maybeQueueMessage(nb.adminLoc1(nick, u.Catbox.Config.AdminName))
	u.maybeQueueMessage(nb.adminLoc2(nick, u.Catbox.Config.AdminLocation))
	u.maybeQueueMessage(nb.adminEmail(nick, u.Catbox.Config.AdminEmail))
}

func (u *LocalUser) timeCommand(m ircmsg.Message) {
	nb := u.nb()
	u.maybeQueueMessage(nb.timeReply(u.User.DisplayNick, u.Catbox.Config.ServerName, time.Now().Format(time.RFC1123)))
}

func (u *LocalUser) versionCommand(m ircmsg.Message) {
	nb := u.nb()
	u.maybeQueueMessage(nb.version(u.User.DisplayNick, u.Catbox.Config.Version, u.Catbox.Config.ServerName, ""))
	for _, isupportMsg := range nb.isupport(u.User.DisplayNick, isupportTokens(u.Catbox.Config)) {
		u.maybeQueueMessage(isupportMsg)
	}
}

// isonCommand implements ISON: a space-separated list of requested nicks in,
// a single 303 reply carrying whichever of them are currently online.
func (u *LocalUser) isonCommand(m ircmsg.Message) {
	nb := u.nb()
	var online []string
	for _, params := range m.Params {
		for _, nick := range strings.Fields(params) {
			if uid, exists := u.Catbox.Nicks[canonicalizeNick(nick)]; exists {
				online = append(online, u.Catbox.Users[uid].DisplayNick)
			}
		}
	}
	u.maybeQueueMessage(nb.isOn(u.User.DisplayNick, online))
}

// userhostCommand implements USERHOST: up to 5 nicks, replying with
// nick[*]=[+|-]user@host per online target.
func (u *LocalUser) userhostCommand(m ircmsg.Message) {
	nb := u.nb()
	var entries []string
	for i, nick := range m.Params {
		if i >= 5 {
			break
		}
		uid, exists := u.Catbox.Nicks[canonicalizeNick(nick)]
		if !exists {
			continue
		}
		target := u.Catbox.Users[uid]
		away := "+"
		if target.isAway() {
			away = "-"
		}
		star := ""
		if target.isOperator() {
			star = "*"
		}
		entries = append(entries, fmt.Sprintf("%s%s=%s%s@%s", target.DisplayNick, star, away, target.Username, target.Hostname))
	}
	u.maybeQueueMessage(nb.userhostReply(u.User.DisplayNick, entries))
}

// chathistoryCommand implements the IRCv3 draft/chathistory subset: LATEST
// and BEFORE against a channel's recorded message store, replayed inside a
// "chathistory" BATCH per the draft.
func (u *LocalUser) chathistoryCommand(m ircmsg.Message) {
	if !u.hasCap("draft/chathistory") {
		u.messageFromServer("FAIL", []string{"CHATHISTORY", "CAP_NOT_NEGOTIATED", "draft/chathistory not negotiated"})
		return
	}
	if len(m.Params) < 3 {
		u.messageFromServer("FAIL", []string{"CHATHISTORY", "NEED_MORE_PARAMS", "Not enough parameters"})
		return
	}

	subcommand := strings.ToUpper(m.Params[0])
	target := m.Params[1]

	channel, exists := u.Catbox.Channels[canonicalizeChannel(target)]
	if !exists || !u.User.onChannel(channel) {
		u.messageFromServer("FAIL", []string{"CHATHISTORY", "UNKNOWN_CHANNEL", target, "No such channel"})
		return
	}

	limit := 50
	if n, err := strconv.Atoi(m.Params[len(m.Params)-1]); err == nil && n > 0 && n < limit {
		limit = n
	}

	var history []StoredMessage
	var err error
	switch subcommand {
	case "LATEST":
		history, err = u.Catbox.messages.Latest(channel.Name, limit)
	case "BEFORE":
		ref, parseErr := time.Parse(time.RFC3339Nano, strings.TrimPrefix(m.Params[2], "timestamp="))
		if parseErr != nil {
			ref = time.Now()
		}
		history, err = u.Catbox.messages.Before(channel.Name, ref, limit)
	default:
		u.messageFromServer("FAIL", []string{"CHATHISTORY", "INVALID_PARAMS", subcommand, "Unknown subcommand"})
		return
	}
	if err != nil {
		u.messageFromServer("FAIL", []string{"CHATHISTORY", "MESSAGE_ERROR", "Unable to retrieve history"})
		return
	}

	batchID := uuid.New().String()
	u.maybeQueueMessage(ircmsg.Message{
		Prefix:  u.Catbox.Config.ServerName,
		Command: "BATCH",
		Params:  []string{"+" + batchID, "chathistory", channel.Name},
	})
	for _, sm := range history {
		u.maybeQueueMessage(ircmsg.Message{
			Tags:    map[string]string{"batch": batchID, "msgid": sm.MsgID, "time": sm.Timestamp.UTC().Format(time.RFC3339Nano)},
			Prefix:  fmt.Sprintf("%s!%s", sm.Nick, sm.UserHost),
			Command: sm.Command,
			Params:  []string{sm.Target, sm.Text},
		})
	}
	u.maybeQueueMessage(ircmsg.Message{
		Prefix:  u.Catbox.Config.ServerName,
		Command: "BATCH",
		Params:  []string{"-" + batchID},
	})
}

// killCommand lets an operator forcibly disconnect a user.
func (u *LocalUser) killCommand(m ircmsg.Message) {
	if !u.User.isOperator() {
		u.messageFromServer("481", []string{"Permission Denied- You're not an IRC operator"})
		return
	}
	if len(m.Params) < 2 {
		u.messageFromServer("461", []string{"KILL", "Not enough parameters"})
		return
	}

	targetUID, exists := u.Catbox.Nicks[canonicalizeNick(m.Params[0])]
	if !exists {
		u.messageFromServer("401", []string{m.Params[0], "No such nick/channel"})
		return
	}

	u.Catbox.issueKill(u.Catbox.Users[targetUID], fmt.Sprintf("%s (%s)", u.User.DisplayNick, m.Params[1]))
}
