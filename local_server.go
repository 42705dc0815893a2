package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// LocalServer means the client registered as a server. This holds its info.
type LocalServer struct {
	*LocalClient

	Server *Server

	Capabs map[string]struct{}

	LastActivityTime time.Time
	LastPingTime     time.Time

	GotPING  bool
	GotPONG  bool
	Bursting bool
}

// NewLocalServer upgrades a LocalClient to a LocalServer.
func NewLocalServer(c *LocalClient) *LocalServer {
	now := time.Now()

	return &LocalServer{
		LocalClient:      c,
		Capabs:           c.PreRegCapabs,
		LastActivityTime: now,
		LastPingTime:     now,
		Bursting:         true,
	}
}

func (s *LocalServer) String() string {
	return fmt.Sprintf("%s %s", s.Server.String(), s.Conn.RemoteAddr())
}

func (s *LocalServer) messageFromServer(command string, params []string) {
	if isNumericCommand(command) {
		params = append([]string{string(s.Server.SID)}, params...)
	}

	s.maybeQueueMessage(ircmsg.Message{
		Prefix:  string(s.Catbox.Config.TS6SID),
		Command: command,
		Params:  params,
	})
}

func (s *LocalServer) quit(msg string) {
	_, exists := s.Catbox.LocalServers[s.ID]
	if !exists {
		return
	}

	// Split QUITs from the cleanup below go to local users only; the
	// remaining servers learn of the split from the SQUIT sent after it.
	s.messageFromServer("ERROR", []string{msg})
	close(s.WriteChan)

	s.serverSplitCleanUp(s.Server)

	s.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(s.Catbox.Config.TS6SID),
		Command: "SQUIT",
		Params:  []string{string(s.Server.SID), msg},
	})

	s.Catbox.noticeLocalOpers(fmt.Sprintf("Server %s delinked: %s", s.Server.Name, msg))
}

// serverSplitCleanUp forgets a departed server (and everything linked
// beyond it), quitting every user who was connected through it. Only
// informs local users; propagation to other servers is the caller's job.
func (s *LocalServer) serverSplitCleanUp(lostServer *Server) {
	lostServers := append(lostServer.getLinkedServers(s.Catbox.Servers), lostServer)

	lost := map[TS6SID]struct{}{}
	for _, srv := range lostServers {
		lost[srv.SID] = struct{}{}
	}

	for _, user := range s.Catbox.Users {
		if user.isLocal() {
			continue
		}
		if user.Server == nil {
			continue
		}
		if _, affected := lost[user.Server.SID]; !affected {
			continue
		}

		log.Printf("Losing user %s", user)

		var quitMessage string
		if lostServer.isLocal() {
			quitMessage = fmt.Sprintf("%s %s", s.Catbox.Config.ServerName, lostServer.Name)
		} else if lostServer.LinkedTo != nil {
			quitMessage = fmt.Sprintf("%s %s", lostServer.LinkedTo.Name, lostServer.Name)
		} else {
			quitMessage = lostServer.Name
		}

		s.Catbox.broker.Send(ToChannels{Channels: user.channelList(s.Catbox)}, ircmsg.Message{
			Prefix:  user.nickUhost(),
			Command: "QUIT",
			Params:  []string{quitMessage},
		})

		s.Catbox.removeUser(user, quitMessage)
	}

	for _, srv := range lostServers {
		log.Printf("Losing server %s", srv)
		if srv.isLocal() {
			delete(s.Catbox.LocalServers, srv.LocalServer.ID)
		}
		delete(s.Catbox.Servers, srv.SID)
	}
}

// sendBurst tells a newly linked server about every server, user, and
// channel we know, as SID/UID/SJOIN. Sent right after we see SVINFO, before
// we've processed anything the other side bursts to us.
func (s *LocalServer) sendBurst() {
	for _, server := range s.Catbox.Servers {
		if server.LocalServer == s {
			continue
		}

		linkedTo := s.Catbox.Config.TS6SID
		if !server.isLocal() && server.LinkedTo != nil {
			linkedTo = server.LinkedTo.SID
		}

		s.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(linkedTo),
			Command: "SID",
			Params: []string{
				server.Name,
				fmt.Sprintf("%d", server.HopCount+1),
				string(server.SID),
				server.Description,
			},
		})
	}

	for _, user := range s.Catbox.Users {
		onServer := s.Catbox.Config.TS6SID
		if !user.isLocal() && user.Server != nil {
			onServer = user.Server.SID
		}
		s.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(onServer),
			Command: "UID",
			Params: []string{
				user.DisplayNick,
				fmt.Sprintf("%d", user.HopCount+1),
				fmt.Sprintf("%d", user.NickTS),
				user.modesString(),
				user.Username,
				user.Hostname,
				user.IP,
				string(user.UID),
				user.RealName,
			},
		})
	}

	for _, channel := range s.Catbox.Channels {
		var uids []string
		for uid, modes := range channel.Members {
			uids = append(uids, modes.Prefixes()+string(uid))
		}
		if len(uids) == 0 {
			continue
		}
		s.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(s.Catbox.Config.TS6SID),
			Command: "SJOIN",
			Params: []string{
				fmt.Sprintf("%d", channel.TS),
				channel.Name,
				channel.modesString(),
				strings.Join(uids, " "),
			},
		})
	}
}

func (s *LocalServer) propagate(m ircmsg.Message) {
	for _, server := range s.Catbox.LocalServers {
		if server == s {
			continue
		}
		server.maybeQueueMessage(m)
	}
}

func (s *LocalServer) handleMessage(m ircmsg.Message) {
	s.LastActivityTime = time.Now()

	if len(m.Prefix) == 0 {
		m.Prefix = string(s.Server.SID)
	}

	switch m.Command {
	case "PING":
		s.pingCommand(m)
	case "PONG":
		s.pongCommand(m)
	case "ERROR":
		s.quit("Bye")
	case "UID":
		s.uidCommand(m)
	case "PRIVMSG", "NOTICE":
		s.privmsgCommand(m)
	case "SID":
		s.sidCommand(m)
	case "SJOIN":
		s.sjoinCommand(m)
	case "JOIN":
		s.joinCommand(m)
	case "NICK":
		s.nickCommand(m)
	case "PART":
		s.partCommand(m)
	case "KICK":
		s.kickCommand(m)
	case "WALLOPS", "OPERWALL":
		s.wallopsCommand(m)
	case "QUIT":
		s.quitCommand(m)
	case "MODE", "TMODE":
		s.modeCommand(m)
	case "TOPIC":
		s.topicCommand(m)
	case "SQUIT":
		s.squitCommand(m)
	case "KILL":
		s.killCommand(m)
	case "ENCAP":
		s.encapCommand(m)
	case "WHOIS":
		s.whoisCommand(m)
	case "INVITE":
		s.inviteCommand(m)
	case "AWAY", "CLICONN":
		// Known but currently ignored.
	default:
		if isNumericCommand(m.Command) {
			s.numericCommand(m)
			return
		}
		s.messageFromServer("421", []string{m.Command, "Unknown command"})
	}
}

func (s *LocalServer) pingCommand(m ircmsg.Message) {
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"PING", "Not enough parameters"})
		return
	}

	sourceSID := TS6SID(m.Prefix)
	if _, exists := s.Catbox.Servers[sourceSID]; !exists {
		s.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(s.Catbox.Config.TS6SID),
			Command: "402",
			Params:  []string{string(sourceSID), "No such server"},
		})
		return
	}

	destinationSID := s.Catbox.Config.TS6SID
	if len(m.Params) >= 2 {
		destinationSID = TS6SID(m.Params[1])
	}

	if destinationSID == s.Catbox.Config.TS6SID {
		s.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(s.Catbox.Config.TS6SID),
			Command: "PONG",
			Params:  []string{s.Catbox.Config.ServerName, string(sourceSID)},
		})

		if s.Bursting && sourceSID == s.Server.SID {
			s.GotPING = true
			if s.GotPONG {
				s.Bursting = false
				s.Catbox.noticeOpers(fmt.Sprintf("Burst with %s over.", s.Server.Name))
			}
		}
		return
	}

	destServer, exists := s.Catbox.Servers[destinationSID]
	if !exists {
		s.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(s.Catbox.Config.TS6SID),
			Command: "402",
			Params:  []string{string(destinationSID), "No such server"},
		})
		return
	}

	if destServer.isLocal() {
		destServer.LocalServer.maybeQueueMessage(m)
		return
	}
	destServer.ClosestServer.maybeQueueMessage(m)
}

func (s *LocalServer) pongCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"PONG", "Not enough parameters"})
		return
	}

	if TS6SID(m.Prefix) != s.Server.SID {
		s.quit("Unknown prefix")
		return
	}
	if m.Params[0] != s.Server.Name {
		s.quit("Unknown server name")
		return
	}
	if m.Params[1] != string(s.Catbox.Config.TS6SID) {
		s.quit("Unknown SID")
		return
	}

	s.GotPONG = true
	if s.Bursting && s.GotPING {
		s.Catbox.noticeOpers(fmt.Sprintf("Burst with %s over.", s.Server.Name))
		s.Bursting = false
	}
}

// uidCommand introduces a remote client. Handles the nick-collision tie
// break: older NickTS wins; on equal NickTS the lower UID wins; identical
// NickTS and UID kills both sides.
func (s *LocalServer) uidCommand(m ircmsg.Message) {
	if len(m.Params) < 9 {
		s.messageFromServer("461", []string{"UID", "Not enough parameters"})
		return
	}

	if !isValidSID(m.Prefix) {
		s.quit("Invalid SID")
		return
	}
	sid := TS6SID(m.Prefix)

	usersServer, exists := s.Catbox.Servers[sid]
	if !exists {
		s.quit("Message from unknown server")
		return
	}

	if !isValidUID(m.Params[7]) {
		s.quit("Invalid UID")
		return
	}
	uid := TS6UID(m.Params[7])

	nickTS, err := strconv.ParseInt(m.Params[2], 10, 64)
	if err != nil {
		s.quit("Invalid nick TS")
		return
	}

	if !isValidNick(s.Catbox.Config.MaxNickLength, m.Params[0]) {
		s.quit(fmt.Sprintf("Invalid NICK! (%s)", m.Params[0]))
		return
	}
	displayNick := m.Params[0]

	if collidedUID, exists := s.Catbox.Nicks[canonicalizeNick(displayNick)]; exists {
		collidedUser := s.Catbox.Users[collidedUID]
		switch {
		case nickTS < collidedUser.NickTS,
			nickTS == collidedUser.NickTS && uid < collidedUID:
			s.Catbox.issueKill(collidedUser, "Nick collision, newer killed")
		case nickTS == collidedUser.NickTS && uid == collidedUID:
			s.Catbox.issueKill(collidedUser, "Nick collision, both killed")
			s.Catbox.issueKill(&User{UID: uid}, "Nick collision, both killed")
			s.propagate(m)
			return
		default:
			s.Catbox.issueKill(&User{UID: uid}, "Nick collision, newer killed")
			return
		}
	}

	hopCount, err := strconv.ParseInt(m.Params[1], 10, 8)
	if err != nil {
		s.quit("Invalid hop count")
		return
	}

	modes, err := parseUserModes(m.Params[3])
	if err != nil {
		s.quit("Malformed umode")
		return
	}

	username := m.Params[4]
	if !isValidUser(s.Catbox.Config.MaxNickLength, username) {
		s.quit("Invalid username")
		return
	}

	hostname := m.Params[5]
	ip := m.Params[6]

	if !isValidRealName(m.Params[8]) {
		s.quit("Invalid real name")
		return
	}
	realName := m.Params[8]

	u := &User{
		DisplayNick:   displayNick,
		HopCount:      int(hopCount),
		NickTS:        nickTS,
		Modes:         modes,
		Username:      username,
		Hostname:      hostname,
		IP:            ip,
		UID:           uid,
		RealName:      realName,
		ConnectedAt:   time.Now(),
		LastActivity:  time.Now(),
		Channels:      map[string]MemberModes{},
		ClosestServer: s,
		Server:        usersServer,
	}

	if u.isOperator() {
		s.Catbox.Opers[u.UID] = u
	}
	s.Catbox.Nicks[canonicalizeNick(displayNick)] = u.UID
	s.Catbox.Users[u.UID] = u

	s.propagate(m)

	if !s.Bursting {
		s.Catbox.noticeLocalOpers(fmt.Sprintf("CLICONN %s %s %s %s %s (%s)",
			u.DisplayNick, u.Username, u.Hostname, u.IP, u.RealName, u.Server.Name))
	}
}

// parseUserModes parses a "+iow"-style umode string into the set it encodes.
func parseUserModes(s string) (map[UserMode]struct{}, error) {
	modes := map[UserMode]struct{}{}
	if len(s) == 0 {
		return modes, nil
	}
	if s[0] != '+' {
		return nil, fmt.Errorf("malformed umode string: %s", s)
	}
	for _, c := range s[1:] {
		modes[UserMode(c)] = struct{}{}
	}
	return modes, nil
}

func (s *LocalServer) privmsgCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		s.messageFromServer("411", []string{"No recipient given (PRIVMSG)"})
		return
	}
	if len(m.Params) == 1 {
		s.messageFromServer("412", []string{"No text to send"})
		return
	}

	source := ""
	if m.Command == "NOTICE" {
		if sourceServer, exists := s.Catbox.Servers[TS6SID(m.Prefix)]; exists {
			source = sourceServer.Name
		}
	}
	if source == "" {
		if sourceUser, exists := s.Catbox.Users[TS6UID(m.Prefix)]; exists {
			source = sourceUser.nickUhost()
		}
	}
	if source == "" {
		s.quit(fmt.Sprintf("Unknown source (%s)", m.Command))
		return
	}

	if isValidUID(m.Params[0]) {
		targetUID := TS6UID(m.Params[0])
		if targetUser, exists := s.Catbox.Users[targetUID]; exists {
			if targetUser.isLocal() {
				params := append([]string{targetUser.DisplayNick}, m.Params[1:]...)
				targetUser.LocalUser.maybeQueueMessage(ircmsg.Message{
					Prefix:  source,
					Command: m.Command,
					Params:  params,
				})
			} else {
				targetUser.ClosestServer.maybeQueueMessage(m)
			}
			return
		}
	}

	channel, exists := s.Catbox.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		log.Printf("PRIVMSG to unknown target %s", m.Params[0])
		return
	}

	toServers := map[*LocalServer]struct{}{}
	for memberUID := range channel.Members {
		member := s.Catbox.Users[memberUID]
		if member == nil {
			continue
		}
		if member.isLocal() {
			member.LocalUser.maybeQueueMessage(ircmsg.Message{
				Prefix:  source,
				Command: m.Command,
				Params:  m.Params,
			})
			continue
		}
		if member.ClosestServer != s {
			toServers[member.ClosestServer] = struct{}{}
		}
	}
	for server := range toServers {
		server.maybeQueueMessage(m)
	}
}

func (s *LocalServer) sidCommand(m ircmsg.Message) {
	if !isValidSID(m.Prefix) {
		s.quit("Invalid origin")
		return
	}
	linkedToServer, exists := s.Catbox.Servers[TS6SID(m.Prefix)]
	if !exists {
		s.quit("Unknown origin")
		return
	}

	if len(m.Params) < 4 {
		s.messageFromServer("461", []string{"SID", "Not enough parameters"})
		return
	}

	name := m.Params[0]
	hopCount, err := strconv.ParseInt(m.Params[1], 10, 8)
	if err != nil {
		s.quit(fmt.Sprintf("Invalid hop count: %s", err))
		return
	}
	if !isValidSID(m.Params[2]) {
		s.quit("Invalid SID")
		return
	}
	sid := TS6SID(m.Params[2])
	desc := m.Params[3]

	newServer := &Server{
		SID:           sid,
		Name:          name,
		Description:   desc,
		HopCount:      int(hopCount),
		ClosestServer: s,
		LinkedTo:      linkedToServer,
	}
	s.Catbox.Servers[sid] = newServer

	s.propagate(m)

	s.Catbox.noticeLocalOpers(fmt.Sprintf("%s is introducing server %s", s.Server.Name, newServer.Name))
}

// sjoinCommand implements the three-way SJOIN channel merge rule:
//   - remote TS older: we adopt the remote's modes, and keep both sides'
//     existing memberships.
//   - remote TS newer: we keep our own modes, and every prefix (op/voice/...)
//     the remote side sent for its members is withheld -- they join plain.
//   - equal TS: modes union, and member prefixes union too.
func (s *LocalServer) sjoinCommand(m ircmsg.Message) {
	if _, exists := s.Catbox.Servers[TS6SID(m.Prefix)]; !exists {
		s.quit("Unknown server")
		return
	}

	if len(m.Params) < 4 {
		s.messageFromServer("461", []string{"SJOIN", "Not enough parameters"})
		return
	}

	remoteTS, err := strconv.ParseInt(m.Params[0], 10, 64)
	if err != nil {
		s.quit(fmt.Sprintf("Invalid channel TS: %s: %s", m.Params[0], err))
		return
	}

	chanName := canonicalizeChannel(m.Params[1])
	remoteModesRaw := m.Params[2]
	userList := m.Params[len(m.Params)-1]

	channel, existed := s.Catbox.Channels[chanName]
	if !existed {
		channel = newChannel(chanName, remoteTS)
		s.Catbox.Channels[chanName] = channel
	}

	localTS := channel.TS
	var mergeKind string
	switch {
	case remoteTS < localTS:
		mergeKind = "older"
		channel.TS = remoteTS
		channel.Modes = parseChannelModeSet(remoteModesRaw)
	case remoteTS > localTS:
		mergeKind = "newer"
		// Keep our modes. New members' prefixes get withheld below.
	default:
		mergeKind = "equal"
		for m := range parseChannelModeSet(remoteModesRaw) {
			channel.Modes[m] = struct{}{}
		}
	}

	for _, uidRaw := range strings.Fields(userList) {
		prefixes := ""
		i := 0
		for i < len(uidRaw) && strings.ContainsRune("~&@%+", rune(uidRaw[i])) {
			prefixes += string(uidRaw[i])
			i++
		}
		uid := TS6UID(uidRaw[i:])

		user, exists := s.Catbox.Users[uid]
		if !exists {
			log.Printf("SJOIN for unknown user %s, ignoring", uid)
			continue
		}

		var modes MemberModes
		if mergeKind != "newer" {
			modes = parseMemberPrefixes(prefixes)
		}
		// "newer": all of the remote's prefixes are withheld -- joins plain.

		channel.Members[user.UID] = channel.Members[user.UID] | modes
		user.Channels[channel.Name] = channel.Members[user.UID]

		s.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
			Prefix:  user.nickUhost(),
			Command: "JOIN",
			Params:  []string{channel.Name},
		})
	}

	if !existed && len(channel.Members) == 0 {
		delete(s.Catbox.Channels, chanName)
	}

	s.propagate(m)
}

func parseChannelModeSet(raw string) map[ChannelMode]struct{} {
	modes := map[ChannelMode]struct{}{}
	for _, c := range raw {
		if c == '+' {
			continue
		}
		modes[ChannelMode(c)] = struct{}{}
	}
	return modes
}

func parseMemberPrefixes(prefixes string) MemberModes {
	var m MemberModes
	for _, c := range prefixes {
		switch c {
		case '~':
			m |= MemberOwner
		case '&':
			m |= MemberAdmin
		case '@':
			m |= MemberOp
		case '%':
			m |= MemberHalfop
		case '+':
			m |= MemberVoice
		}
	}
	return m
}

func (s *LocalServer) joinCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"JOIN", "Not enough parameters"})
		return
	}

	user, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown UID (JOIN)")
		return
	}

	channelTS, err := strconv.ParseInt(m.Params[0], 10, 64)
	if err != nil {
		s.quit("Invalid TS (JOIN)")
		return
	}

	chanName := canonicalizeChannel(m.Params[1])
	if !isValidChannel(chanName) {
		s.quit("Invalid channel name")
		return
	}

	channel, exists := s.Catbox.Channels[chanName]
	if !exists {
		channel = newChannel(chanName, channelTS)
		s.Catbox.Channels[chanName] = channel
	}
	if channelTS < channel.TS {
		channel.TS = channelTS
	}

	channel.Members[user.UID] = channel.Members[user.UID]
	user.Channels[channel.Name] = channel.Members[user.UID]

	s.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  user.nickUhost(),
		Command: "JOIN",
		Params:  []string{channel.Name},
	})

	s.propagate(m)
}

func (s *LocalServer) nickCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"NICK", "Not enough parameters"})
		return
	}

	user, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown user (NICK)")
		return
	}

	nick := m.Params[0]
	nickTS, err := strconv.ParseInt(m.Params[1], 10, 64)
	if err != nil {
		s.quit("Invalid TS (NICK)")
		return
	}

	if collidedUID, exists := s.Catbox.Nicks[canonicalizeNick(nick)]; exists && collidedUID != user.UID {
		collidedUser := s.Catbox.Users[collidedUID]
		switch {
		case nickTS < collidedUser.NickTS,
			nickTS == collidedUser.NickTS && user.UID < collidedUID:
			s.Catbox.issueKill(collidedUser, "Nick collision, newer killed")
		default:
			s.Catbox.issueKill(user, "Nick collision, newer killed")
			return
		}
	}

	delete(s.Catbox.Nicks, canonicalizeNick(user.DisplayNick))
	user.DisplayNick = nick
	user.NickTS = nickTS
	s.Catbox.Nicks[canonicalizeNick(nick)] = user.UID

	s.Catbox.broker.Send(ToChannels{Channels: user.channelList(s.Catbox)}, ircmsg.Message{
		Prefix:  user.nickUhost(),
		Command: "NICK",
		Params:  []string{user.DisplayNick},
	})

	s.propagate(m)
}

func (s *LocalServer) partCommand(m ircmsg.Message) {
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"PART", "Not enough parameters"})
		return
	}

	chanName := canonicalizeChannel(m.Params[0])
	msg := ""
	if len(m.Params) > 1 {
		msg = m.Params[1]
	}

	sourceUser, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown user (PART)")
		return
	}

	channel, exists := s.Catbox.Channels[chanName]
	if !exists {
		s.quit("Unknown channel (PART)")
		return
	}

	params := []string{channel.Name}
	if len(msg) > 0 {
		params = append(params, msg)
	}
	s.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  sourceUser.nickUhost(),
		Command: "PART",
		Params:  params,
	})

	delete(sourceUser.Channels, chanName)
	delete(channel.Members, sourceUser.UID)
	if channel.isEmpty() {
		delete(s.Catbox.Channels, channel.Name)
	}

	s.propagate(m)
}

// inviteCommand relays an INVITE received from a linked server toward its
// target, one hop at a time, same as privmsgCommand does for a remote user.
func (s *LocalServer) inviteCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		return
	}

	targetUser, exists := s.Catbox.Users[TS6UID(m.Params[0])]
	if !exists {
		return
	}

	if targetUser.isLocal() {
		targetUser.LocalUser.messageFromServer("INVITE", []string{targetUser.DisplayNick, m.Params[1]})
		return
	}

	targetUser.ClosestServer.maybeQueueMessage(m)
}

// kickCommand applies a KICK received from a linked server: <channel>
// <target UID> <reason>.
func (s *LocalServer) kickCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"KICK", "Not enough parameters"})
		return
	}

	chanName := canonicalizeChannel(m.Params[0])
	channel, exists := s.Catbox.Channels[chanName]
	if !exists {
		s.quit("Unknown channel (KICK)")
		return
	}

	target, exists := s.Catbox.Users[TS6UID(m.Params[1])]
	if !exists {
		s.quit("Unknown user (KICK)")
		return
	}

	reason := ""
	if len(m.Params) >= 3 {
		reason = m.Params[2]
	}

	source := s.sourceName(m.Prefix)
	s.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  source,
		Command: "KICK",
		Params:  []string{channel.Name, target.DisplayNick, reason},
	})

	delete(channel.Members, target.UID)
	delete(channel.DelayedJoin, target.UID)
	delete(target.Channels, channel.Name)
	if channel.isEmpty() {
		delete(s.Catbox.Channels, channel.Name)
	}

	s.propagate(m)
}

func (s *LocalServer) wallopsCommand(m ircmsg.Message) {
	if len(m.Params) < 1 {
		s.quit("Invalid parameters (WALLOPS)")
		return
	}

	origin := ""
	if user, exists := s.Catbox.Users[TS6UID(m.Prefix)]; exists {
		origin = user.nickUhost()
	}
	if server, exists := s.Catbox.Servers[TS6SID(m.Prefix)]; exists {
		origin = server.Name
	}
	if len(origin) == 0 {
		s.quit("Unknown origin (WALLOPS)")
		return
	}

	s.Catbox.broker.Send(ToOperators{}, ircmsg.Message{
		Prefix:  origin,
		Command: "WALLOPS",
		Params:  []string{m.Params[0]},
	})

	for _, ls := range s.Catbox.LocalServers {
		if ls == s {
			continue
		}
		ls.maybeQueueMessage(m)
	}
}

func (s *LocalServer) quitCommand(m ircmsg.Message) {
	user, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown user (QUIT)")
		return
	}

	message := ""
	if len(m.Params) >= 1 {
		message = m.Params[0]
	}

	params := []string{}
	if len(message) > 0 {
		params = append(params, message)
	}
	s.Catbox.broker.Send(ToChannels{Channels: user.channelList(s.Catbox)}, ircmsg.Message{
		Prefix:  user.nickUhost(),
		Command: "QUIT",
		Params:  params,
	})

	s.Catbox.removeUser(user, message)
	s.propagate(m)
}

// modeCommand applies user or channel mode changes received from a linked
// server.
func (s *LocalServer) modeCommand(m ircmsg.Message) {
	params := m.Params
	if m.Command == "TMODE" && len(params) > 0 {
		// TMODE <channel TS> <channel> <modes...>
		params = params[1:]
	}
	if len(params) < 2 {
		return
	}

	sourceUser, isUser := s.Catbox.Users[TS6UID(m.Prefix)]

	if targetUser, exists := s.Catbox.Users[TS6UID(params[0])]; exists {
		if !isUser || sourceUser != targetUser {
			s.quit("Invalid MODE: User changing another's mode")
			return
		}
		applyUserModeString(targetUser, params[1])
		s.propagate(m)
		return
	}

	chanName := canonicalizeChannel(params[0])
	channel, exists := s.Catbox.Channels[chanName]
	if !exists {
		return
	}

	origin := m.Prefix
	if isUser {
		origin = sourceUser.nickUhost()
	}

	applyChannelModeString(channel, s.Catbox, params[1:])

	s.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  origin,
		Command: "MODE",
		Params:  append([]string{channel.Name}, params[1:]...),
	})

	s.propagate(m)
}

func applyUserModeString(u *User, modeStr string) {
	adding := true
	for _, c := range modeStr {
		if c == '+' {
			adding = true
			continue
		}
		if c == '-' {
			adding = false
			continue
		}
		mode := UserMode(c)
		if adding {
			u.Modes[mode] = struct{}{}
		} else {
			delete(u.Modes, mode)
		}
	}
}

func (s *LocalServer) topicCommand(m ircmsg.Message) {
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"TOPIC", "Not enough parameters"})
		return
	}

	sourceUser, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown source user (TOPIC)")
		return
	}

	chanName := canonicalizeChannel(m.Params[0])
	channel, exists := s.Catbox.Channels[chanName]
	if !exists {
		s.messageFromServer("403", []string{chanName, "No such channel"})
		return
	}

	topic := ""
	if len(m.Params) >= 2 {
		topic = m.Params[1]
	}
	channel.Topic = topic
	channel.TopicSetter = sourceUser.nickUhost()
	channel.TopicSetAt = time.Now()

	params := []string{channel.Name}
	if len(topic) > 0 {
		params = append(params, topic)
	}
	s.Catbox.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  sourceUser.nickUhost(),
		Command: "TOPIC",
		Params:  params,
	})

	s.propagate(m)
}

func (s *LocalServer) squitCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"SQUIT", "Not enough parameters"})
		return
	}

	targetServer, exists := s.Catbox.Servers[TS6SID(m.Params[0])]
	if !exists {
		s.quit("Unknown server (SQUIT)")
		return
	}

	for _, server := range s.Catbox.LocalServers {
		if server.Server == targetServer {
			s.quit("I won't SQUIT a local server")
			return
		}
	}

	s.serverSplitCleanUp(targetServer)
	s.propagate(m)

	reason := ""
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}
	from := ""
	if targetServer.LinkedTo != nil {
		from = targetServer.LinkedTo.Name
	}
	s.Catbox.noticeLocalOpers(fmt.Sprintf("Server %s delinked from %s: %s", targetServer.Name, from, reason))
}

func (s *LocalServer) killCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"KILL", "Not enough parameters"})
		return
	}

	source := ""
	if sourceUser, exists := s.Catbox.Users[TS6UID(m.Prefix)]; exists {
		source = sourceUser.DisplayNick
	}
	if len(source) == 0 {
		if sourceServer, exists := s.Catbox.Servers[TS6SID(m.Prefix)]; exists {
			source = sourceServer.Name
		}
	}

	targetUser, exists := s.Catbox.Users[TS6UID(m.Params[0])]
	if !exists {
		s.Catbox.noticeOpers(fmt.Sprintf("Received KILL for unknown user %s", m.Params[0]))
		return
	}

	reason := m.Params[len(m.Params)-1]
	quitReason := fmt.Sprintf("Killed (%s (%s))", source, reason)

	s.Catbox.noticeLocalOpers(fmt.Sprintf("Received KILL message for %s. From %s (%s)",
		targetUser.DisplayNick, source, reason))

	if targetUser.isLocal() {
		s.Catbox.noticeOpers(fmt.Sprintf("Killing local user %s", targetUser.DisplayNick))
		s.Catbox.quitUser(targetUser, quitReason)
		return
	}

	s.Catbox.broker.Send(ToChannels{Channels: targetUser.channelList(s.Catbox)}, ircmsg.Message{
		Prefix:  targetUser.nickUhost(),
		Command: "QUIT",
		Params:  []string{quitReason},
	})
	s.Catbox.removeUser(targetUser, quitReason)

	s.propagate(m)
}

// encapCommand implements ENCAP generic command propagation. See
// http://www.leeh.co.uk/ircd/encap.txt.
func (s *LocalServer) encapCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"ENCAP", "Not enough parameters"})
		return
	}

	subCommand := strings.ToUpper(m.Params[1])
	var subParams []string
	if len(m.Params) > 2 {
		subParams = append(subParams, m.Params[2:]...)
	}

	switch subCommand {
	case "KLINE":
		s.klineCommand(ircmsg.Message{Prefix: m.Prefix, Command: subCommand, Params: subParams})
	case "UNKLINE":
		s.unklineCommand(ircmsg.Message{Prefix: m.Prefix, Command: subCommand, Params: subParams})
	}

	s.propagate(m)
}

// klineCommand arrives only via ENCAP. Parameters: <duration> <user mask>
// <host mask> [<reason>]. Duration is currently always treated as permanent
// for the server's runtime.
func (s *LocalServer) klineCommand(m ircmsg.Message) {
	if len(m.Params) < 3 {
		s.messageFromServer("461", []string{"KLINE", "Not enough parameters"})
		return
	}

	source := s.sourceName(m.Prefix)
	if source == "" {
		log.Printf("Unknown source for KLINE command")
		return
	}

	reason := "<No reason given>"
	if len(m.Params) > 3 {
		reason = m.Params[3]
	}

	s.Catbox.addAndApplyKLine(ServerBan{
		Type:    BanKLine,
		Pattern: m.Params[1] + "@" + m.Params[2],
		Reason:  reason,
		Setter:  source,
		Created: time.Now(),
	})
}

func (s *LocalServer) unklineCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"UNKLINE", "Not enough parameters"})
		return
	}
	if s.sourceName(m.Prefix) == "" {
		log.Printf("Unknown source for UNKLINE command")
		return
	}
	s.Catbox.removeKLine(m.Params[0] + "@" + m.Params[1])
}

func (s *LocalServer) sourceName(prefix string) string {
	if user, exists := s.Catbox.Users[TS6UID(prefix)]; exists {
		return user.DisplayNick
	}
	if server, exists := s.Catbox.Servers[TS6SID(prefix)]; exists {
		return server.Name
	}
	return ""
}

func (s *LocalServer) whoisCommand(m ircmsg.Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"WHOIS", "Not enough parameters"})
		return
	}

	sourceUser, exists := s.Catbox.Users[TS6UID(m.Prefix)]
	if !exists {
		log.Printf("WHOIS from unknown user %s", m.Prefix)
		return
	}

	user, exists := s.Catbox.Users[TS6UID(m.Params[0])]
	if !exists {
		sourceUser.ClosestServer.maybeQueueMessage(ircmsg.Message{
			Prefix:  s.Catbox.Config.ServerName,
			Command: "401",
			Params:  []string{sourceUser.DisplayNick, m.Params[0], "No such nick/channel"},
		})
		return
	}

	if user.isLocal() {
		for _, msg := range s.Catbox.createWHOISResponse(user, sourceUser, true) {
			sourceUser.ClosestServer.maybeQueueMessage(msg)
		}
		return
	}

	user.ClosestServer.maybeQueueMessage(m)
}

// numericCommand routes a numeric reply (e.g. a remote WHOIS response)
// towards its target, translating UID to nick if delivering locally.
func (s *LocalServer) numericCommand(m ircmsg.Message) {
	sourceServer, exists := s.Catbox.Servers[TS6SID(m.Prefix)]
	if !exists {
		log.Printf("Numeric from unknown server %s", m.Prefix)
		return
	}

	if len(m.Params) == 0 {
		log.Printf("Numeric with no parameters")
		return
	}

	user, exists := s.Catbox.Users[TS6UID(m.Params[0])]
	if !exists {
		log.Printf("Numeric %s for unknown user %s", m.Command, m.Params[0])
		return
	}

	if user.isLocal() {
		params := append([]string{user.DisplayNick}, m.Params[1:]...)
		user.LocalUser.maybeQueueMessage(ircmsg.Message{
			Prefix:  sourceServer.Name,
			Command: m.Command,
			Params:  params,
		})
		return
	}

	user.ClosestServer.maybeQueueMessage(m)
}
