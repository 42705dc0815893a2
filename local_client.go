package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// LocalClient holds state about a local connection. All connections are in
// this state until they register as either a user client or as a server.
type LocalClient struct {
	Conn Conn

	// Their hostname. May be blank if we can't look it up.
	Hostname string

	// Locally unique identifier.
	ID uint64

	WriteChan chan ircmsg.Message

	ConnectionStartTime time.Time

	Catbox *Catbox

	SendQueueExceeded bool

	// User info, gathered before registration completes.
	PreRegDisplayNick string
	PreRegUser        string
	PreRegRealName    string

	// Server info, gathered before a link completes.
	PreRegPass   string
	PreRegTS6SID string

	PreRegCapabs map[string]struct{}

	PreRegServerName string
	PreRegServerDesc string

	GotPASS   bool
	GotCAPAB  bool
	GotSERVER bool

	SentSERVER bool
	SentSVINFO bool

	// CAP/SASL negotiation state (IRCv3). See cap.go/sasl.go.
	CapNegotiating bool
	Cap302         bool
	Caps           map[string]struct{}

	SASLMech    string
	SASLBuf     []byte
	SASLAccount *string

	// TLSPeerCN is the subject CN of a client certificate, if one was
	// presented, for SASL EXTERNAL.
	TLSPeerCN string

	// commandRate tracks this connection's recent command volume for the
	// per-connection rate limiter (see policy.go's checkCommandRate).
	commandRate *slidingWindow
}

// NewLocalClient creates a LocalClient.
func NewLocalClient(cb *Catbox, id uint64, conn net.Conn) *LocalClient {
	var tlsCN string
	if tc, ok := conn.(*tls.Conn); ok {
		state := tc.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			tlsCN = state.PeerCertificates[0].Subject.CommonName
		}
	}

	return &LocalClient{
		Conn: NewConn(conn, cb.Config.DeadTime),
		ID:   id,

		// Buffered so the server goroutine sending to a stuck client doesn't
		// block. Large enough it should only max out on real connection trouble.
		WriteChan: make(chan ircmsg.Message, 32768),

		ConnectionStartTime: time.Now(),
		Catbox:              cb,
		PreRegCapabs:        make(map[string]struct{}),
		TLSPeerCN:           tlsCN,
	}
}

func (c *LocalClient) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Conn.RemoteAddr())
}

// maybeQueueMessage sends m to the client without blocking. If the client's
// queue is already full we flag it, and this and every later message to the
// client is discarded; the connection itself stays open.
func (c *LocalClient) maybeQueueMessage(m ircmsg.Message) {
	if c.SendQueueExceeded {
		return
	}

	select {
	case c.WriteChan <- m:
	default:
		c.SendQueueExceeded = true
	}
}

func (c *LocalClient) readLoop() {
	defer c.Catbox.WG.Done()

	for {
		if c.Catbox.isShuttingDown() {
			break
		}

		buf, err := c.Conn.Read()
		if err != nil {
			log.Printf("Client %s: %s", c, err)
			c.Catbox.newEvent(Event{Type: DeadClientEvent, Client: c})
			break
		}

		message, err := ircmsg.ParseMessage(buf)
		if err != nil {
			log.Printf("Client %s: Invalid message: %s: %s", c, strings.TrimRight(buf, "\r\n"), err)
			continue
		}

		c.Catbox.newEvent(Event{
			Type:    MessageFromClientEvent,
			Client:  c,
			Message: message,
		})
	}

	log.Printf("Client %s: Reader shutting down.", c)
}

func (c *LocalClient) writeLoop() {
	defer c.Catbox.WG.Done()

Loop:
	for {
		select {
		case message, ok := <-c.WriteChan:
			if !ok {
				break Loop
			}

			if err := c.Conn.WriteMessage(message); err != nil {
				log.Printf("Client %s: %s", c, err)
				c.Catbox.newEvent(Event{Type: DeadClientEvent, Client: c})
				break Loop
			}
		case <-c.Catbox.ShutdownChan:
			break Loop
		}
	}

	if err := c.Conn.Close(); err != nil {
		log.Printf("Client %s: Problem closing connection: %s", c, err)
	}

	log.Printf("Client %s: Writer shutting down.", c)
}

// quit tells the client why it's being disconnected and removes its
// pre-registration bookkeeping. Registered users/servers are cleaned up by
// Catbox.quitUser/squitServer before this runs.
func (c *LocalClient) quit(msg string) {
	_, exists := c.Catbox.LocalClients[c.ID]
	if !exists {
		return
	}

	c.messageFromServer("ERROR", []string{msg})
	close(c.WriteChan)
	delete(c.Catbox.LocalClients, c.ID)
}

func (c *LocalClient) maybeFinishRegistration() {
	if c.CapNegotiating {
		return
	}
	if c.PreRegDisplayNick == "" || c.PreRegUser == "" {
		return
	}
	if _, exists := c.Catbox.LocalClients[c.ID]; !exists {
		// Already registered (or gone) -- a post-registration CAP END/SASL
		// reply landing here shouldn't re-run registration.
		return
	}
	c.registerUser()
}

// registerUser promotes a LocalClient to a registered user once NICK, USER,
// and (if requested) CAP/SASL negotiation are all done.
func (c *LocalClient) registerUser() {
	nickCanon := canonicalizeNick(c.PreRegDisplayNick)
	if _, exists := c.Catbox.Nicks[nickCanon]; exists {
		c.messageFromServer("433", []string{c.PreRegDisplayNick, "Nickname is already in use"})
		return
	}

	hostname := ""
	if c.Conn.IP != nil {
		hostname = c.Conn.IP.String()
	}
	if len(c.Hostname) > 0 {
		hostname = c.Hostname
	}

	userAtHost := fmt.Sprintf("~%s@%s", c.PreRegUser, hostname)
	ip := ""
	if c.Conn.IP != nil {
		ip = c.Conn.IP.String()
	}
	if kline := c.Catbox.matchingKLine(userAtHost, ip); kline != nil {
		c.messageFromServer("465", []string{"You are banned from this server"})
		c.quit(fmt.Sprintf("Connection closed: %s", kline.Reason))
		c.Catbox.noticeLocalOpers(fmt.Sprintf(
			"Rejecting user registration for %s!%s. K-Lined: %s",
			c.PreRegDisplayNick, userAtHost, kline.Reason))
		return
	}

	lu := NewLocalUser(c)

	u := &User{
		DisplayNick:  c.PreRegDisplayNick,
		HopCount:     0,
		NickTS:       time.Now().Unix(),
		Modes:        map[UserMode]struct{}{UserModeInvisible: {}},
		Username:     "~" + c.PreRegUser,
		Hostname:     hostname,
		RealHost:     hostname,
		IP:           ip,
		RealName:     c.PreRegRealName,
		Account:      c.SASLAccount,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		Channels:     map[string]MemberModes{},
		LocalUser:    lu,
	}
	if c.Conn.TLS {
		u.Modes[UserModeSecure] = struct{}{}
	}
	if u.Account != nil {
		u.Modes[UserModeRegistered] = struct{}{}
	}

	u.UID = c.Catbox.uidGen.next()
	lu.User = u

	delete(c.Catbox.LocalClients, c.ID)
	c.Catbox.LocalUsers[lu.ID] = lu
	c.Catbox.Nicks[nickCanon] = u.UID
	c.Catbox.Users[u.UID] = u

	nb := newNumericBuilder(c.Catbox.Config.ServerName)
	lu.maybeQueueMessage(nb.welcome(u.DisplayNick, u.nickUhost()))
	lu.maybeQueueMessage(nb.yourHost(u.DisplayNick, c.Catbox.Config.Version))
	lu.maybeQueueMessage(nb.created(u.DisplayNick, c.Catbox.Config.CreatedDate))
	lu.maybeQueueMessage(nb.myInfo(u.DisplayNick, c.Catbox.Config.Version, "iowZaBg", "ntsopmiOcCRSDgfFLbeIk"))
	for _, isupportMsg := range nb.isupport(u.DisplayNick, isupportTokens(c.Catbox.Config)) {
		lu.maybeQueueMessage(isupportMsg)
	}

	lu.lusersCommand()
	lu.motdCommand()

	lu.messageFromServer("MODE", []string{u.DisplayNick, u.modesString()})

	c.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(c.Catbox.Config.TS6SID),
		Command: "UID",
		Params: []string{
			u.DisplayNick,
			fmt.Sprintf("%d", u.HopCount+1),
			fmt.Sprintf("%d", u.NickTS),
			u.modesString(),
			c.PreRegUser,
			u.Hostname,
			u.IP,
			string(u.UID),
			u.RealName,
		},
	})

	c.Catbox.noticeLocalOpers(fmt.Sprintf("CLICONN %s %s %s %s %s (%s)",
		u.DisplayNick, u.Username, u.Hostname, u.IP, u.RealName, c.Catbox.Config.ServerName))
}

// messageFromServer sends a message appearing to be from the server,
// prepending the client's nick (or "*") for numeric replies, per RFC 2812
// §2.4 and what every ratbox-derived ircd actually sends during
// registration.
func (c *LocalClient) messageFromServer(command string, params []string) {
	if isNumericCommand(command) {
		nick := "*"
		if len(c.PreRegDisplayNick) > 0 {
			nick = c.PreRegDisplayNick
		}
		params = append([]string{nick}, params...)
	}

	c.maybeQueueMessage(ircmsg.Message{
		Prefix:  c.Catbox.Config.ServerName,
		Command: command,
		Params:  params,
	})
}

func (c *LocalClient) sendSVINFO() {
	epoch := time.Now().Unix()
	c.maybeQueueMessage(ircmsg.Message{
		Command: "SVINFO",
		Params:  []string{"6", "6", "0", fmt.Sprintf("%d", epoch)},
	})
	c.SentSVINFO = true
}

func (c *LocalClient) registerServer() {
	ls := NewLocalServer(c)

	s := &Server{
		SID:         TS6SID(c.PreRegTS6SID),
		Name:        c.PreRegServerName,
		Description: c.PreRegServerDesc,
		HopCount:    1,
		LocalServer: ls,
	}
	s.ClosestServer = ls
	ls.Server = s

	delete(c.Catbox.LocalClients, c.ID)
	c.Catbox.LocalServers[ls.ID] = ls
	c.Catbox.Servers[s.SID] = s

	c.Catbox.noticeOpers(fmt.Sprintf("Established link to %s.", c.PreRegServerName))

	ls.sendBurst()

	ls.maybeQueueMessage(ircmsg.Message{
		Command: "PING",
		Params:  []string{string(c.Catbox.Config.TS6SID)},
	})

	c.Catbox.broker.SendToServers(ircmsg.Message{
		Prefix:  string(c.Catbox.Config.TS6SID),
		Command: "SID",
		Params:  []string{s.Name, fmt.Sprintf("%d", s.HopCount+1), string(s.SID), s.Description},
	}, s.SID)
}

func (c *LocalClient) sendServerIntro(pass string) {
	c.maybeQueueMessage(ircmsg.Message{
		Command: "PASS",
		Params:  []string{pass, "TS", "6", string(c.Catbox.Config.TS6SID)},
	})

	// QS: quitstorm, we generate split QUITs ourselves rather than needing
	// them relayed. ENCAP: generic command encapsulation, see ENCAP.txt.
	c.maybeQueueMessage(ircmsg.Message{
		Command: "CAPAB",
		Params:  []string{"QS ENCAP"},
	})

	c.maybeQueueMessage(ircmsg.Message{
		Command: "SERVER",
		Params:  []string{c.Catbox.Config.ServerName, "1", c.Catbox.Config.ServerInfo},
	})
	c.SentSERVER = true
}

func (c *LocalClient) handleMessage(m ircmsg.Message) {
	if m.Prefix != "" {
		c.quit("No prefix permitted")
		return
	}

	switch m.Command {
	case "CAP":
		c.capCommand(m)
		return
	case "AUTHENTICATE":
		c.authenticateCommand(m)
		return
	case "NOTICE":
		return
	case "NICK":
		c.nickCommand(m)
		return
	case "USER":
		c.userCommand(m)
		return
	case "PASS":
		c.passCommand(m)
		return
	case "CAPAB":
		c.capabCommand(m)
		return
	case "SERVER":
		c.serverCommand(m)
		return
	case "SVINFO":
		c.svinfoCommand(m)
		return
	case "ERROR":
		c.quit("Bye")
		return
	case "QUIT":
		c.quit("Client quit")
		return
	case "PING":
		c.messageFromServer("PONG", []string{c.Catbox.Config.ServerName})
		return
	}

	c.messageFromServer("451", []string{"You have not registered"})
}

func (c *LocalClient) nickCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		c.messageFromServer("431", []string{"No nickname given"})
		return
	}
	nick := m.Params[0]

	if len(nick) > c.Catbox.Config.MaxNickLength {
		nick = nick[0:c.Catbox.Config.MaxNickLength]
	}

	if !isValidNick(c.Catbox.Config.MaxNickLength, nick) {
		c.messageFromServer("432", []string{nick, "Erroneous nickname"})
		return
	}

	nickCanon := canonicalizeNick(nick)
	if _, exists := c.Catbox.Nicks[nickCanon]; exists {
		c.messageFromServer("433", []string{nick, "Nickname is already in use"})
		return
	}

	c.PreRegDisplayNick = nick
	c.maybeFinishRegistration()
}

func (c *LocalClient) userCommand(m ircmsg.Message) {
	if len(m.Params) != 4 {
		c.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	user := m.Params[0]
	if len(user) > c.Catbox.Config.MaxNickLength {
		user = user[0:c.Catbox.Config.MaxNickLength]
	}
	if !isValidUser(c.Catbox.Config.MaxNickLength, user) {
		c.messageFromServer("ERROR", []string{"Invalid username"})
		return
	}
	c.PreRegUser = user

	if !isValidRealName(m.Params[3]) {
		c.messageFromServer("ERROR", []string{"Invalid realname"})
		return
	}
	c.PreRegRealName = m.Params[3]

	c.maybeFinishRegistration()
}

func (c *LocalClient) passCommand(m ircmsg.Message) {
	if len(m.Params) < 4 {
		c.messageFromServer("461", []string{"PASS", "Not enough parameters"})
		return
	}

	if c.GotPASS {
		c.quit("Double PASS")
		return
	}

	if m.Params[1] != "TS" {
		c.quit("Unexpected PASS format: TS")
		return
	}

	tsVersion, err := strconv.ParseInt(m.Params[2], 10, 64)
	if err != nil {
		c.quit("Unexpected PASS format: Version: " + err.Error())
		return
	}
	if tsVersion != 6 {
		c.quit("Unsupported TS version")
		return
	}

	if !isValidSID(m.Params[3]) {
		c.quit("Malformed SID")
		return
	}

	c.PreRegPass = m.Params[0]
	c.PreRegTS6SID = m.Params[3]
	c.GotPASS = true
}

func (c *LocalClient) capabCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		c.messageFromServer("461", []string{"CAPAB", "Not enough parameters"})
		return
	}
	if !c.GotPASS {
		c.quit("PASS first")
		return
	}
	if c.GotCAPAB {
		c.quit("Double CAPAB")
		return
	}

	for _, cap := range strings.Split(m.Params[0], " ") {
		cap = strings.TrimSpace(cap)
		if len(cap) == 0 {
			continue
		}
		c.PreRegCapabs[strings.ToUpper(cap)] = struct{}{}
	}

	if _, exists := c.PreRegCapabs["QS"]; !exists {
		c.quit("Missing QS")
		return
	}
	if _, exists := c.PreRegCapabs["ENCAP"]; !exists {
		c.quit("Missing ENCAP")
		return
	}

	c.GotCAPAB = true
}

func (c *LocalClient) serverCommand(m ircmsg.Message) {
	if len(m.Params) != 3 {
		c.messageFromServer("461", []string{"SERVER", "Not enough parameters"})
		return
	}
	if !c.GotCAPAB {
		c.quit("CAPAB first.")
		return
	}
	if c.GotSERVER {
		c.quit("Double SERVER.")
		return
	}

	serverName := m.Params[0]

	linkInfo, exists := c.Catbox.Config.Servers[serverName]
	if !exists {
		c.quit("I don't know you")
		return
	}
	if linkInfo.Pass != c.PreRegPass {
		c.quit("Bad password")
		return
	}
	if m.Params[1] != "1" {
		c.quit("Bad hopcount")
		return
	}
	if c.Catbox.isLinkedToServer(serverName) {
		c.quit("I'm already linked to you!")
		return
	}

	c.PreRegServerName = serverName
	c.PreRegServerDesc = m.Params[2]
	c.GotSERVER = true

	if !c.SentSERVER {
		c.sendServerIntro(linkInfo.Pass)
		return
	}

	c.sendSVINFO()
}

func (c *LocalClient) svinfoCommand(m ircmsg.Message) {
	if len(m.Params) < 4 {
		c.messageFromServer("461", []string{"SVINFO", "Not enough parameters"})
		return
	}
	if !c.GotSERVER || !c.SentSERVER {
		c.quit("SERVER first")
		return
	}
	if m.Params[0] != "6" || m.Params[1] != "6" {
		c.quit("Unsupported TS version")
		return
	}
	if m.Params[2] != "0" {
		c.quit("Malformed third parameter")
		return
	}

	theirEpoch, err := strconv.ParseInt(m.Params[3], 10, 64)
	if err != nil {
		c.quit("Malformed time")
		return
	}

	delta := time.Now().Unix() - theirEpoch
	if delta < 0 {
		delta *= -1
	}
	if delta > 60 {
		c.quit("Time insanity")
		return
	}

	if !c.SentSVINFO {
		c.sendSVINFO()
	}

	c.registerServer()
}

// isupportTokens renders the ISUPPORT token list for 005, per SPEC_FULL.md
// §6.
func isupportTokens(cfg *Config) []string {
	return []string{
		"NETWORK=" + cfg.Network,
		"CASEMAPPING=ascii",
		fmt.Sprintf("NICKLEN=%d", cfg.MaxNickLength),
		fmt.Sprintf("CHANNELLEN=%d", maxChannelLength),
		fmt.Sprintf("TOPICLEN=%d", maxTopicLength),
		fmt.Sprintf("KICKLEN=%d", maxKickLength),
		fmt.Sprintf("AWAYLEN=%d", maxAwayLength),
		fmt.Sprintf("CHANLIMIT=#:%d", maxChannelsPerUser),
		"MAXTARGETS=4",
		"CHANTYPES=#&",
		"PREFIX=(qaohv)~&@%+",
		"CHANMODES=beI,k,l,cCimnpRsSt",
		"MODES=4",
		"STATUSMSG=~&@%+",
		"SAFELIST",
		"ELIST=CMNTU",
		"EXCEPTS=e",
		"INVEX=I",
		"EXTBAN=$,arz",
		"WHOX",
		"MONITOR=100",
		"UTF8ONLY",
	}
}
