package main

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// EventType identifies what kind of Event was pushed onto the server's event
// channel.
type EventType int

// Event types.
const (
	NewClientEvent EventType = iota
	DeadClientEvent
	MessageFromClientEvent
	WakeUpEvent
	ShutdownRequestEvent
)

// Event is a unit of work the single event-loop goroutine processes. Every
// mutation to shared state (Users, Channels, Servers, ...) happens only from
// inside the loop that drains these -- see SPEC_FULL.md §5 for why this
// stays a single goroutine rather than per-channel locks.
type Event struct {
	Type    EventType
	Client  *LocalClient
	Message ircmsg.Message
	Reason  string
}

// RequestShutdown asks the event loop to shut the server down cleanly. Safe
// to call from any goroutine (a signal handler, a test harness) since it
// only ever mutates state from inside the loop itself.
func (cb *Catbox) RequestShutdown(reason string) {
	cb.newEvent(Event{Type: ShutdownRequestEvent, Reason: reason})
}

// Catbox is the server. It holds all server state and runs the single event
// loop that every other goroutine (reader/writer per connection, accept
// loop, alarm loop) feeds through EventsChan.
type Catbox struct {
	Config *Config

	EventsChan chan Event

	ShutdownChan chan struct{}

	WG sync.WaitGroup

	LocalClients map[uint64]*LocalClient
	LocalUsers   map[uint64]*LocalUser
	LocalServers map[uint64]*LocalServer

	Users    map[TS6UID]*User
	Servers  map[TS6SID]*Server
	Channels map[string]*Channel

	// Nicks maps a casefolded nick to the UID currently holding it.
	Nicks map[string]TS6UID

	// Opers is the set of users (local or remote) with operator status.
	Opers map[TS6UID]*User

	KLines []ServerBan

	// Whowas is WHOWAS history, keyed by casefolded nick, newest entry last.
	// Bounded per-nick by whowasLimit.
	Whowas map[string][]WhowasEntry

	broker *Broker

	// accounts resolves SASL credentials. Nil means SASL PLAIN/SCRAM always
	// fail closed; a real deployment wires an Accounts implementation in here.
	accounts Accounts

	// messages persists channel history for CHATHISTORY. Defaults to an
	// in-memory ring buffer (memstore.go); never nil.
	messages Messages

	// commandCounts tallies commands processed, for STATS m.
	commandCounts map[string]int

	StartTime time.Time

	uidGen *ts6IDGenerator

	clientIDCounter uint64

	shuttingDown bool

	listener net.Listener
}

// NewCatbox allocates a Catbox from a loaded Config. It does not yet listen.
func NewCatbox(cfg *Config) *Catbox {
	cb := &Catbox{
		Config:       cfg,
		EventsChan:   make(chan Event, 4096),
		ShutdownChan: make(chan struct{}),
		LocalClients: map[uint64]*LocalClient{},
		LocalUsers:   map[uint64]*LocalUser{},
		LocalServers: map[uint64]*LocalServer{},
		Users:        map[TS6UID]*User{},
		Servers:      map[TS6SID]*Server{},
		Channels:     map[string]*Channel{},
		Nicks:        map[string]TS6UID{},
		Opers:         map[TS6UID]*User{},
		KLines:        append([]ServerBan{}, cfg.KLines...),
		Whowas:        map[string][]WhowasEntry{},
		commandCounts: map[string]int{},
		StartTime:     time.Now(),
		uidGen:        newTS6IDGenerator(TS6SID(cfg.TS6SID)),
	}
	cb.broker = newBroker(cb)
	if len(cfg.Accounts) > 0 {
		cb.accounts = NewMemAccounts(cfg.Accounts)
	}
	cb.messages = NewMemMessages(200)
	return cb
}

// recordCommand tallies a processed command verb for STATS m.
func (cb *Catbox) recordCommand(verb string) {
	cb.commandCounts[verb]++
}

// recordWhowas appends a WHOWAS snapshot for a user who is leaving the
// network (quit or nick change), bounded to whowasLimit entries per nick.
func (cb *Catbox) recordWhowas(u *User) {
	key := canonicalizeNick(u.DisplayNick)
	entries := append(cb.Whowas[key], WhowasEntry{
		Nick:     u.DisplayNick,
		Username: u.Username,
		Hostname: u.Hostname,
		RealName: u.RealName,
		Server:   cb.Config.ServerName,
		When:     time.Now(),
	})
	if len(entries) > whowasLimit {
		entries = entries[len(entries)-whowasLimit:]
	}
	cb.Whowas[key] = entries
}

// getClientID returns a locally-unique connection id. Only the event loop
// goroutine calls this.
func (cb *Catbox) getClientID() uint64 {
	cb.clientIDCounter++
	return cb.clientIDCounter
}

// newEvent pushes an event onto the channel. Safe to call from any
// goroutine; drops the event if the server is shutting down and the channel
// might already be closed downstream readers.
func (cb *Catbox) newEvent(e Event) {
	select {
	case cb.EventsChan <- e:
	case <-cb.ShutdownChan:
	}
}

func (cb *Catbox) isShuttingDown() bool {
	return cb.shuttingDown
}

// Start opens the listener (TLS if configured) and launches the accept loop,
// alarm loop, and the main event loop. It blocks until the server shuts
// down.
func (cb *Catbox) Start() error {
	tlsConfig, err := loadTLSConfig(cb.Config.TLSCertFile, cb.Config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("unable to load TLS config: %s", err)
	}

	addr := net.JoinHostPort(cb.Config.ListenHost, cb.Config.ListenPort)
	ln, err := listen(addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("unable to listen: %s", err)
	}
	cb.listener = ln

	log.Printf("Listening on %s (tls=%v)", addr, tlsConfig != nil)

	cb.WG.Add(1)
	go cb.acceptLoop()

	cb.WG.Add(1)
	go cb.alarmLoop()

	for _, link := range cb.Config.Servers {
		cb.connectToServer(link)
	}

	cb.eventLoop()

	cb.WG.Wait()
	return nil
}

func (cb *Catbox) acceptLoop() {
	defer cb.WG.Done()

	for {
		conn, err := cb.listener.Accept()
		if err != nil {
			if cb.isShuttingDown() {
				break
			}
			log.Printf("Accept error: %s", err)
			continue
		}

		cb.newEvent(Event{Type: WakeUpEvent})

		client := NewLocalClient(cb, 0, conn)
		cb.WG.Add(1)
		go func() {
			defer cb.WG.Done()
			cb.newEvent(Event{Type: NewClientEvent, Client: client})
		}()
	}
}

// alarmLoop wakes the event loop periodically so it can check for idle
// clients/links to ping or disconnect, even with no other traffic.
func (cb *Catbox) alarmLoop() {
	defer cb.WG.Done()

	wakeup := cb.Config.WakeupTime
	if wakeup <= 0 {
		wakeup = 10 * time.Second
	}

	ticker := time.NewTicker(wakeup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb.newEvent(Event{Type: WakeUpEvent})
		case <-cb.ShutdownChan:
			return
		}
	}
}

func (cb *Catbox) eventLoop() {
	for {
		select {
		case e := <-cb.EventsChan:
			cb.handleEvent(e)
			if cb.shuttingDown && len(cb.LocalClients) == 0 && len(cb.LocalUsers) == 0 && len(cb.LocalServers) == 0 {
				return
			}
		}
	}
}

func (cb *Catbox) handleEvent(e Event) {
	switch e.Type {
	case NewClientEvent:
		cb.handleNewClient(e.Client)
	case DeadClientEvent:
		cb.handleDeadClient(e.Client)
	case MessageFromClientEvent:
		cb.handleMessageFromClient(e.Client, e.Message)
	case WakeUpEvent:
		cb.checkIdleConnections()
	case ShutdownRequestEvent:
		cb.shutdown(e.Reason)
	}
}

func (cb *Catbox) handleNewClient(c *LocalClient) {
	if c.ID == 0 {
		c.ID = cb.getClientID()
	}
	cb.LocalClients[c.ID] = c

	cb.WG.Add(1)
	go c.readLoop()
	cb.WG.Add(1)
	go c.writeLoop()
}

func (cb *Catbox) handleDeadClient(c *LocalClient) {
	if lu, exists := cb.findLocalUserByClientID(c.ID); exists {
		cb.quitUser(lu.User, "Connection reset")
		return
	}
	if ls, exists := cb.findLocalServerByClientID(c.ID); exists {
		cb.squitServer(ls, "Connection reset")
		return
	}
	c.quit("Connection reset")
}

func (cb *Catbox) handleMessageFromClient(c *LocalClient, m ircmsg.Message) {
	cb.recordCommand(m.Command)

	if lu, exists := cb.findLocalUserByClientID(c.ID); exists {
		lu.handleMessage(m)
		return
	}
	if ls, exists := cb.findLocalServerByClientID(c.ID); exists {
		ls.handleMessage(m)
		return
	}
	c.handleMessage(m)
}

func (cb *Catbox) findLocalUserByClientID(id uint64) (*LocalUser, bool) {
	lu, exists := cb.LocalUsers[id]
	return lu, exists
}

func (cb *Catbox) findLocalServerByClientID(id uint64) (*LocalServer, bool) {
	ls, exists := cb.LocalServers[id]
	return ls, exists
}

// checkIdleConnections pings clients that have been quiet too long and
// drops ones that didn't answer a previous ping in time.
func (cb *Catbox) checkIdleConnections() {
	now := time.Now()

	for _, lu := range cb.LocalUsers {
		idle := now.Sub(lu.LastActivityTime)
		if idle > cb.Config.DeadTime {
			cb.quitUser(lu.User, "Ping timeout")
			continue
		}
		if idle > cb.Config.PingTime && now.Sub(lu.LastPingTime) > cb.Config.PingTime {
			lu.maybeQueueMessage(ircmsg.Message{
				Command: "PING",
				Params:  []string{cb.Config.ServerName},
			})
			lu.LastPingTime = now
		}
	}

	for _, ls := range cb.LocalServers {
		idle := now.Sub(ls.LastActivityTime)
		if idle > cb.Config.ServerDeadTime {
			cb.squitServer(ls, "Ping timeout")
			continue
		}
		if idle > cb.Config.ServerPingTime && now.Sub(ls.LastPingTime) > cb.Config.ServerPingTime {
			ls.maybeQueueMessage(ircmsg.Message{
				Command: "PING",
				Params:  []string{string(cb.Config.TS6SID)},
			})
			ls.LastPingTime = now
		}
	}
}

func (cb *Catbox) connectToServer(link LinkInfo) {
	cb.WG.Add(1)
	go func() {
		defer cb.WG.Done()

		conn, err := net.DialTimeout("tcp",
			fmt.Sprintf("%s:%d", link.Hostname, link.Port), cb.Config.ConnectAttemptTime)
		if err != nil {
			log.Printf("Unable to connect to %s: %s", link.Name, err)
			return
		}

		client := NewLocalClient(cb, 0, conn)
		client.sendServerIntro(link.Pass)

		cb.newEvent(Event{Type: NewClientEvent, Client: client})
	}()
}

// isLinkedToServer reports whether a server of this name is already linked,
// directly or indirectly.
func (cb *Catbox) isLinkedToServer(name string) bool {
	for _, s := range cb.Servers {
		if s.Name == name {
			return true
		}
	}
	return false
}

// noticeOpers sends a server notice to every local and remote operator.
func (cb *Catbox) noticeOpers(s string) {
	msg := ircmsg.Message{
		Prefix:  cb.Config.ServerName,
		Command: "NOTICE",
		Params:  []string{"$" + cb.Config.ServerName, "*** Notice -- " + s},
	}
	for _, u := range cb.Opers {
		if u.LocalUser != nil {
			u.LocalUser.maybeQueueMessage(msg)
		}
	}
	log.Printf("oper notice: %s", s)
}

// noticeLocalOpers is as noticeOpers but limited to locally connected
// operators (connect/disconnect chatter servers don't need relayed).
func (cb *Catbox) noticeLocalOpers(s string) {
	for _, u := range cb.Opers {
		if u.LocalUser == nil {
			continue
		}
		u.LocalUser.serverNotice(s)
	}
	log.Printf("local oper notice: %s", s)
}

// issueKill removes a user (local or remote) from the network, announcing a
// QUIT to anyone who could see them and propagating a KILL to other servers.
func (cb *Catbox) issueKill(u *User, reason string) {
	full, exists := cb.Users[u.UID]
	if exists {
		u = full
	}

	if u.LocalUser != nil {
		u.LocalUser.messageFromServer("ERROR", []string{reason})
		u.LocalUser.quit(reason)
	}

	cb.broker.SendToServers(ircmsg.Message{
		Prefix:  string(cb.Config.TS6SID),
		Command: "KILL",
		Params:  []string{string(u.UID), reason},
	})

	cb.removeUser(u, fmt.Sprintf("Killed (%s)", reason))
}

// quitUser removes a local user from the network cleanly.
func (cb *Catbox) quitUser(u *User, message string) {
	channels := u.channelList(cb)

	cb.broker.Send(ToChannels{Channels: channels}, ircmsg.Message{
		Prefix:  u.nickUhost(),
		Command: "QUIT",
		Params:  []string{message},
	}, ExceptUID(u.UID))

	cb.broker.SendToServers(ircmsg.Message{
		Prefix:  string(u.UID),
		Command: "QUIT",
		Params:  []string{message},
	})

	if u.LocalUser != nil {
		u.LocalUser.messageFromServer("ERROR", []string{fmt.Sprintf("Closing Link: %s", message)})
		u.LocalUser.quit(message)
	}

	cb.removeUser(u, message)
}

// removeUser deletes u from every piece of shared state: channel
// memberships (destroying any channel this empties), the nick table, the
// oper set, and the user table itself.
func (cb *Catbox) removeUser(u *User, reason string) {
	cb.recordWhowas(u)

	for name := range u.Channels {
		ch, exists := cb.Channels[name]
		if !exists {
			continue
		}
		delete(ch.Members, u.UID)
		delete(ch.DelayedJoin, u.UID)
		if ch.isEmpty() {
			delete(cb.Channels, name)
		}
	}

	if held, exists := cb.Nicks[canonicalizeNick(u.DisplayNick)]; exists && held == u.UID {
		delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
	}
	delete(cb.Opers, u.UID)
	delete(cb.Users, u.UID)
	if u.LocalUser != nil {
		delete(cb.LocalUsers, u.LocalUser.ID)
		delete(cb.LocalClients, u.LocalUser.ID)
	}
}

// enforceFlood applies the +f denied-action consequence: kick the offender,
// or ban then kick if the setting's '*' prefix requested BanInstead.
func (cb *Catbox) enforceFlood(channel *Channel, offender *User) {
	if channel.Flood != nil && channel.Flood.BanInstead {
		mask := fmt.Sprintf("*!%s@%s", offender.Username, offender.Hostname)
		if !channel.matchesBan(mask) {
			channel.Bans = append(channel.Bans, MaskEntry{
				Mask:    mask,
				Setter:  cb.Config.ServerName,
				Created: time.Now(),
			})
			cb.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
				Prefix:  cb.Config.ServerName,
				Command: "MODE",
				Params:  []string{channel.Name, "+b", mask},
			})
		}
	}

	cb.kickMember(channel, offender, nil, "Flood protection activated")
}

// kickMember removes target from channel, announcing it as coming from
// kicker (nil for a server-initiated kick, e.g. flood protection) with
// reason, and propagating to links. Destroys the channel if this empties it
// and it's unregistered.
func (cb *Catbox) kickMember(channel *Channel, target *User, kicker *User, reason string) {
	clientSource := cb.Config.ServerName
	serverSource := string(cb.Config.TS6SID)
	if kicker != nil {
		clientSource = kicker.nickUhost()
		serverSource = string(kicker.UID)
	}

	cb.broker.Send(ToChannel{Channel: channel}, ircmsg.Message{
		Prefix:  clientSource,
		Command: "KICK",
		Params:  []string{channel.Name, target.DisplayNick, reason},
	})

	delete(channel.Members, target.UID)
	delete(channel.DelayedJoin, target.UID)
	delete(target.Channels, channel.Name)

	if channel.isEmpty() {
		delete(cb.Channels, channel.Name)
	}

	cb.broker.SendToServers(ircmsg.Message{
		Prefix:  serverSource,
		Command: "KICK",
		Params:  []string{channel.Name, string(target.UID), reason},
	})
}

// squitServer delinks a server (and every server beyond it in the spanning
// tree), quitting every user who was connected through it.
func (cb *Catbox) squitServer(ls *LocalServer, reason string) {
	if ls.Server == nil {
		ls.quit(reason)
		return
	}

	cascade := append([]*Server{ls.Server}, ls.Server.getLinkedServers(cb.Servers)...)
	cascade2 := map[TS6SID]struct{}{}
	for _, s := range cascade {
		cascade2[s.SID] = struct{}{}
	}

	for uid, u := range cb.Users {
		if u.Server == nil {
			continue
		}
		if _, affected := cascade2[u.Server.SID]; !affected {
			continue
		}
		cb.broker.SendToServers(ircmsg.Message{
			Prefix:  string(uid),
			Command: "QUIT",
			Params:  []string{fmt.Sprintf("%s %s", cb.Config.ServerName, u.Server.Name)},
		}, ls.Server.SID)
		cb.removeUser(u, "Server split")
	}

	for _, s := range cascade {
		delete(cb.Servers, s.SID)
	}

	delete(cb.LocalServers, ls.ID)
	delete(cb.LocalClients, ls.ID)

	cb.noticeOpers(fmt.Sprintf("Netsplit: %s (%s)", ls.Server.Name, reason))

	ls.quit(reason)
}

// addAndApplyKLine records a new K-line and disconnects any currently
// connected user it matches.
func (cb *Catbox) addAndApplyKLine(ban ServerBan) {
	cb.KLines = append(cb.KLines, ban)

	for _, lu := range cb.LocalUsers {
		u := lu.User
		if !ban.matches(fmt.Sprintf("%s@%s", u.Username, u.Hostname), u.IP) {
			continue
		}
		lu.messageFromServer("ERROR", []string{fmt.Sprintf("Closing Link: K-Lined: %s", ban.Reason)})
		cb.quitUser(u, fmt.Sprintf("K-Lined: %s", ban.Reason))
	}
}

func (cb *Catbox) removeKLine(pattern string) bool {
	for i, k := range cb.KLines {
		if k.Type == BanKLine && k.Pattern == pattern {
			cb.KLines = append(cb.KLines[:i], cb.KLines[i+1:]...)
			return true
		}
	}
	return false
}

// matchingKLine returns the first K-line matching a prospective connection,
// if any.
func (cb *Catbox) matchingKLine(userAtHost, ip string) *ServerBan {
	now := time.Now()
	for i := range cb.KLines {
		k := &cb.KLines[i]
		if k.Type != BanKLine && k.Type != BanGLine && k.Type != BanZLine {
			continue
		}
		if k.IsExpired(now) {
			continue
		}
		if k.matches(userAtHost, ip) {
			return k
		}
	}
	return nil
}

// createWHOISResponse builds the numeric sequence for a WHOIS reply about
// target, addressed to requester. detailed adds fields only shown to opers
// or the user themselves (idle time, real host).
func (cb *Catbox) createWHOISResponse(target, requester *User, detailed bool) []ircmsg.Message {
	nb := newNumericBuilder(string(cb.Config.ServerName))
	nick := requester.DisplayNick

	var msgs []ircmsg.Message
	msgs = append(msgs, nb.whoisUser(nick, target.DisplayNick, target.Username, target.Hostname, target.RealName))

	serverName := cb.Config.ServerName
	serverInfo := cb.Config.ServerInfo
	if target.Server != nil {
		serverName = target.Server.Name
	}
	msgs = append(msgs, nb.whoisServer(nick, target.DisplayNick, serverName, serverInfo))

	if target.isOperator() {
		msgs = append(msgs, nb.whoisOperator(nick, target.DisplayNick))
	}

	if target.Account != nil {
		msgs = append(msgs, nb.whoisAccount(nick, target.DisplayNick, *target.Account))
	}

	var channels string
	for name, modes := range target.Channels {
		if channels != "" {
			channels += " "
		}
		channels += modes.Prefix() + name
	}
	if channels != "" {
		msgs = append(msgs, nb.whoisChannels(nick, target.DisplayNick, channels))
	}

	if detailed && target.LocalUser != nil {
		idle := time.Since(target.LocalUser.LastMessageTime)
		msgs = append(msgs, nb.whoisIdle(nick, target.DisplayNick, int64(idle.Seconds()), target.ConnectedAt.Unix()))
		if target.LocalUser.Conn.TLS {
			msgs = append(msgs, nb.whoisSecure(nick, target.DisplayNick))
		}
		if requester.isOperator() {
			msgs = append(msgs, nb.whoisActuallyHost(nick, target.DisplayNick, target.IP))
		}
	}

	msgs = append(msgs, nb.endOfWhois(nick, target.DisplayNick))
	return msgs
}

// shutdown begins a graceful shutdown: tells every client, closes the
// listener, and lets the event loop drain until everyone's gone.
func (cb *Catbox) shutdown(message string) {
	if cb.shuttingDown {
		return
	}
	cb.shuttingDown = true

	for _, lu := range cb.LocalUsers {
		cb.quitUser(lu.User, message)
	}
	for _, ls := range cb.LocalServers {
		cb.squitServer(ls, message)
	}
	for _, c := range cb.LocalClients {
		c.quit(message)
	}

	if cb.listener != nil {
		_ = cb.listener.Close()
	}
	close(cb.ShutdownChan)
}

// errorToQuitMessage renders a read/write error as a client-facing QUIT
// reason: a read timeout becomes "Ping timeout: N seconds" (N from
// DeadTime), a reset becomes "Connection reset by peer", a nil or empty
// error becomes "I/O error", and anything else is the error text as is.
func (cb *Catbox) errorToQuitMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "I/O error"
	}
	if strings.HasSuffix(err.Error(), "i/o timeout") {
		return fmt.Sprintf("Ping timeout: %.0f seconds", cb.Config.DeadTime.Seconds())
	}
	if strings.HasSuffix(err.Error(), "connection reset by peer") {
		return "Connection reset by peer"
	}
	return err.Error()
}

// channelList returns the channels u is currently a member of, resolved
// against the server's channel table.
func (u *User) channelList(cb *Catbox) []*Channel {
	var out []*Channel
	for name := range u.Channels {
		if ch, exists := cb.Channels[name]; exists {
			out = append(out, ch)
		}
	}
	return out
}
