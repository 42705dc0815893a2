package main

import "time"

// The interfaces below are the collaborator boundary SPEC_FULL.md §6
// describes: storage/lookup concerns the core event loop depends on but does
// not implement directly, so that a persistent backend can be dropped in
// without touching session/command code. None are implemented here beyond an
// in-memory default (see memstore.go) -- grounded on the repository-style
// boundary drawn in horgh-presence/horgh-peerbox's store packages.

// Accounts resolves SASL/NickServ-style account credentials.
type Accounts interface {
	Authenticate(account, password string) (bool, error)
	AccountExists(account string) (bool, error)
}

// RegisteredChannels persists +R channel registration (founder, successors).
type RegisteredChannels interface {
	IsRegistered(channel string) (bool, error)
	Founder(channel string) (string, error)
	Register(channel, founder string) error
}

// Messages persists channel history for CHATHISTORY.
type Messages interface {
	Record(channel string, m StoredMessage) error
	Before(channel string, ref time.Time, limit int) ([]StoredMessage, error)
	Latest(channel string, limit int) ([]StoredMessage, error)
}

// StoredMessage is one CHATHISTORY-eligible line.
type StoredMessage struct {
	MsgID     string
	Nick      string
	UserHost  string
	Command   string
	Target    string
	Text      string
	Timestamp time.Time
}

// Bans persists server bans (K/G/Z-line, jupe) across restarts.
type Bans interface {
	All() ([]ServerBan, error)
	Add(b ServerBan) error
	Remove(id string) error
}

// ServerLinks supplies configured S2S peer info and autoconnect state.
type ServerLinks interface {
	Links() (map[string]LinkInfo, error)
}

// Bots tracks service-bot pseudo-clients introduced at burst.
type Bots interface {
	All() ([]BotDefinition, error)
}

// BotDefinition describes a network service pseudo-client.
type BotDefinition struct {
	Nick     string
	Username string
	Hostname string
	RealName string
}

// Vhosts resolves a user's configured virtual host, if any.
type Vhosts interface {
	VhostFor(account string) (string, bool, error)
}

// Memos persists offline store-and-forward notes between accounts.
type Memos interface {
	Send(from, to, text string) error
	Inbox(account string) ([]Memo, error)
}

// Memo is one stored memo.
type Memo struct {
	From      string
	Text      string
	Timestamp time.Time
}

// UserEventNotifier is notified of user lifecycle events so an external
// presence/notification service can react without coupling to the event loop.
type UserEventNotifier interface {
	UserConnected(uid TS6UID, nick string)
	UserDisconnected(uid TS6UID, nick, reason string)
	UserRenamed(uid TS6UID, oldNick, newNick string)
}

// ConnectionManager abstracts accept/dial so tests can substitute in-memory
// pipes for real sockets. Nothing in this module implements it; the e2e
// harness uses real TCP sockets.
type ConnectionManager interface {
	Accept() (Conn, error)
	Dial(addr string) (Conn, error)
	Close() error
}
