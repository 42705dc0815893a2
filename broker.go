package main

import (
	"time"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// Broker fans messages out to one or more local connections. It generalizes
// the repeated "for uid := range channel.Members { ... client.messageFromXxx
// ... }" loops found throughout local_user.go/local_server.go into a single
// Send() call with a pluggable target.
type Broker struct {
	cb *Catbox
}

func newBroker(cb *Catbox) *Broker {
	return &Broker{cb: cb}
}

// Target selects the recipients of a Send call.
type Target interface {
	recipients(cb *Catbox) []*LocalUser
}

// ToUser sends to a single local user (no-op if the user is remote).
type ToUser struct{ User *User }

func (t ToUser) recipients(cb *Catbox) []*LocalUser {
	if t.User == nil || t.User.LocalUser == nil {
		return nil
	}
	return []*LocalUser{t.User.LocalUser}
}

// ToUsers sends to many local users.
type ToUsers struct{ Users []*User }

func (t ToUsers) recipients(cb *Catbox) []*LocalUser {
	var out []*LocalUser
	for _, u := range t.Users {
		if u != nil && u.LocalUser != nil {
			out = append(out, u.LocalUser)
		}
	}
	return out
}

// ToChannel sends to every local member of a channel.
type ToChannel struct{ Channel *Channel }

func (t ToChannel) recipients(cb *Catbox) []*LocalUser {
	var out []*LocalUser
	for uid := range t.Channel.Members {
		u, ok := cb.Users[uid]
		if !ok || u.LocalUser == nil {
			continue
		}
		out = append(out, u.LocalUser)
	}
	return out
}

// ToChannels sends to every local member of any of several channels, deduped.
type ToChannels struct{ Channels []*Channel }

func (t ToChannels) recipients(cb *Catbox) []*LocalUser {
	seen := map[TS6UID]struct{}{}
	var out []*LocalUser
	for _, ch := range t.Channels {
		for uid := range ch.Members {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			u, ok := cb.Users[uid]
			if !ok || u.LocalUser == nil {
				continue
			}
			out = append(out, u.LocalUser)
		}
	}
	return out
}

// ToOperators sends to every local operator.
type ToOperators struct{}

func (t ToOperators) recipients(cb *Catbox) []*LocalUser {
	var out []*LocalUser
	for _, lu := range cb.LocalUsers {
		if lu.User != nil && lu.User.isOperator() {
			out = append(out, lu)
		}
	}
	return out
}

// ToLocalUsers sends to every locally connected, registered user.
type ToLocalUsers struct{}

func (t ToLocalUsers) recipients(cb *Catbox) []*LocalUser {
	var out []*LocalUser
	for _, lu := range cb.LocalUsers {
		if lu.User != nil {
			out = append(out, lu)
		}
	}
	return out
}

// Option modifies how a Send call treats its recipient list.
type Option func(*sendOptions)

type sendOptions struct {
	except map[TS6UID]struct{}
}

// ExceptUID excludes a UID from delivery -- used so e.g. the user who sent a
// PRIVMSG doesn't get it echoed back absent echo-message.
func ExceptUID(uid TS6UID) Option {
	return func(o *sendOptions) {
		if o.except == nil {
			o.except = map[TS6UID]struct{}{}
		}
		o.except[uid] = struct{}{}
	}
}

// Send delivers m to every recipient t resolves to, applying opts, with
// duplicate suppression by connection.
func (b *Broker) Send(t Target, m ircmsg.Message, opts ...Option) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	sent := map[*LocalUser]struct{}{}
	for _, lu := range t.recipients(b.cb) {
		if lu == nil || lu.User == nil {
			continue
		}
		if _, excluded := o.except[lu.User.UID]; excluded {
			continue
		}
		if _, dup := sent[lu]; dup {
			continue
		}
		sent[lu] = struct{}{}
		lu.maybeQueueMessage(tagsForRecipient(lu, m))
	}
}

// tagsForRecipient adapts m's tag block to what lu actually negotiated:
// clients that never requested message-tags get none at all (a server-time
// or msgid tag they can't parse is worse than useless), and clients that did
// request server-time get a "time" tag stamped in if the caller didn't
// already set one.
func tagsForRecipient(lu *LocalUser, m ircmsg.Message) ircmsg.Message {
	if !lu.hasCap("message-tags") {
		if len(m.Tags) == 0 {
			return m
		}
		m.Tags = nil
		return m
	}

	if lu.hasCap("server-time") {
		if _, set := m.Tags["time"]; !set {
			if m.Tags == nil {
				m.Tags = map[string]string{}
			} else {
				tags := make(map[string]string, len(m.Tags)+1)
				for k, v := range m.Tags {
					tags[k] = v
				}
				m.Tags = tags
			}
			m.Tags["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
	}

	return m
}

// SendToServers propagates m to every directly linked server except any in
// the optional exclusion set (split-horizon routing, SPEC_FULL.md §4.6).
func (b *Broker) SendToServers(m ircmsg.Message, except ...TS6SID) {
	skip := map[TS6SID]struct{}{}
	for _, sid := range except {
		skip[sid] = struct{}{}
	}
	for sid, ls := range b.cb.LocalServers {
		if _, excluded := skip[sid]; excluded {
			continue
		}
		ls.maybeQueueMessage(m)
	}
}
