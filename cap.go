package main

import (
	"strings"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// supportedCaps is the set of IRCv3 capabilities this server can negotiate.
// See SPEC_FULL.md §6 Capabilities.
var supportedCaps = map[string]string{
	"server-time":          "",
	"batch":                "",
	"echo-message":         "",
	"message-tags":         "",
	"multi-prefix":         "",
	"away-notify":          "",
	"account-notify":       "",
	"account-tag":          "",
	"extended-join":        "",
	"cap-notify":           "",
	"sasl":                 "PLAIN,EXTERNAL,SCRAM-SHA-256",
	"msgid":                "",
	"invite-notify":        "",
	"labeled-response":     "",
	"userhost-in-names":    "",
	"setname":              "",
	"standard-replies":     "",
	"draft/event-playback": "",
	"draft/read-marker":    "",
	"sts":                  "",
	"bot":                  "",
	"draft/chathistory":    "",
	"chghost":              "",
}

// capLSLine renders the space-separated CAP LS token list, including values
// for capabilities that carry one (currently only sasl).
func capLSLine() string {
	var tokens []string
	for name, value := range supportedCaps {
		if value != "" {
			tokens = append(tokens, name+"="+value)
		} else {
			tokens = append(tokens, name)
		}
	}
	return strings.Join(tokens, " ")
}

// capCommand handles CAP LS/REQ/ACK/LIST/END during (or after) registration.
// CAP negotiation suspends registration completion until CAP END, per
// SPEC_FULL.md §4.2.
func (c *LocalClient) capCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
		return
	}

	sub := strings.ToUpper(m.Params[0])

	switch sub {
	case "LS":
		c.CapNegotiating = true
		if len(m.Params) > 1 {
			c.Cap302 = m.Params[1] == "302"
		}
		c.reply("CAP", "LS", capLSLine())

	case "LIST":
		var have []string
		for name := range c.Caps {
			have = append(have, name)
		}
		c.reply("CAP", "LIST", strings.Join(have, " "))

	case "REQ":
		if len(m.Params) < 2 {
			c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
			return
		}
		c.CapNegotiating = true
		requested := strings.Fields(m.Params[1])
		ok := true
		for _, cap := range requested {
			name := strings.TrimPrefix(cap, "-")
			if _, known := supportedCaps[name]; !known {
				ok = false
				break
			}
		}
		if !ok {
			c.reply("CAP", "NAK", m.Params[1])
			return
		}
		if c.Caps == nil {
			c.Caps = map[string]struct{}{}
		}
		for _, cap := range requested {
			if strings.HasPrefix(cap, "-") {
				delete(c.Caps, strings.TrimPrefix(cap, "-"))
				continue
			}
			c.Caps[cap] = struct{}{}
		}
		c.reply("CAP", "ACK", m.Params[1])

	case "END":
		c.CapNegotiating = false
		c.maybeFinishRegistration()

	default:
		c.messageFromServer("410", []string{sub, "Invalid CAP subcommand"})
	}
}

// reply sends a message with "*" or the pre-registration nick as the target,
// the way CAP/AUTHENTICATE replies address a not-yet-registered client.
func (c *LocalClient) reply(command string, params ...string) {
	nick := "*"
	if c.PreRegDisplayNick != "" {
		nick = c.PreRegDisplayNick
	}
	all := append([]string{nick}, params...)
	c.maybeQueueMessage(ircmsg.Message{
		Prefix:  c.Catbox.Config.ServerName,
		Command: command,
		Params:  all,
	})
}

func (c *LocalClient) hasCap(name string) bool {
	_, exists := c.Caps[name]
	return exists
}
