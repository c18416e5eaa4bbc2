package main

import (
	"sort"
	"strings"

	"github.com/coralirc/catboxd/ircmsg"
)

// supportedCaps is the set of IRCv3 capabilities this server offers. The
// token spellings match the ones a girc-based client negotiates against
// (see girc.Config.SupportedCaps and its extended-join/userhost-in-names
// handling), even though this side of the link doesn't import girc
// itself — it's a client library with nothing a server process can wire
// into its own connection handling.
var supportedCaps = map[string]struct{}{
	"chghost":            {},
	"away-notify":        {},
	"account-notify":     {},
	"multi-prefix":       {},
	"message-tags":       {},
	"server-time":        {},
	"echo-message":       {},
	"cap-notify":         {},
	"extended-join":      {},
	"userhost-in-names":  {},
}

// capCommand implements CAP LS/LIST/REQ/ACK/NAK/END (§ Supplemented
// Features: IRCv3 capability negotiation). It runs before registration
// completes, same as NICK/USER/PASS/CAPAB.
func (c *LocalClient) capCommand(m ircmsg.Message) {
	if len(m.Params) == 0 {
		c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
		return
	}

	sub := strings.ToUpper(m.Params[0])

	switch sub {
	case "LS":
		c.CapNegotiating = true
		if c.ClientCaps == nil {
			c.ClientCaps = make(map[string]struct{})
		}
		c.sendCapReply("LS", strings.Join(sortedCapNames(supportedCaps), " "))

	case "LIST":
		c.sendCapReply("LIST", strings.Join(sortedCapNames(c.ClientCaps), " "))

	case "REQ":
		if len(m.Params) < 2 {
			c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
			return
		}
		c.handleCapReq(m.Params[1])

	case "END":
		c.CapNegotiating = false
		// Registration may have been waiting on us.
		if len(c.PreRegDisplayNick) > 0 && len(c.PreRegUser) > 0 {
			c.registerUser()
		}

	default:
		// Unknown subcommand: IRCv3 says to ignore it.
	}
}

func (c *LocalClient) handleCapReq(requested string) {
	reqs := strings.Fields(requested)
	if c.ClientCaps == nil {
		c.ClientCaps = make(map[string]struct{})
	}

	for _, name := range reqs {
		deny := strings.HasPrefix(name, "-")
		bare := strings.TrimPrefix(name, "-")
		if _, known := supportedCaps[bare]; !known {
			c.sendCapReply("NAK", requested)
			return
		}
		_ = deny
	}

	for _, name := range reqs {
		if strings.HasPrefix(name, "-") {
			delete(c.ClientCaps, strings.TrimPrefix(name, "-"))
			continue
		}
		c.ClientCaps[name] = struct{}{}
	}

	c.sendCapReply("ACK", requested)
}

func (c *LocalClient) sendCapReply(sub, params string) {
	nick := "*"
	if len(c.PreRegDisplayNick) > 0 {
		nick = c.PreRegDisplayNick
	}
	c.maybeQueueMessage(ircmsg.Message{
		Prefix:  c.Catbox.Config.ServerName,
		Command: "CAP",
		Params:  []string{nick, sub, params},
	})
}

func sortedCapNames(caps map[string]struct{}) []string {
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hasCap reports whether the owning user's local connection negotiated
// the named capability. Remote users are treated as not having any
// client capability (the core always emits the base form to peers; a peer
// server re-expands it for its own locally connected clients).
func (u *User) hasCap(name string) bool {
	if !u.isLocal() {
		return false
	}
	_, exists := u.LocalUser.ClientCaps[name]
	return exists
}
