package main

import (
	"fmt"
	"strings"

	"github.com/coralirc/catboxd/ircmsg"
)

// User holds information about a user. It may be remote or local (§3
// "User").
type User struct {
	DisplayNick string
	HopCount    int
	NickTS      int64
	Modes       map[byte]struct{}
	Username    string
	Hostname    string

	// Cloak is the visible hostname, which may differ from Hostname.
	// Defaults to Hostname.
	Cloak string

	IP       string
	UID      TS6UID
	RealName string

	// Account is the optional logged-in account name (empty if none).
	Account string

	// AwayMessage is the optional away reason; empty means not away.
	AwayMessage string

	// OperFlags is the flat set of operator privilege flags this user
	// holds. "all" is a wildcard flag.
	OperFlags map[string]struct{}

	// InitComplete is set once a local user has been sent the welcome
	// sequence at registration. getMaskChanged sends the user no
	// RPL_HOSTHIDDEN before then.
	InitComplete bool

	// Channel name (canonicalized) to Channel.
	Channels map[string]*Channel

	// LocalUser set if this is a local user.
	LocalUser *LocalUser

	// This is the server we heard about the user from. It is not necessarily the
	// server they are on. It could be on a server linked to the one we are
	// linked to.
	ClosestServer *LocalServer

	// This is the server the user is connected to.
	Server *Server
}

func (u *User) String() string {
	return fmt.Sprintf("%s: %s", u.UID, u.nickUhost())
}

func (u *User) nickUhost() string {
	host := u.Cloak
	if host == "" {
		host = u.Hostname
	}
	return fmt.Sprintf("%s!~%s@%s", u.DisplayNick, u.Username, host)
}

func (u *User) isOperator() bool {
	_, exists := u.Modes['o']
	return exists
}

func (u *User) onChannel(channel *Channel) bool {
	_, exists := u.Channels[channel.Name]
	return exists
}

func (u *User) modesString() string {
	s := "+"
	for m := range u.Modes {
		s += string(m)
	}
	return s
}

func (u *User) isLocal() bool {
	return u.LocalUser != nil
}

// messageUser sends an IRC message appearing to come from u (using its
// current nick!user@host) to target. Only local targets receive anything
// here; a remote target's own home server relays the equivalent message to
// its local users once the command itself has been propagated there.
func (u *User) messageUser(target *User, command string, params []string) {
	if !target.isLocal() {
		return
	}
	target.LocalUser.maybeQueueMessage(ircmsg.Message{
		Prefix:  u.nickUhost(),
		Command: command,
		Params:  params,
	})
}

// getMaskChanged updates a user's ident/cloak and propagates the change to
// local members sharing a channel with them (§4.D "Mask change"). Peers
// that negotiated the chghost capability get a single CHGHOST; others get
// a QUIT+JOIN(+MODE) emulation sequence if cb.Config.ChghostEmulation
// allows it.
func (u *User) getMaskChanged(newIdent, newCloak string, cb *Catbox) {
	oldMask := u.nickUhost()
	changed := u.Username != newIdent || u.Cloak != newCloak
	u.Username = newIdent
	u.Cloak = newCloak
	if !changed {
		return
	}

	if u.isLocal() && u.InitComplete {
		// 396 RPL_HOSTHIDDEN-ish "is now your displayed host"
		u.LocalUser.messageFromServer("396", []string{u.Cloak, "is now your displayed host"})
	}

	sharedChannels := make(map[TS6UID][]*Channel)
	for _, channel := range u.Channels {
		for memberUID := range channel.Members {
			if memberUID == u.UID {
				continue
			}
			member, exists := cb.Users[memberUID]
			if !exists || !member.isLocal() {
				continue
			}
			sharedChannels[memberUID] = append(sharedChannels[memberUID], channel)
		}
	}

	for memberUID, channels := range sharedChannels {
		member := cb.Users[memberUID]

		if member.hasCap("chghost") {
			member.LocalUser.maybeQueueMessage(ircmsg.Message{
				Prefix:  oldMask,
				Command: "CHGHOST",
				Params:  []string{newIdent, newCloak},
			})
			continue
		}

		if !cb.Config.ChghostEmulation {
			continue
		}

		member.LocalUser.maybeQueueMessage(ircmsg.Message{
			Prefix: oldMask, Command: "QUIT", Params: []string{"Changing host"},
		})
		for _, channel := range channels {
			member.LocalUser.maybeQueueMessage(ircmsg.Message{
				Prefix: u.nickUhost(), Command: "JOIN", Params: []string{channel.Name},
			})
			if channel.isOp(u.UID) {
				member.LocalUser.maybeQueueMessage(ircmsg.Message{
					Prefix:  cb.Config.ServerName,
					Command: "MODE",
					Params:  []string{channel.Name, "+o", u.DisplayNick},
				})
			}
		}
	}
}

// sharedLocalChannelUsers returns every local user who shares at least one
// channel with u (excluding u itself), deduplicated. Used to fan out
// AWAY/ACCOUNT notifications to the right audience (§4.D, §6).
func (u *User) sharedLocalChannelUsers(cb *Catbox) []*User {
	seen := make(map[TS6UID]struct{})
	var result []*User
	for _, channel := range u.Channels {
		for memberUID := range channel.Members {
			if memberUID == u.UID {
				continue
			}
			if _, already := seen[memberUID]; already {
				continue
			}
			member, exists := cb.Users[memberUID]
			if !exists || !member.isLocal() {
				continue
			}
			seen[memberUID] = struct{}{}
			result = append(result, member)
		}
	}
	return result
}

// setAccount updates the user's logged-in account name and announces it to
// channel-mates who negotiated account-notify (§4.D, §6). Pass "" for
// account to represent logging out, rendered on the wire as "*" per the
// account-notify extension's convention. Nothing in this tree calls this
// yet (no SASL/services login exists), but it gives the capability a real,
// ready call site rather than leaving account-notify unconsulted anywhere.
func (u *User) setAccount(account string, cb *Catbox) {
	u.Account = account

	wireAccount := account
	if wireAccount == "" {
		wireAccount = "*"
	}

	for _, member := range u.sharedLocalChannelUsers(cb) {
		if !member.hasCap("account-notify") {
			continue
		}
		member.LocalUser.maybeQueueMessage(ircmsg.Message{
			Prefix:  u.nickUhost(),
			Command: "ACCOUNT",
			Params:  []string{wireAccount},
		})
	}
}

func (u *User) isRemote() bool {
	return !u.isLocal()
}

// isAway reports whether the user has an away reason set.
func (u *User) isAway() bool {
	return u.AwayMessage != ""
}

// hasOperFlag reports whether the user holds the named flag, or the "all"
// wildcard flag.
func (u *User) hasOperFlag(flag string) bool {
	if _, exists := u.OperFlags["all"]; exists {
		return true
	}
	_, exists := u.OperFlags[flag]
	return exists
}

// matchesMask reports whether the user's ident/host match a K-Line style
// user@host mask pair (glob * and ? supported).
func (u *User) matchesMask(userMask, hostMask string) bool {
	return matchMask(userMask, strings.TrimPrefix(u.Username, "~")) &&
		(matchMask(hostMask, u.Hostname) || matchMask(hostMask, u.IP))
}
