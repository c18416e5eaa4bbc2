package main

import (
	"fmt"
	"log"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/coralirc/catboxd/ircmsg"
	"github.com/pkg/errors"
)

// Catbox is the authoritative in-memory index of all known connections,
// users, servers, and channels: the pool/registry. It is process-wide
// state, constructed at startup and torn down at shutdown (§3 "Pool").
//
// All mutation happens from the single event loop goroutine run by
// newEvent's consumer (Run()); readLoop/writeLoop goroutines only ever
// push events onto EventChan, never touch these maps directly. That single
// writer keeps the maps consistent without locks, matching the
// single-threaded cooperative scheduling model (§5).
type Catbox struct {
	Config *Config

	// Local-only connection/user/server indices, keyed by LocalClient.ID.
	LocalClients map[uint64]*LocalClient
	LocalUsers   map[uint64]*LocalUser
	LocalServers map[uint64]*LocalServer

	// Network-wide indices (local and remote entities alike).
	Users    map[TS6UID]*User
	Nicks    map[string]TS6UID // canonicalized nick -> UID
	Servers  map[TS6SID]*Server
	Channels map[string]*Channel // canonicalized name -> Channel

	Opers map[TS6UID]*User

	KLines []KLine

	Hooks *HookRegistry

	RateLimiter *ConnRateLimiterConfig

	Metrics *Metrics

	// ModeTable is this server's own umode/cmode letter<->name mapping
	// (§4.E/§4.F). Populated from Config.ModeTablePath by loadModeTable,
	// falling back to defaultModeTable when unset.
	ModeTable *ModeTable

	// noticedUnknownUmodes tracks which unknown umode letters we've
	// already sent a one-shot 501 notice for, so repeated attempts with
	// the same unknown letter don't spam the client (§4.D/§8).
	noticedUnknownUmodes map[byte]struct{}

	EventChan    chan Event
	ShutdownChan chan struct{}
	WG           *sync.WaitGroup

	nextClientID uint64
	shuttingDown bool
}

// KLine bans a user@host mask.
type KLine struct {
	UserMask string
	HostMask string
	Reason   string
	Source   string
	SetAt    time.Time
}

// EventType identifies what kind of Event was raised.
type EventType int

// Event kinds the single server goroutine consumes.
const (
	NewClientEvent EventType = iota
	MessageFromClientEvent
	DeadClientEvent
)

// Event is something that happened that the server goroutine must react
// to: a new connection, an inbound message, or a dead connection.
type Event struct {
	Type    EventType
	Client  *LocalClient
	Message ircmsg.Message
}

// NewCatbox constructs the pool. Nothing is implicitly created on first
// use (§9 "Global pool / local-server singleton are explicit
// module-scoped state with an init(config) constructor").
func NewCatbox(config *Config) *Catbox {
	return &Catbox{
		Config:       config,
		LocalClients: make(map[uint64]*LocalClient),
		LocalUsers:   make(map[uint64]*LocalUser),
		LocalServers: make(map[uint64]*LocalServer),
		Users:        make(map[TS6UID]*User),
		Nicks:        make(map[string]TS6UID),
		Servers:      make(map[TS6SID]*Server),
		Channels:     make(map[string]*Channel),
		Opers:        make(map[TS6UID]*User),
		Hooks:        NewHookRegistry(),
		RateLimiter:  config.RateLimit,
		Metrics:      NewMetrics(),
		ModeTable:            defaultModeTable(),
		noticedUnknownUmodes: make(map[byte]struct{}),
		EventChan:            make(chan Event, 4096),
		ShutdownChan: make(chan struct{}),
		WG:           &sync.WaitGroup{},
	}
}

// newEvent pushes an event onto the event channel from a reader/writer
// goroutine. It never blocks the caller past a shutdown in progress.
func (cb *Catbox) newEvent(e Event) {
	select {
	case cb.EventChan <- e:
	case <-cb.ShutdownChan:
	}
}

// noticeUnknownUmodeOnce reports whether this is the first time we've seen
// an unknown umode letter, recording it so later attempts stay silent
// (§4.D: "unknown letters emit a one-shot notice per (server, letter)").
func (cb *Catbox) noticeUnknownUmodeOnce(letter byte) bool {
	if _, seen := cb.noticedUnknownUmodes[letter]; seen {
		return false
	}
	cb.noticedUnknownUmodes[letter] = struct{}{}
	return true
}

func (cb *Catbox) isShuttingDown() bool {
	return cb.shuttingDown
}

// shutdown tears the pool down: stop accepting new work and let
// goroutines observe ShutdownChan closing.
func (cb *Catbox) shutdown() {
	if cb.shuttingDown {
		return
	}
	cb.shuttingDown = true
	close(cb.ShutdownChan)
}

// getClientID returns a fresh process-unique local client identifier.
func (cb *Catbox) getClientID() uint64 {
	cb.nextClientID++
	return cb.nextClientID
}

// Listen runs the accept loop for the given listener until shutdown. It is
// the pool's half of the connection lifecycle named in §3's Connection
// lifecycle: "created on accept."
func (cb *Catbox) Listen(ln net.Listener) {
	cb.WG.Add(1)
	defer cb.WG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if cb.isShuttingDown() {
				return
			}
			log.Printf("Error accepting connection: %s", err)
			continue
		}

		id := cb.getClientID()
		lc := NewLocalClient(cb, id, conn)
		cb.LocalClients[id] = lc
		cb.Metrics.Connections.Inc()

		cb.WG.Add(2)
		go lc.readLoop()
		go lc.writeLoop()

		log.Printf("New connection: %s", lc)
	}
}

// Run is the single server goroutine: every event is processed to
// completion, including its synchronous peer fan-out, before the next is
// read (§5 "All protocol processing is serialised").
func (cb *Catbox) Run() {
	for {
		select {
		case ev := <-cb.EventChan:
			cb.handleEvent(ev)
		case <-cb.ShutdownChan:
			return
		}
	}
}

func (cb *Catbox) handleEvent(ev Event) {
	switch ev.Type {
	case NewClientEvent:
		// No-op: the client is already indexed by Listen. Reserved for
		// extension hooks that want to observe acceptance.
	case DeadClientEvent:
		cb.handleDeadClient(ev.Client)
	case MessageFromClientEvent:
		cb.handleMessageFromClient(ev.Client, ev.Message)
	}
}

func (cb *Catbox) handleDeadClient(c *LocalClient) {
	if lu, exists := cb.LocalUsers[c.ID]; exists {
		lu.quit("Connection closed")
		return
	}
	if ls, exists := cb.LocalServers[c.ID]; exists {
		ls.quit("Connection closed")
		return
	}
	c.quit("Connection closed")
}

func (cb *Catbox) handleMessageFromClient(c *LocalClient, m ircmsg.Message) {
	// Flood control applies to user clients only; server links are trusted
	// peers carrying a burst that can legitimately be large and fast.
	if _, isServer := cb.LocalServers[c.ID]; !isServer {
		if !c.RateLimiter.allow() {
			return
		}
	}

	if lu, exists := cb.LocalUsers[c.ID]; exists {
		lu.LastActivityTime = time.Now()
		lu.handleMessage(m)
		return
	}
	if ls, exists := cb.LocalServers[c.ID]; exists {
		ls.LastActivityTime = time.Now()
		ls.handleMessage(m)
		return
	}
	c.handleMessage(m)
}

// isLinkedToServer reports whether a server with this name is presently
// linked (locally or transitively).
func (cb *Catbox) isLinkedToServer(name string) bool {
	for _, s := range cb.Servers {
		if strings.EqualFold(s.Name, name) {
			return true
		}
	}
	return false
}

// issueKill forces a user off the network, locally or remotely. It sends a
// KILL to every linked server, with the reason in the "<server> (<reason>)"
// form killCommand parses. Locally it then closes the connection with the
// KILL reason; remotely it drops the user from the indices.
func (cb *Catbox) issueKill(u *User, reason string) {
	for _, server := range cb.LocalServers {
		server.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(cb.Config.TS6SID),
			Command: "KILL",
			Params: []string{string(u.UID),
				fmt.Sprintf("%s (%s)", cb.Config.ServerName, reason)},
		})
	}

	if u.isLocal() {
		u.LocalUser.quit(fmt.Sprintf("Killed: %s", reason))
		return
	}

	delete(cb.Users, u.UID)
	delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
}

// noticeLocalOpers sends an operator notice to locally-connected opers
// only.
func (cb *Catbox) noticeLocalOpers(msg string) {
	log.Printf("Notice (local opers): %s", msg)
	for _, u := range cb.Opers {
		if !u.isLocal() {
			continue
		}
		u.LocalUser.maybeQueueMessage(ircmsg.Message{
			Prefix:  cb.Config.ServerName,
			Command: "NOTICE",
			Params:  []string{u.DisplayNick, "*** Notice -- " + msg},
		})
	}
}

// noticeOpers sends an operator notice network-wide: locally, and
// propagated to peers as an ENCAP'd NOTICE-to-opers so their own
// locally-connected opers see it too.
func (cb *Catbox) noticeOpers(msg string) {
	cb.noticeLocalOpers(msg)

	for _, s := range cb.Servers {
		if s.LocalServer == nil || s.LocalServer.Bursting {
			continue
		}
		s.LocalServer.maybeQueueMessage(ircmsg.Message{
			Prefix:  string(cb.Config.TS6SID),
			Command: "ENCAP",
			Params:  []string{"*", "GLOBOPS", msg},
		})
	}
}

// addAndApplyKLine records a ban and kills any currently-connected matching
// local users.
func (cb *Catbox) addAndApplyKLine(k KLine, source, reason string) {
	k.Source = source
	k.SetAt = time.Now()
	cb.KLines = append(cb.KLines, k)

	cb.noticeOpers(fmt.Sprintf("%s added K-Line for %s@%s: %s", source,
		k.UserMask, k.HostMask, reason))

	for _, lu := range cb.LocalUsers {
		if klineMatches(k, lu.User.Username, lu.User.Hostname) {
			cb.issueKill(lu.User, fmt.Sprintf("K-Lined: %s", reason))
		}
	}
}

// removeKLine removes a matching ban, if any.
func (cb *Catbox) removeKLine(userMask, hostMask, source string) {
	for i, k := range cb.KLines {
		if k.UserMask == userMask && k.HostMask == hostMask {
			cb.KLines = append(cb.KLines[:i], cb.KLines[i+1:]...)
			cb.noticeOpers(fmt.Sprintf("%s removed K-Line for %s@%s", source,
				userMask, hostMask))
			return
		}
	}
}

func klineMatches(k KLine, user, host string) bool {
	return matchMask(k.UserMask, user) && matchMask(k.HostMask, host)
}

// matchMask implements the glob-style (*, ?) matching K-Lines use.
func matchMask(mask, s string) bool {
	pattern := strings.Builder{}
	for _, r := range mask {
		switch r {
		case '*':
			pattern.WriteString(".*")
		case '?':
			pattern.WriteString(".")
		default:
			pattern.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re, err := regexp.Compile("(?i)^" + pattern.String() + "$")
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// createWHOISResponse builds the set of WHOIS reply numerics for target as
// seen by source. fromServer indicates the request is relayed from a
// remote server: the numerics then carry this server's SID as prefix and
// the asking user's UID as target, which the remote side's numericCommand
// turns back into the user's nick.
func (cb *Catbox) createWHOISResponse(target, source *User, fromServer bool) []ircmsg.Message {
	var msgs []ircmsg.Message

	serverName := cb.Config.ServerName
	to := source.DisplayNick
	if fromServer {
		serverName = string(cb.Config.TS6SID)
		to = string(source.UID)
	}

	msgs = append(msgs, ircmsg.Message{
		Prefix:  serverName,
		Command: "311",
		Params: []string{to, target.DisplayNick, target.Username,
			target.Hostname, "*", target.RealName},
	})

	var channels []string
	for _, ch := range target.Channels {
		channels = append(channels, ch.Name)
	}
	if len(channels) > 0 {
		msgs = append(msgs, ircmsg.Message{
			Prefix:  serverName,
			Command: "319",
			Params:  []string{to, target.DisplayNick, strings.Join(channels, " ")},
		})
	}

	homeServerName := cb.Config.ServerName
	homeServerDesc := cb.Config.ServerInfo
	if target.Server != nil {
		homeServerName = target.Server.Name
		homeServerDesc = target.Server.Description
	}
	msgs = append(msgs, ircmsg.Message{
		Prefix:  serverName,
		Command: "312",
		Params:  []string{to, target.DisplayNick, homeServerName, homeServerDesc},
	})

	if target.isOperator() {
		msgs = append(msgs, ircmsg.Message{
			Prefix:  serverName,
			Command: "313",
			Params:  []string{to, target.DisplayNick, "is an IRC operator"},
		})
	}

	msgs = append(msgs, ircmsg.Message{
		Prefix:  serverName,
		Command: "318",
		Params:  []string{to, target.DisplayNick, "End of /WHOIS list."},
	})

	return msgs
}

// config errors are wrapped with github.com/pkg/errors at this boundary so
// the causal chain (which key, which file) survives to the top-level log
// line in main.go.
func wrapConfigErr(err error, msg string) error {
	return errors.Wrap(err, msg)
}
