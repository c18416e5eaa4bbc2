package main

import "github.com/coralirc/catboxd/ircmsg"

// HookResult is a hook handler's verdict on whether processing of the
// event it was attached to should continue (§9 "Hook/extension point").
type HookResult struct {
	// Stop, if true, means no further handlers for this hook name run and
	// the triggering command should not proceed to its default behavior.
	Stop bool

	// ReplyNumeric, if non-empty, is sent back (with ReplyArgs) to the triggering client before
	// stopping. Only meaningful when Stop is true; a hook that wants to
	// stop silently leaves this empty.
	ReplyNumeric string
	ReplyArgs    []string
}

// Continue lets the event fall through to the next handler (and
// eventually to default behavior).
func Continue() HookResult { return HookResult{} }

// StopSilent halts further processing with no reply sent.
func StopSilent() HookResult { return HookResult{Stop: true} }

// StopWithReply halts further processing and sends the given numeric
// reply to the triggering client.
func StopWithReply(numeric string, args ...string) HookResult {
	return HookResult{Stop: true, ReplyNumeric: numeric, ReplyArgs: args}
}

// HookFunc is a single extension handler. args is hook-specific: it is
// whatever the call site that fires the hook passes to Fire.
type HookFunc func(cb *Catbox, args ...interface{}) HookResult

// Well-known hook names (§9). Extensions register against these; the core
// fires them at the matching point in the registration state machine or
// messaging path.
const (
	HookCanPrivmsg        = "can_privmsg"
	HookCanNotice         = "can_notice"
	HookCantPrivmsg       = "cant_privmsg"
	HookCantNotice        = "cant_notice"
	HookCanReceivePrivmsg = "can_receive_privmsg"
	HookCanReceiveNotice  = "can_receive_notice"
	HookWillChangeNick    = "will_change_nick"
	HookChangeNick        = "change_nick"
	HookUserMode          = "user_mode"
	HookRegNick           = "reg_nick"
	HookRegUser           = "reg_user"
	HookSendBurst         = "send_burst"
	HookServerQuit        = "server_quit"
)

// HookRegistry maps a hook name to its ordered list of handlers. Handlers
// run in registration order; the first one to Stop wins.
type HookRegistry struct {
	handlers map[string][]HookFunc
}

// NewHookRegistry returns an empty registry. Nothing is wired into it by
// default; core call sites fire a name whether or not anything is
// registered against it, so registering late (or never) is harmless.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{handlers: make(map[string][]HookFunc)}
}

// Register attaches a handler to a hook name.
func (h *HookRegistry) Register(name string, fn HookFunc) {
	h.handlers[name] = append(h.handlers[name], fn)
}

// Fire runs every handler registered against name, in order, stopping at
// the first one that returns Stop. It returns Continue() if no handler is
// registered or none stop.
func (h *HookRegistry) Fire(cb *Catbox, name string, args ...interface{}) HookResult {
	for _, fn := range h.handlers[name] {
		r := fn(cb, args...)
		if r.Stop {
			return r
		}
	}
	return Continue()
}

// sendHookReply renders a StopWithReply verdict back to a local client as
// a numeric, addressed using whatever display name the client currently
// has (its registered nick, or "*" before registration).
func sendHookReply(lc *LocalClient, target string, r HookResult) {
	if r.ReplyNumeric == "" {
		return
	}
	params := append([]string{target}, r.ReplyArgs...)
	lc.maybeQueueMessage(ircmsg.Message{
		Prefix:  lc.Catbox.Config.ServerName,
		Command: r.ReplyNumeric,
		Params:  params,
	})
}
