package main

// Channel holds everything to do with a channel.
type Channel struct {
	// Canonicalized name.
	Name string

	// Members in the channel.
	// If we have zero members, we should not exist.
	Members map[TS6UID]struct{}

	// MemberModes holds each member's channel status mode names (e.g.
	// "op", "voice") (§4.E channel mode tables, status type).
	MemberModes map[TS6UID]map[string]struct{}

	// Modes holds the channel's non-list, non-status modes by logical
	// name, e.g. "noexternal" -> "", "key" -> "letmein", "limit" -> "10"
	// (§4.F ModeTypeFlag/ParamAlways/ParamOnSet).
	Modes map[string]string

	// Lists holds the channel's list-type modes by logical name, e.g.
	// "ban" -> []string{"*!*@spammer.example"} (§4.F ModeTypeList).
	Lists map[string][]string

	// Current topic. May be blank.
	Topic string

	// Channel TS. Changes on channel creation (or if another server tells us
	// a different TS).
	TS int64
}

// isOp reports whether uid holds channel operator status.
func (c *Channel) isOp(uid TS6UID) bool {
	modes, exists := c.MemberModes[uid]
	if !exists {
		return false
	}
	_, isOp := modes["op"]
	return isOp
}

// isVoice reports whether uid holds channel voice status.
func (c *Channel) isVoice(uid TS6UID) bool {
	modes, exists := c.MemberModes[uid]
	if !exists {
		return false
	}
	_, voiced := modes["voice"]
	return voiced
}

// statusPrefix renders the conventional NAMES/WHO status prefix for a
// member: "@" for op, "+" for voice, "" otherwise. These are fixed IRC
// client-facing prefixes, independent of whatever letters a server's own
// ModeTable assigns the underlying "op"/"voice" cmodes.
func (c *Channel) statusPrefix(uid TS6UID) string {
	if c.isOp(uid) {
		return "@"
	}
	if c.isVoice(uid) {
		return "+"
	}
	return ""
}

// setStatus grants uid the named status mode (e.g. "op", "voice").
func (c *Channel) setStatus(uid TS6UID, name string) {
	if c.MemberModes == nil {
		c.MemberModes = make(map[TS6UID]map[string]struct{})
	}
	if c.MemberModes[uid] == nil {
		c.MemberModes[uid] = make(map[string]struct{})
	}
	c.MemberModes[uid][name] = struct{}{}
}

// unsetStatus revokes the named status mode from uid.
func (c *Channel) unsetStatus(uid TS6UID, name string) {
	delete(c.MemberModes[uid], name)
}

// addListEntry adds mask to the named list mode if not already present.
// Reports whether it was actually added (false if it was a duplicate).
func (c *Channel) addListEntry(name, mask string) bool {
	if c.Lists == nil {
		c.Lists = make(map[string][]string)
	}
	for _, existing := range c.Lists[name] {
		if existing == mask {
			return false
		}
	}
	c.Lists[name] = append(c.Lists[name], mask)
	return true
}

// removeListEntry removes mask from the named list mode. Reports whether
// it was present.
func (c *Channel) removeListEntry(name, mask string) bool {
	entries := c.Lists[name]
	for i, existing := range entries {
		if existing == mask {
			c.Lists[name] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// applyModeString parses a "+/-letters" string against table and applies
// each resolved change to the channel's Modes/Lists/MemberModes, consuming
// parameters from params in order. Status-mode parameters are expected in
// wire form (a UID known to cb.Users); callers working with nicks must
// resolve them to UIDs first. Returns the changes actually applied (ones
// that resolved and took effect), for relaying onward.
func (c *Channel) applyModeString(cb *Catbox, table *ModeTable, modeStr string, params []string) []cmodeChange {
	var applied []cmodeChange
	paramIdx := 0
	nextParam := func() (string, bool) {
		if paramIdx >= len(params) {
			return "", false
		}
		p := params[paramIdx]
		paramIdx++
		return p, true
	}

	setting := true
	for i := 0; i < len(modeStr); i++ {
		ch := modeStr[i]
		if ch == '+' || ch == '-' {
			setting = ch == '+'
			continue
		}

		entry, known := table.cmodeByLetterLookup(ch)
		if !known {
			continue
		}

		var param string
		var hasParam bool
		if table.cmodeTakesParameter(entry.Name, setting) != 0 {
			param, hasParam = nextParam()
		}

		switch entry.Type {
		case ModeTypeStatus:
			if !hasParam {
				continue
			}
			uid := TS6UID(param)
			if _, exists := cb.Users[uid]; !exists {
				continue
			}
			if setting {
				c.setStatus(uid, entry.Name)
			} else {
				c.unsetStatus(uid, entry.Name)
			}
		case ModeTypeList:
			if !hasParam {
				continue
			}
			if setting {
				if !c.addListEntry(entry.Name, param) {
					continue
				}
			} else {
				if !c.removeListEntry(entry.Name, param) {
					continue
				}
			}
		default:
			if setting {
				if c.Modes == nil {
					c.Modes = make(map[string]string)
				}
				c.Modes[entry.Name] = param
			} else {
				delete(c.Modes, entry.Name)
			}
		}

		applied = append(applied, cmodeChange{Set: setting, Name: entry.Name, Param: param})
	}

	return applied
}

// modeString renders the channel's current flag/param modes (not lists,
// not status) as a "+xyz [params]" string in table's letters, for
// RPL_CHANNELMODEIS.
func (c *Channel) modeString(table *ModeTable) string {
	var changes []cmodeChange
	for name, param := range c.Modes {
		changes = append(changes, cmodeChange{Set: true, Name: name, Param: param})
	}
	strs := stringsFromCmodes(table, changes, StringsFromCmodesOpts{Organize: true})
	if len(strs) == 0 {
		return "+"
	}
	return strs[0]
}
