package main

import (
	"sort"
	"strings"
)

// ModeType classifies a channel mode's parameter-taking behavior (list/
// param-always/param-on-set/status/flag). The numeric values are this
// package's own iota order and never appear on the wire.
type ModeType int

// Channel mode types.
const (
	// ModeTypeList is a multi-entry list mode (e.g. ban).
	ModeTypeList ModeType = iota
	// ModeTypeParamAlways always takes a parameter, set or unset (e.g. key).
	ModeTypeParamAlways
	// ModeTypeParamOnSet takes a parameter only when being set (e.g. limit).
	ModeTypeParamOnSet
	// ModeTypeStatus associates a user with a prefix rank (e.g. op, voice).
	ModeTypeStatus
	// ModeTypeFlag never takes a parameter (e.g. no-external-messages).
	ModeTypeFlag
)

// UmodeEntry describes one user mode known to a server: its letter and its
// logical (cross-server-stable) name.
type UmodeEntry struct {
	Letter byte
	Name   string
}

// CmodeEntry describes one channel mode known to a server.
type CmodeEntry struct {
	Letter byte
	Name   string
	Type   ModeType
}

// ModeTable is one server's umode/cmode letter<->name mapping (§4.E "Each
// server tracks its own letter<->name mapping. Distinct servers may expose
// the same logical mode under different letters.").
type ModeTable struct {
	umodeByLetter map[byte]string
	umodeByName   map[string]byte
	cmodeByLetter map[byte]CmodeEntry
	cmodeByName   map[string]CmodeEntry
}

// NewModeTable builds a table from the parsed entries (typically loaded
// from the YAML mode-table fixtures named in Config.ModeTablePath).
func NewModeTable(umodes []UmodeEntry, cmodes []CmodeEntry) *ModeTable {
	t := &ModeTable{
		umodeByLetter: make(map[byte]string),
		umodeByName:   make(map[string]byte),
		cmodeByLetter: make(map[byte]CmodeEntry),
		cmodeByName:   make(map[string]CmodeEntry),
	}
	for _, e := range umodes {
		t.umodeByLetter[e.Letter] = e.Name
		t.umodeByName[e.Name] = e.Letter
	}
	for _, e := range cmodes {
		t.cmodeByLetter[e.Letter] = e
		t.cmodeByName[e.Name] = e
	}
	return t
}

func (t *ModeTable) umodeName(letter byte) (string, bool) {
	n, exists := t.umodeByLetter[letter]
	return n, exists
}

func (t *ModeTable) umodeLetter(name string) (byte, bool) {
	l, exists := t.umodeByName[name]
	return l, exists
}

func (t *ModeTable) cmodeByLetterLookup(letter byte) (CmodeEntry, bool) {
	e, exists := t.cmodeByLetter[letter]
	return e, exists
}

func (t *ModeTable) cmodeByNameLookup(name string) (CmodeEntry, bool) {
	e, exists := t.cmodeByName[name]
	return e, exists
}

// cmodeTakesParameter mirrors §4.F's cmode_takes_parameter(name, state):
// 0 = never, 1 = always, 2 = only when setting (still consumed if present
// when unsetting).
func (t *ModeTable) cmodeTakesParameter(name string, setting bool) int {
	e, exists := t.cmodeByName[name]
	if !exists {
		return 0
	}
	switch e.Type {
	case ModeTypeList, ModeTypeParamAlways, ModeTypeStatus:
		return 1
	case ModeTypeParamOnSet:
		return 2
	}
	return 0
}

// handleModeString interprets a +/- letter sequence against the user's
// home server's umode table, per §4.D handle_mode_string. It does not
// apply hooks/vetoes itself (callers using per-user policy apply those
// around each resolved name); it returns the applied, canonicalized mode
// string.
//
// Unknown letters are reported via the returned unknown slice so the
// caller can fire a one-shot notice per (server, letter) pair.
func handleModeString(table *ModeTable, str string) (applied string, names []modeChange, unknown []byte) {
	sign := byte('+')
	var b strings.Builder
	sawSignThisRun := false

	for i := 0; i < len(str); i++ {
		c := str[i]
		if c == '+' || c == '-' {
			if sawSignThisRun && b.Len() > 0 && (b.String()[b.Len()-1] == '+' || b.String()[b.Len()-1] == '-') {
				// Adjacent sign with no letters between: drop the stale one.
				s := b.String()
				b.Reset()
				b.WriteString(s[:len(s)-1])
			}
			if c != sign || b.Len() == 0 {
				b.WriteByte(c)
			}
			sign = c
			sawSignThisRun = true
			continue
		}

		name, known := table.umodeName(c)
		if !known {
			unknown = append(unknown, c)
			continue
		}

		b.WriteByte(c)
		names = append(names, modeChange{Set: sign == '+', Name: name})
	}

	return collapseModeString(b.String()), names, unknown
}

type modeChange struct {
	Set  bool
	Name string
	// Param is only meaningful for channel mode changes.
	Param string
}

// collapseModeString merges adjacent same-sign runs and strips any
// trailing bare sign, so the result has no adjacent duplicate signs (§8
// invariant). Mode letters themselves are passed through unchanged.
func collapseModeString(s string) string {
	var out strings.Builder
	var curSign byte
	hasCur := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '+' || c == '-' {
			curSign = c
			hasCur = true
			continue
		}
		if hasCur {
			if out.Len() == 0 || out.String()[strings.LastIndexAny(out.String(), "+-")] != curSign {
				out.WriteByte(curSign)
			}
			hasCur = false
		}
		out.WriteByte(c)
	}

	result := out.String()
	if result == "" {
		return ""
	}

	// Strip trailing bare sign (sign with nothing after it).
	if result[len(result)-1] == '+' || result[len(result)-1] == '-' {
		result = result[:len(result)-1]
	}

	return result
}

// convertUmodeString walks the mode string with a running sign state. For
// each letter, resolve its name on `from`, then the name's letter on `to`;
// emit only if both resolve (§4.F convert_umode_string).
func convertUmodeString(from, to *ModeTable, str string) string {
	var b strings.Builder
	sign := byte(0)
	pendingSign := byte(0)
	wroteSinceSign := false

	flushSign := func() {
		if pendingSign != 0 {
			b.WriteByte(pendingSign)
			sign = pendingSign
			pendingSign = 0
			wroteSinceSign = false
		}
	}

	for i := 0; i < len(str); i++ {
		c := str[i]
		if c == '+' || c == '-' {
			if pendingSign != 0 && !wroteSinceSign {
				// Previous sign had nothing emitted under it; replace it.
				pendingSign = c
				continue
			}
			pendingSign = c
			continue
		}

		name, known := from.umodeName(c)
		if !known {
			continue
		}
		letter, known := to.umodeLetter(name)
		if !known {
			continue
		}

		if pendingSign != 0 && pendingSign != sign {
			flushSign()
		} else if pendingSign != 0 {
			pendingSign = 0
		}

		b.WriteByte(letter)
		wroteSinceSign = true
	}

	result := b.String()
	if result == "" {
		return "+"
	}
	return result
}

// cmodeChange is a structured change entry, as used by
// strings_from_cmodes' input (§4.F).
type cmodeChange struct {
	Set   bool
	Name  string
	Param string
}

// convertCmodeString translates a channel mode string between two
// servers' tables, tracking parameters per §4.F convert_cmode_string.
//
// translateParam, if non-nil, is used when overProtocol is true and the
// mode is a status mode: it maps a parameter from the source UID/name
// space to the destination's, returning ok=false to drop the whole
// mode+param if translation fails.
func convertCmodeString(
	from, to *ModeTable,
	str string,
	params []string,
	overProtocol bool,
	skipStatus bool,
	translateParam func(name, param string) (string, bool),
) (string, []string) {
	var out strings.Builder
	var outParams []string
	paramIdx := 0
	setting := true

	nextParam := func() (string, bool) {
		if paramIdx >= len(params) {
			return "", false
		}
		p := params[paramIdx]
		paramIdx++
		return p, true
	}

	for i := 0; i < len(str); i++ {
		c := str[i]
		if c == '+' || c == '-' {
			setting = c == '+'
			out.WriteByte(c)
			continue
		}

		entry, known := from.cmodeByLetterLookup(c)
		if !known {
			continue
		}

		if skipStatus && entry.Type == ModeTypeStatus {
			// Still must consume the parameter if one was present.
			if from.cmodeTakesParameter(entry.Name, setting) != 0 {
				_, _ = nextParam()
			}
			continue
		}

		var param string
		var hasParam bool
		takes := from.cmodeTakesParameter(entry.Name, setting)
		if takes == 1 || (takes == 2 && setting) {
			param, hasParam = nextParam()
		} else if takes == 2 && !setting {
			// Consumed if present when unsetting, per §4.F.
			param, hasParam = nextParam()
		}

		toEntry, known := to.cmodeByNameLookup(entry.Name)
		if !known {
			// Drop the mode and its parameter.
			continue
		}

		if overProtocol && toEntry.Type == ModeTypeStatus && hasParam && translateParam != nil {
			translated, ok := translateParam(entry.Name, param)
			if !ok {
				continue
			}
			param = translated
		}

		out.WriteByte(toEntry.Letter)
		if hasParam {
			outParams = append(outParams, param)
		}
	}

	return collapseModeString(out.String()), outParams
}

// cmodeStringDifference computes the minimal change that brings oldModes
// to newModes, both sets of modes being set (§4.F
// cmode_string_difference). It operates on resolved mode names, not
// letters, so callers pass name->param maps rather than raw mode strings.
func cmodeStringDifference(
	oldModes, newModes map[string]string, // name -> param ("" if none)
	listModeNames map[string]bool, // names that are list-type (ModeTypeList)
	combineLists, removeNone bool,
) (added, removed []cmodeChange) {
	for name, param := range newModes {
		if oldParam, exists := oldModes[name]; !exists || oldParam != param {
			added = append(added, cmodeChange{Set: true, Name: name, Param: param})
		}
	}

	if !removeNone {
		for name, param := range oldModes {
			if _, exists := newModes[name]; exists {
				continue
			}
			if combineLists && listModeNames[name] {
				continue
			}
			removed = append(removed, cmodeChange{Set: false, Name: name, Param: param})
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].Name < added[j].Name })
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })

	return added, removed
}

// StringsFromCmodesOpts configures strings_from_cmodes' serialization
// (§4.F).
type StringsFromCmodesOpts struct {
	OverProtocol bool
	// Split is the maximum number of mode letters per output string
	// (max_modes_per_line / max_modes_per_sline).
	Split int
	// Organize sorts positives before negatives, then alphabetically by
	// name, and coalesces consecutive same-sign runs.
	Organize bool
	// ParamString renders a change's parameter for the wire: users -> UID
	// (protocol) or nick (client); servers -> SID or name; falls back to
	// the raw param value.
	ParamString func(change cmodeChange) string
}

// strings_from_cmodes serialises a structured change list, splitting
// across multiple lines whenever the letter count reaches opts.Split
// (§4.F, and the §8 boundary example: limit 3 with 7 changes -> 3+3+1).
func stringsFromCmodes(table *ModeTable, changes []cmodeChange, opts StringsFromCmodesOpts) []string {
	if opts.Organize {
		sorted := make([]cmodeChange, len(changes))
		copy(sorted, changes)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Set != sorted[j].Set {
				return sorted[i].Set // positives first
			}
			return sorted[i].Name < sorted[j].Name
		})
		changes = sorted
	}

	var out []string
	limit := opts.Split
	if limit <= 0 {
		limit = len(changes)
		if limit == 0 {
			limit = 1
		}
	}

	for start := 0; start < len(changes); start += limit {
		end := start + limit
		if end > len(changes) {
			end = len(changes)
		}
		out = append(out, renderCmodeChunk(table, changes[start:end], opts))
	}

	if len(out) == 0 {
		return []string{"+"}
	}
	return out
}

func renderCmodeChunk(table *ModeTable, chunk []cmodeChange, opts StringsFromCmodesOpts) string {
	var letters strings.Builder
	var params []string
	curSign := byte(0)

	for _, ch := range chunk {
		sign := byte('-')
		if ch.Set {
			sign = '+'
		}
		if sign != curSign {
			letters.WriteByte(sign)
			curSign = sign
		}

		entry, known := table.cmodeByNameLookup(ch.Name)
		letter := byte('?')
		if known {
			letter = entry.Letter
		}
		letters.WriteByte(letter)

		takes := table.cmodeTakesParameter(ch.Name, ch.Set)
		if takes != 0 && ch.Param != "" {
			if opts.ParamString != nil {
				params = append(params, opts.ParamString(ch))
			} else {
				params = append(params, ch.Param)
			}
		}
	}

	result := letters.String()
	if len(params) > 0 {
		result += " " + strings.Join(params, " ")
	}
	return result
}
