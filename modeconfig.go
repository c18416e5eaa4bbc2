package main

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// modeTableFile is the on-disk shape of the mode table YAML file, one file
// holding both the umodes and the cmodes lists (§4.E/§4.F:
// per-server letter tables, authored as YAML since the flat key/value
// config format the rest of this server uses is a poor fit for nested
// letter/name/type rows).
type modeTableFile struct {
	Umodes []struct {
		Letter string `yaml:"letter"`
		Name   string `yaml:"name"`
	} `yaml:"umodes"`
	Cmodes []struct {
		Letter string `yaml:"letter"`
		Name   string `yaml:"name"`
		Type   string `yaml:"type"`
	} `yaml:"cmodes"`
}

// loadModeTable reads the YAML fixture named by Config.ModeTablePath and
// builds a *ModeTable from it. An empty path is not an error: the server
// falls back to defaultModeTable so it can still start without a
// mode-table-config key configured.
func loadModeTable(path string) (*ModeTable, error) {
	if path == "" {
		return defaultModeTable(), nil
	}

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read mode table config")
	}

	var f modeTableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "unable to parse mode table config")
	}

	umodes := make([]UmodeEntry, 0, len(f.Umodes))
	for _, u := range f.Umodes {
		if len(u.Letter) != 1 {
			return nil, errors.Errorf("umode %q: letter must be a single character", u.Name)
		}
		umodes = append(umodes, UmodeEntry{Letter: u.Letter[0], Name: u.Name})
	}

	cmodes := make([]CmodeEntry, 0, len(f.Cmodes))
	for _, c := range f.Cmodes {
		if len(c.Letter) != 1 {
			return nil, errors.Errorf("cmode %q: letter must be a single character", c.Name)
		}
		modeType, err := parseModeType(c.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "cmode %q", c.Name)
		}
		cmodes = append(cmodes, CmodeEntry{Letter: c.Letter[0], Name: c.Name, Type: modeType})
	}

	return NewModeTable(umodes, cmodes), nil
}

func parseModeType(s string) (ModeType, error) {
	switch s {
	case "list":
		return ModeTypeList, nil
	case "param-always":
		return ModeTypeParamAlways, nil
	case "param-on-set":
		return ModeTypeParamOnSet, nil
	case "status":
		return ModeTypeStatus, nil
	case "flag":
		return ModeTypeFlag, nil
	default:
		return ModeTypeFlag, errors.Errorf("unknown mode type %q", s)
	}
}

// defaultModeTable is the built-in umode/cmode vocabulary used when no
// mode-table-config file is configured, matching the letters the
// registration and channel-join paths already assume exist (i/o/w umodes,
// n/t/s/i/l/k/b/o/v cmodes).
func defaultModeTable() *ModeTable {
	umodes := []UmodeEntry{
		{Letter: 'i', Name: "invisible"},
		{Letter: 'o', Name: "ircop"},
		{Letter: 'w', Name: "wallops"},
		{Letter: 'z', Name: "sslConn"},
		{Letter: 'd', Name: "deaf"},
	}
	cmodes := []CmodeEntry{
		{Letter: 'n', Name: "noexternal", Type: ModeTypeFlag},
		{Letter: 't', Name: "topiclock", Type: ModeTypeFlag},
		{Letter: 's', Name: "secret", Type: ModeTypeFlag},
		{Letter: 'i', Name: "inviteonly", Type: ModeTypeFlag},
		{Letter: 'm', Name: "moderated", Type: ModeTypeFlag},
		{Letter: 'l', Name: "limit", Type: ModeTypeParamOnSet},
		{Letter: 'k', Name: "key", Type: ModeTypeParamAlways},
		{Letter: 'b', Name: "ban", Type: ModeTypeList},
		{Letter: 'e', Name: "banexception", Type: ModeTypeList},
		{Letter: 'I', Name: "inviteexception", Type: ModeTypeList},
		{Letter: 'o', Name: "op", Type: ModeTypeStatus},
		{Letter: 'v', Name: "voice", Type: ModeTypeStatus},
	}
	return NewModeTable(umodes, cmodes)
}

func modeTypeString(t ModeType) string {
	switch t {
	case ModeTypeList:
		return "list"
	case ModeTypeParamAlways:
		return "param-always"
	case ModeTypeParamOnSet:
		return "param-on-set"
	case ModeTypeStatus:
		return "status"
	default:
		return "flag"
	}
}

// encodeModeTableWire renders a table as the two ENCAP MODETAB parameters
// (umodes, cmodes), letting a server announce its own letter<->name mapping
// to its peers at link time (§4.E).
func encodeModeTableWire(t *ModeTable) (umodes, cmodes string) {
	var us, cs []string
	for letter, name := range t.umodeByLetter {
		us = append(us, fmt.Sprintf("%c:%s", letter, name))
	}
	for letter, entry := range t.cmodeByLetter {
		cs = append(cs, fmt.Sprintf("%c:%s:%s", letter, entry.Name, modeTypeString(entry.Type)))
	}
	sort.Strings(us)
	sort.Strings(cs)
	return strings.Join(us, ","), strings.Join(cs, ",")
}

// decodeModeTableWire parses the two ENCAP MODETAB parameters back into a
// *ModeTable. Malformed entries are skipped rather than failing the whole
// table, since a partially-understood peer table still degrades gracefully
// through modeTable()'s default fallback for anything it's missing.
func decodeModeTableWire(umodesParam, cmodesParam string) *ModeTable {
	var umodes []UmodeEntry
	if umodesParam != "" {
		for _, entry := range strings.Split(umodesParam, ",") {
			parts := strings.SplitN(entry, ":", 2)
			if len(parts) != 2 || len(parts[0]) != 1 {
				continue
			}
			umodes = append(umodes, UmodeEntry{Letter: parts[0][0], Name: parts[1]})
		}
	}

	var cmodes []CmodeEntry
	if cmodesParam != "" {
		for _, entry := range strings.Split(cmodesParam, ",") {
			parts := strings.SplitN(entry, ":", 3)
			if len(parts) != 3 || len(parts[0]) != 1 {
				continue
			}
			modeType, err := parseModeType(parts[2])
			if err != nil {
				continue
			}
			cmodes = append(cmodes, CmodeEntry{Letter: parts[0][0], Name: parts[1], Type: modeType})
		}
	}

	return NewModeTable(umodes, cmodes)
}
