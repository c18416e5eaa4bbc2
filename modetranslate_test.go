package main

import "testing"

func testUmodeTable() *ModeTable {
	return NewModeTable(
		[]UmodeEntry{
			{Letter: 'i', Name: "invisible"},
			{Letter: 'o', Name: "ircop"},
			{Letter: 'w', Name: "wallops"},
		},
		nil,
	)
}

func testCmodeTable(statusPrefix bool) *ModeTable {
	cmodes := []CmodeEntry{
		{Letter: 'n', Name: "noexternal", Type: ModeTypeFlag},
		{Letter: 't', Name: "topiclock", Type: ModeTypeFlag},
		{Letter: 'k', Name: "key", Type: ModeTypeParamAlways},
		{Letter: 'l', Name: "limit", Type: ModeTypeParamOnSet},
		{Letter: 'b', Name: "ban", Type: ModeTypeList},
	}
	if statusPrefix {
		cmodes = append(cmodes, CmodeEntry{Letter: 'o', Name: "op", Type: ModeTypeStatus})
	}
	return NewModeTable(nil, cmodes)
}

func TestHandleModeString(t *testing.T) {
	table := testUmodeTable()

	applied, changes, unknown := handleModeString(table, "+iz-o")

	if applied != "+i-o" {
		t.Errorf("applied = %q, wanted %q", applied, "+i-o")
	}
	if len(unknown) != 1 || unknown[0] != 'z' {
		t.Errorf("unknown = %v, wanted [z]", unknown)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %v, wanted 2 entries", changes)
	}
	if changes[0].Name != "invisible" || !changes[0].Set {
		t.Errorf("changes[0] = %+v, wanted set invisible", changes[0])
	}
	if changes[1].Name != "ircop" || changes[1].Set {
		t.Errorf("changes[1] = %+v, wanted unset ircop", changes[1])
	}
}

func TestConvertUmodeString(t *testing.T) {
	from := testUmodeTable()

	to := NewModeTable([]UmodeEntry{
		{Letter: 'I', Name: "invisible"},
		{Letter: 'O', Name: "ircop"},
	}, nil)

	got := convertUmodeString(from, to, "+iow")
	if got != "+IO" {
		t.Errorf("convertUmodeString(+iow) = %q, wanted %q", got, "+IO")
	}
}

func TestConvertCmodeString(t *testing.T) {
	from := testCmodeTable(true)
	to := testCmodeTable(true)

	str, params := convertCmodeString(from, to, "+ntk", []string{"secret"}, false, false, nil)
	if str != "+ntk" {
		t.Errorf("str = %q, wanted %q", str, "+ntk")
	}
	if len(params) != 1 || params[0] != "secret" {
		t.Errorf("params = %v, wanted [secret]", params)
	}
}

func TestConvertCmodeStringSkipsStatus(t *testing.T) {
	from := testCmodeTable(true)
	to := testCmodeTable(true)

	str, params := convertCmodeString(from, to, "+ob", []string{"someuid", "*!*@host"}, false, true, nil)
	if str != "+b" {
		t.Errorf("str = %q, wanted %q", str, "+b")
	}
	if len(params) != 1 || params[0] != "*!*@host" {
		t.Errorf("params = %v, wanted [*!*@host]", params)
	}
}

func TestCmodeStringDifference(t *testing.T) {
	oldModes := map[string]string{"noexternal": "", "topiclock": ""}
	newModes := map[string]string{"noexternal": "", "key": "secret"}

	added, removed := cmodeStringDifference(oldModes, newModes, nil, false, false)

	if len(added) != 1 || added[0].Name != "key" {
		t.Errorf("added = %v, wanted [key]", added)
	}
	if len(removed) != 1 || removed[0].Name != "topiclock" {
		t.Errorf("removed = %v, wanted [topiclock]", removed)
	}
}

func TestStringsFromCmodesSplits(t *testing.T) {
	table := testCmodeTable(false)

	changes := []cmodeChange{
		{Set: true, Name: "noexternal"},
		{Set: true, Name: "topiclock"},
		{Set: true, Name: "key", Param: "a"},
		{Set: false, Name: "key", Param: "a"},
		{Set: false, Name: "noexternal"},
		{Set: false, Name: "topiclock"},
		{Set: true, Name: "limit", Param: "10"},
	}

	out := stringsFromCmodes(table, changes, StringsFromCmodesOpts{Split: 3})

	if len(out) != 3 {
		t.Fatalf("stringsFromCmodes produced %d lines, wanted 3: %v", len(out), out)
	}
}
