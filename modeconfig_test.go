package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

func TestLoadModeTableEmptyPathUsesDefault(t *testing.T) {
	table, err := loadModeTable("")
	if err != nil {
		t.Fatalf("loadModeTable: %s", err)
	}
	if table == nil {
		t.Fatal("expected a default table, got nil")
	}

	name, ok := table.umodeName('o')
	if !ok || name != "ircop" {
		t.Errorf("default table umode 'o' = %q, %v; wanted ircop, true", name, ok)
	}
}

func TestLoadModeTableFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.yaml")

	contents := `
umodes:
  - letter: i
    name: invisible
  - letter: Z
    name: sslConn
cmodes:
  - letter: n
    name: noexternal
    type: flag
  - letter: k
    name: key
    type: param-always
  - letter: l
    name: limit
    type: param-on-set
  - letter: b
    name: ban
    type: list
  - letter: o
    name: op
    type: status
`
	if err := ioutil.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	table, err := loadModeTable(path)
	if err != nil {
		t.Fatalf("loadModeTable: %s", err)
	}

	if name, ok := table.umodeName('Z'); !ok || name != "sslConn" {
		t.Errorf("umode 'Z' = %q, %v; wanted sslConn, true", name, ok)
	}

	entry, ok := table.cmodeByLetterLookup('k')
	if !ok || entry.Type != ModeTypeParamAlways {
		t.Errorf("cmode 'k' = %+v, %v; wanted ModeTypeParamAlways entry", entry, ok)
	}
}

func TestLoadModeTableRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.yaml")

	contents := `
cmodes:
  - letter: x
    name: mystery
    type: not-a-real-type
`
	if err := ioutil.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	if _, err := loadModeTable(path); err == nil {
		t.Fatal("expected an error for an unknown mode type, got nil")
	}
}

func TestDefaultModeTableExists(t *testing.T) {
	if defaultModeTable() == nil {
		t.Fatal("defaultModeTable returned nil")
	}
}
