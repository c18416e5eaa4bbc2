package main

import "testing"

func TestCanonicalizeNick(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"ABC", "abc"},
		{"abc", "abc"},
		{"Abc", "abc"},
		{"a12", "a12"},
		{"A12", "a12"},
	}

	for _, test := range tests {
		out := canonicalizeNick(test.input)
		if out != test.output {
			t.Errorf("canonicalizeNick(%s) = %s, wanted %s", test.input, out,
				test.output)
		}
	}
}

func TestMakeTS6ID(t *testing.T) {
	tests := []struct {
		input   uint64
		output  string
		success bool
	}{
		{0, "AAAAAA", true},
		{1, "AAAAAB", true},
		{25, "AAAAAZ", true},
		{26, "AAAAA0", true},
		{35, "AAAAA9", true},
		{36, "AAAABA", true},
		{1572120575, "Z99999", true},
		{1572120576, "", false},
	}

	for _, test := range tests {
		id, err := makeTS6ID(test.input)
		if !test.success {
			if err == nil {
				t.Errorf("makeTS6ID(%d) = %s, wanted error", test.input, id)
			}
			continue
		}

		if err != nil {
			t.Errorf("makeTS6ID(%d) = error %s, wanted %s", test.input, err,
				test.output)
			continue
		}

		if string(id) != test.output {
			t.Errorf("makeTS6ID(%d) = %s, wanted %s", test.input, id, test.output)
		}
	}
}

func TestIsValidNick(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"hi", true},
		{"-hi", false},
		{"0hi", false},
		{"9hi", false},
		{"hi_there", true},
		{"hi_there19", true},
	}

	for _, test := range tests {
		if got := isValidNick(25, test.input); got != test.valid {
			t.Errorf("isValidNick(%s) = %v, wanted %v", test.input, got, test.valid)
		}
	}
}

func TestIsValidUser(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"hi", true},
		{"hithere", true},
		{"Hi", false},
		{"hi there", false},
	}

	for _, test := range tests {
		if got := isValidUser(25, test.input); got != test.valid {
			t.Errorf("isValidUser(%s) = %v, wanted %v", test.input, got, test.valid)
		}
	}
}

func TestIsValidSID(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"8ZZ", true},
		{"000", true},
		{"ZZZ", false},
		{"88Z9", false},
		{"", false},
	}

	for _, test := range tests {
		if got := isValidSID(test.input); got != test.valid {
			t.Errorf("isValidSID(%s) = %v, wanted %v", test.input, got, test.valid)
		}
	}
}

func TestCheckConnectPassword(t *testing.T) {
	if !checkConnectPassword("plain", "secret", "secret") {
		t.Error("plain password comparison failed to match identical passwords")
	}
	if checkConnectPassword("plain", "secret", "other") {
		t.Error("plain password comparison matched differing passwords")
	}

	hashed, err := hashConnectPassword("bcrypt", "secret")
	if err != nil {
		t.Fatalf("hashConnectPassword(bcrypt) failed: %s", err)
	}
	if !checkConnectPassword("bcrypt", "secret", hashed) {
		t.Error("bcrypt password comparison failed to match the original plaintext")
	}
	if checkConnectPassword("bcrypt", "wrong", hashed) {
		t.Error("bcrypt password comparison matched the wrong plaintext")
	}
}
