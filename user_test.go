package main

import "testing"

func TestUserMatchesMask(t *testing.T) {
	tests := []struct {
		user     User
		userMask string
		hostMask string
		output   bool
	}{
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "test",
			hostMask: "127.0.0.1",
			output:   true,
		},
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "*",
			hostMask: "127.0.0.1",
			output:   true,
		},
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "test",
			hostMask: "*",
			output:   true,
		},
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "t?st",
			hostMask: "127.0.0.1",
			output:   true,
		},
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "*est",
			hostMask: "127.0.0.1",
			output:   true,
		},
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "test",
			hostMask: "127.0.0.*",
			output:   true,
		},
		{
			user:     User{Username: "test", Hostname: "127.0.0.1"},
			userMask: "*tst",
			hostMask: "127.0.0.1",
			output:   false,
		},
		{
			// A leading ~ (no-ident marker) must not defeat the match.
			user:     User{Username: "~test", Hostname: "127.0.0.1"},
			userMask: "test",
			hostMask: "127.0.0.1",
			output:   true,
		},
	}

	for _, test := range tests {
		out := test.user.matchesMask(test.userMask, test.hostMask)
		if out != test.output {
			t.Errorf("matchesMask(%s, %s) on %s@%s = %v, wanted %v",
				test.userMask, test.hostMask, test.user.Username, test.user.Hostname,
				out, test.output)
		}
	}
}

func TestHasOperFlag(t *testing.T) {
	u := &User{OperFlags: map[string]struct{}{"kline": {}}}

	if !u.hasOperFlag("kline") {
		t.Error("hasOperFlag(kline) = false, wanted true")
	}
	if u.hasOperFlag("globops") {
		t.Error("hasOperFlag(globops) = true, wanted false")
	}

	u.OperFlags["all"] = struct{}{}
	if !u.hasOperFlag("globops") {
		t.Error("hasOperFlag(globops) with all flag = false, wanted true")
	}
}

func TestIsAway(t *testing.T) {
	u := &User{}
	if u.isAway() {
		t.Error("isAway() = true for a user with no away message")
	}
	u.AwayMessage = "gone fishing"
	if !u.isAway() {
		t.Error("isAway() = false for a user with an away message set")
	}
}
