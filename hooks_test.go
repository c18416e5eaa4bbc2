package main

import "testing"

func TestHookRegistryFireNoHandlers(t *testing.T) {
	h := NewHookRegistry()
	r := h.Fire(nil, "can_privmsg")
	if r.Stop {
		t.Error("Fire with no registered handlers should not stop")
	}
}

func TestHookRegistryStopsOnFirstVeto(t *testing.T) {
	h := NewHookRegistry()

	var secondRan bool
	h.Register("can_privmsg", func(cb *Catbox, args ...interface{}) HookResult {
		return StopWithReply("404", "blocked")
	})
	h.Register("can_privmsg", func(cb *Catbox, args ...interface{}) HookResult {
		secondRan = true
		return Continue()
	})

	r := h.Fire(nil, "can_privmsg")
	if !r.Stop {
		t.Fatal("Fire should have stopped on the first handler's veto")
	}
	if r.ReplyNumeric != "404" {
		t.Errorf("ReplyNumeric = %q, wanted 404", r.ReplyNumeric)
	}
	if secondRan {
		t.Error("second handler ran despite the first one stopping")
	}
}

func TestHookRegistryAllContinue(t *testing.T) {
	h := NewHookRegistry()

	var ran int
	for i := 0; i < 3; i++ {
		h.Register("reg_nick", func(cb *Catbox, args ...interface{}) HookResult {
			ran++
			return Continue()
		})
	}

	r := h.Fire(nil, "reg_nick")
	if r.Stop {
		t.Error("Fire should not stop when every handler continues")
	}
	if ran != 3 {
		t.Errorf("ran = %d handlers, wanted 3", ran)
	}
}
