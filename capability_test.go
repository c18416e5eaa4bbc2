package main

import "testing"

func TestHandleCapReqAcceptsKnownCaps(t *testing.T) {
	c := &LocalClient{
		Catbox: &Catbox{Config: &Config{ServerName: "irc.example.com"}},
	}

	c.handleCapReq("multi-prefix away-notify")

	if _, ok := c.ClientCaps["multi-prefix"]; !ok {
		t.Error("multi-prefix should have been accepted")
	}
	if _, ok := c.ClientCaps["away-notify"]; !ok {
		t.Error("away-notify should have been accepted")
	}
}

func TestHandleCapReqRejectsUnknownCap(t *testing.T) {
	c := &LocalClient{
		Catbox: &Catbox{Config: &Config{ServerName: "irc.example.com"}},
	}

	c.handleCapReq("multi-prefix made-up-cap")

	if len(c.ClientCaps) != 0 {
		t.Errorf("ClientCaps = %v, wanted none accepted since the request had an unknown cap",
			c.ClientCaps)
	}
}

func TestHandleCapReqRemoval(t *testing.T) {
	c := &LocalClient{
		Catbox:     &Catbox{Config: &Config{ServerName: "irc.example.com"}},
		ClientCaps: map[string]struct{}{"away-notify": {}},
	}

	c.handleCapReq("-away-notify")

	if _, ok := c.ClientCaps["away-notify"]; ok {
		t.Error("away-notify should have been removed")
	}
}
