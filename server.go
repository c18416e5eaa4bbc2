package main

// Server holds information about a linked server, local or remote (§3
// "Server").
type Server struct {
	SID         TS6SID
	Name        string
	Description string
	HopCount    int

	// LocalServer is set only if this server is our direct peer (we hold a
	// live connection to it).
	LocalServer *LocalServer

	// ClosestServer is the direct peer we heard about this server from. It
	// is not necessarily this server's parent in the link tree (it could be
	// several hops further away), but it is always the next hop on the
	// route toward it.
	ClosestServer *LocalServer

	// LinkedTo is this server's parent in the link tree, i.e. the server
	// that introduced it. Nil for a direct peer, whose parent is this
	// server.
	LinkedTo *Server

	// ModeTable is this server's own umode/cmode letter<->name mapping
	// (§4.E "Each server tracks its own letter<->name mapping"), learned
	// from its ENCAP MODETAB announcement at link time. Nil until heard,
	// in which case modeTable() falls back to a default table so
	// translation against an as-yet-unannounced peer still degrades
	// gracefully instead of panicking.
	ModeTable *ModeTable
}

func (s *Server) String() string {
	return string(s.SID) + " " + s.Name
}

// isLocal reports whether we hold a direct connection to this server.
func (s *Server) isLocal() bool {
	return s.LocalServer != nil
}

// modeTable returns the server's own mode table, or a built-in default if
// it has not announced one (e.g. we haven't received its MODETAB yet, or
// it predates that extension).
func (s *Server) modeTable() *ModeTable {
	if s.ModeTable != nil {
		return s.ModeTable
	}
	return defaultModeTable()
}
