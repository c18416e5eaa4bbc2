package main

// TS6SID is a 3-character server identifier, unique in the network. Format:
// [0-9][A-Z0-9]{2}.
type TS6SID string

// TS6UID is a user identifier: the owning server's TS6SID followed by a
// 6-character base-36 suffix, unique in the network.
type TS6UID string

// TS6ID is the 6-character base-36 suffix portion of a TS6UID, unique per
// server.
type TS6ID string
