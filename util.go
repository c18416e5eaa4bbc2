package main

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// 50 from RFC
const maxChannelLength = 50

// Arbitrary. Something low enough we won't hit message limit.
const maxTopicLength = 300

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeNick(n string) string {
	return strings.ToLower(n)
}

// canonicalizeChannel converts the given channel to its canonical
// representation (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeChannel(c string) string {
	return strings.ToLower(c)
}

// isValidNick checks if a nickname is valid.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}

	// TODO: For now I accept only a-z, 0-9, or _. RFC is more lenient.
	for i, char := range n {
		if char >= 'a' && char <= 'z' {
			continue
		}

		if char >= '0' && char <= '9' {
			// No digits in first position.
			if i == 0 {
				return false
			}
			continue
		}

		if char == '_' {
			continue
		}

		return false
	}

	return true
}

// maxRealNameLength is arbitrary, chosen well under the wire length limit.
const maxRealNameLength = 350

// isValidRealName checks a GECOS/real name field for validity. RFC leaves
// this mostly unconstrained; we only reject control characters and an
// oversized value.
func isValidRealName(r string) bool {
	if len(r) == 0 || len(r) > maxRealNameLength {
		return false
	}
	for _, c := range r {
		if c == '\x00' || c == '\r' || c == '\n' {
			return false
		}
	}
	return true
}

var sidRE = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)

// isValidSID checks a TS6 SID is in the required [0-9][0-9A-Z]{2} format.
func isValidSID(sid string) bool {
	return sidRE.MatchString(sid)
}

// isValidUID checks a TS6 UID is a valid SID prefix followed by a
// 6-character base-36 ID.
func isValidUID(uid string) bool {
	if len(uid) != 9 {
		return false
	}
	if !isValidSID(uid[0:3]) {
		return false
	}
	for _, c := range uid[3:] {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// ts6IDAlphabet is the base-36 character set TS6 IDs are drawn from:
// uppercase letters first, then digits, matching the teacher's ID space
// (AAAAAA is the first ID issued, Z99999 the last before overflow).
const ts6IDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxTS6ID is one past the last issued 6-character ID, Z99999: the first
// character stays within A-Z (26 symbols), the other five use all 36.
const maxTS6ID = 26 * 36 * 36 * 36 * 36 * 36

// makeTS6ID renders a per-server-local counter as a 6-character base-36 TS6
// ID. It errors once the counter overflows the 6-character space, at which
// point the server must stop accepting new local users/servers until
// restarted with a fresh ID space.
func makeTS6ID(id uint64) (TS6ID, error) {
	if id >= maxTS6ID {
		return "", fmt.Errorf("TS6 ID space exhausted")
	}

	buf := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		buf[i] = ts6IDAlphabet[id%36]
		id /= 36
	}

	return TS6ID(buf), nil
}

// hashConnectPassword digests a plaintext password using the algorithm
// named in a connect block ("plain" or "bcrypt"). This is purely the
// local comparison step against the configured receive_password; no digest
// is applied on the wire, and the PASS line sendServerIntro writes carries
// the send password exactly as configured.
func hashConnectPassword(algorithm, password string) (string, error) {
	switch algorithm {
	case "", "plain":
		return password, nil
	case "bcrypt":
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt hash failed: %s", err)
		}
		return string(h), nil
	default:
		return "", fmt.Errorf("unknown password digest algorithm: %s", algorithm)
	}
}

// checkConnectPassword compares a received plaintext password against the
// configured digest for a connect block.
func checkConnectPassword(algorithm, received, configured string) bool {
	switch algorithm {
	case "", "plain":
		return received == configured
	case "bcrypt":
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(received)) == nil
	default:
		return false
	}
}

// isValidUser checks if a user (USER command) is valid
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}

	// TODO: For now I accept only a-z or 0-9. RFC is more lenient.
	for _, char := range u {
		if char >= 'a' && char <= 'z' {
			continue
		}

		if char >= '0' && char <= '9' {
			continue
		}

		return false
	}

	return true
}

// isValidChannel checks a channel name for validity.
//
// You should canonicalize it before using this function.
func isValidChannel(c string) bool {
	if len(c) == 0 || len(c) > maxChannelLength {
		return false
	}

	// TODO: I accept only a-z or 0-9 as valid characters right now. RFC
	//   accepts more.
	for i, char := range c {
		if i == 0 {
			// TODO: I only allow # channels right now.
			if char == '#' {
				continue
			}
			return false
		}

		if char >= 'a' && char <= 'z' {
			continue
		}

		if char >= '0' && char <= '9' {
			continue
		}

		return false
	}

	return true
}
