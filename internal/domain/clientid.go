package domain

import (
	"crypto/rand"
	"encoding/binary"
)

// ClientID identifies the writing instance for per-writer block versioning
// (§3: "client_id:4"). A filesystem picks one ClientID the first time it is
// created or opened and reuses it for the lifetime of that local checkout.
type ClientID uint32

// NewClientID generates a random, non-zero ClientID.
func NewClientID() (ClientID, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		id := ClientID(binary.BigEndian.Uint32(b[:]))
		if id != 0 {
			return id, nil
		}
	}
}
