package util

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString returns the xxhash of seed followed by s. It is used to derive replica ids from
// host names, so the result must stay stable across releases.
func HashString(s string, seed uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)

	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(s)
	return d.Sum64()
}
