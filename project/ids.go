package project

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"strconv"
	"time"
)

// HashSourceID derives a Source's stable identifier from its root
// directory path: a 32-bit hash rendered in base-36, so that scanning
// the same root again in a later snapshot reuses the same Source
// identity (spec.md §3).
func HashSourceID(root string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(root))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

// NewVolumeID returns a fresh base-36 time-derived token for a new
// Volume. For a cat volume, kind == Cat, the ".cat" suffix is part of
// the identifier itself (spec.md §3: "cat identifiers carry the .cat
// suffix literally"), so the identifier can be used directly as both
// the registry key and the on-disk file name.
//
// A pure timestamp isn't guaranteed unique when a session creates a
// cat and a copy volume back to back (spec.md §4.E step 5 allows at
// most one of each), so a few random bits are mixed in — the same
// concern spec.md's design notes raise about obfuscated stream names
// relying on chance, applied here too rather than trusting nanosecond
// resolution alone.
func NewVolumeID(kind VolumeKind) string {
	token := timeToken()
	if kind == Cat {
		return token + ".cat"
	}
	return token
}

func timeToken() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	n := uint64(time.Now().UnixNano())<<16 | uint64(binary.BigEndian.Uint16(buf[:2]))
	return strconv.FormatUint(n, 36)
}

// NewManifestID returns the base-36 rendering of floor(epoch_seconds *
// 100) at the given moment (spec.md §3, §6): the snapshot identifier,
// at centisecond resolution so two snapshots taken at least a hundredth
// of a second apart get distinct ids (two taken within the same
// hundredth of a second get the same id), and (since manifests are
// listed by lexicographic id order in spec.md §4.E step 1)
// monotonically increasing across a session as long as clock time
// doesn't run backwards.
func NewManifestID(at time.Time) string {
	n := at.Unix()*100 + int64(at.Nanosecond())/1e7
	return strconv.FormatInt(n, 36)
}
