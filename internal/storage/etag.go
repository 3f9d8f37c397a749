// Package storage is the local document/attachment store the replication
// engine replicates out of. It is a transactional, etag-ordered collaborator:
// the engine never writes documents or attachments to it (those writes
// arrive through the public KV surface in internal/api); it reads batches
// from it and persists only its own failure-tracking records.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
)

// Etag is an opaque, monotonic, totally-ordered identifier assigned to every
// document and attachment write. Documents and attachments have separate
// streams, so a doc etag and an attachment etag are never compared to each
// other. The zero Etag means "before the first record".
type Etag [16]byte

// ZeroEtag is the identifier representing "before the first record".
var ZeroEtag = Etag{}

// Compare returns -1, 0 or 1 the way bytes.Compare does.
func (e Etag) Compare(other Etag) int {
	return bytes.Compare(e[:], other[:])
}

// Less reports whether e sorts strictly before other.
func (e Etag) Less(other Etag) bool { return e.Compare(other) < 0 }

// IsZero reports whether e is the zero etag.
func (e Etag) IsZero() bool { return e == ZeroEtag }

func (e Etag) String() string {
	return fmt.Sprintf("%x-%x", e[:8], e[8:])
}

// MarshalJSON renders the etag as its string form so wire payloads stay
// human-readable, matching the document JSON shape in the wire contract.
func (e Etag) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

// UnmarshalJSON parses the "%x-%x" form produced by MarshalJSON.
func (e *Etag) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEtag(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseEtag parses the "%x-%x" form produced by String, for callers reading
// an etag out of a URL query parameter rather than a JSON document.
func ParseEtag(s string) (Etag, error) {
	hi, lo, found := strings.Cut(s, "-")
	if !found {
		return ZeroEtag, fmt.Errorf("parse etag %q: missing separator", s)
	}
	h, err := hex.DecodeString(hi)
	if err != nil || len(h) != 8 {
		return ZeroEtag, fmt.Errorf("parse etag %q: bad high half", s)
	}
	l, err := hex.DecodeString(lo)
	if err != nil || len(l) != 8 {
		return ZeroEtag, fmt.Errorf("parse etag %q: bad low half", s)
	}
	var e Etag
	copy(e[:8], h)
	copy(e[8:], l)
	return e, nil
}

// EtagGenerator produces a strictly increasing stream of Etags for a single
// process lifetime. The high 8 bytes are a per-process epoch (so etags from a
// restarted process never collide with etags a peer has already recorded for
// the old epoch) and the low 8 bytes are a monotonic counter.
type EtagGenerator struct {
	epoch   uint64
	counter atomic.Uint64
}

// NewEtagGenerator creates a generator stamped with epoch (typically the
// current unix time in nanoseconds at process start).
func NewEtagGenerator(epoch uint64) *EtagGenerator {
	return &EtagGenerator{epoch: epoch}
}

// Next returns the next etag in the stream.
func (g *EtagGenerator) Next() Etag {
	n := g.counter.Add(1)
	var e Etag
	binary.BigEndian.PutUint64(e[:8], g.epoch)
	binary.BigEndian.PutUint64(e[8:], n)
	return e
}
