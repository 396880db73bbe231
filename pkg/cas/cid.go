// Package cas is the content-addressed storage layer.
//
// Blocks are addressed by CIDs: self-describing identifiers carrying a
// version, a content codec and a blake3 multihash, rendered in base32
// multibase. A Blockstore persists blocks by CID, and a Mapper presents a
// blockstore as a zarr.Store whose snapshots are frozen into manifest
// blocks. A frozen manifest's CID identifies one immutable dataset version.
package cas

import (
	"encoding/base32"
	"encoding/binary"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Codec identifies how a block's bytes are interpreted.
type Codec uint64

const (
	// Raw blocks hold opaque bytes such as array chunks.
	Raw Codec = 0x55
	// DagJSON blocks hold JSON manifests linking other blocks.
	DagJSON Codec = 0x0129
)

func (c Codec) String() string {
	switch c {
	case Raw:
		return "raw"
	case DagJSON:
		return "dag-json"
	default:
		return "unknown"
	}
}

const (
	cidVersion   = 1
	blake3Code   = 0x1e
	digestLength = 32
	multibase    = 'b'
)

var base32Lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// CID identifies a block by codec and digest. The zero CID is undefined.
type CID struct {
	codec   Codec
	digest  [digestLength]byte
	defined bool
}

// Sum computes the CID of data under codec.
func Sum(codec Codec, data []byte) CID {
	hasher := blake3.New()
	_, _ = hasher.Write(data)

	c := CID{codec: codec, defined: true}
	_, _ = hasher.Digest().Read(c.digest[:])
	return c
}

// Defined reports whether c identifies a block.
func (c CID) Defined() bool { return c.defined }

// Codec returns the content codec.
func (c CID) Codec() Codec { return c.codec }

// Digest returns the blake3 digest.
func (c CID) Digest() []byte {
	return append([]byte(nil), c.digest[:]...)
}

// Bytes returns the binary form: version, codec, hash code and digest
// length as unsigned varints followed by the digest.
func (c CID) Bytes() []byte {
	if !c.defined {
		return nil
	}
	buf := make([]byte, 0, 4*binary.MaxVarintLen64+digestLength)
	buf = binary.AppendUvarint(buf, cidVersion)
	buf = binary.AppendUvarint(buf, uint64(c.codec))
	buf = binary.AppendUvarint(buf, blake3Code)
	buf = binary.AppendUvarint(buf, digestLength)
	return append(buf, c.digest[:]...)
}

// String renders the base32 multibase form, or "" when undefined.
func (c CID) String() string {
	if !c.defined {
		return ""
	}
	return string(multibase) + base32Lower.EncodeToString(c.Bytes())
}

// ParseCID parses the string form.
func ParseCID(s string) (CID, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != multibase {
		return CID{}, errors.Newf(errors.ErrorTypeData, "invalid CID %q: expected base32 multibase prefix", s)
	}
	raw, err := base32Lower.DecodeString(s[1:])
	if err != nil {
		return CID{}, errors.Wrapf(err, errors.ErrorTypeData, "invalid CID %q", s)
	}
	return CIDFromBytes(raw)
}

// CIDFromBytes parses the binary form.
func CIDFromBytes(raw []byte) (CID, error) {
	var fields [4]uint64
	rest := raw
	for i := range fields {
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return CID{}, errors.New(errors.ErrorTypeData, "invalid CID: truncated header")
		}
		fields[i] = v
		rest = rest[n:]
	}

	switch {
	case fields[0] != cidVersion:
		return CID{}, errors.Newf(errors.ErrorTypeData, "invalid CID: unsupported version %d", fields[0])
	case fields[2] != blake3Code:
		return CID{}, errors.Newf(errors.ErrorTypeData, "invalid CID: unsupported hash 0x%x", fields[2])
	case fields[3] != digestLength || len(rest) != digestLength:
		return CID{}, errors.New(errors.ErrorTypeData, "invalid CID: bad digest length")
	}

	c := CID{codec: Codec(fields[1]), defined: true}
	copy(c.digest[:], rest)
	return c, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c CID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text yields the
// undefined CID.
func (c *CID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = CID{}
		return nil
	}
	parsed, err := ParseCID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
