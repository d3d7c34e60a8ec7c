// Package pak reads and writes Unreal Engine 4 .pak containers.
//
// Supported container versions are 8A/8B (FName-based compression), 9
// (frozen index flag) and 11 (encoded index with path-hash and full
// directory secondary indexes). The reader never materializes entry
// payloads while loading the index; the writer produces bit-identical
// output for identical input.
package pak

import (
	"errors"
	"fmt"
)

// Magic is the footer magic of every pak file.
const Magic uint32 = 0x5A6F12E1

// DefaultBlockSize is the compression block size used when emitting
// compressed entries.
const DefaultBlockSize uint32 = 0x10000

// Version identifies a supported pak container version. V8A and V8B both
// serialize as major version 8 and are told apart by footer size (8A
// carries four compression name slots, 8B five).
type Version int

const (
	V8A Version = iota
	V8B
	V9
	V11
)

var allVersions = []Version{V11, V9, V8B, V8A}

func (v Version) String() string {
	switch v {
	case V8A:
		return "8A"
	case V8B:
		return "8B"
	case V9:
		return "9"
	case V11:
		return "11"
	}
	return fmt.Sprintf("Version(%d)", int(v))
}

// Major returns the version number stored in the footer.
func (v Version) Major() uint32 {
	switch v {
	case V8A, V8B:
		return 8
	case V9:
		return 9
	case V11:
		return 11
	}
	return 0
}

// compressionSlots is the number of 32-byte compression method name slots
// in the footer.
func (v Version) compressionSlots() int {
	if v == V8A {
		return 4
	}
	return 5
}

// hasFrozenByte reports whether the footer carries the frozen-index flag.
func (v Version) hasFrozenByte() bool { return v == V9 }

// hasEncodedIndex reports whether the index uses the bit-packed entry
// encoding with secondary indexes (major version 10 and up).
func (v Version) hasEncodedIndex() bool { return v.Major() >= 10 }

// footerSize returns the on-disk footer size for this version. All
// supported versions carry the encryption key GUID (16) and the encrypted
// flag (1) ahead of magic/version/offset/size/hash (44).
func (v Version) footerSize() int64 {
	size := int64(16 + 1 + 44)
	if v.hasFrozenByte() {
		size++
	}
	return size + int64(v.compressionSlots())*32
}

// Compression is an entry compression method. The zero value means the
// entry payload is stored verbatim.
type Compression uint32

const (
	CompressionNone Compression = iota
	CompressionZlib
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZlib:
		return "Zlib"
	}
	return fmt.Sprintf("Compression(%d)", uint32(c))
}

var (
	// ErrUnsupportedVersion is returned when no supported footer is found.
	ErrUnsupportedVersion = errors.New("pak: unsupported pak version")
	// ErrUnsupportedCompression is returned for entries compressed with a
	// method the codec cannot decompress (Oodle in the wild).
	ErrUnsupportedCompression = errors.New("pak: unsupported compression method")
	// ErrEncrypted is returned for paks with an encrypted index.
	ErrEncrypted = errors.New("pak: encrypted index is not supported")
)

// CorruptIndexError reports a structurally invalid index.
type CorruptIndexError struct {
	Reason string
}

func (e *CorruptIndexError) Error() string {
	return "pak: corrupt index: " + e.Reason
}

// TruncatedEntryError reports an entry whose payload extends past the end
// of the underlying byte source.
type TruncatedEntryError struct {
	Path string
}

func (e *TruncatedEntryError) Error() string {
	return fmt.Sprintf("pak: truncated entry %q", e.Path)
}

// BadHashError reports an entry whose payload does not match its recorded
// SHA-1.
type BadHashError struct {
	Path string
	Want [20]byte
	Got  [20]byte
}

func (e *BadHashError) Error() string {
	return fmt.Sprintf("pak: hash mismatch for %q: want %x, got %x", e.Path, e.Want, e.Got)
}

// MissingEntryError reports a lookup for a path not present in the index.
type MissingEntryError struct {
	Path string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("pak: no entry %q", e.Path)
}
