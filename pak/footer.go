package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// footer is the fixed-size trailer at the end of every pak file.
type footer struct {
	version     Version
	indexOffset uint64
	indexSize   uint64
	indexHash   [20]byte
	compression []string // method names, slot 0 maps to method id 1
}

// readFooter locates and parses the footer by probing the footer sizes of
// every supported version, newest first.
func readFooter(r io.ReadSeeker) (*footer, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seeking to end: %w", err)
	}
	for _, v := range allVersions {
		size := v.footerSize()
		if end < size {
			continue
		}
		if _, err := r.Seek(end-size, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking to footer: %w", err)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading footer: %w", err)
		}
		f, err := parseFooter(buf, v)
		if err == nil {
			return f, nil
		}
	}
	return nil, ErrUnsupportedVersion
}

func parseFooter(buf []byte, v Version) (*footer, error) {
	b := bytes.NewReader(buf)
	var guid [16]byte
	if _, err := io.ReadFull(b, guid[:]); err != nil {
		return nil, err
	}
	encrypted, _ := b.ReadByte()
	var magic, major uint32
	if err := binary.Read(b, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrUnsupportedVersion
	}
	if err := binary.Read(b, binary.LittleEndian, &major); err != nil {
		return nil, err
	}
	if major != v.Major() {
		return nil, ErrUnsupportedVersion
	}
	if encrypted != 0 {
		return nil, ErrEncrypted
	}
	f := &footer{version: v}
	if err := binary.Read(b, binary.LittleEndian, &f.indexOffset); err != nil {
		return nil, err
	}
	if err := binary.Read(b, binary.LittleEndian, &f.indexSize); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(b, f.indexHash[:]); err != nil {
		return nil, err
	}
	if v.hasFrozenByte() {
		frozen, err := b.ReadByte()
		if err != nil {
			return nil, err
		}
		if frozen != 0 {
			return nil, &CorruptIndexError{Reason: "frozen index is not supported"}
		}
	}
	for i := 0; i < v.compressionSlots(); i++ {
		var name [32]byte
		if _, err := io.ReadFull(b, name[:]); err != nil {
			return nil, err
		}
		f.compression = append(f.compression, strings.TrimRight(string(name[:]), "\x00"))
	}
	return f, nil
}

func (f *footer) write(w io.Writer) error {
	var guid [16]byte
	if _, err := w.Write(guid[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil { // not encrypted
		return err
	}
	for _, v := range []uint32{Magic, f.version.Major()} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, f.indexOffset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.indexSize); err != nil {
		return err
	}
	if _, err := w.Write(f.indexHash[:]); err != nil {
		return err
	}
	if f.version.hasFrozenByte() {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	for i := 0; i < f.version.compressionSlots(); i++ {
		var name [32]byte
		if i < len(f.compression) {
			copy(name[:], f.compression[i])
		}
		if _, err := w.Write(name[:]); err != nil {
			return err
		}
	}
	return nil
}

// methodFor maps a footer compression slot list to a Compression id. Slot
// names are matched case-insensitively; an unknown name is reported as
// unsupported at decompression time, not here.
func (f *footer) methodName(c Compression) string {
	if c == CompressionNone {
		return "None"
	}
	idx := int(c) - 1
	if idx < len(f.compression) {
		return f.compression[idx]
	}
	return ""
}

// readString reads a UE serialized FString: i32 length including the NUL
// terminator, then the bytes. Negative lengths (UTF-16) are rejected.
func readString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", &CorruptIndexError{Reason: "UTF-16 strings are not supported"}
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if buf[n-1] != 0 {
		return "", &CorruptIndexError{Reason: "string is not NUL terminated"}
	}
	return string(buf[:n-1]), nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s)+1)); err != nil {
		return err
	}
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// fnv64 implements the FNV-1 variant Unreal uses for path hashing, with
// the index seed folded into the offset basis.
func fnv64(data []byte, seed uint64) uint64 {
	const offset = 0xcbf29ce484222325
	const prime = 0x00000100000001b3
	hash := offset + seed
	for _, b := range data {
		hash ^= uint64(b)
		hash *= prime
	}
	return hash
}

// fnv64Path hashes a lowercased internal path as UTF-16LE, which is how
// the engine keys its path-hash index.
func fnv64Path(path string, seed uint64) uint64 {
	lower := strings.ToLower(path)
	buf := make([]byte, 0, len(lower)*2)
	for _, r := range lower {
		if r > 0xFFFF {
			// surrogate pair
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			buf = append(buf, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
			continue
		}
		buf = append(buf, byte(r), byte(r>>8))
	}
	return fnv64(buf, seed)
}
