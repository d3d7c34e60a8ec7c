package pak

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Reader provides indexed access to a pak file. Entry payloads are only
// read when requested.
type Reader struct {
	src        io.ReadSeeker
	version    Version
	mountPoint string
	footer     *footer
	entries    map[string]Entry
	order      []string
}

// NewReader parses the footer and index of the given byte source.
func NewReader(src io.ReadSeeker) (*Reader, error) {
	f, err := readFooter(src)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		src:     src,
		version: f.version,
		footer:  f,
		entries: map[string]Entry{},
	}

	if _, err := src.Seek(int64(f.indexOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to index: %w", err)
	}
	indexBuf := make([]byte, f.indexSize)
	if _, err := io.ReadFull(src, indexBuf); err != nil {
		return nil, &CorruptIndexError{Reason: "index extends past end of file"}
	}
	if sum := sha1.Sum(indexBuf); sum != f.indexHash {
		return nil, &CorruptIndexError{Reason: "index hash mismatch"}
	}

	idx := bytes.NewReader(indexBuf)
	if r.mountPoint, err = readString(idx); err != nil {
		return nil, &CorruptIndexError{Reason: "unreadable mount point"}
	}
	var count uint32
	if err := binary.Read(idx, binary.LittleEndian, &count); err != nil {
		return nil, &CorruptIndexError{Reason: "unreadable entry count"}
	}

	if f.version.hasEncodedIndex() {
		err = r.readEncodedIndex(idx, count)
	} else {
		err = r.readLegacyIndex(idx, count)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) readLegacyIndex(idx io.Reader, count uint32) error {
	for i := uint32(0); i < count; i++ {
		p, err := readString(idx)
		if err != nil {
			return &CorruptIndexError{Reason: "unreadable entry path"}
		}
		e, err := readEntryRecord(idx)
		if err != nil {
			return &CorruptIndexError{Reason: fmt.Sprintf("unreadable record for %q", p)}
		}
		r.entries[p] = e
		r.order = append(r.order, p)
	}
	return nil
}

func (r *Reader) readEncodedIndex(idx io.Reader, count uint32) error {
	var seed uint64
	if err := binary.Read(idx, binary.LittleEndian, &seed); err != nil {
		return &CorruptIndexError{Reason: "unreadable path hash seed"}
	}
	// The path-hash index duplicates the directory index; skip its
	// descriptor and rely on the directory index for paths.
	var hasPathHash uint32
	if err := binary.Read(idx, binary.LittleEndian, &hasPathHash); err != nil {
		return &CorruptIndexError{Reason: "unreadable path hash index flag"}
	}
	if hasPathHash != 0 {
		if err := skipIndexDescriptor(idx); err != nil {
			return err
		}
	}
	var hasDirIndex uint32
	if err := binary.Read(idx, binary.LittleEndian, &hasDirIndex); err != nil {
		return &CorruptIndexError{Reason: "unreadable directory index flag"}
	}
	if hasDirIndex == 0 {
		return &CorruptIndexError{Reason: "missing full directory index"}
	}
	var dirOffset, dirSize uint64
	if err := binary.Read(idx, binary.LittleEndian, &dirOffset); err != nil {
		return err
	}
	if err := binary.Read(idx, binary.LittleEndian, &dirSize); err != nil {
		return err
	}
	var dirHash [20]byte
	if _, err := io.ReadFull(idx, dirHash[:]); err != nil {
		return err
	}

	var encodedSize uint32
	if err := binary.Read(idx, binary.LittleEndian, &encodedSize); err != nil {
		return &CorruptIndexError{Reason: "unreadable encoded entries size"}
	}
	encoded := make([]byte, encodedSize)
	if _, err := io.ReadFull(idx, encoded); err != nil {
		return &CorruptIndexError{Reason: "truncated encoded entries"}
	}

	// Decode entries in storage order, remembering byte offsets so the
	// directory index can address them.
	offsets := map[uint32]Entry{}
	er := bytes.NewReader(encoded)
	for er.Len() > 0 {
		off := uint32(len(encoded) - er.Len())
		e, err := readEncoded(er)
		if err != nil {
			return &CorruptIndexError{Reason: "unreadable encoded entry"}
		}
		offsets[off] = e
	}

	if _, err := r.src.Seek(int64(dirOffset), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to directory index: %w", err)
	}
	dirBuf := make([]byte, dirSize)
	if _, err := io.ReadFull(r.src, dirBuf); err != nil {
		return &CorruptIndexError{Reason: "truncated directory index"}
	}
	if sum := sha1.Sum(dirBuf); sum != dirHash {
		return &CorruptIndexError{Reason: "directory index hash mismatch"}
	}
	db := bytes.NewReader(dirBuf)
	var dirCount uint32
	if err := binary.Read(db, binary.LittleEndian, &dirCount); err != nil {
		return &CorruptIndexError{Reason: "unreadable directory count"}
	}
	for i := uint32(0); i < dirCount; i++ {
		dir, err := readString(db)
		if err != nil {
			return &CorruptIndexError{Reason: "unreadable directory name"}
		}
		var fileCount uint32
		if err := binary.Read(db, binary.LittleEndian, &fileCount); err != nil {
			return &CorruptIndexError{Reason: "unreadable file count"}
		}
		for j := uint32(0); j < fileCount; j++ {
			name, err := readString(db)
			if err != nil {
				return &CorruptIndexError{Reason: "unreadable file name"}
			}
			var entryOffset uint32
			if err := binary.Read(db, binary.LittleEndian, &entryOffset); err != nil {
				return &CorruptIndexError{Reason: "unreadable entry offset"}
			}
			e, ok := offsets[entryOffset]
			if !ok {
				return &CorruptIndexError{Reason: "directory references unknown entry"}
			}
			full := path.Join(strings.TrimPrefix(dir, "/"), name)
			r.entries[full] = e
			r.order = append(r.order, full)
		}
	}
	sort.Strings(r.order)
	if uint32(len(r.order)) != count {
		return &CorruptIndexError{Reason: "entry count mismatch"}
	}
	return nil
}

func skipIndexDescriptor(idx io.Reader) error {
	var off, size uint64
	if err := binary.Read(idx, binary.LittleEndian, &off); err != nil {
		return err
	}
	if err := binary.Read(idx, binary.LittleEndian, &size); err != nil {
		return err
	}
	var hash [20]byte
	_, err := io.ReadFull(idx, hash[:])
	return err
}

// Version returns the container version the file was written with.
func (r *Reader) Version() Version { return r.version }

// MountPoint returns the index mount point.
func (r *Reader) MountPoint() string { return r.mountPoint }

// Files returns internal paths in index order.
func (r *Reader) Files() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Entry returns the index record for the given internal path.
func (r *Reader) Entry(p string) (Entry, bool) {
	e, ok := r.entries[p]
	return e, ok
}

// Get reads and decompresses the payload for the given internal path and
// verifies its SHA-1 against the index record.
func (r *Reader) Get(p string) ([]byte, error) {
	data, err := r.getNoVerify(p)
	if err != nil {
		return nil, err
	}
	e := r.entries[p]
	var zero [20]byte
	if e.Hash != zero {
		if sum := sha1.Sum(data); sum != e.Hash {
			return nil, &BadHashError{Path: p, Want: e.Hash, Got: sum}
		}
	}
	return data, nil
}

func (r *Reader) getNoVerify(p string) ([]byte, error) {
	e, ok := r.entries[p]
	if !ok {
		return nil, &MissingEntryError{Path: p}
	}
	switch {
	case e.Method == CompressionNone:
		if _, err := r.src.Seek(int64(e.Offset+e.headerSize()), io.SeekStart); err != nil {
			return nil, err
		}
		buf := make([]byte, e.UncompressedSize)
		if _, err := io.ReadFull(r.src, buf); err != nil {
			return nil, &TruncatedEntryError{Path: p}
		}
		return buf, nil
	case strings.EqualFold(r.footer.methodName(e.Method), "Zlib"):
		out := make([]byte, 0, e.UncompressedSize)
		for _, b := range e.Blocks {
			if _, err := r.src.Seek(int64(e.Offset+b.Start), io.SeekStart); err != nil {
				return nil, err
			}
			comp := make([]byte, b.End-b.Start)
			if _, err := io.ReadFull(r.src, comp); err != nil {
				return nil, &TruncatedEntryError{Path: p}
			}
			zr, err := zlib.NewReader(bytes.NewReader(comp))
			if err != nil {
				return nil, fmt.Errorf("opening zlib block of %q: %w", p, err)
			}
			dec, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("decompressing block of %q: %w", p, err)
			}
			out = append(out, dec...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, r.footer.methodName(e.Method))
	}
}

// RawPayload reads the stored (possibly compressed) payload bytes without
// decompressing, for stream copying between paks.
func (r *Reader) RawPayload(p string) (Entry, []byte, error) {
	e, ok := r.entries[p]
	if !ok {
		return Entry{}, nil, &MissingEntryError{Path: p}
	}
	if _, err := r.src.Seek(int64(e.Offset+e.headerSize()), io.SeekStart); err != nil {
		return Entry{}, nil, err
	}
	size := e.CompressedSize
	if e.Method == CompressionNone {
		size = e.UncompressedSize
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.src, buf); err != nil {
		return Entry{}, nil, &TruncatedEntryError{Path: p}
	}
	return e, buf, nil
}

// MethodName resolves an entry's compression method against the footer's
// method name slots.
func (r *Reader) MethodName(e Entry) string {
	return r.footer.methodName(e.Method)
}
