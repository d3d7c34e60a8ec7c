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

// Writer emits a pak file to a sequential byte sink. Entries are written
// in call order; callers wanting deterministic output sort paths before
// writing. Finalize writes the index and footer.
type Writer struct {
	dst        io.Writer
	version    Version
	mountPoint string
	offset     uint64
	entries    map[string]Entry
	order      []string
	finalized  bool
}

// NewWriter starts a pak file with the given target version and mount
// point. Compression method slot 1 is always Zlib.
func NewWriter(dst io.Writer, version Version, mountPoint string) *Writer {
	return &Writer{
		dst:        dst,
		version:    version,
		mountPoint: mountPoint,
		entries:    map[string]Entry{},
	}
}

// Version returns the container version being written.
func (w *Writer) Version() Version { return w.version }

// WriteFile appends one entry, compressing the payload when method is
// CompressionZlib. Duplicate paths are rejected.
func (w *Writer) WriteFile(p string, data []byte, method Compression) error {
	if _, dup := w.entries[p]; dup {
		return fmt.Errorf("pak: duplicate entry %q", p)
	}
	e := Entry{
		Method:           method,
		UncompressedSize: uint64(len(data)),
		Hash:             sha1.Sum(data),
		BlockSize:        DefaultBlockSize,
	}

	var payload []byte
	switch method {
	case CompressionNone:
		payload = data
		e.CompressedSize = e.UncompressedSize
		e.BlockSize = 0
	case CompressionZlib:
		var sizes []uint64
		for start := 0; start < len(data) || start == 0; start += int(DefaultBlockSize) {
			end := start + int(DefaultBlockSize)
			if end > len(data) {
				end = len(data)
			}
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
			if err != nil {
				return err
			}
			if _, err := zw.Write(data[start:end]); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			payload = append(payload, buf.Bytes()...)
			sizes = append(sizes, uint64(buf.Len()))
			if end == len(data) {
				break
			}
		}
		e.CompressedSize = uint64(len(payload))
		// Block offsets are relative to the entry start and begin right
		// after the data record header.
		e.Blocks = make([]Block, len(sizes))
		start := e.headerSize()
		for i, size := range sizes {
			e.Blocks[i] = Block{Start: start, End: start + size}
			start += size
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCompression, method)
	}

	return w.append(p, e, payload)
}

// WriteRaw appends an entry whose payload was stream-copied from another
// pak. methodName is the source pak's name for the entry's compression
// method; it is remapped into this writer's method table.
func (w *Writer) WriteRaw(p string, src Entry, methodName string, payload []byte) error {
	if _, dup := w.entries[p]; dup {
		return fmt.Errorf("pak: duplicate entry %q", p)
	}
	e := src
	switch {
	case src.Method == CompressionNone || methodName == "" || strings.EqualFold(methodName, "None"):
		e.Method = CompressionNone
		e.Blocks = nil
	case strings.EqualFold(methodName, "Zlib"):
		e.Method = CompressionZlib
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCompression, methodName)
	}
	return w.append(p, e, payload)
}

func (w *Writer) append(p string, e Entry, payload []byte) error {
	e.Offset = w.offset
	var rec bytes.Buffer
	if err := e.writeRecord(&rec, true); err != nil {
		return err
	}
	if _, err := w.dst.Write(rec.Bytes()); err != nil {
		return err
	}
	if _, err := w.dst.Write(payload); err != nil {
		return err
	}
	w.offset += uint64(rec.Len()) + uint64(len(payload))
	w.entries[p] = e
	w.order = append(w.order, p)
	return nil
}

// Finalize writes the index and footer. The writer must not be used
// afterwards.
func (w *Writer) Finalize() error {
	if w.finalized {
		return fmt.Errorf("pak: writer already finalized")
	}
	w.finalized = true
	if w.version.hasEncodedIndex() {
		return w.finalizeEncoded()
	}
	return w.finalizeLegacy()
}

func (w *Writer) finalizeLegacy() error {
	var idx bytes.Buffer
	if err := writeString(&idx, w.mountPoint); err != nil {
		return err
	}
	if err := binary.Write(&idx, binary.LittleEndian, uint32(len(w.order))); err != nil {
		return err
	}
	for _, p := range w.order {
		if err := writeString(&idx, p); err != nil {
			return err
		}
		e := w.entries[p]
		if err := e.writeRecord(&idx, false); err != nil {
			return err
		}
	}
	return w.writeFooter(idx.Bytes(), nil, nil)
}

func (w *Writer) finalizeEncoded() error {
	const seed uint64 = 0 // fixed seed keeps output reproducible

	// Encoded entry buffer plus per-path byte offsets into it.
	var encoded bytes.Buffer
	entryOffsets := map[string]uint32{}
	for _, p := range w.order {
		entryOffsets[p] = uint32(encoded.Len())
		e := w.entries[p]
		if err := e.writeEncoded(&encoded); err != nil {
			return err
		}
	}

	var pathHash bytes.Buffer
	if err := binary.Write(&pathHash, binary.LittleEndian, uint32(len(w.order))); err != nil {
		return err
	}
	hashed := make([]string, len(w.order))
	copy(hashed, w.order)
	sort.Strings(hashed)
	for _, p := range hashed {
		full := path.Join(strings.TrimPrefix(w.mountPoint, "../../../"), p)
		if err := binary.Write(&pathHash, binary.LittleEndian, fnv64Path(full, seed)); err != nil {
			return err
		}
		if err := binary.Write(&pathHash, binary.LittleEndian, entryOffsets[p]); err != nil {
			return err
		}
	}

	dirIndex, err := w.buildDirectoryIndex(entryOffsets)
	if err != nil {
		return err
	}

	// The primary index size is fixed by its own fields, so the offsets of
	// the secondary indexes that follow it can be computed up front.
	primarySize := int64(4+len(w.mountPoint)+1) + 4 + 8 +
		4 + 8 + 8 + 20 + // path hash descriptor
		4 + 8 + 8 + 20 + // directory descriptor
		4 + int64(encoded.Len()) +
		4 // count of non-encoded entries (always zero)
	pathHashOffset := w.offset + uint64(primarySize)
	dirOffset := pathHashOffset + uint64(pathHash.Len())

	var idx bytes.Buffer
	if err := writeString(&idx, w.mountPoint); err != nil {
		return err
	}
	if err := binary.Write(&idx, binary.LittleEndian, uint32(len(w.order))); err != nil {
		return err
	}
	if err := binary.Write(&idx, binary.LittleEndian, seed); err != nil {
		return err
	}
	for _, part := range []struct {
		offset uint64
		data   []byte
	}{
		{pathHashOffset, pathHash.Bytes()},
		{dirOffset, dirIndex},
	} {
		if err := binary.Write(&idx, binary.LittleEndian, uint32(1)); err != nil {
			return err
		}
		if err := binary.Write(&idx, binary.LittleEndian, part.offset); err != nil {
			return err
		}
		if err := binary.Write(&idx, binary.LittleEndian, uint64(len(part.data))); err != nil {
			return err
		}
		sum := sha1.Sum(part.data)
		if _, err := idx.Write(sum[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(&idx, binary.LittleEndian, uint32(encoded.Len())); err != nil {
		return err
	}
	if _, err := idx.Write(encoded.Bytes()); err != nil {
		return err
	}
	if err := binary.Write(&idx, binary.LittleEndian, uint32(0)); err != nil {
		return err
	}
	if int64(idx.Len()) != primarySize {
		return fmt.Errorf("pak: internal error: index size %d != computed %d", idx.Len(), primarySize)
	}
	return w.writeFooter(idx.Bytes(), pathHash.Bytes(), dirIndex)
}

func (w *Writer) buildDirectoryIndex(entryOffsets map[string]uint32) ([]byte, error) {
	type dirEntry struct {
		name   string
		offset uint32
	}
	dirs := map[string][]dirEntry{}
	for _, p := range w.order {
		dir := "/"
		name := p
		if i := strings.LastIndex(p, "/"); i >= 0 {
			dir = p[:i+1]
			name = p[i+1:]
		}
		dirs[dir] = append(dirs[dir], dirEntry{name: name, offset: entryOffsets[p]})
	}
	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(names))); err != nil {
		return nil, err
	}
	for _, d := range names {
		if err := writeString(&buf, d); err != nil {
			return nil, err
		}
		files := dirs[d]
		sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(files))); err != nil {
			return nil, err
		}
		for _, f := range files {
			if err := writeString(&buf, f.name); err != nil {
				return nil, err
			}
			if err := binary.Write(&buf, binary.LittleEndian, f.offset); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func (w *Writer) writeFooter(index, pathHash, dirIndex []byte) error {
	indexOffset := w.offset
	if _, err := w.dst.Write(index); err != nil {
		return err
	}
	if _, err := w.dst.Write(pathHash); err != nil {
		return err
	}
	if _, err := w.dst.Write(dirIndex); err != nil {
		return err
	}
	f := &footer{
		version:     w.version,
		indexOffset: indexOffset,
		indexSize:   uint64(len(index)),
		indexHash:   sha1.Sum(index),
		compression: []string{"Zlib"},
	}
	return f.write(w.dst)
}
