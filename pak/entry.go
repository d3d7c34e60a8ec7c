package pak

import (
	"encoding/binary"
	"io"
)

// Block describes one compression block. Offsets are relative to the start
// of the entry's data record, as serialized by all supported versions.
type Block struct {
	Start uint64
	End   uint64
}

// Entry is one file record in the pak index.
type Entry struct {
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Method           Compression
	Hash             [20]byte // SHA-1 of the uncompressed payload
	Blocks           []Block
	Flags            uint8
	BlockSize        uint32
}

// headerSize returns the serialized size of the entry record that precedes
// the payload (and appears verbatim in legacy indexes).
func (e *Entry) headerSize() uint64 {
	size := uint64(8 + 8 + 8 + 4 + 20)
	if e.Method != CompressionNone {
		size += 4 + 16*uint64(len(e.Blocks))
	}
	size += 1 + 4 // flags + block size
	return size
}

// writeRecord serializes the entry record. Data records (the copy written
// immediately before the payload) store a zero offset; index records store
// the real one.
func (e *Entry) writeRecord(w io.Writer, dataRecord bool) error {
	offset := e.Offset
	if dataRecord {
		offset = 0
	}
	for _, v := range []uint64{offset, e.CompressedSize, e.UncompressedSize} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(e.Method)); err != nil {
		return err
	}
	if _, err := w.Write(e.Hash[:]); err != nil {
		return err
	}
	if e.Method != CompressionNone {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Blocks))); err != nil {
			return err
		}
		for _, b := range e.Blocks {
			if err := binary.Write(w, binary.LittleEndian, b.Start); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, b.End); err != nil {
				return err
			}
		}
	}
	if _, err := w.Write([]byte{e.Flags}); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, e.BlockSize)
}

func readEntryRecord(r io.Reader) (Entry, error) {
	var e Entry
	for _, p := range []*uint64{&e.Offset, &e.CompressedSize, &e.UncompressedSize} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return e, err
		}
	}
	var method uint32
	if err := binary.Read(r, binary.LittleEndian, &method); err != nil {
		return e, err
	}
	e.Method = Compression(method)
	if _, err := io.ReadFull(r, e.Hash[:]); err != nil {
		return e, err
	}
	if e.Method != CompressionNone {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return e, err
		}
		if count > 1<<20 {
			return e, &CorruptIndexError{Reason: "implausible compression block count"}
		}
		e.Blocks = make([]Block, count)
		for i := range e.Blocks {
			if err := binary.Read(r, binary.LittleEndian, &e.Blocks[i].Start); err != nil {
				return e, err
			}
			if err := binary.Read(r, binary.LittleEndian, &e.Blocks[i].End); err != nil {
				return e, err
			}
		}
	}
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return e, err
	}
	e.Flags = flags[0]
	return e, binary.Read(r, binary.LittleEndian, &e.BlockSize)
}

// Bit layout of the encoded entry flags word (major version 10+):
//
//	bits  0-5   compression block size >> 11, 0x3F means explicit u32 follows
//	bits  6-21  compression block count
//	bit   22    encrypted
//	bits 23-28  compression method index
//	bit   29    compressed size fits in u32
//	bit   30    uncompressed size fits in u32
//	bit   31    offset fits in u32
const (
	encBlockSizeMask  = 0x3F
	encBlockCountSh   = 6
	encBlockCountMask = 0xFFFF
	encEncryptedBit   = 1 << 22
	encMethodShift    = 23
	encMethodMask     = 0x3F
	encSizeSafeBit    = 1 << 29
	encUncompSafeBit  = 1 << 30
	encOffsetSafeBit  = 1 << 31
)

func writeMaybe32(w io.Writer, v uint64, safe bool) error {
	if safe {
		return binary.Write(w, binary.LittleEndian, uint32(v))
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readMaybe32(r io.Reader, safe bool) (uint64, error) {
	if safe {
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	}
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// writeEncoded serializes the bit-packed index form used by V10+.
func (e *Entry) writeEncoded(w io.Writer) error {
	offSafe := e.Offset <= 0xFFFFFFFF
	sizeSafe := e.CompressedSize <= 0xFFFFFFFF
	uncompSafe := e.UncompressedSize <= 0xFFFFFFFF

	flags := uint32(0)
	blockSizeField := e.BlockSize >> 11
	if e.BlockSize != blockSizeField<<11 || blockSizeField >= encBlockSizeMask {
		blockSizeField = encBlockSizeMask
	}
	flags |= blockSizeField
	flags |= uint32(len(e.Blocks)) << encBlockCountSh
	flags |= (uint32(e.Method) & encMethodMask) << encMethodShift
	if sizeSafe {
		flags |= encSizeSafeBit
	}
	if uncompSafe {
		flags |= encUncompSafeBit
	}
	if offSafe {
		flags |= encOffsetSafeBit
	}
	if err := binary.Write(w, binary.LittleEndian, flags); err != nil {
		return err
	}
	if blockSizeField == encBlockSizeMask {
		if err := binary.Write(w, binary.LittleEndian, e.BlockSize); err != nil {
			return err
		}
	}
	if err := writeMaybe32(w, e.Offset, offSafe); err != nil {
		return err
	}
	if err := writeMaybe32(w, e.UncompressedSize, uncompSafe); err != nil {
		return err
	}
	if e.Method != CompressionNone {
		if err := writeMaybe32(w, e.CompressedSize, sizeSafe); err != nil {
			return err
		}
		if len(e.Blocks) != 1 {
			for _, b := range e.Blocks {
				if err := binary.Write(w, binary.LittleEndian, uint32(b.End-b.Start)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// readEncoded parses the bit-packed index form and reconstructs block
// offsets from the recorded block sizes.
func readEncoded(r io.Reader) (Entry, error) {
	var e Entry
	var flags uint32
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return e, err
	}
	blockSizeField := flags & encBlockSizeMask
	if blockSizeField == encBlockSizeMask {
		if err := binary.Read(r, binary.LittleEndian, &e.BlockSize); err != nil {
			return e, err
		}
	} else {
		e.BlockSize = blockSizeField << 11
	}
	blockCount := (flags >> encBlockCountSh) & encBlockCountMask
	e.Method = Compression((flags >> encMethodShift) & encMethodMask)
	if flags&encEncryptedBit != 0 {
		e.Flags = 1
	}

	var err error
	if e.Offset, err = readMaybe32(r, flags&encOffsetSafeBit != 0); err != nil {
		return e, err
	}
	if e.UncompressedSize, err = readMaybe32(r, flags&encUncompSafeBit != 0); err != nil {
		return e, err
	}
	if e.Method == CompressionNone {
		e.CompressedSize = e.UncompressedSize
		return e, nil
	}
	if e.CompressedSize, err = readMaybe32(r, flags&encSizeSafeBit != 0); err != nil {
		return e, err
	}
	sizes := make([]uint32, blockCount)
	if blockCount == 1 {
		sizes[0] = uint32(e.CompressedSize)
	} else {
		for i := range sizes {
			if err := binary.Read(r, binary.LittleEndian, &sizes[i]); err != nil {
				return e, err
			}
		}
	}
	// Rebuild relative offsets: blocks are packed back to back after the
	// data record header.
	start := uint64(8+8+8+4+20+1+4) + 4 + 16*uint64(blockCount)
	for _, s := range sizes {
		e.Blocks = append(e.Blocks, Block{Start: start, End: start + uint64(s)})
		start += uint64(s)
	}
	return e, nil
}
