// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kar reads and writes shader bundles: flat archives in which
// every file is lz4 compressed on its own, so any file can be located
// from the index and decompressed without touching the others. Archives
// are opened through io.ReaderAt, usually a memory map, and can be read
// from concurrently.
//
// An archive is laid out as
//
//	"KAR\x00"          4 bytes magic
//	header size       8 bytes, little endian
//	Header            gob encoded, including the index
//	lz4 frames        one per file, in index order
//
// Index offsets count from the first lz4 frame.
package kar

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Errors returned when reading an archive.
var (
	ErrFileFormat = errors.New("corrupted or not a kar archive")
	ErrNotExist   = errors.New("file does not exist in the archive")
)

// Lengths of the fixed size prefix.
const (
	MagicLength            = 4
	HeaderSizeNumberLength = 8
)

var magic = [MagicLength]byte{'K', 'A', 'R', '\x00'}

// IndexEntry locates one compressed file. Size is the length after
// decompression, CompressedSize the length of its lz4 frame.
type IndexEntry struct {
	Name           string
	Offset         int64
	Size           int64
	CompressedSize int64
}

// Header describes the archive. Index is filled in by Builder.WriteTo
// and sorted by name.
type Header struct {
	Author      string
	DateCreated int64
	Version     int64
	Index       []IndexEntry
}

func int64ToBinary(num int64) []byte {
	var buf [HeaderSizeNumberLength]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(num))
	return buf[:]
}

func binaryToint64(bts []byte) (int64, error) {
	if len(bts) < HeaderSizeNumberLength {
		return 0, ErrFileFormat
	}
	return int64(binary.LittleEndian.Uint64(bts)), nil
}

func gobEncode(data interface{}) ([]byte, error) {
	var encoded bytes.Buffer
	if err := gob.NewEncoder(&encoded).Encode(data); err != nil {
		return nil, errors.Wrap(err, "encode header")
	}
	return encoded.Bytes(), nil
}

func gobDecode(obj interface{}, bts []byte) error {
	return gob.NewDecoder(bytes.NewReader(bts)).Decode(obj)
}
