// Package snapshot writes and reads heap snapshots: a binary header
// followed by a CBOR body listing every live object, its type, size and
// outgoing references.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/chazu/mgc/heap"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("mgc.snapshot")

// ---------------------------------------------------------------------------
// Format constants
// ---------------------------------------------------------------------------

// Magic identifies a snapshot file.
var Magic = [4]byte{'M', 'G', 'C', 'S'}

// Version is the snapshot format version.
const Version uint32 = 1

// HeaderSize is the size of the fixed header in bytes:
// magic(4) + version(4) + flags(4) + heapID(16) + recordCount(8) + bodyLength(8) = 44
const HeaderSize = 44

const maxBodyLength = 1 << 31

// maxDecodedLength caps the size of a decompressed body.
var maxDecodedLength uint64 = maxBodyLength

// Header flags
const (
	FlagNone       uint32 = 0
	FlagCompressed uint32 = 1 << 0 // body is zstd-compressed
)

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected MGCS")
	ErrVersionMismatch = errors.New("snapshot version mismatch")
	ErrCorruptHeader   = errors.New("corrupt snapshot header")
	ErrCorruptData     = errors.New("corrupt snapshot data")
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// A body lists every live object, far past the default array limit.
	dm, err := cbor.DecOptions{
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// ---------------------------------------------------------------------------
// Snapshot model
// ---------------------------------------------------------------------------

// Header is the fixed-size preamble of a snapshot.
type Header struct {
	Magic       string
	Version     uint32
	Flags       uint32
	HeapID      uuid.UUID
	RecordCount uint64
	BodyLength  uint64
}

// Compressed reports whether the body is zstd-compressed.
func (h Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

// TypeEntry is one row of the type table.
type TypeEntry struct {
	ID   uint32 `cbor:"1,keyasint"`
	Name string `cbor:"2,keyasint"`
}

// Record describes one object. Type indexes the type table; Refs index
// the record list.
type Record struct {
	Type   uint32   `cbor:"1,keyasint"`
	Size   uint32   `cbor:"2,keyasint"`
	Len    uint32   `cbor:"3,keyasint,omitempty"`
	Refs   []uint32 `cbor:"4,keyasint,omitempty"`
	Young  bool     `cbor:"5,keyasint,omitempty"`
	Pinned bool     `cbor:"6,keyasint,omitempty"`
}

type body struct {
	Variant string      `cbor:"1,keyasint"`
	Types   []TypeEntry `cbor:"2,keyasint"`
	Records []Record    `cbor:"3,keyasint"`
	Roots   []uint32    `cbor:"4,keyasint"`
}

// Snapshot is a decoded snapshot.
type Snapshot struct {
	Header  Header
	Variant string
	Types   []TypeEntry
	Records []Record
	// Roots holds the record indices of rooted objects.
	Roots []uint32
}

// TypeName returns the name of the type of record i.
func (s *Snapshot) TypeName(i int) string {
	return s.Types[s.Records[i].Type].Name
}

// TypeStat aggregates the records of one type.
type TypeStat struct {
	Name  string
	Count int
	Bytes int64
}

// ByType summarizes the records per type, largest total size first.
func (s *Snapshot) ByType() []TypeStat {
	stats := make([]TypeStat, len(s.Types))
	for i, t := range s.Types {
		stats[i].Name = t.Name
	}
	for _, r := range s.Records {
		stats[r.Type].Count++
		stats[r.Type].Bytes += int64(r.Size)
	}
	slices.SortStableFunc(stats, func(a, b TypeStat) int {
		if a.Bytes != b.Bytes {
			if a.Bytes > b.Bytes {
				return -1
			}
			return 1
		}
		return b.Count - a.Count
	})
	return stats
}

// TotalBytes returns the summed size of all records.
func (s *Snapshot) TotalBytes() int64 {
	var n int64
	for _, r := range s.Records {
		n += int64(r.Size)
	}
	return n
}

// validate checks that every index points into its table.
func (s *Snapshot) validate() error {
	n := uint32(len(s.Records))
	for i, r := range s.Records {
		if int(r.Type) >= len(s.Types) {
			return fmt.Errorf("%w: record %d has type index %d", ErrCorruptData, i, r.Type)
		}
		for _, ref := range r.Refs {
			if ref >= n {
				return fmt.Errorf("%w: record %d refers to record %d", ErrCorruptData, i, ref)
			}
		}
	}
	for _, root := range s.Roots {
		if root >= n {
			return fmt.Errorf("%w: root %d out of range", ErrCorruptData, root)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// Options controls Write.
type Options struct {
	// Compress zstd-compresses the body.
	Compress bool
	// HeapID identifies the heap; a random id is used when zero.
	HeapID uuid.UUID
}

// Capture completes a full collection of h and records every surviving
// object.
func Capture(h *heap.Heap, heapID uuid.UUID) (*Snapshot, error) {
	var infos []heap.ObjectInfo
	h.Walk(func(info heap.ObjectInfo) bool {
		infos = append(infos, info)
		return true
	})

	s := &Snapshot{
		Header:  Header{Magic: string(Magic[:]), Version: Version, HeapID: heapID},
		Variant: h.Variant().String(),
		Records: make([]Record, len(infos)),
	}
	index := make(map[heap.Addr]uint32, len(infos))
	for i, info := range infos {
		index[info.Addr] = uint32(i)
	}
	typeIndex := make(map[heap.TypeID]uint32)
	for i, info := range infos {
		ti, ok := typeIndex[info.Type]
		if !ok {
			ti = uint32(len(s.Types))
			typeIndex[info.Type] = ti
			s.Types = append(s.Types, TypeEntry{ID: uint32(info.Type), Name: info.TypeName})
		}
		rec := Record{
			Type:   ti,
			Size:   uint32(info.Size),
			Len:    uint32(info.Len),
			Young:  info.Young,
			Pinned: info.Pinned,
		}
		for _, a := range info.Refs {
			j, ok := index[a]
			if !ok {
				return nil, fmt.Errorf("snapshot: object %#x refers to %#x outside the heap: %w", uint64(info.Addr), uint64(a), heap.ErrCorrupt)
			}
			rec.Refs = append(rec.Refs, j)
		}
		s.Records[i] = rec
		if info.Root {
			s.Roots = append(s.Roots, uint32(i))
		}
	}
	s.Header.RecordCount = uint64(len(s.Records))
	return s, nil
}

// Write captures h and writes the snapshot to w.
func Write(w io.Writer, h *heap.Heap, opts Options) (Header, error) {
	id := opts.HeapID
	if id == uuid.Nil {
		id = uuid.New()
	}
	s, err := Capture(h, id)
	if err != nil {
		return Header{}, err
	}
	if opts.Compress {
		s.Header.Flags |= FlagCompressed
	}
	if err := Encode(w, s); err != nil {
		return Header{}, err
	}
	log.Infof("wrote snapshot %s: %d objects, %d types", s.Header.HeapID, len(s.Records), len(s.Types))
	return s.Header, nil
}

// Encode writes s to w. The header fields that depend on the body are
// filled in.
func Encode(w io.Writer, s *Snapshot) error {
	data, err := cborEncMode.Marshal(&body{
		Variant: s.Variant,
		Types:   s.Types,
		Records: s.Records,
		Roots:   s.Roots,
	})
	if err != nil {
		return fmt.Errorf("snapshot: marshal body: %w", err)
	}
	if s.Header.Compressed() {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("snapshot: create encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}

	s.Header.Magic = string(Magic[:])
	s.Header.Version = Version
	s.Header.RecordCount = uint64(len(s.Records))
	s.Header.BodyLength = uint64(len(data))

	var hdr [HeaderSize]byte
	copy(hdr[0:4], Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], s.Header.Version)
	binary.LittleEndian.PutUint32(hdr[8:12], s.Header.Flags)
	copy(hdr[12:28], s.Header.HeapID[:])
	binary.LittleEndian.PutUint64(hdr[28:36], s.Header.RecordCount)
	binary.LittleEndian.PutUint64(hdr[36:44], s.Header.BodyLength)

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("snapshot: write body: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// ReadHeader reads and validates the fixed header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	if !bytes.Equal(buf[0:4], Magic[:]) {
		return Header{}, fmt.Errorf("%w: got %q", ErrInvalidMagic, buf[0:4])
	}
	h := Header{
		Magic:       string(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		Flags:       binary.LittleEndian.Uint32(buf[8:12]),
		RecordCount: binary.LittleEndian.Uint64(buf[28:36]),
		BodyLength:  binary.LittleEndian.Uint64(buf[36:44]),
	}
	copy(h.HeapID[:], buf[12:28])
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, h.Version)
	}
	return h, nil
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.BodyLength > maxBodyLength {
		return nil, fmt.Errorf("%w: body length %d", ErrCorruptHeader, hdr.BodyLength)
	}
	data := make([]byte, hdr.BodyLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: truncated body: %v", ErrCorruptData, err)
	}
	if hdr.Compressed() {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedLength))
		if err != nil {
			return nil, fmt.Errorf("snapshot: create decoder: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptData, err)
		}
	}

	var b body
	if err := cborDecMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: unmarshal body: %v", ErrCorruptData, err)
	}
	s := &Snapshot{
		Header:  hdr,
		Variant: b.Variant,
		Types:   b.Types,
		Records: b.Records,
		Roots:   b.Roots,
	}
	if uint64(len(s.Records)) != hdr.RecordCount {
		return nil, fmt.Errorf("%w: header counts %d records, body has %d", ErrCorruptData, hdr.RecordCount, len(s.Records))
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	log.Debugf("read snapshot %s: %d objects", hdr.HeapID, len(s.Records))
	return s, nil
}
