// Package store reads and writes the formatted database: a record store
// (.fmt) holding every encoded sequence back to back, and a fixed-width
// index (.idx) mapping each ordinal to its record's byte range.
//
// Both files open with a 32-byte header and close with a 32-byte footer.
// The index footer is written last and serves as the completion marker; the
// two footers share a build ID so that files from different builds are
// never paired.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
)

const (
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 32
	EntrySize     int    = 16

	// record framing: u32 id length, u32 symbol count, u32 crc
	recordOverhead = 12
)

var (
	storeHeaderMagic = [4]byte{'C', 'B', 'F', 'S'}
	storeFooterMagic = [4]byte{'C', 'B', 'F', 'E'}
	indexHeaderMagic = [4]byte{'C', 'B', 'I', 'X'}
	indexFooterMagic = [4]byte{'C', 'B', 'I', 'E'}
)

// Paths locates one database's store and index files.
type Paths struct {
	Store string
	Index string
}

// LockPath is the advisory lock file guarding builds of this database.
func (p Paths) LockPath() string { return p.Index + ".lock" }

// Exists reports whether both files are present. It does not validate them.
func (p Paths) Exists() bool {
	for _, path := range []string{p.Store, p.Index} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// header is the common layout of both file headers:
// magic[4] version[4] encoderVersion[4] reserved[4] createdAt[8] reserved[8].
type header struct {
	Magic          [4]byte
	Version        uint32
	EncoderVersion uint32
	CreatedAt      int64
}

func (h header) marshal() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.EncoderVersion)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	return b
}

func parseHeader(b []byte) header {
	var h header
	copy(h.Magic[:], b[0:4])
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	h.EncoderVersion = binary.LittleEndian.Uint32(b[8:12])
	h.CreatedAt = int64(binary.LittleEndian.Uint64(b[16:24]))
	return h
}

// footer is the common layout of both file footers:
// magic[4] version[4] count[8] extent[8] buildID[8]. Extent is the end of
// record data in the store and the total store size in the index.
type footer struct {
	Magic   [4]byte
	Version uint32
	Count   uint64
	Extent  uint64
	BuildID uint64
}

func (f footer) marshal() []byte {
	b := make([]byte, FooterSize)
	copy(b[0:4], f.Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], f.Version)
	binary.LittleEndian.PutUint64(b[8:16], f.Count)
	binary.LittleEndian.PutUint64(b[16:24], f.Extent)
	binary.LittleEndian.PutUint64(b[24:32], f.BuildID)
	return b
}

func parseFooter(b []byte) footer {
	var f footer
	copy(f.Magic[:], b[0:4])
	f.Version = binary.LittleEndian.Uint32(b[4:8])
	f.Count = binary.LittleEndian.Uint64(b[8:16])
	f.Extent = binary.LittleEndian.Uint64(b[16:24])
	f.BuildID = binary.LittleEndian.Uint64(b[24:32])
	return f
}

// Info describes an opened database.
type Info struct {
	Count          int
	EncoderVersion uint32
	BuildID        uint64
	CreatedAt      time.Time
	StoreSize      int64
}

func corrupt(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", apperrors.ErrDatabaseCorrupt, path, fmt.Sprintf(format, args...))
}
