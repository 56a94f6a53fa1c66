package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
)

// Record is one stored sequence. Symbols aliases the reader's mapped data
// and is valid only until the Reader is closed.
type Record struct {
	Ordinal int
	ID      string
	Symbols []encoder.Symbol
}

type entry struct {
	offset uint64
	length uint64
}

// Reader gives random access to a validated database. The index is held in
// memory and the store is memory-mapped read-only where the platform allows.
// Record may be called from many goroutines.
type Reader struct {
	paths   Paths
	info    Info
	entries []entry
	data    []byte
	release func() error
}

// Open validates the database at paths against the encoder that will read
// it. A missing file yields ErrDatabaseMissing; anything that does not add
// up yields ErrDatabaseCorrupt.
func Open(paths Paths, encoderVersion uint32) (*Reader, error) {
	for _, path := range []string{paths.Store, paths.Index} {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", apperrors.ErrDatabaseMissing, path)
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	idx, err := os.ReadFile(paths.Index)
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", paths.Index, err)
	}
	ih, ifooter, err := parseIndex(paths.Index, idx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(paths.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", paths.Store, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", paths.Store, err)
	}
	size := st.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, corrupt(paths.Store, "file is %d bytes, shorter than header and footer", size)
	}
	data, release, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mapping store %s: %w", paths.Store, err)
	}
	r := &Reader{paths: paths, data: data, release: release}
	if err := r.validate(ih, ifooter, idx, encoderVersion); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func parseIndex(path string, b []byte) (header, footer, error) {
	if len(b) < HeaderSize+FooterSize {
		return header{}, footer{}, corrupt(path, "file is %d bytes, shorter than header and footer", len(b))
	}
	h := parseHeader(b[:HeaderSize])
	f := parseFooter(b[len(b)-FooterSize:])
	switch {
	case h.Magic != indexHeaderMagic:
		return h, f, corrupt(path, "bad header magic %q", h.Magic[:])
	case f.Magic != indexFooterMagic:
		return h, f, corrupt(path, "incomplete index, footer missing")
	case h.Version != FormatVersion || f.Version != FormatVersion:
		return h, f, corrupt(path, "format version %d/%d, want %d", h.Version, f.Version, FormatVersion)
	}
	want := uint64(HeaderSize) + f.Count*uint64(EntrySize) + uint64(FooterSize)
	if f.Count > uint64(len(b)) || uint64(len(b)) != want {
		return h, f, corrupt(path, "index is %d bytes, %d entries need %d", len(b), f.Count, want)
	}
	return h, f, nil
}

func (r *Reader) validate(ih header, ifooter footer, idx []byte, encoderVersion uint32) error {
	sp := r.paths.Store
	sh := parseHeader(r.data[:HeaderSize])
	sf := parseFooter(r.data[len(r.data)-FooterSize:])
	switch {
	case sh.Magic != storeHeaderMagic:
		return corrupt(sp, "bad header magic %q", sh.Magic[:])
	case sf.Magic != storeFooterMagic:
		return corrupt(sp, "incomplete store, footer missing")
	case sh.Version != FormatVersion || sf.Version != FormatVersion:
		return corrupt(sp, "format version %d/%d, want %d", sh.Version, sf.Version, FormatVersion)
	case sf.Count != ifooter.Count:
		return corrupt(sp, "store holds %d records, index %d", sf.Count, ifooter.Count)
	case sf.BuildID != ifooter.BuildID:
		return corrupt(sp, "store and index come from different builds")
	case ifooter.Extent != uint64(len(r.data)):
		return corrupt(sp, "store is %d bytes, index expects %d", len(r.data), ifooter.Extent)
	case sf.Extent < uint64(HeaderSize) || sf.Extent > uint64(len(r.data)-FooterSize):
		return corrupt(sp, "data end %d out of range", sf.Extent)
	case sh.EncoderVersion != ih.EncoderVersion:
		return corrupt(sp, "store and index written by different encoders")
	case sh.EncoderVersion != encoderVersion:
		return corrupt(sp, "encoder version %08x, query encoder is %08x", sh.EncoderVersion, encoderVersion)
	}

	n := int(ifooter.Count)
	r.entries = make([]entry, n)
	for i := 0; i < n; i++ {
		b := idx[HeaderSize+i*EntrySize:]
		e := entry{
			offset: binary.LittleEndian.Uint64(b[0:8]),
			length: binary.LittleEndian.Uint64(b[8:16]),
		}
		if e.offset < uint64(HeaderSize) || e.length < recordOverhead ||
			e.length > sf.Extent || e.offset > sf.Extent-e.length {
			return corrupt(r.paths.Index, "entry %d [%d,+%d) outside store data", i, e.offset, e.length)
		}
		r.entries[i] = e
	}
	r.info = Info{
		Count:          n,
		EncoderVersion: sh.EncoderVersion,
		BuildID:        sf.BuildID,
		CreatedAt:      time.Unix(0, sh.CreatedAt),
		StoreSize:      int64(len(r.data)),
	}
	return nil
}

func (r *Reader) Info() Info { return r.info }

func (r *Reader) Len() int { return len(r.entries) }

func (r *Reader) Paths() Paths { return r.paths }

// Record decodes the record at ordinal i and verifies its checksum.
func (r *Reader) Record(i int) (Record, error) {
	if i < 0 || i >= len(r.entries) {
		return Record{}, fmt.Errorf("%w: ordinal %d out of range [0,%d)", apperrors.ErrInvalidInput, i, len(r.entries))
	}
	e := r.entries[i]
	rec := r.data[e.offset : e.offset+e.length]
	idLen := uint64(binary.LittleEndian.Uint32(rec[0:4]))
	if 4+idLen+4 > e.length {
		return Record{}, corrupt(r.paths.Store, "record %d: id length %d overruns record", i, idLen)
	}
	id := rec[4 : 4+idLen]
	p := 4 + idLen
	symLen := uint64(binary.LittleEndian.Uint32(rec[p : p+4]))
	p += 4
	if p+symLen+4 != e.length {
		return Record{}, corrupt(r.paths.Store, "record %d: framing does not match index length %d", i, e.length)
	}
	symbols := rec[p : p+symLen]
	sum := binary.LittleEndian.Uint32(rec[p+symLen:])
	if crc := recordChecksum(string(id), symbols); crc != sum {
		return Record{}, corrupt(r.paths.Store, "record %d: checksum %08x, stored %08x", i, crc, sum)
	}
	return Record{Ordinal: i, ID: string(id), Symbols: symbols}, nil
}

// Close unmaps the store. Records obtained earlier must not be used after.
func (r *Reader) Close() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release = nil
	r.data = nil
	return err
}
