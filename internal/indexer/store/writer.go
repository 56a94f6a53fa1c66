package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
)

// Writer streams records into temporary store and index files and makes them
// visible only on Commit. A Writer is not safe for concurrent use.
type Writer struct {
	paths    Paths
	storeTmp string
	indexTmp string

	storeFile *os.File
	indexFile *os.File
	store     *bufio.Writer
	index     *bufio.Writer

	encoderVersion uint32
	buildID        uint64
	offset         uint64
	count          uint64
	done           bool
	scratch        []byte
}

// Create opens <store>.tmp and <index>.tmp and writes their headers.
func Create(paths Paths, encoderVersion uint32, buildID uint64) (*Writer, error) {
	w := &Writer{
		paths:          paths,
		storeTmp:       paths.Store + ".tmp",
		indexTmp:       paths.Index + ".tmp",
		encoderVersion: encoderVersion,
		buildID:        buildID,
		offset:         uint64(HeaderSize),
	}
	for _, dir := range []string{filepath.Dir(paths.Store), filepath.Dir(paths.Index)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ioErr(dir, "creating directory", err)
		}
	}

	var err error
	if w.storeFile, err = os.Create(w.storeTmp); err != nil {
		return nil, ioErr(w.storeTmp, "creating", err)
	}
	if w.indexFile, err = os.Create(w.indexTmp); err != nil {
		w.storeFile.Close()
		os.Remove(w.storeTmp)
		return nil, ioErr(w.indexTmp, "creating", err)
	}
	w.store = bufio.NewWriterSize(w.storeFile, 1<<16)
	w.index = bufio.NewWriterSize(w.indexFile, 1<<14)

	now := time.Now().UnixNano()
	if _, err := w.store.Write(header{Magic: storeHeaderMagic, Version: FormatVersion, EncoderVersion: encoderVersion, CreatedAt: now}.marshal()); err != nil {
		w.Abort()
		return nil, ioErr(w.storeTmp, "writing header", err)
	}
	if _, err := w.index.Write(header{Magic: indexHeaderMagic, Version: FormatVersion, EncoderVersion: encoderVersion, CreatedAt: now}.marshal()); err != nil {
		w.Abort()
		return nil, ioErr(w.indexTmp, "writing header", err)
	}
	return w, nil
}

// Append writes seq as the next record and its index entry.
func (w *Writer) Append(seq encoder.EncodedSequence) error {
	if w.done {
		return fmt.Errorf("%w: append after commit or abort", apperrors.ErrBuildIO)
	}
	if len(seq.ID) > math.MaxUint32 || len(seq.Symbols) > math.MaxUint32 {
		return fmt.Errorf("%w: record %q too large", apperrors.ErrBuildIO, seq.ID)
	}
	size := recordOverhead + len(seq.ID) + len(seq.Symbols)
	if cap(w.scratch) < size {
		w.scratch = make([]byte, size)
	}
	rec := w.scratch[:size]
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(seq.ID)))
	p := 4 + copy(rec[4:], seq.ID)
	binary.LittleEndian.PutUint32(rec[p:p+4], uint32(len(seq.Symbols)))
	p += 4
	p += copy(rec[p:], seq.Symbols)
	binary.LittleEndian.PutUint32(rec[p:p+4], recordChecksum(seq.ID, seq.Symbols))

	if _, err := w.store.Write(rec); err != nil {
		return ioErr(w.storeTmp, "writing record", err)
	}
	var entry [EntrySize]byte
	binary.LittleEndian.PutUint64(entry[0:8], w.offset)
	binary.LittleEndian.PutUint64(entry[8:16], uint64(size))
	if _, err := w.index.Write(entry[:]); err != nil {
		return ioErr(w.indexTmp, "writing entry", err)
	}
	w.offset += uint64(size)
	w.count++
	return nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() int { return int(w.count) }

// Commit writes both footers, syncs the files and renames them over the
// final paths, store first and index last.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("%w: commit after commit or abort", apperrors.ErrBuildIO)
	}
	if err := w.finish(); err != nil {
		w.Abort()
		return err
	}
	w.done = true
	if err := os.Rename(w.storeTmp, w.paths.Store); err != nil {
		os.Remove(w.storeTmp)
		os.Remove(w.indexTmp)
		return ioErr(w.paths.Store, "renaming store", err)
	}
	if err := os.Rename(w.indexTmp, w.paths.Index); err != nil {
		os.Remove(w.indexTmp)
		return ioErr(w.paths.Index, "renaming index", err)
	}
	syncDir(filepath.Dir(w.paths.Index))
	return nil
}

func (w *Writer) finish() error {
	storeFooter := footer{Magic: storeFooterMagic, Version: FormatVersion, Count: w.count, Extent: w.offset, BuildID: w.buildID}
	if _, err := w.store.Write(storeFooter.marshal()); err != nil {
		return ioErr(w.storeTmp, "writing footer", err)
	}
	storeSize := w.offset + uint64(FooterSize)
	indexFooter := footer{Magic: indexFooterMagic, Version: FormatVersion, Count: w.count, Extent: storeSize, BuildID: w.buildID}
	if _, err := w.index.Write(indexFooter.marshal()); err != nil {
		return ioErr(w.indexTmp, "writing footer", err)
	}
	if err := flushSyncClose(w.store, w.storeFile); err != nil {
		return ioErr(w.storeTmp, "finishing", err)
	}
	if err := flushSyncClose(w.index, w.indexFile); err != nil {
		return ioErr(w.indexTmp, "finishing", err)
	}
	return nil
}

// Abort discards the temporary files. Final paths are never touched, so an
// existing database survives a failed build. Abort after Commit is a no-op.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	errs := []error{}
	for _, f := range []*os.File{w.storeFile, w.indexFile} {
		if f != nil {
			f.Close()
		}
	}
	for _, path := range []string{w.storeTmp, w.indexTmp} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func flushSyncClose(b *bufio.Writer, f *os.File) error {
	if err := b.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir persists the renames. Failure is ignored; some filesystems do not
// support syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

func recordChecksum(id string, symbols []encoder.Symbol) uint32 {
	crc := crc32.ChecksumIEEE([]byte(id))
	return crc32.Update(crc, crc32.IEEETable, symbols)
}

func ioErr(path, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", apperrors.ErrBuildIO, op, path, err)
}
