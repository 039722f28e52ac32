package tickdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang/snappy"
)

// Options define Open specific options.
type Options struct {
	// Stock is the instrument identifier of the series.
	// Required when creating a new file.
	Stock string

	// Date is the calendar date covered by the file, interpreted in UTC.
	// Required when creating a new file.
	Date time.Time

	// Depth is the number of price levels stored per side of the book.
	// A negative value stores no quote levels at all (trades only).
	// Default: 1.
	Depth int

	// Scale is the fixed-point multiplier applied to prices before
	// storage.
	// Default: 100.
	Scale int

	// ChunkSize is the width of a single time bucket in seconds.
	// Default: 300.
	ChunkSize int

	// The compression codec to use for full snapshot payloads.
	// Default: SnappyCompression.
	Compression Compression

	// Logger reports skipped index slots and recovery truncations.
	// Default: slog.Default().
	Logger *slog.Logger
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.Depth == 0 {
		oo.Depth = 1
	} else if oo.Depth < 0 {
		oo.Depth = 0
	}
	if oo.Scale < 1 {
		oo.Scale = 100
	}
	if oo.ChunkSize < 1 {
		oo.ChunkSize = 300
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}
	if oo.Logger == nil {
		oo.Logger = slog.Default()
	}

	return &oo
}

// --------------------------------------------------------------------

// DB is an open tick file in append mode. It must be used by a single
// writer at a time; the DB performs no internal locking.
type DB struct {
	file *os.File
	log  *slog.Logger

	meta     *meta
	indexOff int64 // absolute offset of the chunk index
	indexLen int64
	size     int64 // append cursor, equals the file size

	chunks        []Chunk
	dayStart      int64 // 0 until the first append or recovery
	nextChunkTime int64

	fullPending bool
	lastTime    int64
	bids, asks  []bookLevel // delta baseline

	compression Compression
	buf         []byte // record scratch
	pay         []byte // plain payload scratch
	snp         []byte // snappy scratch
	nb, na, dl  []bookLevel

	closed bool
}

// Open opens a tick file in append mode, creating it if it does not
// exist. Opening an existing file validates the header, reads the
// chunk index and fast-forwards the internal state to the end of the
// last complete record, truncating any corrupted tail left behind by
// an interrupted writer.
func Open(path string, o *Options) (*DB, error) {
	o = o.norm()

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err == nil {
		db, err := create(file, o)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		return db, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("tickdb: unable to create %s: %w", path, err)
	}

	file, err = os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tickdb: unable to open %s: %w", path, err)
	}
	db, err := openExisting(file, o)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return db, nil
}

func create(file *os.File, o *Options) (*DB, error) {
	if o.Stock == "" || o.Date.IsZero() {
		return nil, fmt.Errorf("%w: stock and date are required to create a file", errBadHeader)
	}
	if strings.ContainsAny(o.Stock, "\n:") {
		return nil, fmt.Errorf("%w: invalid stock %q", errBadHeader, o.Stock)
	}

	m := &meta{
		Version:   FormatVersion,
		Stock:     o.Stock,
		Date:      normDate(o.Date),
		Depth:     o.Depth,
		Scale:     o.Scale,
		ChunkSize: o.ChunkSize,
	}

	hdr := m.appendTo(nil)
	indexOff := int64(len(hdr))
	hdr = append(hdr, make([]byte, int64(numberOfChunks(m.ChunkSize))*slotWidth)...)
	if _, err := file.Write(hdr); err != nil {
		return nil, fmt.Errorf("tickdb: write failed: %w", err)
	}

	return newDB(file, o, m, indexOff), nil
}

func openExisting(file *os.File, o *Options) (*DB, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("tickdb: stat failed: %w", err)
	}
	size := stat.Size()

	m, indexOff, err := readMeta(file, size)
	if err != nil {
		return nil, err
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: file version %d, engine version %d", ErrNeedToMigrate, m.Version, FormatVersion)
	}
	if o.Stock != "" && o.Stock != m.Stock {
		return nil, fmt.Errorf("%w: file holds stock %q, not %q", errBadHeader, m.Stock, o.Stock)
	}
	if !o.Date.IsZero() && !normDate(o.Date).Equal(m.Date) {
		return nil, fmt.Errorf("%w: file holds date %s, not %s", errBadHeader, m.Date.Format(dateLayout), normDate(o.Date).Format(dateLayout))
	}

	indexLen := int64(numberOfChunks(m.ChunkSize)) * slotWidth
	if size < indexOff+indexLen {
		return nil, fmt.Errorf("%w: file ends inside the chunk index", errCorrupted)
	}

	db := newDB(file, o, m, indexOff)
	db.size = size
	db.chunks, err = readChunks(file, indexOff, indexLen, size, db.log)
	if err != nil {
		return nil, err
	}

	if err := db.fastForward(); err != nil {
		return nil, err
	}
	return db, nil
}

func newDB(file *os.File, o *Options, m *meta, indexOff int64) *DB {
	indexLen := int64(numberOfChunks(m.ChunkSize)) * slotWidth
	return &DB{
		file:        file,
		log:         o.Logger.With("stock", m.Stock, "date", m.Date.Format(dateLayout)),
		meta:        m,
		indexOff:    indexOff,
		indexLen:    indexLen,
		size:        indexOff + indexLen,
		fullPending: true,
		bids:        make([]bookLevel, m.Depth),
		asks:        make([]bookLevel, m.Depth),
		compression: o.Compression,
	}
}

// readChunks decodes the populated slots of the chunk index. Slots
// whose offsets are out of bounds or out of order are reported and
// skipped, the file is opened regardless.
func readChunks(r io.ReaderAt, indexOff, indexLen, size int64, log *slog.Logger) ([]Chunk, error) {
	buf := make([]byte, indexLen)
	if _, err := r.ReadAt(buf, indexOff); err != nil {
		return nil, fmt.Errorf("tickdb: unable to read chunk index: %w", err)
	}

	var chunks []Chunk
	prev := int64(0)
	for i := 0; i < int(indexLen/slotWidth); i++ {
		off := int64(binary.LittleEndian.Uint64(buf[i*slotWidth:]))
		if off == 0 {
			continue
		}
		if off < indexLen || indexOff+off > size || off <= prev {
			if log != nil {
				log.Warn("skipping bad chunk index slot", "chunk", i, "offset", off)
			}
			continue
		}

		chunk := Chunk{Number: i, Offset: off}
		if ft, err := readFirstTime(r, indexOff+off, size); err != nil {
			if log != nil {
				log.Warn("unable to read first record of chunk", "chunk", i, "error", err)
			}
		} else {
			chunk.FirstTime = ft
		}
		chunks = append(chunks, chunk)
		prev = off
	}
	return chunks, nil
}

// readFirstTime peeks at the absolute timestamp of the record at the
// given offset. Records at chunk boundaries always carry one.
func readFirstTime(r io.ReaderAt, off, size int64) (int64, error) {
	buf := make([]byte, 1+binary.MaxVarintLen64)
	if max := size - off; max < int64(len(buf)) {
		buf = buf[:max]
	}
	if len(buf) < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	if _, err := r.ReadAt(buf, off); err != nil {
		return 0, err
	}

	switch buf[0] {
	case recTrade, recQuoteFull, recQuoteSnappy:
	default:
		return 0, fmt.Errorf("%w: record kind %d at chunk boundary", errCorrupted, buf[0])
	}
	ts, n := binary.Uvarint(buf[1:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return int64(ts), nil
}

// --------------------------------------------------------------------

// Stock returns the instrument identifier of the series.
func (db *DB) Stock() string { return db.meta.Stock }

// Date returns the calendar date covered by the file (UTC midnight).
func (db *DB) Date() time.Time { return db.meta.Date }

// Depth returns the number of stored price levels per side.
func (db *DB) Depth() int { return db.meta.Depth }

// Scale returns the fixed-point price multiplier.
func (db *DB) Scale() int { return db.meta.Scale }

// ChunkSize returns the time bucket width in seconds.
func (db *DB) ChunkSize() int { return db.meta.ChunkSize }

// Size returns the current file size in bytes.
func (db *DB) Size() int64 { return db.size }

// Chunks returns a copy of the populated chunk map, ascending by chunk
// number.
func (db *DB) Chunks() []Chunk {
	chunks := make([]Chunk, len(db.chunks))
	copy(chunks, db.chunks)
	return chunks
}

// Append appends a single Trade or Quote. Ticks must be appended in
// non-decreasing timestamp order; a timestamp outside the file's
// trading day returns ErrNotThisDay.
func (db *DB) Append(tick Tick) error {
	if db.closed {
		return ErrClosed
	}

	switch t := tick.(type) {
	case Trade:
		return db.appendTrade(t)
	case Quote:
		return db.appendQuote(t)
	default:
		return fmt.Errorf("tickdb: unsupported tick type %T", tick)
	}
}

// Close releases the file handle. It does not flush beyond what the
// write calls already guarantee.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	return db.file.Close()
}

func (db *DB) appendTrade(t Trade) error {
	if err := db.ensureChunk(t.Timestamp); err != nil {
		return err
	}

	db.buf = appendTradeRecord(db.buf[:0], t.Timestamp, scalePrice(t.Price, db.meta.Scale), t.Volume)
	if err := db.write(db.buf); err != nil {
		return err
	}
	db.lastTime = t.Timestamp
	return nil
}

func (db *DB) appendQuote(q Quote) error {
	if err := db.ensureChunk(q.Timestamp); err != nil {
		return err
	}

	depth, scale := db.meta.Depth, db.meta.Scale
	db.nb = normalizeSide(db.nb[:0], q.Bids, depth, scale)
	db.na = normalizeSide(db.na[:0], q.Asks, depth, scale)

	if db.fullPending {
		db.pay = appendQuotePayload(db.pay[:0], db.nb, db.na)
		payload, compressed := db.pay, false
		if db.compression == SnappyCompression && len(db.pay) > 0 {
			db.snp = snappy.Encode(db.snp[:cap(db.snp)], db.pay)
			if len(db.snp) < len(db.pay)-len(db.pay)/4 {
				payload, compressed = db.snp, true
			}
		}
		db.buf = appendQuoteFullRecord(db.buf[:0], q.Timestamp, payload, compressed)
		if err := db.write(db.buf); err != nil {
			return err
		}
		db.fullPending = false
	} else {
		db.dl = diffSide(db.dl[:0], db.bids, db.nb)
		db.dl = diffSide(db.dl, db.asks, db.na)
		db.buf = appendQuoteDeltaRecord(db.buf[:0], q.Timestamp-db.lastTime, db.dl[:depth], db.dl[depth:])
		if err := db.write(db.buf); err != nil {
			return err
		}
	}

	copy(db.bids, db.nb)
	copy(db.asks, db.na)
	db.lastTime = q.Timestamp
	return nil
}

// ensureChunk starts a new chunk if the timestamp crossed the current
// chunk boundary. Starting a chunk performs a single positioned write
// to the chunk index slot; slots are written exactly once.
func (db *DB) ensureChunk(ts int64) error {
	if db.dayStart == 0 {
		db.dayStart = db.meta.Date.UnixMilli()
	}
	if ts >= db.dayStart+msPerDay {
		return ErrNotThisDay
	}
	if ts < db.nextChunkTime {
		return nil
	}
	if ts < db.dayStart {
		return ErrNotThisDay
	}

	chunkMS := int64(db.meta.ChunkSize) * 1000
	number := int((ts - db.dayStart) / chunkMS)
	offset := db.size - db.indexOff

	var slot [slotWidth]byte
	binary.LittleEndian.PutUint64(slot[:], uint64(offset))
	if _, err := db.file.WriteAt(slot[:], db.indexOff+int64(number)*slotWidth); err != nil {
		return fmt.Errorf("tickdb: unable to write chunk index slot: %w", err)
	}

	db.chunks = append(db.chunks, Chunk{Number: number, FirstTime: ts, Offset: offset})
	db.nextChunkTime = db.dayStart + chunkMS*int64(number+1)
	db.fullPending = true
	return nil
}

// write appends encoded record bytes at the current append cursor. The
// cursor only advances on success; after a failed write the next append
// starts over at the same offset, overwriting any partial record.
func (db *DB) write(p []byte) error {
	if _, err := db.file.WriteAt(p, db.size); err != nil {
		return fmt.Errorf("tickdb: write failed: %w", err)
	}
	db.size += int64(len(p))
	return nil
}
