package tickdb

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Reader instances can seek and iterate across ticks in a file. The
// reader never modifies the file; a torn tail left behind by a crashed
// writer is treated as end of data.
type Reader struct {
	r io.ReaderAt

	meta     *meta
	indexOff int64
	indexLen int64
	size     int64
	chunks   []Chunk
	dayStart int64
}

// NewReader opens a reader.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	m, indexOff, err := readMeta(r, size)
	if err != nil {
		return nil, err
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: file version %d, engine version %d", ErrNeedToMigrate, m.Version, FormatVersion)
	}

	indexLen := int64(numberOfChunks(m.ChunkSize)) * slotWidth
	if size < indexOff+indexLen {
		return nil, fmt.Errorf("%w: file ends inside the chunk index", errCorrupted)
	}

	chunks, err := readChunks(r, indexOff, indexLen, size, nil)
	if err != nil {
		return nil, err
	}

	return &Reader{
		r:        r,
		meta:     m,
		indexOff: indexOff,
		indexLen: indexLen,
		size:     size,
		chunks:   chunks,
		dayStart: m.Date.UnixMilli(),
	}, nil
}

// Stock returns the instrument identifier of the series.
func (r *Reader) Stock() string { return r.meta.Stock }

// Date returns the calendar date covered by the file (UTC midnight).
func (r *Reader) Date() time.Time { return r.meta.Date }

// Depth returns the number of stored price levels per side.
func (r *Reader) Depth() int { return r.meta.Depth }

// Scale returns the fixed-point price multiplier.
func (r *Reader) Scale() int { return r.meta.Scale }

// ChunkSize returns the time bucket width in seconds.
func (r *Reader) ChunkSize() int { return r.meta.ChunkSize }

// NumChunks returns the number of populated chunks.
func (r *Reader) NumChunks() int { return len(r.chunks) }

// Chunks returns a copy of the populated chunk map.
func (r *Reader) Chunks() []Chunk {
	chunks := make([]Chunk, len(r.chunks))
	copy(chunks, r.chunks)
	return chunks
}

// Seek returns an iterator positioned at the first tick with a
// timestamp >= ts. The chunk index is used to locate the containing
// time bucket without scanning the whole file.
func (r *Reader) Seek(ts int64) (*Iterator, error) {
	iter := &Iterator{r: r}
	if len(r.chunks) == 0 {
		return iter, nil
	}

	if ts > r.dayStart {
		bucket := int((ts - r.dayStart) / (int64(r.meta.ChunkSize) * 1000))

		// the first chunk with a number > bucket, then step back
		pos := sort.Search(len(r.chunks), func(i int) bool {
			return r.chunks[i].Number > bucket
		})
		if pos > 0 {
			pos--
		}
		iter.ci = pos
	}

	// skip ticks before ts
	for iter.Next() {
		if tick := iter.Tick(); tick.Time() >= ts {
			iter.stash = tick
			break
		}
	}
	if iter.err != nil {
		return nil, iter.err
	}
	return iter, nil
}

// decode converts a parsed record into a public tick, descaling all
// prices.
func (r *Reader) decode(rec record) Tick {
	if rec.kind == recTrade {
		return Trade{
			Timestamp: rec.time,
			Price:     unscalePrice(rec.price, r.meta.Scale),
			Volume:    rec.volume,
		}
	}
	return Quote{
		Timestamp: rec.time,
		Bids:      unscaleSide(rec.bids, r.meta.Scale),
		Asks:      unscaleSide(rec.asks, r.meta.Scale),
	}
}

// --------------------------------------------------------------------

// Iterator (forward-)iterates over ticks across chunk boundaries.
type Iterator struct {
	r  *Reader
	ci int // next chunk to load

	p     *parser
	buf   []byte
	tick  Tick
	stash Tick

	err error
}

// Next advances the cursor to the next tick and returns true if
// successful.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.stash != nil {
		it.tick, it.stash = it.stash, nil
		return true
	}

	for {
		if it.p == nil {
			if it.ci >= len(it.r.chunks) {
				return false
			}
			if err := it.loadChunk(it.ci); err != nil {
				it.err = err
				return false
			}
			it.ci++
		}

		rec, err := it.p.next()
		if err == io.EOF {
			it.releaseChunk()
			continue
		} else if err != nil {
			// an incomplete record at the very end of the file is a torn
			// tail from an interrupted writer, not an iteration error
			if it.ci == len(it.r.chunks) && isCorrupted(err) {
				it.releaseChunk()
				it.ci++ // past the end, stop for good
				return false
			}
			it.err = err
			return false
		}

		it.tick = it.r.decode(rec)
		return true
	}
}

// Tick returns the current tick, either a Trade or a Quote.
func (it *Iterator) Tick() Tick { return it.tick }

// Err exposes iterator errors, if any.
func (it *Iterator) Err() error { return it.err }

// Release releases the iterator and frees up resources. The iterator
// must not be used after this method is called.
func (it *Iterator) Release() {
	it.releaseChunk()
	it.err = errReleased
}

func (it *Iterator) loadChunk(i int) error {
	min := it.r.indexOff + it.r.chunks[i].Offset
	max := it.r.size
	if i+1 < len(it.r.chunks) {
		max = it.r.indexOff + it.r.chunks[i+1].Offset
	}

	buf := fetchBuffer(int(max - min))
	if _, err := it.r.r.ReadAt(buf, min); err != nil {
		releaseBuffer(buf)
		return fmt.Errorf("tickdb: unable to read chunk: %w", err)
	}
	it.buf = buf
	it.p = newParser(buf, it.r.meta.Depth)
	return nil
}

func (it *Iterator) releaseChunk() {
	releaseBuffer(it.buf)
	it.buf = nil
	it.p = nil
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
