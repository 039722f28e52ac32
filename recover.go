package tickdb

import (
	"errors"
	"fmt"
	"io"
)

// fastForward replays the tail of the file after the last known chunk
// boundary to determine the true append position. Any trailing bytes
// that do not form complete records, e.g. a record torn by a crashed
// writer, are truncated. After fastForward every byte on disk is part
// of a complete, valid record and appending may resume.
func (db *DB) fastForward() error {
	if len(db.chunks) == 0 {
		// A file without chunks has no records; daystart and the chunk
		// clock stay unset until the first append.
		return nil
	}

	last := db.chunks[len(db.chunks)-1]
	off := db.indexOff + last.Offset

	tail := make([]byte, db.size-off)
	if _, err := db.file.ReadAt(tail, off); err != nil {
		return fmt.Errorf("tickdb: unable to read chunk tail: %w", err)
	}

	p := newParser(tail, db.meta.Depth)
	var parseErr error
	for {
		if _, err := p.next(); err == io.EOF {
			break
		} else if err != nil {
			parseErr = err
			break
		}
	}

	if parseErr != nil {
		size := off + int64(p.mark)
		if err := db.file.Truncate(size); err != nil {
			return fmt.Errorf("%w: %v", ErrTruncateFailed, err)
		}
		db.log.Warn("truncated corrupted tail",
			"chunk", last.Number,
			"discarded_bytes", db.size-size,
			"error", parseErr)
		db.size = size
	}

	// Adopt the state as of the last complete record.
	if p.n > 0 {
		db.chunks[len(db.chunks)-1].FirstTime = p.firstTime
		db.lastTime = p.lastTime
	}
	db.fullPending = p.fullPending
	copy(db.bids, p.bids)
	copy(db.asks, p.asks)

	// The trading day is re-derived from the chunk's first timestamp;
	// if the whole tail was discarded the header date is authoritative.
	if p.n > 0 {
		db.dayStart = dayStartOf(p.firstTime)
	} else {
		db.dayStart = db.meta.Date.UnixMilli()
	}
	db.nextChunkTime = db.dayStart + int64(db.meta.ChunkSize)*1000*int64(last.Number+1)

	return nil
}

// isCorrupted reports whether err marks data that cannot form a
// complete record.
func isCorrupted(err error) bool {
	return errors.Is(err, errCorrupted) || errors.Is(err, io.ErrUnexpectedEOF)
}
