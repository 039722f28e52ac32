package tickdb

import (
	"errors"
	"time"
)

// magicLine is the first line of every tickdb file.
var magicLine = []byte("#!tickdb\n")

// FormatVersion is the on-disk format version written to and expected
// in file headers. Files written with a different version must be
// migrated before they can be opened.
const FormatVersion = 1

const (
	secondsPerDay = 86400
	msPerDay      = secondsPerDay * 1000

	// slotWidth is the byte width of a single chunk index slot. Offsets
	// are stored as 64-bit little-endian unsigned integers which keeps
	// the index future-proof for multi-GB day files.
	slotWidth = 8
)

// Exported errors, see the corresponding operations for details.
var (
	// ErrNeedToMigrate is returned by Open when the file was written
	// with a different format version.
	ErrNeedToMigrate = errors.New("tickdb: file version differs, needs migration")

	// ErrNotThisDay is returned by Append when the tick timestamp falls
	// outside the 24-hour trading day of the file.
	ErrNotThisDay = errors.New("tickdb: timestamp is outside the file's trading day")

	// ErrTruncateFailed is returned by Open when a corrupted tail was
	// detected but could not be truncated.
	ErrTruncateFailed = errors.New("tickdb: unable to truncate corrupted tail")

	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("tickdb: is closed")
)

var (
	errBadMagic  = errors.New("tickdb: bad magic line")
	errBadHeader = errors.New("tickdb: bad header")
	errCorrupted = errors.New("tickdb: corrupted record data")
	errReleased  = errors.New("tickdb: iterator was released")
)

// --------------------------------------------------------------------

// Compression is the compression codec applied to full snapshot
// payloads.
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)

// --------------------------------------------------------------------

// Level is a single price level of an order book side. Prices are
// given as floats and converted to fixed-point integers on write.
type Level struct {
	Price  float64
	Volume int64
}

// Trade is a single trade print.
type Trade struct {
	Timestamp int64 // milliseconds since epoch, UTC
	Price     float64
	Volume    int64
}

// Time returns the tick timestamp in milliseconds since epoch.
func (t Trade) Time() int64 { return t.Timestamp }

// Quote is a top-of-book/depth snapshot. Sides shorter than the file
// depth are padded with zero levels, longer sides are truncated.
type Quote struct {
	Timestamp  int64 // milliseconds since epoch, UTC
	Bids, Asks []Level
}

// Time returns the tick timestamp in milliseconds since epoch.
func (q Quote) Time() int64 { return q.Timestamp }

// Tick is either a Trade or a Quote.
type Tick interface {
	// Time returns the tick timestamp in milliseconds since epoch.
	Time() int64
}

// --------------------------------------------------------------------

// Chunk is a single populated time bucket of the trading day.
type Chunk struct {
	Number    int   // bucket number within the day
	FirstTime int64 // timestamp of the first record in the chunk
	Offset    int64 // byte offset, relative to the start of the chunk index
}

// numberOfChunks returns the number of chunk index slots for a chunk
// size given in seconds.
func numberOfChunks(chunkSize int) int {
	return (secondsPerDay + chunkSize - 1) / chunkSize
}

// dayStartOf returns the UTC midnight, in millis, of the day containing
// the millisecond timestamp ts. Valid for any ts after the epoch.
func dayStartOf(ts int64) int64 {
	return ts - ts%msPerDay
}

// normDate truncates a date to UTC midnight.
func normDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
