package tickdb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Record kinds. Every record starts with a single kind byte and is
// self-delimiting: trade and full snapshot records carry an absolute
// timestamp, delta records a timestamp difference to the previous
// record. Record boundaries can therefore always be recovered by
// sequential parsing from a chunk start.
const (
	recTrade       byte = 1 // uvarint ts | varint price | varint volume
	recQuoteFull   byte = 2 // uvarint ts | uvarint len | plain payload
	recQuoteSnappy byte = 3 // uvarint ts | uvarint len | snappy payload
	recQuoteDelta  byte = 4 // varint dt | per side, per level: varint dprice, varint dvolume
)

// appendTradeRecord encodes a trade with an already scaled price.
func appendTradeRecord(dst []byte, ts, price, volume int64) []byte {
	dst = append(dst, recTrade)
	dst = binary.AppendUvarint(dst, uint64(ts))
	dst = binary.AppendVarint(dst, price)
	return binary.AppendVarint(dst, volume)
}

// appendQuotePayload encodes the plain full snapshot payload: bids
// followed by asks, one (price, volume) varint pair per level.
func appendQuotePayload(dst []byte, bids, asks []bookLevel) []byte {
	for _, lvl := range bids {
		dst = binary.AppendVarint(dst, lvl.Price)
		dst = binary.AppendVarint(dst, lvl.Volume)
	}
	for _, lvl := range asks {
		dst = binary.AppendVarint(dst, lvl.Price)
		dst = binary.AppendVarint(dst, lvl.Volume)
	}
	return dst
}

// appendQuoteFullRecord frames a full snapshot payload. The payload may
// be snappy-compressed, indicated by the record kind.
func appendQuoteFullRecord(dst []byte, ts int64, payload []byte, compressed bool) []byte {
	kind := recQuoteFull
	if compressed {
		kind = recQuoteSnappy
	}
	dst = append(dst, kind)
	dst = binary.AppendUvarint(dst, uint64(ts))
	dst = binary.AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// appendQuoteDeltaRecord encodes a delta snapshot against the previous
// book state.
func appendQuoteDeltaRecord(dst []byte, dt int64, dbids, dasks []bookLevel) []byte {
	dst = append(dst, recQuoteDelta)
	dst = binary.AppendVarint(dst, dt)
	for _, lvl := range dbids {
		dst = binary.AppendVarint(dst, lvl.Price)
		dst = binary.AppendVarint(dst, lvl.Volume)
	}
	for _, lvl := range dasks {
		dst = binary.AppendVarint(dst, lvl.Price)
		dst = binary.AppendVarint(dst, lvl.Volume)
	}
	return dst
}

// --------------------------------------------------------------------

// record is a single parsed record. Quote sides are absolute and
// scaled, delta records are resolved against the running book state.
type record struct {
	kind       byte
	time       int64
	price      int64 // trades only
	volume     int64 // trades only
	bids, asks []bookLevel
}

// parser is a streaming parser over a buffer of concatenated records,
// starting at a chunk boundary. It maintains the running book state
// needed to resolve delta records and reports the byte offset of the
// last complete record boundary, allowing a caller to discard an
// unparsable tail.
type parser struct {
	buf  []byte
	pos  int
	mark int // offset of the last complete record boundary

	depth int
	n     int // records parsed

	firstTime   int64
	lastTime    int64
	fullPending bool // no full snapshot seen yet
	bids, asks  []bookLevel

	tmp []bookLevel // level scratch, applied only on complete records
	dec []byte      // snappy scratch
}

func newParser(buf []byte, depth int) *parser {
	return &parser{
		buf:         buf,
		depth:       depth,
		fullPending: true,
		bids:        make([]bookLevel, depth),
		asks:        make([]bookLevel, depth),
		tmp:         make([]bookLevel, 2*depth),
	}
}

// next parses a single record. It returns io.EOF when the buffer is
// cleanly exhausted, io.ErrUnexpectedEOF when the buffer ends inside a
// record, and errCorrupted when the bytes cannot form a valid record.
// After a non-EOF error the parser state reflects the last complete
// record, with its end offset in mark.
func (p *parser) next() (record, error) {
	p.mark = p.pos

	var rec record
	if p.pos >= len(p.buf) {
		return rec, io.EOF
	}

	kind := p.buf[p.pos]
	p.pos++

	switch kind {
	case recTrade:
		ts, err := p.uvarint()
		if err != nil {
			return rec, err
		}
		price, err := p.varint()
		if err != nil {
			return rec, err
		}
		volume, err := p.varint()
		if err != nil {
			return rec, err
		}
		rec = record{kind: kind, time: int64(ts), price: price, volume: volume}

	case recQuoteFull, recQuoteSnappy:
		ts, err := p.uvarint()
		if err != nil {
			return rec, err
		}
		payload, err := p.payload(kind == recQuoteSnappy)
		if err != nil {
			return rec, err
		}
		if err := p.parseLevels(payload); err != nil {
			return rec, err
		}
		copy(p.bids, p.tmp[:p.depth])
		copy(p.asks, p.tmp[p.depth:])
		p.fullPending = false
		rec = record{kind: kind, time: int64(ts), bids: p.bids, asks: p.asks}

	case recQuoteDelta:
		if p.fullPending {
			return rec, fmt.Errorf("%w: delta quote without snapshot baseline", errCorrupted)
		}
		dt, err := p.varint()
		if err != nil {
			return rec, err
		}
		for i := range p.tmp {
			dp, err := p.varint()
			if err != nil {
				return rec, err
			}
			dv, err := p.varint()
			if err != nil {
				return rec, err
			}
			p.tmp[i] = bookLevel{Price: dp, Volume: dv}
		}
		for i := range p.bids {
			p.bids[i].Price += p.tmp[i].Price
			p.bids[i].Volume += p.tmp[i].Volume
		}
		for i := range p.asks {
			p.asks[i].Price += p.tmp[p.depth+i].Price
			p.asks[i].Volume += p.tmp[p.depth+i].Volume
		}
		rec = record{kind: kind, time: p.lastTime + dt, bids: p.bids, asks: p.asks}

	default:
		return rec, fmt.Errorf("%w: unknown record kind %d", errCorrupted, kind)
	}

	if p.n == 0 {
		p.firstTime = rec.time
	}
	p.n++
	p.lastTime = rec.time
	p.mark = p.pos
	return rec, nil
}

// payload reads a length-prefixed full snapshot payload, decompressing
// it if necessary.
func (p *parser) payload(compressed bool) ([]byte, error) {
	size, err := p.uvarint()
	if err != nil {
		return nil, err
	}
	if size > uint64(len(p.buf)-p.pos) {
		return nil, io.ErrUnexpectedEOF
	}
	payload := p.buf[p.pos : p.pos+int(size)]
	p.pos += int(size)

	if !compressed {
		return payload, nil
	}
	plain, err := snappy.Decode(p.dec[:cap(p.dec)], payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupted, err)
	}
	p.dec = plain
	return plain, nil
}

// parseLevels decodes a plain full snapshot payload into the level
// scratch. The payload must contain exactly depth levels per side.
func (p *parser) parseLevels(payload []byte) error {
	pos := 0
	read := func() (int64, error) {
		v, n := binary.Varint(payload[pos:])
		if n == 0 {
			return 0, fmt.Errorf("%w: short snapshot payload", errCorrupted)
		} else if n < 0 {
			return 0, fmt.Errorf("%w: bad varint in snapshot payload", errCorrupted)
		}
		pos += n
		return v, nil
	}

	for i := range p.tmp {
		price, err := read()
		if err != nil {
			return err
		}
		volume, err := read()
		if err != nil {
			return err
		}
		p.tmp[i] = bookLevel{Price: price, Volume: volume}
	}
	if pos != len(payload) {
		return fmt.Errorf("%w: trailing bytes in snapshot payload", errCorrupted)
	}
	return nil
}

func (p *parser) uvarint() (uint64, error) {
	v, n := binary.Uvarint(p.buf[p.pos:])
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	} else if n < 0 {
		return 0, fmt.Errorf("%w: bad varint", errCorrupted)
	}
	p.pos += n
	return v, nil
}

func (p *parser) varint() (int64, error) {
	v, n := binary.Varint(p.buf[p.pos:])
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	} else if n < 0 {
		return 0, fmt.Errorf("%w: bad varint", errCorrupted)
	}
	p.pos += n
	return v, nil
}
