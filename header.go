package tickdb

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// maxHeaderSize bounds the header scan; a valid header is a few
// hundred bytes at most.
const maxHeaderSize = 1 << 16

// meta holds the decoded header fields of a tickdb file.
type meta struct {
	Version   int
	Stock     string
	Date      time.Time // UTC midnight of the trading day
	Depth     int       // price levels per side, 0 = trades only
	Scale     int       // fixed-point price multiplier
	ChunkSize int       // seconds per time bucket
}

// appendTo serializes the header, including the magic line and the
// blank line terminator, and appends it to dst.
func (m *meta) appendTo(dst []byte) []byte {
	dst = append(dst, magicLine...)
	dst = append(dst, "version: "+strconv.Itoa(m.Version)+"\n"...)
	dst = append(dst, "stock: "+m.Stock+"\n"...)
	dst = append(dst, "date: "+m.Date.Format(dateLayout)+"\n"...)
	dst = append(dst, "depth: "+strconv.Itoa(m.Depth)+"\n"...)
	dst = append(dst, "scale: "+strconv.Itoa(m.Scale)+"\n"...)
	dst = append(dst, "chunk_size: "+strconv.Itoa(m.ChunkSize)+"\n"...)
	dst = append(dst, '\n')
	return dst
}

// parseMeta parses a header from the beginning of buf. It returns the
// decoded fields and the header length in bytes, i.e. the offset at
// which the chunk index begins. If buf does not contain the blank line
// terminator yet, it returns io.ErrUnexpectedEOF.
func parseMeta(buf []byte) (*meta, int64, error) {
	if len(buf) < len(magicLine) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if !bytes.Equal(buf[:len(magicLine)], magicLine) {
		return nil, 0, errBadMagic
	}

	m := new(meta)
	seen := make(map[string]bool, 6)
	pos := len(magicLine)
	for {
		nl := bytes.IndexByte(buf[pos:], '\n')
		if nl < 0 {
			return nil, 0, io.ErrUnexpectedEOF
		}
		line := string(buf[pos : pos+nl])
		pos += nl + 1

		if line == "" { // blank line terminates the header
			break
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, 0, fmt.Errorf("%w: malformed line %q", errBadHeader, line)
		}
		if seen[key] {
			return nil, 0, fmt.Errorf("%w: duplicate key %q", errBadHeader, key)
		}
		seen[key] = true

		var err error
		switch key {
		case "version":
			m.Version, err = strconv.Atoi(value)
		case "stock":
			m.Stock = value
		case "date":
			m.Date, err = time.ParseInLocation(dateLayout, value, time.UTC)
		case "depth":
			m.Depth, err = strconv.Atoi(value)
		case "scale":
			m.Scale, err = strconv.Atoi(value)
		case "chunk_size":
			m.ChunkSize, err = strconv.Atoi(value)
		default:
			return nil, 0, fmt.Errorf("%w: unknown key %q", errBadHeader, key)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad value for %q: %v", errBadHeader, key, err)
		}
	}

	for _, key := range []string{"version", "stock", "date", "depth", "scale", "chunk_size"} {
		if !seen[key] {
			return nil, 0, fmt.Errorf("%w: missing key %q", errBadHeader, key)
		}
	}
	if m.Stock == "" {
		return nil, 0, fmt.Errorf("%w: empty stock", errBadHeader)
	}
	if m.Depth < 0 || m.Scale < 1 || m.ChunkSize < 1 || m.ChunkSize > secondsPerDay {
		return nil, 0, fmt.Errorf("%w: field out of range", errBadHeader)
	}
	return m, int64(pos), nil
}

// readMeta reads and parses the header from the beginning of r,
// growing the read window until the blank line terminator is found.
func readMeta(r io.ReaderAt, size int64) (*meta, int64, error) {
	if size < int64(len(magicLine)) {
		return nil, 0, errBadHeader
	}
	for sz := int64(512); ; sz *= 2 {
		if sz > size {
			sz = size
		}

		buf := make([]byte, sz)
		if _, err := r.ReadAt(buf, 0); err != nil {
			return nil, 0, err
		}

		m, n, err := parseMeta(buf)
		if err == io.ErrUnexpectedEOF && sz < size && sz < maxHeaderSize {
			continue
		} else if err == io.ErrUnexpectedEOF {
			return nil, 0, errBadHeader
		} else if err != nil {
			return nil, 0, err
		}
		return m, n, nil
	}
}
