package tickdb_test

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/bsm/tickdb"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DB", func() {
	var fname string
	var subject *tickdb.DB

	// 288 slots of 8 bytes with the default 300s chunk size
	const indexLen = 2304

	BeforeEach(func() {
		fname = tempFile()
		subject = openDB(fname, nil)
	})

	AfterEach(func() {
		_ = subject.Close()
	})

	It("should create new files", func() {
		raw, err := os.ReadFile(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(HavePrefix("#!tickdb\nversion: 1\nstock: AAPL\ndate: 2018-07-16\ndepth: 1\nscale: 100\nchunk_size: 300\n\n"))
		Expect(raw).To(HaveLen(headerLen(raw) + indexLen))

		Expect(subject.Stock()).To(Equal("AAPL"))
		Expect(subject.Date()).To(Equal(testDate))
		Expect(subject.Depth()).To(Equal(1))
		Expect(subject.Scale()).To(Equal(100))
		Expect(subject.ChunkSize()).To(Equal(300))
		Expect(subject.Chunks()).To(BeEmpty())
	})

	It("should require stock and date", func() {
		_, err := tickdb.Open(tempFile(), &tickdb.Options{Logger: silent})
		Expect(err).To(MatchError(ContainSubstring("stock and date are required")))
	})

	It("should reject mismatched identity on reopen", func() {
		Expect(subject.Close()).To(Succeed())

		_, err := tickdb.Open(fname, &tickdb.Options{Stock: "MSFT", Date: testDate, Logger: silent})
		Expect(err).To(MatchError(ContainSubstring(`file holds stock "AAPL"`)))

		_, err = tickdb.Open(fname, &tickdb.Options{Stock: "AAPL", Date: testDate.AddDate(0, 0, 1), Logger: silent})
		Expect(err).To(MatchError(ContainSubstring("file holds date 2018-07-16")))
	})

	It("should start chunks on first append", func() {
		Expect(subject.Append(tickdb.Trade{Timestamp: at(9, 30, 0, 0), Price: 10.50, Volume: 100})).To(Succeed())
		Expect(subject.Chunks()).To(Equal([]tickdb.Chunk{
			{Number: 114, FirstTime: at(9, 30, 0, 0), Offset: indexLen},
		}))
	})

	It("should start new chunks across bucket boundaries", func() {
		seedDB(subject)

		chunks := subject.Chunks()
		Expect(chunks).To(HaveLen(3))
		Expect(chunks[0]).To(Equal(tickdb.Chunk{Number: 114, FirstTime: at(9, 30, 0, 0), Offset: indexLen}))
		Expect(chunks[1].Number).To(Equal(115))
		Expect(chunks[1].FirstTime).To(Equal(at(9, 35, 0, 0)))
		Expect(chunks[2].Number).To(Equal(116))
		Expect(chunks[2].FirstTime).To(Equal(at(9, 40, 0, 0)))
		Expect(chunks[1].Offset).To(BeNumerically(">", chunks[0].Offset))
		Expect(chunks[2].Offset).To(BeNumerically(">", chunks[1].Offset))
	})

	It("should write index slots once, in place", func() {
		seedDB(subject)

		raw, err := os.ReadFile(fname)
		Expect(err).NotTo(HaveOccurred())

		off := headerLen(raw)
		for _, chunk := range subject.Chunks() {
			slot := binary.LittleEndian.Uint64(raw[off+chunk.Number*8:])
			Expect(slot).To(Equal(uint64(chunk.Offset)), "slot %d", chunk.Number)
		}
		Expect(binary.LittleEndian.Uint64(raw[off:])).To(BeZero()) // bucket 0 never started
	})

	It("should encode the documented example", func() {
		t0 := at(9, 30, 0, 0)
		Expect(subject.Append(tickdb.Trade{Timestamp: t0, Price: 10.50, Volume: 100})).To(Succeed())
		Expect(subject.Append(tickdb.Quote{
			Timestamp: t0,
			Bids:      []tickdb.Level{{Price: 10.40, Volume: 200}},
			Asks:      []tickdb.Level{{Price: 10.60, Volume: 150}},
		})).To(Succeed())
		Expect(subject.Append(tickdb.Quote{
			Timestamp: t0 + 1000,
			Bids:      []tickdb.Level{{Price: 10.41, Volume: 210}},
			Asks:      []tickdb.Level{{Price: 10.60, Volume: 140}},
		})).To(Succeed())

		var exp []byte
		exp = append(exp, 1) // trade, price 10.50 scaled to 1050
		exp = binary.AppendUvarint(exp, uint64(t0))
		exp = binary.AppendVarint(exp, 1050)
		exp = binary.AppendVarint(exp, 100)

		var payload []byte // full snapshot, scaled levels
		payload = binary.AppendVarint(payload, 1040)
		payload = binary.AppendVarint(payload, 200)
		payload = binary.AppendVarint(payload, 1060)
		payload = binary.AppendVarint(payload, 150)
		exp = append(exp, 2)
		exp = binary.AppendUvarint(exp, uint64(t0))
		exp = binary.AppendUvarint(exp, uint64(len(payload)))
		exp = append(exp, payload...)

		exp = append(exp, 4) // delta snapshot
		exp = binary.AppendVarint(exp, 1000)
		exp = binary.AppendVarint(exp, 1)
		exp = binary.AppendVarint(exp, 10)
		exp = binary.AppendVarint(exp, 0)
		exp = binary.AppendVarint(exp, -10)

		raw, err := os.ReadFile(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw[headerLen(raw)+indexLen:]).To(Equal(exp))
	})

	It("should force full quotes after chunk rollover", func() {
		seedDB(subject)

		raw, err := os.ReadFile(fname)
		Expect(err).NotTo(HaveOccurred())

		// the 09:35 bucket starts with a trade, the 09:40 one with a
		// full quote even though the preceding quote was written as a
		// delta
		chunks := subject.Chunks()
		off := headerLen(raw)
		Expect(raw[off+int(chunks[1].Offset)]).To(Equal(byte(1)))
		Expect(raw[off+int(chunks[2].Offset)]).To(Equal(byte(2)))
	})

	It("should reject timestamps outside the trading day", func() {
		// before the first chunk
		Expect(subject.Append(tickdb.Trade{Timestamp: testDate.UnixMilli() - 1, Price: 1, Volume: 1})).To(MatchError(tickdb.ErrNotThisDay))

		seedDB(subject)
		size := subject.Size()

		nextDay := testDate.AddDate(0, 0, 1).UnixMilli()
		Expect(subject.Append(tickdb.Trade{Timestamp: nextDay, Price: 1, Volume: 1})).To(MatchError(tickdb.ErrNotThisDay))
		Expect(subject.Size()).To(Equal(size))

		stat, err := os.Stat(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(stat.Size()).To(Equal(size))
	})

	It("should reject unsupported ticks", func() {
		Expect(subject.Append(badTick{})).To(MatchError("tickdb: unsupported tick type tickdb_test.badTick"))
	})

	It("should fail operations after close", func() {
		Expect(subject.Close()).To(Succeed())
		Expect(subject.Append(tickdb.Trade{Timestamp: at(9, 30, 0, 0)})).To(MatchError(tickdb.ErrClosed))
		Expect(subject.Close()).To(Succeed()) // close is idempotent
	})

	It("should normalize quote depth", func() {
		fname := tempFile()
		db := openDB(fname, &tickdb.Options{Stock: "AAPL", Date: testDate, Depth: 2})
		defer db.Close()

		// short sides are padded, long sides truncated
		Expect(db.Append(tickdb.Quote{
			Timestamp: at(9, 30, 0, 0),
			Bids:      []tickdb.Level{{Price: 10.40, Volume: 200}},
			Asks:      []tickdb.Level{{Price: 10.60, Volume: 150}, {Price: 10.61, Volume: 70}, {Price: 10.62, Volume: 10}},
		})).To(Succeed())
		Expect(db.Close()).To(Succeed())

		read, file := openReader(fname)
		defer file.Close()

		iter, err := read.Seek(0)
		Expect(err).NotTo(HaveOccurred())
		defer iter.Release()

		Expect(drain(iter)).To(Equal([]tickdb.Tick{
			tickdb.Quote{
				Timestamp: at(9, 30, 0, 0),
				Bids:      []tickdb.Level{{Price: 10.40, Volume: 200}, {}},
				Asks:      []tickdb.Level{{Price: 10.60, Volume: 150}, {Price: 10.61, Volume: 70}},
			},
		}))
	})

	It("should support trades-only files", func() {
		fname := tempFile()
		db := openDB(fname, &tickdb.Options{Stock: "AAPL", Date: testDate, Depth: -1})
		Expect(db.Depth()).To(Equal(0))

		// quote levels are dropped entirely, only timestamps remain
		Expect(db.Append(tickdb.Trade{Timestamp: at(9, 30, 0, 0), Price: 10.50, Volume: 100})).To(Succeed())
		Expect(db.Append(tickdb.Quote{
			Timestamp: at(9, 30, 1, 0),
			Bids:      []tickdb.Level{{Price: 10.40, Volume: 200}},
			Asks:      []tickdb.Level{{Price: 10.60, Volume: 150}},
		})).To(Succeed())
		Expect(db.Append(tickdb.Quote{Timestamp: at(9, 30, 2, 0)})).To(Succeed())
		Expect(db.Close()).To(Succeed())

		// reopen resumes cleanly
		db = openDB(fname, nil)
		Expect(db.Depth()).To(Equal(0))
		Expect(db.Append(tickdb.Trade{Timestamp: at(9, 30, 3, 0), Price: 10.60, Volume: 50})).To(Succeed())
		Expect(db.Close()).To(Succeed())

		read, file := openReader(fname)
		defer file.Close()

		iter, err := read.Seek(0)
		Expect(err).NotTo(HaveOccurred())
		defer iter.Release()

		Expect(drain(iter)).To(Equal([]tickdb.Tick{
			tickdb.Trade{Timestamp: at(9, 30, 0, 0), Price: 10.50, Volume: 100},
			tickdb.Quote{Timestamp: at(9, 30, 1, 0)},
			tickdb.Quote{Timestamp: at(9, 30, 2, 0)},
			tickdb.Trade{Timestamp: at(9, 30, 3, 0), Price: 10.60, Volume: 50},
		}))
	})
})

// --------------------------------------------------------------------

type badTick struct{}

func (badTick) Time() int64 { return 0 }

// headerLen locates the end of the textual header.
func headerLen(raw []byte) int {
	pos := bytes.Index(raw, []byte("\n\n"))
	Expect(pos).To(BeNumerically(">", 0))
	return pos + 2
}
