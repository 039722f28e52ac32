package tickdb_test

import (
	"bytes"
	"os"

	"github.com/bsm/tickdb"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	var subject *tickdb.Reader
	var file *os.File
	var seeded []tickdb.Tick

	BeforeEach(func() {
		fname := tempFile()
		db := openDB(fname, nil)
		seeded = seedDB(db)
		Expect(db.Close()).To(Succeed())

		subject, file = openReader(fname)
	})

	AfterEach(func() {
		Expect(file.Close()).To(Succeed())
	})

	It("should init", func() {
		Expect(subject.Stock()).To(Equal("AAPL"))
		Expect(subject.Date()).To(Equal(testDate))
		Expect(subject.Depth()).To(Equal(1))
		Expect(subject.Scale()).To(Equal(100))
		Expect(subject.ChunkSize()).To(Equal(300))
		Expect(subject.NumChunks()).To(Equal(3))
	})

	It("should reject files with a bad magic line", func() {
		raw := bytes.NewReader([]byte("#!nottick\nversion: 1\n\n"))
		_, err := tickdb.NewReader(raw, raw.Size())
		Expect(err).To(MatchError("tickdb: bad magic line"))
	})

	Describe("Iterator", func() {
		It("should iterate from the beginning", func() {
			iter, err := subject.Seek(0)
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(drain(iter)).To(Equal(seeded))
			Expect(iter.Err()).NotTo(HaveOccurred())
		})

		It("should seek to chunk boundaries", func() {
			iter, err := subject.Seek(at(9, 35, 0, 0))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(drain(iter)).To(Equal(seeded[4:]))
		})

		It("should seek into the middle of chunks", func() {
			// positions on a delta record, the baseline must be replayed
			iter, err := subject.Seek(at(9, 30, 0, 500))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Next()).To(BeTrue())
			Expect(iter.Tick()).To(Equal(seeded[2]))
			Expect(iter.Tick().Time()).To(Equal(at(9, 30, 1, 0)))
		})

		It("should seek to the last tick", func() {
			iter, err := subject.Seek(at(9, 40, 30, 0))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Next()).To(BeTrue())
			Expect(iter.Tick()).To(Equal(seeded[7]))
			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Err()).NotTo(HaveOccurred())
		})

		It("should not iterate when past the end", func() {
			iter, err := subject.Seek(at(16, 0, 0, 0))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Err()).NotTo(HaveOccurred())
		})

		It("should not iterate over empty files", func() {
			fname := tempFile()
			db := openDB(fname, nil)
			Expect(db.Close()).To(Succeed())

			read, file := openReader(fname)
			defer file.Close()

			iter, err := read.Seek(0)
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Err()).NotTo(HaveOccurred())
		})

		It("should stop cleanly at torn tails", func() {
			fname := tempFile()
			db := openDB(fname, nil)
			seedDB(db)
			Expect(db.Close()).To(Succeed())

			// simulate a writer that died mid-record
			handle, err := os.OpenFile(fname, os.O_WRONLY|os.O_APPEND, 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = handle.Write([]byte{0x01, 0x80})
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.Close()).To(Succeed())

			read, file := openReader(fname)
			defer file.Close()

			iter, err := read.Seek(0)
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(drain(iter)).To(Equal(seeded))
			Expect(iter.Err()).NotTo(HaveOccurred())
		})
	})

	Describe("compression", func() {
		// a thin book at depth 10, the padded levels make the payload
		// highly compressible
		deepQuote := tickdb.Quote{
			Timestamp: at(10, 0, 0, 0),
			Bids:      []tickdb.Level{{Price: 10.40, Volume: 200}, {Price: 10.39, Volume: 150}},
			Asks:      []tickdb.Level{{Price: 10.60, Volume: 180}, {Price: 10.61, Volume: 120}},
		}
		padQuote := func(q tickdb.Quote, depth int) tickdb.Quote {
			for len(q.Bids) < depth {
				q.Bids = append(q.Bids, tickdb.Level{})
			}
			for len(q.Asks) < depth {
				q.Asks = append(q.Asks, tickdb.Level{})
			}
			return q
		}

		firstTag := func(fname string) byte {
			raw, err := os.ReadFile(fname)
			Expect(err).NotTo(HaveOccurred())

			read, file := openReader(fname)
			defer file.Close()
			return raw[int64(headerLen(raw))+read.Chunks()[0].Offset]
		}

		roundTrip := func(fname string) tickdb.Tick {
			read, file := openReader(fname)
			defer file.Close()

			iter, err := read.Seek(0)
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Next()).To(BeTrue())
			return iter.Tick()
		}

		It("should compress full quotes when worthwhile", func() {
			fname := tempFile()
			db := openDB(fname, &tickdb.Options{Stock: "AAPL", Date: testDate, Depth: 10})
			Expect(db.Append(deepQuote)).To(Succeed())
			Expect(db.Close()).To(Succeed())

			Expect(firstTag(fname)).To(Equal(byte(3)))
			Expect(roundTrip(fname)).To(Equal(tickdb.Tick(padQuote(deepQuote, 10))))
		})

		It("should store full quotes plain when compression is disabled", func() {
			fname := tempFile()
			db := openDB(fname, &tickdb.Options{Stock: "AAPL", Date: testDate, Depth: 10, Compression: tickdb.NoCompression})
			Expect(db.Append(deepQuote)).To(Succeed())
			Expect(db.Close()).To(Succeed())

			Expect(firstTag(fname)).To(Equal(byte(2)))
			Expect(roundTrip(fname)).To(Equal(tickdb.Tick(padQuote(deepQuote, 10))))
		})

		It("should skip compression when it does not pay off", func() {
			fname := tempFile()
			db := openDB(fname, nil)
			Expect(db.Append(tickdb.Quote{
				Timestamp: at(10, 0, 0, 0),
				Bids:      []tickdb.Level{{Price: 10.40, Volume: 200}},
				Asks:      []tickdb.Level{{Price: 10.60, Volume: 150}},
			})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			// depth 1 payloads are too small to win
			Expect(firstTag(fname)).To(Equal(byte(2)))
		})
	})
})
