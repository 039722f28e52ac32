package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/tickdb"
)

func runInfo(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("info expects exactly one file argument")
	}

	read, file, err := openFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintf(w, "stock:      %s\n", read.Stock())
	fmt.Fprintf(w, "date:       %s\n", read.Date().Format(dateLayout))
	fmt.Fprintf(w, "depth:      %d\n", read.Depth())
	fmt.Fprintf(w, "scale:      %d\n", read.Scale())
	fmt.Fprintf(w, "chunk_size: %ds\n", read.ChunkSize())
	fmt.Fprintf(w, "chunks:     %d\n", read.NumChunks())

	for _, chunk := range read.Chunks() {
		bucket := time.Duration(chunk.Number*read.ChunkSize()) * time.Second
		fmt.Fprintf(w, "  %4d %s first=%s offset=%d\n",
			chunk.Number,
			read.Date().Add(bucket).Format("15:04:05"),
			formatStamp(chunk.FirstTime),
			chunk.Offset)
	}
	return nil
}

func runDump(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	from := fs.String("from", "", "only print ticks from this time of day on, for example 09:30:00")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("dump expects exactly one file argument")
	}

	read, file, err := openFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer file.Close()

	since := int64(0)
	if *from != "" {
		if since, err = parseStamp(*from, read.Date()); err != nil {
			return err
		}
	}

	iter, err := read.Seek(since)
	if err != nil {
		return err
	}
	defer iter.Release()

	prec := len(strconv.Itoa(read.Scale())) - 1
	for iter.Next() {
		switch tick := iter.Tick().(type) {
		case tickdb.Trade:
			fmt.Fprintf(w, "%s trade %.*f %d\n", formatStamp(tick.Timestamp), prec, tick.Price, tick.Volume)
		case tickdb.Quote:
			fmt.Fprintf(w, "%s quote %s | %s\n", formatStamp(tick.Timestamp),
				formatSide(tick.Bids, prec), formatSide(tick.Asks, prec))
		}
	}
	return iter.Err()
}

func openFile(fname string) (*tickdb.Reader, *os.File, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	read, err := tickdb.NewReader(file, stat.Size())
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return read, file, nil
}

func formatStamp(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("15:04:05.000")
}

func formatSide(levels []tickdb.Level, prec int) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		parts = append(parts, fmt.Sprintf("%.*fx%d", prec, l.Price, l.Volume))
	}
	return strings.Join(parts, " ")
}
