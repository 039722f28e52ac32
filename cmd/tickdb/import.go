package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/tickdb"
)

func runCreate(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigFlag(*configPath)
	if err != nil {
		return err
	}

	// Open resumes existing files, create must not
	if _, err := os.Stat(cfg.File); err == nil {
		return fmt.Errorf("%s already exists", cfg.File)
	} else if !os.IsNotExist(err) {
		return err
	}

	db, err := tickdb.Open(cfg.File, cfg.Options(logger))
	if err != nil {
		return err
	}
	logger.Info("created day file", "file", cfg.File, "stock", db.Stock(), "date", db.Date().Format(dateLayout))
	return db.Close()
}

func runImport(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	tradesPath := fs.String("trades", "", "trades CSV: timestamp,price,volume")
	quotesPath := fs.String("quotes", "", "quotes CSV: timestamp plus price,volume pairs, bids then asks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigFlag(*configPath)
	if err != nil {
		return err
	}
	if *tradesPath == "" && *quotesPath == "" {
		return errors.New("at least one of -trades or -quotes is required")
	}
	date, _ := time.Parse(dateLayout, cfg.Date)

	var ticks []tickdb.Tick
	if *tradesPath != "" {
		ticks, err = readTrades(ticks, *tradesPath, date)
		if err != nil {
			return fmt.Errorf("read trades: %w", err)
		}
	}
	if *quotesPath != "" {
		ticks, err = readQuotes(ticks, *quotesPath, date)
		if err != nil {
			return fmt.Errorf("read quotes: %w", err)
		}
	}

	// merge the two streams, a stable sort keeps each file's own order
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Time() < ticks[j].Time()
	})

	db, err := tickdb.Open(cfg.File, cfg.Options(logger))
	if err != nil {
		return err
	}
	for _, tick := range ticks {
		if err := db.Append(tick); err != nil {
			db.Close()
			return fmt.Errorf("append tick at %d: %w", tick.Time(), err)
		}
	}

	logger.Info("imported ticks", "file", cfg.File, "count", len(ticks), "size", db.Size())
	return db.Close()
}

func loadConfigFlag(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("-config is required")
	}
	return LoadConfig(path)
}

// readTrades appends ticks from a CSV of timestamp,price,volume rows.
func readTrades(ticks []tickdb.Tick, path string, date time.Time) ([]tickdb.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.Comment = '#'
	rd.FieldsPerRecord = 3

	for {
		row, err := rd.Read()
		if err == io.EOF {
			return ticks, nil
		} else if err != nil {
			return nil, err
		}

		ts, err := parseStamp(row[0], date)
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", row[1], err)
		}
		volume, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad volume %q: %w", row[2], err)
		}
		ticks = append(ticks, tickdb.Trade{Timestamp: ts, Price: price, Volume: volume})
	}
}

// readQuotes appends ticks from a CSV where each row holds a timestamp
// followed by an even number of price,volume pairs, the first half bids
// and the second half asks.
func readQuotes(ticks []tickdb.Tick, path string, date time.Time) ([]tickdb.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.Comment = '#'
	rd.FieldsPerRecord = -1

	for {
		row, err := rd.Read()
		if err == io.EOF {
			return ticks, nil
		} else if err != nil {
			return nil, err
		}
		if len(row) < 5 || (len(row)-1)%4 != 0 {
			return nil, fmt.Errorf("quote row must hold a timestamp and price,volume pairs for both sides, got %d fields", len(row))
		}

		ts, err := parseStamp(row[0], date)
		if err != nil {
			return nil, err
		}
		levels, err := parseLevels(row[1:])
		if err != nil {
			return nil, err
		}

		depth := len(levels) / 2
		ticks = append(ticks, tickdb.Quote{Timestamp: ts, Bids: levels[:depth], Asks: levels[depth:]})
	}
}

func parseLevels(fields []string) ([]tickdb.Level, error) {
	levels := make([]tickdb.Level, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		price, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", fields[i], err)
		}
		volume, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad volume %q: %w", fields[i+1], err)
		}
		levels = append(levels, tickdb.Level{Price: price, Volume: volume})
	}
	return levels, nil
}

// parseStamp accepts unix milliseconds or a time of day, for example
// 09:30:00.250, relative to the configured date.
func parseStamp(s string, date time.Time) (int64, error) {
	if !strings.Contains(s, ":") {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q: %w", s, err)
		}
		return ts, nil
	}

	tod, err := time.Parse("15:04:05.999", s) // fraction is optional
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	offset := time.Duration(tod.Hour())*time.Hour +
		time.Duration(tod.Minute())*time.Minute +
		time.Duration(tod.Second())*time.Second +
		time.Duration(tod.Nanosecond())
	return date.Add(offset).UnixMilli(), nil
}
