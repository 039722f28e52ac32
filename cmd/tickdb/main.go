// Command tickdb creates, fills and inspects tick day files.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd := args[0]; cmd {
	case "create":
		err = runCreate(args[1:], logger)
	case "import":
		err = runImport(args[1:], logger)
	case "info":
		err = runInfo(args[1:], os.Stdout)
	case "dump":
		err = runDump(args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tickdb COMMAND [OPTIONS]

Commands:
  create -config FILE                          create an empty day file
  import -config FILE [-trades CSV] [-quotes CSV]
                                               merge CSV streams into a day file
  info FILE                                    print header and chunk occupancy
  dump FILE [-from HH:MM:SS]                   print ticks as text
`)
}
