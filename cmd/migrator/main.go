// Command migrator applies the embedded database migrations.
//
// Usage:
//
//	migrator [-database-url URL] <up|down|version|drop>
//
// Exit codes: 0 success, 1 usage error, 2 database unreachable.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/linetrace-io/linetrace/internal/config"
	"github.com/linetrace-io/linetrace/migrations"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitNoReach = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("migrator", flag.ContinueOnError)
	databaseURL := flags.String("database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
	confirmDrop := flags.Bool("yes", false, "confirm destructive operations")

	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrator [-database-url URL] <up|down|version|drop>")

		return exitUsage
	}

	command := flags.Arg(0)

	url := *databaseURL
	if url == "" {
		url = config.GetEnvStr("DATABASE_URL", "")
	}

	if url == "" {
		fmt.Fprintln(os.Stderr, "migrator: no database URL (set DATABASE_URL or -database-url)")

		return exitUsage
	}

	runner, err := migrations.NewRunner(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrator: %v\n", err)

		return exitNoReach
	}

	defer func() {
		_ = runner.Close()
	}()

	switch command {
	case "up":
		if err := runner.Up(); err != nil {
			fmt.Fprintf(os.Stderr, "migrator: %v\n", err)

			return exitNoReach
		}

		log.Println("migrations applied")
	case "down":
		if err := runner.Down(); err != nil {
			fmt.Fprintf(os.Stderr, "migrator: %v\n", err)

			return exitNoReach
		}

		log.Println("last migration rolled back")
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrator: %v\n", err)

			return exitNoReach
		}

		state := "clean"
		if dirty {
			state = "dirty"
		}

		fmt.Printf("schema version %d (%s)\n", version, state)
	case "drop":
		if !*confirmDrop {
			fmt.Fprintln(os.Stderr, "migrator: drop requires -yes")

			return exitUsage
		}

		if err := runner.Drop(); err != nil {
			fmt.Fprintf(os.Stderr, "migrator: %v\n", err)

			return exitNoReach
		}

		log.Println("database dropped")
	default:
		fmt.Fprintf(os.Stderr, "migrator: unknown command %q\n", command)

		return exitUsage
	}

	return exitOK
}
