// Package migrations embeds the SQL schema migrations and provides a
// runner around golang-migrate. Embedding keeps deployment zero-config:
// the server and the migrator CLI carry the schema with them.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// Migration filename format: 001_name.up.sql / 001_name.down.sql.
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// FS returns the embedded migration filesystem.
func FS() fs.FS {
	return embedded
}

// List returns the embedded migration filenames, sorted. Files that do
// not match the naming standard are an error, not silently skipped.
func List() ([]string, error) {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !filenamePattern.MatchString(entry.Name()) {
			return nil, fmt.Errorf("embedded migration %q does not match NNN_name.(up|down).sql", entry.Name())
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

// Validate checks that every migration has both directions and that
// sequence numbers are contiguous from 1.
func Validate() error {
	names, err := List()
	if err != nil {
		return err
	}

	directions := map[int]map[string]bool{}

	for _, name := range names {
		parts := filenamePattern.FindStringSubmatch(name)

		sequence, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("invalid migration sequence in %q: %w", name, err)
		}

		if directions[sequence] == nil {
			directions[sequence] = map[string]bool{}
		}

		if directions[sequence][parts[3]] {
			return fmt.Errorf("duplicate migration %03d.%s", sequence, parts[3])
		}

		directions[sequence][parts[3]] = true
	}

	for sequence := 1; sequence <= len(directions); sequence++ {
		pair, ok := directions[sequence]
		if !ok {
			return fmt.Errorf("migration sequence has a gap at %03d", sequence)
		}

		if !pair["up"] || !pair["down"] {
			return fmt.Errorf("migration %03d is missing its up or down file", sequence)
		}
	}

	return nil
}

// MaxVersion returns the highest embedded migration sequence number.
func MaxVersion() (int, error) {
	names, err := List()
	if err != nil {
		return 0, err
	}

	maxSequence := 0

	for _, name := range names {
		parts := filenamePattern.FindStringSubmatch(name)

		if sequence, err := strconv.Atoi(parts[1]); err == nil && sequence > maxSequence {
			maxSequence = sequence
		}
	}

	return maxSequence, nil
}
