package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestListReturnsSortedPairs(t *testing.T) {
	names, err := List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(names) == 0 {
		t.Fatal("List() returned no migrations")
	}

	if len(names)%2 != 0 {
		t.Errorf("List() returned %d files, want an even up/down count", len(names))
	}

	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("List() not sorted: %q before %q", names[i-1], names[i])
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestMaxVersionMatchesFileCount(t *testing.T) {
	names, err := List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	maxVersion, err := MaxVersion()
	if err != nil {
		t.Fatalf("MaxVersion() error = %v", err)
	}

	if maxVersion != len(names)/2 {
		t.Errorf("MaxVersion() = %d, want %d", maxVersion, len(names)/2)
	}
}

func TestEmbeddedFilesAreReadable(t *testing.T) {
	names, err := List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	for _, name := range names {
		data, err := fs.ReadFile(FS(), name)
		if err != nil {
			t.Errorf("ReadFile(%q) error = %v", name, err)

			continue
		}

		if strings.TrimSpace(string(data)) == "" {
			t.Errorf("migration %q is empty", name)
		}
	}
}
