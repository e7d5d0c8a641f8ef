package database

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

const (
	markerUp   = "-- +migrate Up"
	markerDown = "-- +migrate Down"
	markerID   = "-- +migrate ID:"
)

var (
	errMissingUpSection  = errors.New("missing or empty Up section")
	errEmptyIDOverride   = errors.New("empty ID override")
	errDuplicateIDMarker = errors.New("duplicate ID override marker")
	errIDMarkerNotFirst  = errors.New("ID override marker must be the first marker")
)

// ParseMigrations parses SQL migration files from an fs.FS into steps.
// Files must have .sql extension and contain -- +migrate Up marker.
// A -- +migrate Down section is accepted and ignored: a failed run is undone by
// rolling back its transaction.
// Step ID is derived from the filename without extension,
// unless overridden with -- +migrate ID: <custom_id> as the first marker.
// Steps are returned sorted lexicographically by filename. They carry no Check,
// so the ledger alone decides whether they run.
func ParseMigrations(fsys fs.FS) ([]Step, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var filenames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		filenames = append(filenames, entry.Name())
	}

	slices.Sort(filenames)

	steps := make([]Step, 0, len(filenames))
	for _, filename := range filenames {
		step, err := parseMigrationFile(fsys, filename)
		if err != nil {
			return nil, fmt.Errorf("failed to parse migration %s: %w", filename, err)
		}
		steps = append(steps, step)
	}

	return steps, nil
}

type section int

const (
	sectionNone section = iota
	sectionUp
	sectionDown
)

func parseMigrationFile(fsys fs.FS, filename string) (Step, error) {
	data, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return Step{}, fmt.Errorf("failed to read file: %w", err)
	}

	id := strings.TrimSuffix(filename, ".sql")
	current := sectionNone
	overridden := false
	markers := 0

	var up strings.Builder
	for line := range strings.Lines(string(data)) {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, markerID):
			if overridden {
				return Step{}, errDuplicateIDMarker
			}
			if markers > 0 {
				return Step{}, errIDMarkerNotFirst
			}
			id = strings.TrimSpace(strings.TrimPrefix(trimmed, markerID))
			if id == "" {
				return Step{}, errEmptyIDOverride
			}
			overridden = true
			markers++
		case trimmed == markerUp:
			current = sectionUp
			markers++
		case trimmed == markerDown:
			current = sectionDown
			markers++
		case current == sectionUp:
			up.WriteString(line)
		}
	}

	body := strings.TrimSpace(up.String())
	if body == "" {
		return Step{}, errMissingUpSection
	}

	return Step{
		ID:          id,
		Description: "apply " + filename,
		Apply:       Statements(body),
	}, nil
}
