package gloomtier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RecordFormat is the encoding of a seed dataset.
type RecordFormat int

const (
	// FormatJSON is a JSON array of {"username", "email"} objects.
	FormatJSON RecordFormat = iota
	// FormatYAML is a YAML sequence of {username, email} mappings.
	FormatYAML
)

// FormatForPath picks the record format from a file extension. Anything other
// than .yaml or .yml is read as JSON.
func FormatForPath(path string) RecordFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// ReadRecords decodes an ordered seed dataset from r. Order is preserved;
// records without a username are kept so the seeder can count them as
// skipped.
func ReadRecords(r io.Reader, format RecordFormat) ([]Record, error) {
	var records []Record
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&records); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding yaml records: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decoding json records: %w", err)
		}
	}
	return records, nil
}

// ReadRecordsFile reads a seed dataset from path, choosing the format from its
// extension.
func ReadRecordsFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadRecords(f, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
