package receiptformat

import (
	"encoding/json"
	"fmt"
	"os"
)

// CurrentVersion is the template format version written by this package
const CurrentVersion = "1.0"

// Parse parses a template from JSON
func Parse(data []byte) (*Template, error) {
	var tmpl Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	// Older editors omitted version and type
	if tmpl.Version == "" {
		tmpl.Version = CurrentVersion
	}
	if tmpl.Type == "" {
		tmpl.Type = TypeReceipt
	}

	if err := Validate(&tmpl); err != nil {
		return nil, err
	}

	return &tmpl, nil
}

// ParseFile parses a template from disk
func ParseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	return Parse(data)
}

// ToJSON converts a Template to JSON bytes
func (t *Template) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// SaveToFile saves a Template to a file
func (t *Template) SaveToFile(path string) error {
	data, err := t.ToJSON()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Amount is a convenience for building optional money fields
func Amount(v float64) *float64 {
	return &v
}

// Count is a convenience for building optional counters
func Count(v int) *int {
	return &v
}
