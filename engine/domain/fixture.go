package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DecodeFixture reads a fixture document. Numbers are kept as json.Number so
// integer fields stay integers; unknown collections are rejected.
func DecodeFixture(r io.Reader) (Fixture, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		return Fixture{}, fmt.Errorf("domain: decode fixture: %w", err)
	}
	return fx, nil
}

// LoadFixture decodes the fixture file at path.
func LoadFixture(path string) (Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("domain: open fixture: %w", err)
	}
	defer f.Close()
	return DecodeFixture(f)
}
