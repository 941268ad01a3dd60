// ABOUTME: JSON heap dump format
// ABOUTME: Recognised by its leading section key and decoded straight into a Dump

package heapdump

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSON is the parser for JSON dumps
type JSON struct{}

var sections = map[string]bool{
	"types":   true,
	"objects": true,
	"threads": true,
	"globals": true,
}

// CanParse checks that the input is a JSON object whose first key is a
// dump section. Only the first two tokens are read.
func (p *JSON) CanParse(r io.Reader) bool {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if delim, ok := tok.(json.Delim); err != nil || !ok || delim != '{' {
		return false
	}
	tok, err = dec.Token()
	key, ok := tok.(string)
	return err == nil && ok && sections[key]
}

// Parse decodes a JSON dump. Structural checks happen in Build.
func (p *JSON) Parse(r io.Reader) (*Dump, error) {
	var dump Dump
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dump); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return &dump, nil
}

// Write encodes a dump as indented JSON.
func Write(w io.Writer, d *Dump) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// init registers the JSON parser
func init() {
	Register(&JSON{})
}
